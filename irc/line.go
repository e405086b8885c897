// Package irc parses raw Twitch-style IRC protocol lines into normalized
// events.
//
// The line grammar is handled by a small hand-written descent parser rather
// than regular expressions: input is untrusted network text, and every
// malformed shape must degrade to an Unknown event instead of panicking or
// dropping the record.
package irc

import "strings"

// prefix is the optional :nick!user@host segment of a line.
type prefix struct {
	Nick string
	User string
	Host string
}

// line is the structural decomposition of one raw protocol line:
// ['@' tags SPACE] [':' prefix SPACE] command {SPACE middle} [SPACE ':' trailing]
type line struct {
	Tags    map[string]string
	Prefix  prefix
	Command string
	Params  []string
}

// parseLine decomposes raw into its line structure. It returns ok=false when
// the line has no command token; tags and prefix problems are tolerated as
// far as possible so partial structure is still recovered.
func parseLine(raw string) (line, bool) {
	var l line
	rest := raw

	if strings.HasPrefix(rest, "@") {
		seg, remainder, found := strings.Cut(rest[1:], " ")
		if !found {
			// A tag segment with no command following it.
			l.Tags = parseTags(seg)
			return l, false
		}
		l.Tags = parseTags(seg)
		rest = remainder
	}

	rest = strings.TrimLeft(rest, " ")
	if strings.HasPrefix(rest, ":") {
		seg, remainder, found := strings.Cut(rest[1:], " ")
		if !found {
			return l, false
		}
		l.Prefix = parsePrefix(seg)
		rest = remainder
	}

	rest = strings.TrimLeft(rest, " ")
	if rest == "" {
		return l, false
	}

	command, remainder, _ := strings.Cut(rest, " ")
	l.Command = strings.ToUpper(command)

	for remainder != "" {
		remainder = strings.TrimLeft(remainder, " ")
		if remainder == "" {
			break
		}
		if strings.HasPrefix(remainder, ":") {
			// Trailing parameter: the rest of the line, spaces included.
			l.Params = append(l.Params, remainder[1:])
			break
		}
		var param string
		param, remainder, _ = strings.Cut(remainder, " ")
		l.Params = append(l.Params, param)
	}

	return l, true
}

// parsePrefix splits nick!user@host; any missing part stays empty.
func parsePrefix(s string) prefix {
	var p prefix
	nick, hostPart, hasBang := strings.Cut(s, "!")
	if !hasBang {
		nick, host, hasAt := strings.Cut(s, "@")
		if hasAt {
			return prefix{Nick: nick, Host: host}
		}
		// A bare server name; keep it as the host.
		return prefix{Host: s}
	}
	p.Nick = nick
	p.User, p.Host, _ = strings.Cut(hostPart, "@")
	return p
}

// channelParam strips the leading '#' from a channel parameter.
func channelParam(params []string) string {
	if len(params) == 0 {
		return ""
	}
	return strings.TrimPrefix(params[0], "#")
}
