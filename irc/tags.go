package irc

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/c360/chatstream/event"
)

// parseTags splits a tag segment ("k=v;k2=v2;flag") into a map. A key with
// no '=' or an empty value becomes the empty string, which callers treat as
// a boolean flag. Later duplicates win.
func parseTags(seg string) map[string]string {
	tags := make(map[string]string)
	for _, pair := range strings.Split(seg, ";") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		tags[key] = unescapeTagValue(value)
	}
	return tags
}

// unescapeTagValue resolves the IRCv3 tag value escapes. A backslash before
// an unrecognized character drops the backslash; a trailing backslash is
// dropped entirely.
func unescapeTagValue(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(v) {
			break
		}
		switch v[i] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}

// escapeTagValue is the inverse of unescapeTagValue.
func escapeTagValue(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case ';':
			b.WriteString(`\:`)
		case ' ':
			b.WriteString(`\s`)
		case '\\':
			b.WriteString(`\\`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}

// SerializeTags renders a tag map back into a '@'-less tag segment with
// deterministic key order. Values round-trip through the escape rules.
func SerializeTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		if v := tags[k]; v != "" {
			b.WriteByte('=')
			b.WriteString(escapeTagValue(v))
		}
	}
	return b.String()
}

// parseBadges splits a badges tag ("broadcaster/1,subscriber/12") into
// badge values. Entries without a '/' keep an empty version.
func parseBadges(v string) []event.Badge {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	badges := make([]event.Badge, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		name, version, _ := strings.Cut(part, "/")
		badges = append(badges, event.Badge{Name: name, Version: version})
	}
	return badges
}

// parseEmotes splits an emotes tag ("25:0-4,12-16/1902:6-10") into spans,
// preserving the tag's own ordering. Malformed groups or ranges are skipped
// without failing the surrounding event.
func parseEmotes(v string) []event.EmoteSpan {
	if v == "" {
		return nil
	}
	var spans []event.EmoteSpan
	for _, group := range strings.Split(v, "/") {
		id, ranges, found := strings.Cut(group, ":")
		if !found || id == "" {
			continue
		}
		for _, r := range strings.Split(ranges, ",") {
			startStr, endStr, ok := strings.Cut(r, "-")
			if !ok {
				continue
			}
			start, err1 := strconv.Atoi(startStr)
			end, err2 := strconv.Atoi(endStr)
			if err1 != nil || err2 != nil || start < 0 || end < start {
				continue
			}
			spans = append(spans, event.EmoteSpan{ID: id, Start: start, End: end})
		}
	}
	return spans
}

// intTag parses a numeric tag value, returning nil when the tag is absent
// or malformed.
func intTag(tags map[string]string, key string) *int {
	v, ok := tags[key]
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

// boolTag interprets the "0"/"1" convention, returning nil on anything else.
func boolTag(tags map[string]string, key string) *bool {
	v, ok := tags[key]
	if !ok {
		return nil
	}
	switch v {
	case "0":
		b := false
		return &b
	case "1":
		b := true
		return &b
	}
	return nil
}

// tagTimestamp reads tmi-sent-ts (unix milliseconds). ok is false when the
// tag is absent or unusable.
func tagTimestamp(tags map[string]string) (time.Time, bool) {
	v, ok := tags["tmi-sent-ts"]
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
