package irc

import (
	"strings"
	"time"

	"github.com/c360/chatstream/event"
)

// Parser converts raw protocol lines into events. The zero value is usable;
// Now is overridable for deterministic tests and defaults to the wall clock.
type Parser struct {
	// Now supplies the fallback timestamp for lines without a usable
	// tmi-sent-ts tag.
	Now func() time.Time
}

// ParseLine parses a raw line with the wall clock as the fallback timestamp.
func ParseLine(raw string) event.Event {
	var p Parser
	return p.Parse(raw)
}

// Parse converts one raw line into a typed event. It never fails: anything
// that does not decompose into a recognized command comes back as an Unknown
// event carrying the verbatim line.
func (p *Parser) Parse(raw string) event.Event {
	raw = strings.TrimRight(raw, "\r\n")
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	l, ok := parseLine(raw)
	if !ok {
		return event.Unknown(raw, now().UTC())
	}

	ts, hasTS := tagTimestamp(l.Tags)
	if !hasTS {
		ts = now().UTC()
	}

	switch l.Command {
	case "PRIVMSG":
		return p.chatMessage(l, ts)
	case "CLEARCHAT":
		return p.clearChat(l, ts)
	case "USERNOTICE":
		return p.userNotice(l, ts)
	case "ROOMSTATE":
		return p.roomState(l, ts)
	case "NOTICE":
		return p.notice(l, ts)
	case "PING":
		ev := event.Event{Type: event.TypePing, Timestamp: ts, Raw: raw}
		if len(l.Params) > 0 {
			ev.Text = l.Params[len(l.Params)-1]
		}
		return ev
	case "RECONNECT":
		return event.Event{Type: event.TypeReconnect, Timestamp: ts, Raw: raw}
	default:
		return event.Unknown(raw, ts)
	}
}

func (p *Parser) chatMessage(l line, ts time.Time) event.Event {
	ev := event.Event{
		Type:        event.TypeChatMessage,
		Channel:     channelParam(l.Params),
		Timestamp:   ts,
		Tags:        l.Tags,
		SenderID:    l.Tags["user-id"],
		SenderLogin: l.Prefix.Nick,
		SenderName:  l.Tags["display-name"],
		Color:       l.Tags["color"],
		Badges:      parseBadges(l.Tags["badges"]),
		Emotes:      parseEmotes(l.Tags["emotes"]),
		MessageID:   l.Tags["id"],
	}
	if ev.SenderName == "" {
		ev.SenderName = ev.SenderLogin
	}
	if len(l.Params) > 1 {
		ev.Text = l.Params[len(l.Params)-1]
	}
	// CTCP ACTION ("/me") wraps the text in \x01 markers.
	if strings.HasPrefix(ev.Text, "\x01ACTION ") && strings.HasSuffix(ev.Text, "\x01") {
		ev.Action = true
		ev.Text = strings.TrimSuffix(strings.TrimPrefix(ev.Text, "\x01ACTION "), "\x01")
	}
	return ev
}

func (p *Parser) clearChat(l line, ts time.Time) event.Event {
	ev := event.Event{
		Type:      event.TypeClearChat,
		Channel:   channelParam(l.Params),
		Timestamp: ts,
		Tags:      l.Tags,
	}
	if len(l.Params) > 1 {
		ev.TargetLogin = l.Params[len(l.Params)-1]
	}
	// Absent or malformed ban-duration means a permanent ban (or a full
	// chat clear when no target is named).
	if secs := intTag(l.Tags, "ban-duration"); secs != nil && *secs >= 0 {
		d := time.Duration(*secs) * time.Second
		ev.BanDuration = &d
	}
	return ev
}

func (p *Parser) userNotice(l line, ts time.Time) event.Event {
	ev := event.Event{
		Type:        event.TypeUserNotice,
		Channel:     channelParam(l.Params),
		Timestamp:   ts,
		Tags:        l.Tags,
		SenderID:    l.Tags["user-id"],
		SenderLogin: l.Tags["login"],
		SenderName:  l.Tags["display-name"],
		Badges:      parseBadges(l.Tags["badges"]),
		Emotes:      parseEmotes(l.Tags["emotes"]),
		MessageID:   l.Tags["id"],
		NoticeType:  l.Tags["msg-id"],
		SystemText:  l.Tags["system-msg"],
	}
	if len(l.Params) > 1 {
		ev.Text = l.Params[len(l.Params)-1]
	}
	return ev
}

func (p *Parser) roomState(l line, ts time.Time) event.Event {
	return event.Event{
		Type:          event.TypeRoomState,
		Channel:       channelParam(l.Params),
		Timestamp:     ts,
		Tags:          l.Tags,
		Slow:          intTag(l.Tags, "slow"),
		SubsOnly:      boolTag(l.Tags, "subs-only"),
		EmoteOnly:     boolTag(l.Tags, "emote-only"),
		R9K:           boolTag(l.Tags, "r9k"),
		FollowersOnly: intTag(l.Tags, "followers-only"),
	}
}

func (p *Parser) notice(l line, ts time.Time) event.Event {
	ev := event.Event{
		Type:       event.TypeNotice,
		Channel:    channelParam(l.Params),
		Timestamp:  ts,
		Tags:       l.Tags,
		NoticeType: l.Tags["msg-id"],
	}
	if len(l.Params) > 1 {
		ev.Text = l.Params[len(l.Params)-1]
	}
	return ev
}
