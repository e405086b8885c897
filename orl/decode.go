package orl

import (
	"strings"
	"time"

	"github.com/c360/chatstream/event"
)

// DecodeLine parses one log line into a chat message for the given channel.
// Decoding is lenient: usernames are lowercased and trimmed, embedded
// newlines in the text collapse to spaces, and the UTC suffix and
// milliseconds are both optional. Anything that does not fit the shape comes
// back as an Unknown event preserving the raw line, never an error.
func DecodeLine(channel, line string) event.Event {
	tsPart, rest, found := strings.Cut(line, "]")
	if !found || !strings.HasPrefix(strings.TrimLeft(tsPart, " "), "[") {
		return event.Unknown(line, time.Time{})
	}
	ts, ok := parseTimestamp(strings.TrimPrefix(strings.TrimLeft(tsPart, " "), "["))
	if !ok {
		return event.Unknown(line, time.Time{})
	}

	username, text, found := strings.Cut(rest, ":")
	if !found {
		return event.Unknown(line, time.Time{})
	}
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return event.Unknown(line, time.Time{})
	}
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))

	ev := event.Event{
		Type:        event.TypeChatMessage,
		Channel:     channel,
		Timestamp:   ts,
		SenderLogin: username,
		SenderName:  username,
		Text:        text,
	}
	if strings.HasPrefix(ev.Text, actionMarker) {
		ev.Action = true
		ev.Text = strings.TrimPrefix(ev.Text, actionMarker)
	}
	return ev
}
