package orl

import (
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/chatstream/errors"
	"github.com/c360/chatstream/event"
)

func TestDecodeLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		ts   time.Time
		user string
		text string
	}{
		{
			name: "with milliseconds and utc",
			line: "[2021-08-03 17:40:27.313 UTC] jOhNpYp: Example message",
			ts:   time.Date(2021, 8, 3, 17, 40, 27, 313e6, time.UTC),
			user: "johnpyp",
			text: "Example message",
		},
		{
			name: "no milliseconds no utc",
			line: "[2021-08-03 17:40:27] jOhNpYp: Example message",
			ts:   time.Date(2021, 8, 3, 17, 40, 27, 0, time.UTC),
			user: "johnpyp",
			text: "Example message",
		},
		{
			name: "spaced out username and message",
			line: "[2021-08-03 17:40:27 UTC]   tEst Cat  :   Example message   ",
			ts:   time.Date(2021, 8, 3, 17, 40, 27, 0, time.UTC),
			user: "test cat",
			text: "Example message",
		},
		{
			name: "newline in message",
			line: "[2021-08-03 17:40:27 UTC] test cat: Example message\nfollowing message",
			ts:   time.Date(2021, 8, 3, 17, 40, 27, 0, time.UTC),
			user: "test cat",
			text: "Example message following message",
		},
		{
			name: "empty message",
			line: "[2021-08-03 17:40:27 UTC] user:",
			ts:   time.Date(2021, 8, 3, 17, 40, 27, 0, time.UTC),
			user: "user",
			text: "",
		},
		{
			name: "no space after bracket",
			line: "[2021-08-03 17:40:27 UTC]user: message",
			ts:   time.Date(2021, 8, 3, 17, 40, 27, 0, time.UTC),
			user: "user",
			text: "message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := DecodeLine("xqcow", tt.line)
			require.Equal(t, event.TypeChatMessage, ev.Type)
			assert.Equal(t, "xqcow", ev.Channel)
			assert.Equal(t, tt.ts, ev.Timestamp)
			assert.Equal(t, tt.user, ev.SenderLogin)
			assert.Equal(t, tt.text, ev.Text)
		})
	}
}

func TestDecodeLineMalformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"missing message colon", "[2021-08-03 17:40:27 UTC] user"},
		{"missing closing bracket", "2021-08-03 17:40:27 UTC user: message"},
		{"garbage timestamp", "[not a date] user: message"},
		{"empty username", "[2021-08-03 17:40:27 UTC] : message"},
		{"empty line", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := DecodeLine("xqcow", tt.line)
			assert.Equal(t, event.TypeUnknown, ev.Type)
			assert.Equal(t, tt.line, ev.Raw)
		})
	}
}

func TestDecodeActionLine(t *testing.T) {
	ev := DecodeLine("xqcow", "[2021-08-03 17:40:27.000 UTC] someone: /me waves")
	assert.True(t, ev.Action)
	assert.Equal(t, "waves", ev.Text)
}

func TestFormatChatMessage(t *testing.T) {
	ev := event.Event{
		Type:        event.TypeChatMessage,
		Channel:     "xqcow",
		Timestamp:   time.Date(2021, 8, 4, 0, 44, 12, 616e6, time.UTC),
		SenderLogin: "megablade136",
		Text:        "!commands",
	}

	line, err := Format(ev, ControlSkip)
	require.NoError(t, err)
	assert.Equal(t, "[2021-08-04 00:44:12.616 UTC] megablade136: !commands", line)
}

func TestFormatActionMessage(t *testing.T) {
	ev := event.Event{
		Type:        event.TypeChatMessage,
		Timestamp:   time.Date(2021, 8, 4, 0, 44, 12, 0, time.UTC),
		SenderLogin: "someone",
		Text:        "waves",
		Action:      true,
	}

	line, err := Format(ev, ControlSkip)
	require.NoError(t, err)
	assert.Equal(t, "[2021-08-04 00:44:12.000 UTC] someone: /me waves", line)
}

func TestFormatControlPolicies(t *testing.T) {
	dur := 600 * time.Second
	ban := event.Event{
		Type:        event.TypeClearChat,
		Timestamp:   time.Date(2021, 8, 4, 0, 44, 12, 0, time.UTC),
		TargetLogin: "baduser",
		BanDuration: &dur,
	}

	_, err := Format(ban, ControlSkip)
	assert.True(t, stderrors.Is(err, errors.ErrEncodeSkipped))

	line, err := Format(ban, ControlComment)
	require.NoError(t, err)
	assert.Equal(t, "# [2021-08-04 00:44:12.000 UTC] baduser timed out for 600 seconds", line)

	ban.BanDuration = nil
	line, err = Format(ban, ControlComment)
	require.NoError(t, err)
	assert.Contains(t, line, "baduser permanently banned")

	ban.TargetLogin = ""
	line, err = Format(ban, ControlComment)
	require.NoError(t, err)
	assert.Contains(t, line, "chat cleared")
}

func TestFormatAlwaysSkipsTransientEvents(t *testing.T) {
	for _, typ := range []event.Type{event.TypePing, event.TypeReconnect, event.TypeUnknown} {
		_, err := Format(event.Event{Type: typ}, ControlComment)
		assert.True(t, stderrors.Is(err, errors.ErrEncodeSkipped), "type=%s", typ)
	}
}

func TestEncoderRoundTrip(t *testing.T) {
	events := []event.Event{
		{
			Type:        event.TypeChatMessage,
			Channel:     "xqcow",
			Timestamp:   time.Date(2021, 8, 4, 0, 44, 12, 616e6, time.UTC),
			SenderLogin: "megablade136",
			SenderName:  "MegaBlade136",
			Text:        "!commands",
		},
		{
			Type:      event.TypePing,
			Timestamp: time.Date(2021, 8, 4, 0, 44, 13, 0, time.UTC),
		},
		{
			Type:        event.TypeChatMessage,
			Channel:     "xqcow",
			Timestamp:   time.Date(2021, 8, 4, 0, 44, 14, 1e6, time.UTC),
			SenderLogin: "someone",
			Text:        "waves",
			Action:      true,
		},
	}

	var sb strings.Builder
	enc := NewEncoder(&sb, ControlSkip)
	for _, ev := range events {
		require.NoError(t, enc.Encode(ev))
	}
	require.NoError(t, enc.Flush())
	assert.Equal(t, 1, enc.Skipped())

	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	first := DecodeLine("xqcow", lines[0])
	assert.Equal(t, events[0].Timestamp, first.Timestamp)
	assert.Equal(t, events[0].SenderLogin, first.SenderLogin)
	assert.Equal(t, events[0].Text, first.Text)

	second := DecodeLine("xqcow", lines[1])
	assert.True(t, second.Action)
	assert.Equal(t, "waves", second.Text)
	assert.Equal(t, events[2].Timestamp, second.Timestamp)
}

func TestParseControlPolicy(t *testing.T) {
	p, err := ParseControlPolicy("comment")
	require.NoError(t, err)
	assert.Equal(t, ControlComment, p)

	p, err = ParseControlPolicy("")
	require.NoError(t, err)
	assert.Equal(t, ControlSkip, p)

	_, err = ParseControlPolicy("mangle")
	assert.Error(t, err)
}
