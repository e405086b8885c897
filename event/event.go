// Package event defines the normalized chat event record produced by the
// protocol parsers and consumed by every sink.
package event

import (
	"fmt"
	"hash/fnv"
	"time"
)

// Type discriminates the event variants.
type Type string

// Event type constants.
const (
	TypeChatMessage Type = "chat_message"
	TypeClearChat   Type = "clear_chat"
	TypeUserNotice  Type = "user_notice"
	TypeRoomState   Type = "room_state"
	TypeNotice      Type = "notice"
	TypePing        Type = "ping"
	TypeReconnect   Type = "reconnect"
	TypeUnknown     Type = "unknown"
)

// Badge is one entry of a sender's badge set, e.g. broadcaster/1.
type Badge struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// EmoteSpan is one occurrence of an emote inside the message text, expressed
// as rune offsets into the text. Spans are ordered by start offset within
// each emote id, preserving the wire order.
type EmoteSpan struct {
	ID    string `json:"id"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Event is the normalized record for one protocol line. Exactly one variant's
// fields are populated, selected by Type. Channel, Timestamp and Tags are
// common to every persisted variant; Tags preserves the raw unescaped tag map
// verbatim so fields this version does not recognize survive a round trip
// through storage.
//
// Timestamps are monotonic per connection only; no ordering holds across
// channels on different connections.
type Event struct {
	Type      Type              `json:"type"`
	Channel   string            `json:"channel,omitempty"`
	Timestamp time.Time         `json:"ts"`
	Tags      map[string]string `json:"tags,omitempty"`

	// ChatMessage fields.
	SenderID    string      `json:"sender_id,omitempty"`
	SenderLogin string      `json:"sender_login,omitempty"`
	SenderName  string      `json:"sender_name,omitempty"`
	Color       string      `json:"color,omitempty"`
	Badges      []Badge     `json:"badges,omitempty"`
	Emotes      []EmoteSpan `json:"emotes,omitempty"`
	Text        string      `json:"text,omitempty"`
	MessageID   string      `json:"message_id,omitempty"`
	Action      bool        `json:"action,omitempty"`

	// ClearChat fields. A nil BanDuration on a targeted clear means a
	// permanent ban; a clear without target is a full chat wipe.
	TargetLogin string         `json:"target_login,omitempty"`
	BanDuration *time.Duration `json:"ban_duration,omitempty"`

	// UserNotice fields.
	NoticeType string `json:"notice_type,omitempty"`
	SystemText string `json:"system_text,omitempty"`

	// RoomState fields. Nil means the line did not carry the setting;
	// pointers distinguish "absent" from "off".
	Slow          *int  `json:"slow,omitempty"`
	SubsOnly      *bool `json:"subs_only,omitempty"`
	EmoteOnly     *bool `json:"emote_only,omitempty"`
	FollowersOnly *int  `json:"followers_only,omitempty"`
	R9K           *bool `json:"r9k,omitempty"`

	// Unknown carries the raw line so no input is ever silently dropped.
	Raw string `json:"raw,omitempty"`
}

// IsControl reports whether the event is a connection-control event that is
// never persisted to sinks.
func (e *Event) IsControl() bool {
	return e.Type == TypePing || e.Type == TypeReconnect
}

// HasBadge reports whether the sender carries the named badge.
func (e *Event) HasBadge(name string) bool {
	for _, b := range e.Badges {
		if b.Name == name {
			return true
		}
	}
	return false
}

// DocumentID derives a stable identifier for the event, suitable as a search
// index document id: identical events produce identical ids so duplicate
// deliveries from at-least-once retries collapse on write.
//
// Format: <unix-millis>-<hash(channel)>-<hash(sender)>-<hash(text)> with each
// hash rendered as 8 hex characters.
func (e *Event) DocumentID() string {
	return fmt.Sprintf("%d-%s-%s-%s",
		e.Timestamp.UnixMilli(),
		squashHash(e.Channel),
		squashHash(e.SenderLogin),
		squashHash(e.Text),
	)
}

// squashHash produces a fixed-width 32-bit hex digest of s.
func squashHash(s string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}

// Unknown constructs the fallback event for an unparseable line.
func Unknown(raw string, ts time.Time) Event {
	return Event{
		Type:      TypeUnknown,
		Timestamp: ts,
		Raw:       raw,
	}
}
