package orl

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/c360/chatstream/errors"
	"github.com/c360/chatstream/event"
)

// ControlPolicy decides what happens to events the line format has no slot
// for (bans, notices, room state changes).
type ControlPolicy int

const (
	// ControlSkip drops non-message events entirely.
	ControlSkip ControlPolicy = iota
	// ControlComment renders non-message events as '#'-prefixed comment
	// lines so a later decode pass ignores them.
	ControlComment
)

func (p ControlPolicy) String() string {
	switch p {
	case ControlSkip:
		return "skip"
	case ControlComment:
		return "comment"
	default:
		return "unknown"
	}
}

// ParseControlPolicy maps a config string to a policy.
func ParseControlPolicy(s string) (ControlPolicy, error) {
	switch s {
	case "skip", "":
		return ControlSkip, nil
	case "comment":
		return ControlComment, nil
	default:
		return ControlSkip, errors.WrapFatal(errors.ErrInvalidConfig, "orl", "ParseControlPolicy",
			"control policy must be skip or comment, got "+s)
	}
}

// Format renders a single event as a log line without a trailing newline.
// Chat messages always format; other persisted variants format as comments
// under ControlComment and return ErrEncodeSkipped under ControlSkip.
// Transient protocol events (pings, reconnects, unknowns) are always
// skipped.
func Format(ev event.Event, policy ControlPolicy) (string, error) {
	stamp := ev.Timestamp.UTC().Format(encodeLayout)

	if ev.Type == event.TypeChatMessage {
		text := ev.Text
		if ev.Action {
			text = actionMarker + text
		}
		return fmt.Sprintf("[%s] %s: %s", stamp, ev.SenderLogin, flatten(text)), nil
	}

	summary, ok := controlSummary(ev)
	if !ok || policy != ControlComment {
		return "", fmt.Errorf("%w: %s", errors.ErrEncodeSkipped, ev.Type)
	}
	return fmt.Sprintf("%s[%s] %s", commentMarker, stamp, flatten(summary)), nil
}

// controlSummary produces the human-readable one-liner for a control event.
func controlSummary(ev event.Event) (string, bool) {
	switch ev.Type {
	case event.TypeClearChat:
		switch {
		case ev.TargetLogin == "":
			return "chat cleared", true
		case ev.BanDuration == nil:
			return ev.TargetLogin + " permanently banned", true
		default:
			return fmt.Sprintf("%s timed out for %d seconds",
				ev.TargetLogin, int(ev.BanDuration.Seconds())), true
		}
	case event.TypeUserNotice:
		if ev.SystemText != "" {
			return ev.SystemText, true
		}
		return string(ev.Type) + " " + ev.NoticeType, true
	case event.TypeNotice:
		if ev.Text != "" {
			return ev.Text, true
		}
		return string(ev.Type) + " " + ev.NoticeType, true
	case event.TypeRoomState:
		return "room state changed", true
	default:
		return "", false
	}
}

// flatten keeps the one-line-per-record invariant.
func flatten(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}

// Encoder writes events to a stream in the legacy format. Events the policy
// excludes are counted and dropped without error.
type Encoder struct {
	w       *bufio.Writer
	policy  ControlPolicy
	skipped int
}

func NewEncoder(w io.Writer, policy ControlPolicy) *Encoder {
	return &Encoder{w: bufio.NewWriter(w), policy: policy}
}

func (e *Encoder) Encode(ev event.Event) error {
	line, err := Format(ev, e.policy)
	if err != nil {
		if stderrors.Is(err, errors.ErrEncodeSkipped) {
			e.skipped++
			return nil
		}
		return err
	}
	if _, err := e.w.WriteString(line); err != nil {
		return errors.WrapTransient(err, "orl", "Encode", "write line")
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return errors.WrapTransient(err, "orl", "Encode", "write line")
	}
	return nil
}

// Skipped reports how many events the policy dropped since creation.
func (e *Encoder) Skipped() int { return e.skipped }

// Flush drains buffered output to the underlying writer.
func (e *Encoder) Flush() error {
	if err := e.w.Flush(); err != nil {
		return errors.WrapTransient(err, "orl", "Flush", "drain buffer")
	}
	return nil
}
