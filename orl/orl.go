// Package orl reads and writes the legacy plain-text chat log format:
//
//	[2006-01-02 15:04:05.000 UTC] username: text
//
// Files are scoped to a single channel, so the channel name is supplied by
// the caller on decode and dropped on encode. The format carries only the
// timestamp, login, and text; everything else on an event is lossy by
// declaration.
package orl

import (
	"strings"
	"time"
)

// Timestamp layouts accepted on decode, most specific first. Encode always
// uses the first.
var decodeLayouts = []string{
	"2006-01-02 15:04:05.000 UTC",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05 UTC",
	"2006-01-02 15:04:05",
}

const encodeLayout = "2006-01-02 15:04:05.000 UTC"

// actionMarker prefixes the text of an emote-style message.
const actionMarker = "/me "

// commentMarker prefixes non-message lines emitted under ControlComment.
const commentMarker = "# "

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range decodeLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
