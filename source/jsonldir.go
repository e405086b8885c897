package source

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360/chatstream/event"
)

// JSONLDir reads an archive of normalized JSON event records.
type JSONLDir struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
}

// NewJSONLDir creates a reader over <root>/<channel>/*.jsonl[.gz].
func NewJSONLDir(root string, logger *slog.Logger) *JSONLDir {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONLDir{
		root:   root,
		logger: logger.With("source", "jsonl_dir"),
		now:    time.Now,
	}
}

// Each unmarshals every line into an event. Lines that are not valid
// records become Unknown events carrying the raw line; a missing channel
// field is filled from the directory name.
func (s *JSONLDir) Each(ctx context.Context, fn Handler) error {
	return walk(ctx, s.root, []string{".jsonl"}, func(channel, path string) error {
		s.logger.Debug("reading archive file", "channel", channel, "path", path)
		return eachLine(ctx, path, func(line string) error {
			if line == "" {
				return nil
			}
			var ev event.Event
			if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Type == "" {
				ev = event.Unknown(line, s.now().UTC())
			}
			if ev.Channel == "" {
				ev.Channel = channel
			}
			return fn(ctx, ev)
		})
	})
}
