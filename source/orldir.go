package source

import (
	"context"
	"log/slog"
	"strings"

	"github.com/c360/chatstream/orl"
)

// ORLDir reads an archive of legacy-format log files.
type ORLDir struct {
	root   string
	logger *slog.Logger
}

// NewORLDir creates a reader over <root>/<channel>/*.txt[.gz].
func NewORLDir(root string, logger *slog.Logger) *ORLDir {
	if logger == nil {
		logger = slog.Default()
	}
	return &ORLDir{root: root, logger: logger.With("source", "orl_dir")}
}

// Each decodes every line and hands the events to fn in file order.
// Comment lines are skipped; anything else that fails to decode is passed
// through as an Unknown event so conversion is lossless.
func (s *ORLDir) Each(ctx context.Context, fn Handler) error {
	return walk(ctx, s.root, []string{".txt", ".log"}, func(channel, path string) error {
		s.logger.Debug("reading archive file", "channel", channel, "path", path)
		return eachLine(ctx, path, func(line string) error {
			if line == "" || strings.HasPrefix(line, "#") {
				return nil
			}
			return fn(ctx, orl.DecodeLine(channel, line))
		})
	})
}
