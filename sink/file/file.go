// Package file provides an append-only file sink writing per-channel,
// per-day log files.
//
// Layout under the configured root is <channel>/<YYYY-MM-DD>.txt for the
// legacy line format and <channel>/<YYYY-MM-DD>.jsonl for normalized JSON
// records. Open file handles are cached per channel and day and recycled
// when the cache limit is reached. The sink doubles as the default
// dead-letter target for other sinks.
package file

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/c360/chatstream/errors"
	"github.com/c360/chatstream/event"
	"github.com/c360/chatstream/orl"
	"github.com/c360/chatstream/sink"
)

// Config holds configuration for the file sink.
type Config struct {
	Root          string `json:"root"`
	Format        string `json:"format"`         // "orl" or "jsonl"
	ControlPolicy string `json:"control_policy"` // orl only: "skip" or "comment"
	MaxOpenFiles  int    `json:"max_open_files"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Root == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Config", "Validate", "root is required")
	}
	if c.Format != "orl" && c.Format != "jsonl" {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "Validate",
			"format must be orl or jsonl")
	}
	if _, err := orl.ParseControlPolicy(c.ControlPolicy); err != nil {
		return err
	}
	return nil
}

// DefaultConfig returns defaults for the file sink.
func DefaultConfig() Config {
	return Config{
		Format:       "jsonl",
		MaxOpenFiles: 64,
	}
}

// Sink writes events to per-channel daily files.
type Sink struct {
	name    string
	root    string
	format  string
	policy  orl.ControlPolicy
	maxOpen int
	logger  *slog.Logger

	mu    sync.Mutex
	files map[string]*os.File
	order []string // open order, oldest first
}

// New creates a file sink. The root directory is created on first use.
func New(name string, config Config, logger *slog.Logger) (*Sink, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	policy, err := orl.ParseControlPolicy(config.ControlPolicy)
	if err != nil {
		return nil, err
	}
	if config.MaxOpenFiles <= 0 {
		config.MaxOpenFiles = DefaultConfig().MaxOpenFiles
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		name:    name,
		root:    config.Root,
		format:  config.Format,
		policy:  policy,
		maxOpen: config.MaxOpenFiles,
		logger:  logger.With("sink", name),
		files:   make(map[string]*os.File),
	}, nil
}

// Name implements sink.Sink.
func (s *Sink) Name() string { return s.name }

// Commit appends every event in the batch to its channel/day file. Writes
// go straight to the OS; durability against power loss is not guaranteed.
// Re-delivery of a batch appends duplicate lines; downstream consumers key
// on event ids.
func (s *Sink) Commit(ctx context.Context, batch sink.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range batch.Events {
		if err := ctx.Err(); err != nil {
			return errors.WrapTransient(err, "Sink", "Commit", "context ended mid-batch")
		}
		line, ok, err := s.formatLine(ev)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		f, err := s.fileFor(ev)
		if err != nil {
			return err
		}
		if _, err := f.WriteString(line + "\n"); err != nil {
			return errors.WrapTransient(err, "Sink", "Commit", "append line")
		}
	}
	return nil
}

func (s *Sink) formatLine(ev event.Event) (string, bool, error) {
	if s.format == "orl" {
		line, err := orl.Format(ev, s.policy)
		if err != nil {
			// Not encodable under the policy; skip, not an error.
			return "", false, nil
		}
		return line, true, nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return "", false, errors.WrapPermanent(err, "Sink", "Commit", "marshal event")
	}
	return string(data), true, nil
}

// sanitizeChannel maps a channel name to a single path element under the
// sink root. Separators and dot names would otherwise escape the root.
func sanitizeChannel(channel string) string {
	channel = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\':
			return '_'
		}
		return r
	}, channel)
	switch channel {
	case "", ".", "..":
		return "_unknown"
	}
	return channel
}

// fileFor returns the open handle for the event's channel and day, opening
// and caching it as needed. Caller holds s.mu.
func (s *Sink) fileFor(ev event.Event) (*os.File, error) {
	channel := sanitizeChannel(ev.Channel)
	ext := ".txt"
	if s.format == "jsonl" {
		ext = ".jsonl"
	}
	key := filepath.Join(channel, ev.Timestamp.UTC().Format("2006-01-02")+ext)

	if f, ok := s.files[key]; ok {
		return f, nil
	}

	path := filepath.Join(s.root, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.WrapTransient(err, "Sink", "Commit", "create channel directory")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.WrapTransient(err, "Sink", "Commit", "open log file")
	}

	if len(s.order) >= s.maxOpen {
		oldest := s.order[0]
		s.order = s.order[1:]
		if old, ok := s.files[oldest]; ok {
			if err := old.Close(); err != nil {
				s.logger.Warn("closing cached log file failed", "file", oldest, "error", err)
			}
			delete(s.files, oldest)
		}
	}

	s.files[key] = f
	s.order = append(s.order, key)
	return f, nil
}

// Close flushes and closes every cached file handle.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for key, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = errors.WrapTransient(err, "Sink", "Close", "close "+key)
		}
	}
	s.files = make(map[string]*os.File)
	s.order = nil
	return firstErr
}
