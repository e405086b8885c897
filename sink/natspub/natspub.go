// Package natspub publishes events to NATS subjects for downstream live
// consumers.
//
// Each event goes to <prefix>.<channel> as a JSON document. The nats client
// handles reconnection itself; a commit attempted while the connection is
// down fails transient and the engine's retry rides out the outage.
package natspub

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/chatstream/errors"
	"github.com/c360/chatstream/event"
	"github.com/c360/chatstream/sink"
)

// Config holds configuration for the NATS publisher sink.
type Config struct {
	URL           string        `json:"url"`
	SubjectPrefix string        `json:"subject_prefix"`
	Name          string        `json:"client_name"`
	MaxReconnects int           `json:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait"`
	FlushTimeout  time.Duration `json:"flush_timeout"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Config", "Validate", "url is required")
	}
	if c.SubjectPrefix == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Config", "Validate",
			"subject_prefix is required")
	}
	if strings.ContainsAny(c.SubjectPrefix, " *>") {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "Validate",
			"subject_prefix must be a literal subject token")
	}
	return nil
}

// DefaultConfig returns defaults for the NATS publisher.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "chat.events",
		Name:          "chatstream-publisher",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		FlushTimeout:  5 * time.Second,
	}
}

// conn is the subset of nats.Conn the sink uses, separated for tests.
type conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	IsConnected() bool
	Drain() error
}

// Sink publishes events to per-channel NATS subjects.
type Sink struct {
	name   string
	config Config
	logger *slog.Logger

	mu sync.Mutex
	nc conn
}

// New connects to NATS and returns the publisher sink.
func New(name string, config Config, logger *slog.Logger) (*Sink, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.ReconnectWait <= 0 {
		config.ReconnectWait = DefaultConfig().ReconnectWait
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = DefaultConfig().FlushTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("sink", name)

	nc, err := nats.Connect(config.URL,
		nats.Name(config.Name),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "Sink", "New", "connect to "+config.URL)
	}

	return &Sink{name: name, config: config, logger: logger, nc: nc}, nil
}

// Name implements sink.Sink.
func (s *Sink) Name() string { return s.name }

// Commit publishes every event in the batch and flushes. Marshal failures
// are permanent; everything else is transient and retried by the engine.
// Subscribers see duplicates when a flush fails mid-batch.
func (s *Sink) Commit(ctx context.Context, batch sink.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nc == nil {
		return errors.WrapPermanent(errors.ErrSinkClosed, "Sink", "Commit", "publish after close")
	}
	if !s.nc.IsConnected() {
		return errors.WrapTransient(errors.ErrConnectionLost, "Sink", "Commit", "nats unavailable")
	}

	for _, ev := range batch.Events {
		if err := ctx.Err(); err != nil {
			return errors.WrapTransient(err, "Sink", "Commit", "context ended mid-batch")
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return errors.WrapPermanent(err, "Sink", "Commit", "marshal event")
		}
		if err := s.nc.Publish(s.subjectFor(ev), data); err != nil {
			return errors.WrapTransient(err, "Sink", "Commit", "publish event")
		}
	}
	if err := s.nc.FlushTimeout(s.config.FlushTimeout); err != nil {
		return errors.WrapTransient(err, "Sink", "Commit", "flush batch")
	}
	return nil
}

// subjectFor maps an event to its subject. Channel names are sanitized so
// they stay single subject tokens.
func (s *Sink) subjectFor(ev event.Event) string {
	channel := ev.Channel
	if channel == "" {
		channel = "_unknown"
	}
	channel = strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '*', '>':
			return '_'
		}
		return r
	}, channel)
	return s.config.SubjectPrefix + "." + channel
}

// Close drains the connection so queued publishes leave first.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nc == nil {
		return nil
	}
	err := s.nc.Drain()
	s.nc = nil
	if err != nil {
		return errors.WrapTransient(err, "Sink", "Close", "drain connection")
	}
	return nil
}
