package channels

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/chatstream/errors"
	"github.com/c360/chatstream/pkg/clock"
)

// Syncer periodically re-resolves the channel list and applies it. The
// first sync happens immediately on Start; a failed sync keeps the
// previously applied set.
type Syncer struct {
	provider Provider
	apply    func([]string)
	interval time.Duration
	clk      clock.Clock
	logger   *slog.Logger

	// Lifecycle management.
	shutdown    chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	running     bool
	lifecycleMu sync.Mutex
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithClock substitutes the timer source.
func WithClock(c clock.Clock) SyncerOption {
	return func(s *Syncer) { s.clk = c }
}

// WithLogger sets the syncer's logger.
func WithLogger(logger *slog.Logger) SyncerOption {
	return func(s *Syncer) { s.logger = logger }
}

// NewSyncer creates a syncer that resolves channels through provider every
// interval and hands the result to apply.
func NewSyncer(provider Provider, apply func([]string), interval time.Duration, opts ...SyncerOption) (*Syncer, error) {
	if provider == nil || apply == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Syncer", "NewSyncer",
			"provider and apply callback required")
	}
	if interval <= 0 {
		return nil, errors.WrapFatal(errors.ErrInvalidConfig, "Syncer", "NewSyncer",
			"sync interval must be positive")
	}

	s := &Syncer{
		provider: provider,
		apply:    apply,
		interval: interval,
		clk:      clock.New(),
		logger:   slog.Default(),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "channel-syncer")
	return s, nil
}

// Start launches the sync loop.
func (s *Syncer) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Syncer", "Start", "check running state")
	}
	s.running = true

	go s.run(ctx)
	return nil
}

// Stop shuts the syncer down.
func (s *Syncer) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return nil
	}
	s.closeOnce.Do(func() { close(s.shutdown) })

	select {
	case <-s.done:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrRetriesExhausted, "Syncer", "Stop",
			"shutdown did not complete")
	}
	s.running = false
	return nil
}

func (s *Syncer) run(ctx context.Context) {
	defer close(s.done)

	s.sync(ctx)
	for {
		timer := s.clk.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.shutdown:
			timer.Stop()
			return
		case <-timer.C():
			s.sync(ctx)
		}
	}
}

func (s *Syncer) sync(ctx context.Context) {
	list, err := s.provider.Channels(ctx)
	if err != nil {
		s.logger.Warn("channel sync failed", "error", err)
		return
	}
	s.logger.Debug("channel list resolved", "count", len(list))
	s.apply(list)
}
