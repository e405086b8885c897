// Package engine drives batch delivery for a single sink.
//
// One engine consumes one dispatcher queue, accumulates events into batches,
// and hands whole batches to its sink adapter. A batch flushes when it
// reaches the configured size or when its oldest event has waited the
// configured age, whichever comes first, so delivery latency stays bounded
// even on quiet channels.
//
// Commit failures are classified: transient errors retry with the identical
// batch under exponential backoff, permanent errors and retry exhaustion go
// to the dead-letter sink when one is configured. A failing sink never
// stalls its siblings; each engine runs its own goroutine and owns its own
// queue.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/chatstream/errors"
	"github.com/c360/chatstream/event"
	"github.com/c360/chatstream/metric"
	"github.com/c360/chatstream/pkg/clock"
	"github.com/c360/chatstream/pkg/queue"
	"github.com/c360/chatstream/pkg/retry"
	"github.com/c360/chatstream/sink"
)

// State is the engine's delivery phase, exposed for health reporting.
type State int32

const (
	StateAccumulating State = iota
	StateFlushing
	StateRetrying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config controls batching and retry behavior for one engine.
type Config struct {
	// MaxBatchSize flushes a batch once it holds this many events.
	MaxBatchSize int `json:"max_batch_size"`
	// MaxBatchAge flushes a partial batch once its oldest event has
	// waited this long.
	MaxBatchAge time.Duration `json:"max_batch_age"`
	// MaxRetries bounds commit attempts for a transiently failing batch.
	MaxRetries int `json:"max_retries"`
	// RetryInitialDelay seeds the exponential backoff between attempts.
	RetryInitialDelay time.Duration `json:"retry_initial_delay"`
	// RetryMaxDelay caps the backoff.
	RetryMaxDelay time.Duration `json:"retry_max_delay"`
	// ShutdownGrace bounds the final flush when the run context ends.
	ShutdownGrace time.Duration `json:"shutdown_grace"`
}

// DefaultConfig returns batching defaults suitable for chat-rate traffic.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:      500,
		MaxBatchAge:       2 * time.Second,
		MaxRetries:        5,
		RetryInitialDelay: 200 * time.Millisecond,
		RetryMaxDelay:     10 * time.Second,
		ShutdownGrace:     5 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.MaxBatchSize <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "Validate",
			"max_batch_size must be positive")
	}
	if c.MaxBatchAge <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "Validate",
			"max_batch_age must be positive")
	}
	if c.MaxRetries < 1 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "Validate",
			"max_retries must be at least 1")
	}
	return nil
}

// Engine batches events from one queue into one sink.
type Engine struct {
	name   string
	config Config
	input  *queue.Queue[event.Event]
	sink   sink.Sink

	deadLetter sink.Sink
	clk        clock.Clock
	logger     *slog.Logger
	metrics    *metric.Registry

	// Lifecycle management.
	shutdown    chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	running     bool
	lifecycleMu sync.Mutex

	stateMu sync.RWMutex
	state   State
}

// Option configures an Engine.
type Option func(*Engine)

// WithDeadLetter routes permanently failed batches to another sink instead
// of dropping them.
func WithDeadLetter(s sink.Sink) Option {
	return func(e *Engine) { e.deadLetter = s }
}

// WithClock substitutes the timer source.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clk = c }
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics records batch outcomes on the shared registry.
func WithMetrics(reg *metric.Registry) Option {
	return func(e *Engine) { e.metrics = reg }
}

// New creates an engine for the named sink consuming from input.
func New(name string, input *queue.Queue[event.Event], s sink.Sink, config Config, opts ...Option) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if input == nil || s == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Engine", "New",
			"input queue and sink required")
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = DefaultConfig().ShutdownGrace
	}
	if config.RetryInitialDelay <= 0 {
		config.RetryInitialDelay = DefaultConfig().RetryInitialDelay
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = DefaultConfig().RetryMaxDelay
	}

	e := &Engine{
		name:     name,
		config:   config,
		input:    input,
		sink:     s,
		clk:      clock.New(),
		logger:   slog.Default(),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("engine", name)
	return e, nil
}

// Name returns the engine's sink name.
func (e *Engine) Name() string { return e.name }

// State returns the current delivery phase.
func (e *Engine) State() State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

// Start launches the delivery goroutine.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Engine", "Start", "check running state")
	}
	e.running = true

	go e.run(ctx)
	return nil
}

// Stop requests shutdown and waits for the final flush, up to timeout.
func (e *Engine) Stop(timeout time.Duration) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if !e.running {
		return nil
	}
	e.closeOnce.Do(func() { close(e.shutdown) })

	select {
	case <-e.done:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrRetriesExhausted, "Engine", "Stop",
			"shutdown flush did not complete")
	}
	e.running = false
	return nil
}

// run is the delivery loop. It owns the accumulation slice exclusively.
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	var batch []event.Event
	var ageTimer clock.Timer

	stopTimer := func() {
		if ageTimer != nil {
			ageTimer.Stop()
			ageTimer = nil
		}
	}
	defer stopTimer()

	flush := func(flushCtx context.Context) {
		stopTimer()
		if len(batch) == 0 {
			return
		}
		// Ownership of the slice moves to the batch; accumulation
		// restarts on a fresh backing array.
		e.deliver(flushCtx, sink.NewBatch(batch))
		batch = nil
	}

	for {
		var timerC <-chan time.Time
		if ageTimer != nil {
			timerC = ageTimer.C()
		}

		select {
		case <-ctx.Done():
			e.drainAndFlush(&batch)
			return
		case <-e.shutdown:
			e.drainAndFlush(&batch)
			return
		case <-timerC:
			ageTimer = nil
			flush(ctx)
		case ev := <-e.input.Items():
			if ev.IsControl() {
				continue
			}
			batch = append(batch, ev)
			if len(batch) >= e.config.MaxBatchSize {
				flush(ctx)
				continue
			}
			if ageTimer == nil {
				ageTimer = e.clk.NewTimer(e.config.MaxBatchAge)
			}
		}
	}
}

// drainAndFlush empties whatever is still queued and commits it within the
// shutdown grace period. Loss past the cutoff is accepted.
func (e *Engine) drainAndFlush(batch *[]event.Event) {
	graceCtx, cancel := context.WithTimeout(context.Background(), e.config.ShutdownGrace)
	defer cancel()

	for {
		ev, ok := e.input.TryGet()
		if !ok {
			break
		}
		if ev.IsControl() {
			continue
		}
		*batch = append(*batch, ev)
		if len(*batch) >= e.config.MaxBatchSize {
			e.deliver(graceCtx, sink.NewBatch(*batch))
			*batch = nil
		}
	}
	if len(*batch) > 0 {
		e.deliver(graceCtx, sink.NewBatch(*batch))
		*batch = nil
	}
}

// deliver commits one batch, retrying transient failures with the identical
// batch, then dead-letters or drops on permanent failure or exhaustion.
func (e *Engine) deliver(ctx context.Context, batch sink.Batch) {
	e.setState(StateFlushing)
	defer e.setState(StateAccumulating)

	retryConfig := retry.Config{
		MaxAttempts:  e.config.MaxRetries,
		InitialDelay: e.config.RetryInitialDelay,
		MaxDelay:     e.config.RetryMaxDelay,
		Multiplier:   2.0,
		AddJitter:    true,
	}

	attempts := 0
	start := e.clk.Now()
	err := retry.Do(ctx, retryConfig, func() error {
		attempts++
		if attempts > 1 {
			e.setState(StateRetrying)
		}
		commitErr := e.sink.Commit(ctx, batch)
		if commitErr != nil && errors.IsPermanent(commitErr) {
			return retry.NonRetryable(commitErr)
		}
		return commitErr
	})
	elapsed := e.clk.Now().Sub(start)

	if err == nil {
		e.observeBatch("ok", batch, elapsed)
		if attempts > 1 {
			e.logger.Info("batch committed after retry",
				"batch_id", batch.ID, "events", batch.Len(), "attempts", attempts)
		}
		return
	}

	e.setState(StateFailed)
	e.logger.Error("batch commit failed",
		"batch_id", batch.ID, "events", batch.Len(), "attempts", attempts, "error", err)

	if e.deadLetter == nil {
		e.observeBatch("dropped", batch, elapsed)
		return
	}
	if dlErr := e.deadLetter.Commit(ctx, batch); dlErr != nil {
		e.logger.Error("dead-letter commit failed",
			"batch_id", batch.ID, "events", batch.Len(), "error", dlErr)
		e.observeBatch("dropped", batch, elapsed)
		return
	}
	e.observeBatch("dead_letter", batch, elapsed)
	if e.metrics != nil {
		e.metrics.Metrics.DeadLetterEvents.WithLabelValues(e.name).Add(float64(batch.Len()))
	}
}

func (e *Engine) observeBatch(status string, batch sink.Batch, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	m := e.metrics.Metrics
	m.BatchesCommitted.WithLabelValues(e.name, status).Inc()
	if status == "ok" {
		m.EventsCommitted.WithLabelValues(e.name).Add(float64(batch.Len()))
	}
	m.CommitDuration.WithLabelValues(e.name).Observe(elapsed.Seconds())
}
