// Package dispatch fans events out from the single producer path to named
// per-sink queues.
//
// Each subscriber owns a bounded queue with its own overflow policy. Publish
// offers every event to every queue in registration order, so a full Block
// queue stalls the producer and everything upstream of it, while a
// DropOldest queue sheds load locally. Order within a queue follows publish
// order; there is no ordering relationship across queues.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/chatstream/errors"
	"github.com/c360/chatstream/event"
	"github.com/c360/chatstream/metric"
	"github.com/c360/chatstream/pkg/queue"
)

// Dispatcher routes every published event to all subscribed queues.
type Dispatcher struct {
	mu      sync.Mutex
	subs    []*subscription
	names   map[string]struct{}
	started bool

	logger  *slog.Logger
	metrics *metric.Registry
}

type subscription struct {
	name string
	q    *queue.Queue[event.Event]
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for drop reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithMetrics binds queue depth and drop counters to the registry.
func WithMetrics(reg *metric.Registry) Option {
	return func(d *Dispatcher) { d.metrics = reg }
}

// New creates an empty dispatcher. Subscribers attach before Start.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		names:  make(map[string]struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers a named queue. It fails after Start so capacity and
// policy stay fixed for the lifetime of the pipeline.
func (d *Dispatcher) Subscribe(name string, capacity int, policy queue.OverflowPolicy) (*queue.Queue[event.Event], error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return nil, errors.WrapFatal(errors.ErrInvalidConfig, "dispatch", "Subscribe",
			"subscription after start")
	}
	if _, dup := d.names[name]; dup {
		return nil, errors.WrapFatal(errors.ErrInvalidConfig, "dispatch", "Subscribe",
			"duplicate subscriber "+name)
	}

	qopts := []queue.Option[event.Event]{queue.WithPolicy[event.Event](policy)}
	if d.metrics != nil {
		qopts = append(qopts, queue.WithMetrics[event.Event](d.metrics, name))
	}
	logger := d.logger
	qopts = append(qopts, queue.WithDropCallback(func(ev event.Event) {
		logger.Debug("queue shed oldest event",
			"sink", name, "channel", ev.Channel, "type", string(ev.Type))
	}))

	q, err := queue.New(capacity, qopts...)
	if err != nil {
		return nil, err
	}

	d.subs = append(d.subs, &subscription{name: name, q: q})
	d.names[name] = struct{}{}
	return q, nil
}

// Start freezes the subscriber set.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
}

// Publish offers ev to every queue in registration order. A Block queue at
// capacity makes Publish wait, which is the pipeline's backpressure path.
// The returned error is only ever ctx.Err().
func (d *Dispatcher) Publish(ctx context.Context, ev event.Event) error {
	// The subscriber slice is frozen once started, so it is read without
	// the lock on the hot path.
	for _, sub := range d.subs {
		if err := sub.q.Put(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// SubscriberNames returns the registered queue names in registration order.
func (d *Dispatcher) SubscriberNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, len(d.subs))
	for i, sub := range d.subs {
		names[i] = sub.name
	}
	return names
}
