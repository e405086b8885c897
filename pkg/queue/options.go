package queue

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/chatstream/metric"
)

// Option configures queue behavior using the functional options pattern.
type Option[T any] func(*options[T])

type options[T any] struct {
	policy       OverflowPolicy
	dropCallback DropCallback[T]
	gauges       *queueGauges
}

// WithPolicy sets the overflow behavior. Defaults to Block.
func WithPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *options[T]) {
		o.policy = policy
	}
}

// WithDropCallback sets a callback invoked with each dropped item.
func WithDropCallback[T any](cb DropCallback[T]) Option[T] {
	return func(o *options[T]) {
		o.dropCallback = cb
	}
}

// WithMetrics exposes queue depth and drops on the shared pipeline metrics,
// labelled with the given sink name. A nil registry is ignored.
func WithMetrics[T any](registry *metric.Registry, sink string) Option[T] {
	return func(o *options[T]) {
		if registry == nil || sink == "" {
			return
		}
		o.gauges = &queueGauges{
			depth:   registry.Metrics.QueueDepth.WithLabelValues(sink),
			dropped: registry.Metrics.DispatchDropped.WithLabelValues(sink),
		}
	}
}

type queueGauges struct {
	depth    prometheus.Gauge
	dropped  prometheus.Counter
	capacity int
}

func (g *queueGauges) setCapacity(c int) { g.capacity = c }
func (g *queueGauges) setDepth(d int)    { g.depth.Set(float64(d)) }
func (g *queueGauges) recordDrop()       { g.dropped.Inc() }

func applyOptions[T any](opts ...Option[T]) *options[T] {
	o := &options[T]{
		policy: Block,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
