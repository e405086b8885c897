// Package queue provides a generic bounded delivery queue with configurable
// overflow policies.
//
// A queue connects one producer to one consumer. The Block policy gives
// backpressure: a full queue makes Put wait until the consumer catches up or
// the context is cancelled. The DropOldest policy sheds the oldest queued item
// instead, counting the loss, for consumers that are allowed to fall behind.
//
// Statistics are always collected. Prometheus gauges/counters are optional via
// functional options.
package queue

import (
	"context"

	"github.com/c360/chatstream/errors"
)

// OverflowPolicy defines how Put behaves when the queue is at capacity.
type OverflowPolicy int

const (
	// Block makes Put wait for free capacity, propagating backpressure
	// to the producer.
	Block OverflowPolicy = iota

	// DropOldest removes the oldest queued item to make room, recording
	// the drop. Put never blocks under this policy.
	DropOldest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case Block:
		return "block"
	case DropOldest:
		return "drop_oldest"
	default:
		return "unknown"
	}
}

// ParsePolicy maps a configuration string to an OverflowPolicy.
func ParsePolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "block", "":
		return Block, nil
	case "drop_oldest":
		return DropOldest, nil
	default:
		return Block, errors.WrapFatal(errors.ErrInvalidConfig, "queue", "ParsePolicy",
			"overflow policy must be block or drop_oldest, got "+s)
	}
}

// DropCallback is called with each item dropped under the DropOldest policy.
type DropCallback[T any] func(item T)

// Queue is a bounded single-producer single-consumer delivery queue.
// Items are delivered in Put order; DropOldest removes from the front only,
// so the relative order of surviving items is preserved.
type Queue[T any] struct {
	ch     chan T
	policy OverflowPolicy
	stats  *Statistics
	opts   *options[T]
}

// New creates a queue with a fixed capacity. Capacity cannot change after
// construction.
func New[T any](capacity int, opts ...Option[T]) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapFatal(errors.ErrInvalidConfig, "queue", "New",
			"capacity must be positive")
	}

	o := applyOptions(opts...)

	q := &Queue[T]{
		ch:     make(chan T, capacity),
		policy: o.policy,
		stats:  NewStatistics(),
		opts:   o,
	}
	if o.gauges != nil {
		o.gauges.setCapacity(capacity)
	}
	return q, nil
}

// Put enqueues an item according to the overflow policy. Under Block it
// returns ctx.Err() if the context is cancelled while waiting.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	if q.policy == Block {
		select {
		case q.ch <- item:
			q.recordPut()
			return nil
		default:
		}
		select {
		case q.ch <- item:
			q.recordPut()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// DropOldest: shed from the front until the new item fits. The consumer
	// may race us for the front item; either way exactly one of us gets it
	// and order is preserved.
	for {
		select {
		case q.ch <- item:
			q.recordPut()
			return nil
		default:
		}
		select {
		case dropped := <-q.ch:
			q.stats.Drop()
			if q.opts.gauges != nil {
				q.opts.gauges.recordDrop()
			}
			if q.opts.dropCallback != nil {
				q.opts.dropCallback(dropped)
			}
		default:
			// Consumer drained it first; retry the send.
		}
	}
}

func (q *Queue[T]) recordPut() {
	q.stats.Put()
	q.stats.UpdateDepth(int64(len(q.ch)))
	if q.opts.gauges != nil {
		q.opts.gauges.setDepth(len(q.ch))
	}
}

// Items exposes the receive side of the queue for consumer select loops.
func (q *Queue[T]) Items() <-chan T {
	return q.ch
}

// Get receives the next item, waiting until one is available or the context
// is cancelled.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	select {
	case item := <-q.ch:
		q.stats.Take()
		if q.opts.gauges != nil {
			q.opts.gauges.setDepth(len(q.ch))
		}
		return item, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryGet receives the next item without waiting.
func (q *Queue[T]) TryGet() (T, bool) {
	select {
	case item := <-q.ch:
		q.stats.Take()
		if q.opts.gauges != nil {
			q.opts.gauges.setDepth(len(q.ch))
		}
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// Len returns the current number of queued items.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap returns the fixed capacity of the queue.
func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Policy returns the queue's overflow policy.
func (q *Queue[T]) Policy() OverflowPolicy { return q.policy }

// Stats returns queue statistics.
func (q *Queue[T]) Stats() *Statistics { return q.stats }
