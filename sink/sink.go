// Package sink defines the delivery contract shared by every downstream
// adapter. An adapter commits whole batches and reports failures through the
// classified error types, so the engine driving it can decide between
// retrying and dead-lettering without knowing the adapter's protocol.
//
// Delivery is at-least-once: adapters must tolerate seeing the same batch
// again after a partial failure, typically by keying writes on
// event.DocumentID or an upstream message id.
package sink

import (
	"context"

	"github.com/google/uuid"

	"github.com/c360/chatstream/event"
)

// Batch is a single unit of delivery. Ownership of the slice transfers to
// whoever holds the batch; nothing else appends to it after creation.
type Batch struct {
	// ID correlates retries, logs, and dead-letter records for one batch.
	ID     string
	Events []event.Event
}

// NewBatch wraps events in a batch with a fresh correlation id.
func NewBatch(events []event.Event) Batch {
	return Batch{ID: uuid.NewString(), Events: events}
}

func (b Batch) Len() int { return len(b.Events) }

// Sink delivers batches to one destination.
//
// Commit either persists the whole batch or returns an error; the caller
// retries transient errors with the identical batch. Commit must honor ctx
// cancellation. Close releases the adapter's resources and is called once.
type Sink interface {
	Name() string
	Commit(ctx context.Context, batch Batch) error
	Close(ctx context.Context) error
}
