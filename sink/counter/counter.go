// Package counter provides a throughput-measuring sink for benchmark runs.
// It performs no I/O; commits only bump atomic counters.
package counter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/c360/chatstream/sink"
)

// Sink counts committed events and their text bytes.
type Sink struct {
	name    string
	started time.Time
	events  atomic.Int64
	batches atomic.Int64
	bytes   atomic.Int64
}

// New creates a counter sink. The throughput window starts now.
func New(name string) *Sink {
	return &Sink{name: name, started: time.Now()}
}

// Name implements sink.Sink.
func (s *Sink) Name() string { return s.name }

// Commit implements sink.Sink. It never fails.
func (s *Sink) Commit(_ context.Context, batch sink.Batch) error {
	var byteCount int64
	for _, ev := range batch.Events {
		byteCount += int64(len(ev.Text))
	}
	s.events.Add(int64(batch.Len()))
	s.bytes.Add(byteCount)
	s.batches.Add(1)
	return nil
}

// Close implements sink.Sink.
func (s *Sink) Close(context.Context) error { return nil }

// Report summarizes the run since creation.
type Report struct {
	Events         int64
	Batches        int64
	Bytes          int64
	Elapsed        time.Duration
	EventsPerSec   float64
	BytesPerSec    float64
	EventsPerBatch float64
}

// Report returns the current counters and derived rates.
func (s *Sink) Report() Report {
	elapsed := time.Since(s.started)
	events := s.events.Load()
	batches := s.batches.Load()
	byteCount := s.bytes.Load()

	r := Report{
		Events:  events,
		Batches: batches,
		Bytes:   byteCount,
		Elapsed: elapsed,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		r.EventsPerSec = float64(events) / secs
		r.BytesPerSec = float64(byteCount) / secs
	}
	if batches > 0 {
		r.EventsPerBatch = float64(events) / float64(batches)
	}
	return r
}
