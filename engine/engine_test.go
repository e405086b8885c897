package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/chatstream/errors"
	"github.com/c360/chatstream/event"
	"github.com/c360/chatstream/pkg/clock"
	"github.com/c360/chatstream/pkg/queue"
	"github.com/c360/chatstream/sink"
)

// scriptedSink records commits and fails according to a per-call script.
type scriptedSink struct {
	mu      sync.Mutex
	name    string
	commits []sink.Batch
	script  []error
	calls   int
	signal  chan struct{}
}

func newScriptedSink(name string, script ...error) *scriptedSink {
	return &scriptedSink{name: name, script: script, signal: make(chan struct{}, 64)}
}

func (s *scriptedSink) Name() string { return s.name }

func (s *scriptedSink) Commit(_ context.Context, batch sink.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.calls < len(s.script) {
		err = s.script[s.calls]
	}
	s.calls++
	if err == nil {
		s.commits = append(s.commits, batch)
	}
	select {
	case s.signal <- struct{}{}:
	default:
	}
	return err
}

func (s *scriptedSink) Close(context.Context) error { return nil }

func (s *scriptedSink) committed() []sink.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sink.Batch(nil), s.commits...)
}

func (s *scriptedSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedSink) waitCommits(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if len(s.committed()) >= n {
			return
		}
		select {
		case <-s.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %d commits, have %d", n, len(s.committed()))
		}
	}
}

func chatEvents(n int) []event.Event {
	events := make([]event.Event, n)
	for i := range events {
		events[i] = event.Event{
			Type:    event.TypeChatMessage,
			Channel: "bar",
			Text:    fmt.Sprintf("msg-%d", i),
		}
	}
	return events
}

func newInput(t *testing.T, capacity int) *queue.Queue[event.Event] {
	t.Helper()
	q, err := queue.New[event.Event](capacity)
	require.NoError(t, err)
	return q
}

func testConfig() Config {
	return Config{
		MaxBatchSize:      3,
		MaxBatchAge:       time.Second,
		MaxRetries:        3,
		RetryInitialDelay: time.Millisecond,
		RetryMaxDelay:     5 * time.Millisecond,
		ShutdownGrace:     time.Second,
	}
}

func TestBatchCountTrigger(t *testing.T) {
	input := newInput(t, 64)
	s := newScriptedSink("test")
	e, err := New("test", input, s, testConfig())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	// 7 events with MaxBatchSize 3: two full batches plus a shutdown
	// flush of the remainder, ceil(7/3) = 3 commits total.
	for _, ev := range chatEvents(7) {
		require.NoError(t, input.Put(ctx, ev))
	}
	s.waitCommits(t, 2)
	require.NoError(t, e.Stop(2*time.Second))

	batches := s.committed()
	require.Len(t, batches, 3)
	assert.Equal(t, 3, batches[0].Len())
	assert.Equal(t, 3, batches[1].Len())
	assert.Equal(t, 1, batches[2].Len())
	assert.Equal(t, "msg-0", batches[0].Events[0].Text)
	assert.Equal(t, "msg-6", batches[2].Events[0].Text)
}

func TestBatchAgeTrigger(t *testing.T) {
	input := newInput(t, 64)
	s := newScriptedSink("test")
	fake := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	e, err := New("test", input, s, testConfig(), WithClock(fake))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	// A single event, below the count trigger. Nothing flushes until the
	// age timer fires.
	require.NoError(t, input.Put(ctx, chatEvents(1)[0]))

	require.Eventually(t, func() bool { return input.Len() == 0 },
		time.Second, time.Millisecond, "engine never picked up the event")
	assert.Empty(t, s.committed())

	// The age timer is armed by the engine goroutine; keep advancing
	// until it has fired and the flush landed.
	require.Eventually(t, func() bool {
		fake.Advance(time.Second)
		return len(s.committed()) >= 1
	}, 2*time.Second, time.Millisecond)

	batches := s.committed()
	require.Len(t, batches, 1)
	assert.Equal(t, 1, batches[0].Len())

	require.NoError(t, e.Stop(time.Second))
}

func TestTransientRetryCommitsIdenticalBatchOnce(t *testing.T) {
	input := newInput(t, 64)
	s := newScriptedSink("test",
		errors.WrapTransient(errors.ErrTransportFault, "fake", "Commit", "first attempt"),
		errors.WrapTransient(errors.ErrTransportFault, "fake", "Commit", "second attempt"),
	)
	e, err := New("test", input, s, testConfig())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	for _, ev := range chatEvents(3) {
		require.NoError(t, input.Put(ctx, ev))
	}
	s.waitCommits(t, 1)
	require.NoError(t, e.Stop(time.Second))

	// Two failures then success: three attempts, one committed batch,
	// identical contents.
	assert.Equal(t, 3, s.callCount())
	batches := s.committed()
	require.Len(t, batches, 1)
	require.Equal(t, 3, batches[0].Len())
	assert.Equal(t, "msg-0", batches[0].Events[0].Text)
	assert.Equal(t, "msg-2", batches[0].Events[2].Text)
}

func TestPermanentFailureSingleAttempt(t *testing.T) {
	input := newInput(t, 64)
	s := newScriptedSink("test",
		errors.WrapPermanent(errors.ErrBatchRejected, "fake", "Commit", "schema mismatch"),
	)
	e, err := New("test", input, s, testConfig())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	for _, ev := range chatEvents(3) {
		require.NoError(t, input.Put(ctx, ev))
	}

	require.Eventually(t, func() bool { return s.callCount() == 1 },
		2*time.Second, time.Millisecond)
	require.NoError(t, e.Stop(time.Second))

	assert.Equal(t, 1, s.callCount())
	assert.Empty(t, s.committed())
}

func TestRetryExhaustionDeadLetters(t *testing.T) {
	input := newInput(t, 64)
	transient := errors.WrapTransient(errors.ErrTransportFault, "fake", "Commit", "down")
	s := newScriptedSink("test", transient, transient, transient)
	dl := newScriptedSink("dead-letter")

	cfg := testConfig()
	cfg.MaxRetries = 3
	e, err := New("test", input, s, cfg, WithDeadLetter(dl))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	for _, ev := range chatEvents(3) {
		require.NoError(t, input.Put(ctx, ev))
	}
	dl.waitCommits(t, 1)
	require.NoError(t, e.Stop(time.Second))

	assert.Equal(t, 3, s.callCount())
	batches := dl.committed()
	require.Len(t, batches, 1)
	assert.Equal(t, 3, batches[0].Len())
}

func TestPermanentFailureDeadLettersImmediately(t *testing.T) {
	input := newInput(t, 64)
	s := newScriptedSink("test",
		errors.WrapPermanent(errors.ErrBatchRejected, "fake", "Commit", "rejected"),
	)
	dl := newScriptedSink("dead-letter")
	e, err := New("test", input, s, testConfig(), WithDeadLetter(dl))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	for _, ev := range chatEvents(3) {
		require.NoError(t, input.Put(ctx, ev))
	}
	dl.waitCommits(t, 1)
	require.NoError(t, e.Stop(time.Second))

	assert.Equal(t, 1, s.callCount())
	require.Len(t, dl.committed(), 1)
}

func TestShutdownFlushesPartialBatch(t *testing.T) {
	input := newInput(t, 64)
	s := newScriptedSink("test")
	e, err := New("test", input, s, testConfig())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	for _, ev := range chatEvents(2) {
		require.NoError(t, input.Put(ctx, ev))
	}
	require.NoError(t, e.Stop(2*time.Second))

	batches := s.committed()
	require.Len(t, batches, 1)
	assert.Equal(t, 2, batches[0].Len())
}

func TestControlEventsNeverBatch(t *testing.T) {
	input := newInput(t, 64)
	s := newScriptedSink("test")
	e, err := New("test", input, s, testConfig())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	require.NoError(t, input.Put(ctx, event.Event{Type: event.TypePing}))
	require.NoError(t, input.Put(ctx, event.Event{Type: event.TypeReconnect}))
	require.NoError(t, input.Put(ctx, chatEvents(1)[0]))
	require.NoError(t, e.Stop(time.Second))

	batches := s.committed()
	require.Len(t, batches, 1)
	assert.Equal(t, 1, batches[0].Len())
	assert.Equal(t, event.TypeChatMessage, batches[0].Events[0].Type)
}

func TestStartTwiceFails(t *testing.T) {
	input := newInput(t, 1)
	e, err := New("test", input, newScriptedSink("test"), testConfig())
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	assert.Error(t, e.Start(context.Background()))
	require.NoError(t, e.Stop(time.Second))
}

func TestConfigValidation(t *testing.T) {
	input := newInput(t, 1)
	s := newScriptedSink("test")

	cfg := testConfig()
	cfg.MaxBatchSize = 0
	_, err := New("test", input, s, cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.MaxBatchAge = 0
	_, err = New("test", input, s, cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.MaxRetries = 0
	_, err = New("test", input, s, cfg)
	assert.Error(t, err)

	_, err = New("test", nil, s, testConfig())
	assert.Error(t, err)
}
