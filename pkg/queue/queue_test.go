package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueBasicOperations(t *testing.T) {
	q, err := New[string](3)
	require.NoError(t, err, "Failed to create queue")

	ctx := context.Background()
	require.NoError(t, q.Put(ctx, "first"))
	require.NoError(t, q.Put(ctx, "second"))
	require.NoError(t, q.Put(ctx, "third"))

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 3, q.Cap())

	item, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", item)

	item, ok := q.TryGet()
	require.True(t, ok)
	assert.Equal(t, "second", item)

	assert.Equal(t, 1, q.Len())
}

func TestQueueInvalidCapacity(t *testing.T) {
	_, err := New[int](0)
	require.Error(t, err)

	_, err = New[int](-1)
	require.Error(t, err)
}

func TestQueueBlockPolicyBackpressure(t *testing.T) {
	q, err := New[int](1, WithPolicy[int](Block))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Put(ctx, 1))

	// A second Put must block until the consumer takes an item.
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		done <- q.Put(ctx, 2)
	}()

	<-started
	select {
	case err := <-done:
		t.Fatalf("Put should have blocked, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	item, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, item)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Put did not unblock after consumer read")
	}
}

func TestQueueBlockPolicyContextCancel(t *testing.T) {
	q, err := New[int](1, WithPolicy[int](Block))
	require.NoError(t, err)

	require.NoError(t, q.Put(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = q.Put(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueDropOldestPolicy(t *testing.T) {
	var dropped []int
	var mu sync.Mutex

	q, err := New[int](2,
		WithPolicy[int](DropOldest),
		WithDropCallback[int](func(item int) {
			mu.Lock()
			dropped = append(dropped, item)
			mu.Unlock()
		}),
	)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, q.Put(ctx, i))
	}

	// Oldest items shed; surviving items keep their relative order.
	item, _ := q.TryGet()
	assert.Equal(t, 4, item)
	item, _ = q.TryGet()
	assert.Equal(t, 5, item)

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, dropped)
	mu.Unlock()

	assert.Equal(t, int64(3), q.Stats().Drops())
	assert.Equal(t, int64(5), q.Stats().Puts())
}

func TestQueueOrderPreservedUnderConcurrency(t *testing.T) {
	q, err := New[int](8, WithPolicy[int](Block))
	require.NoError(t, err)

	ctx := context.Background()
	const n = 1000

	var got []int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			item, err := q.Get(ctx)
			if err != nil {
				return
			}
			got = append(got, item)
		}
	}()

	for i := 0; i < n; i++ {
		require.NoError(t, q.Put(ctx, i))
	}
	<-done

	require.Len(t, got, n)
	for i, v := range got {
		require.Equal(t, i, v, "order must be preserved")
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("block")
	require.NoError(t, err)
	assert.Equal(t, Block, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, Block, p)

	p, err = ParsePolicy("drop_oldest")
	require.NoError(t, err)
	assert.Equal(t, DropOldest, p)

	_, err = ParsePolicy("bogus")
	require.Error(t, err)
}
