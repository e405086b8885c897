package queue

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks queue activity. Counters are safe for concurrent use.
type Statistics struct {
	puts  int64
	takes int64
	drops int64

	mu        sync.RWMutex
	startTime time.Time
	maxDepth  int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Put records a successful enqueue.
func (s *Statistics) Put() {
	atomic.AddInt64(&s.puts, 1)
}

// Take records a dequeue.
func (s *Statistics) Take() {
	atomic.AddInt64(&s.takes, 1)
}

// Drop records an item shed under the DropOldest policy.
func (s *Statistics) Drop() {
	atomic.AddInt64(&s.drops, 1)
}

// UpdateDepth tracks the high-water mark of the queue depth.
func (s *Statistics) UpdateDepth(depth int64) {
	s.mu.Lock()
	if depth > s.maxDepth {
		s.maxDepth = depth
	}
	s.mu.Unlock()
}

// Puts returns the total number of enqueued items.
func (s *Statistics) Puts() int64 { return atomic.LoadInt64(&s.puts) }

// Takes returns the total number of dequeued items.
func (s *Statistics) Takes() int64 { return atomic.LoadInt64(&s.takes) }

// Drops returns the total number of dropped items.
func (s *Statistics) Drops() int64 { return atomic.LoadInt64(&s.drops) }

// MaxDepth returns the deepest the queue has been since creation.
func (s *Statistics) MaxDepth() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxDepth
}

// Uptime returns the time since the queue was created.
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}
