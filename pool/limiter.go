package pool

import (
	"sync"
	"time"
)

// joinLimiter enforces the outbound join budget over a rolling window. It
// is the single piece of state shared across connection tasks, guarded by
// its own mutex.
type joinLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	sent   []time.Time
}

func newJoinLimiter(max int, window time.Duration) *joinLimiter {
	return &joinLimiter{max: max, window: window}
}

// Allow records a join at now if the budget permits one.
func (l *joinLimiter) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(now)
	if len(l.sent) >= l.max {
		return false
	}
	l.sent = append(l.sent, now)
	return true
}

// NextFree reports how long until the oldest recorded join leaves the
// window. Zero means a join is allowed immediately.
func (l *joinLimiter) NextFree(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(now)
	if len(l.sent) < l.max {
		return 0
	}
	return l.sent[0].Add(l.window).Sub(now)
}

// prune drops entries older than the window. Caller holds l.mu.
func (l *joinLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.sent) && !l.sent[i].After(cutoff) {
		i++
	}
	l.sent = l.sent[i:]
}
