// Package clock abstracts time for components that schedule work, so state
// machines driven by timers can be tested without sleeping.
package clock

import "time"

// Timer is the subset of time.Timer the pipeline uses.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Clock supplies the current time and timers.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// New returns the wall clock.
func New() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct{ t *time.Timer }

func (r *realTimer) C() <-chan time.Time { return r.t.C }
func (r *realTimer) Stop() bool          { return r.t.Stop() }
