package watch

import (
	"sync"
	"time"
)

// Limiter admits at most one trigger per interval. Unlike a trailing-edge
// debouncer it fires on the first event of a burst and drops the rest of
// the burst; the time of the last admitted event is the only state.
type Limiter struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewLimiter creates a limiter admitting events at least interval apart.
// baseline seeds the last admitted time: the zero time admits the very
// first event unconditionally, any other value measures the first event
// against it. A nil now uses time.Now.
func NewLimiter(interval time.Duration, baseline time.Time, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}

	if interval < 0 {
		interval = 0
	}

	return &Limiter{
		interval: interval,
		now:      now,
		last:     baseline,
	}
}

// Allow reports whether an event observed now may fire. When it may, now
// becomes the new last admitted time.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.now()
	if !l.last.IsZero() && t.Sub(l.last) < l.interval {
		return false
	}

	l.last = t

	return true
}

// Last returns the last admitted time.
func (l *Limiter) Last() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.last
}
