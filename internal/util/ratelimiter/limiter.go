package ratelimiter

import (
	"sync"
	"time"
)

// Throttle allows one action per interval for each key.
// It is used to limit progress events to one per session per interval
// and is safe for concurrent use.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

// New creates a throttle with the given interval.
// An interval of zero or less allows every action.
func New(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether an action for key may happen now.
// When allowed, the current time is recorded for key; otherwise the
// remaining wait is returned.
func (t *Throttle) Allow(key string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	last, seen := t.last[key]
	if !seen || t.interval <= 0 || now.Sub(last) >= t.interval {
		t.last[key] = now
		return true, 0
	}
	return false, t.interval - now.Sub(last)
}

// Forget drops the state of key so its next action is allowed immediately
func (t *Throttle) Forget(key string) {
	t.mu.Lock()
	delete(t.last, key)
	t.mu.Unlock()
}
