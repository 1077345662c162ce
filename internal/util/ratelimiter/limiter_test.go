package ratelimiter

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestThrottle(interval time.Duration) (*Throttle, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	th := New(interval)
	th.now = clock.now
	return th, clock
}

func TestThrottle_Allow(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		delays   []time.Duration // advance before each Allow() call
		want     []bool
	}{
		{
			name:     "first call always allowed",
			interval: 100 * time.Millisecond,
			delays:   []time.Duration{0},
			want:     []bool{true},
		},
		{
			name:     "second call immediately after is blocked",
			interval: 100 * time.Millisecond,
			delays:   []time.Duration{0, 0},
			want:     []bool{true, false},
		},
		{
			name:     "call after interval is allowed",
			interval: 50 * time.Millisecond,
			delays:   []time.Duration{0, 60 * time.Millisecond},
			want:     []bool{true, true},
		},
		{
			name:     "zero interval allows everything",
			interval: 0,
			delays:   []time.Duration{0, 0, 0},
			want:     []bool{true, true, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th, clock := newTestThrottle(tt.interval)

			for i, delay := range tt.delays {
				clock.advance(delay)
				allowed, wait := th.Allow("s1")
				if allowed != tt.want[i] {
					t.Errorf("call %d: Allow() = %v, want %v", i, allowed, tt.want[i])
				}
				if !allowed && wait <= 0 {
					t.Errorf("call %d: blocked but wait = %v, want > 0", i, wait)
				}
				if allowed && wait != 0 {
					t.Errorf("call %d: allowed but wait = %v, want 0", i, wait)
				}
			}
		})
	}
}

func TestThrottle_KeysAreIndependent(t *testing.T) {
	th, _ := newTestThrottle(time.Second)

	if ok, _ := th.Allow("a"); !ok {
		t.Fatal("first a should be allowed")
	}
	if ok, _ := th.Allow("b"); !ok {
		t.Error("first b should be allowed while a is throttled")
	}
	if ok, _ := th.Allow("a"); ok {
		t.Error("second a should be blocked")
	}
}

func TestThrottle_Forget(t *testing.T) {
	th, _ := newTestThrottle(time.Second)

	th.Allow("a")
	th.Forget("a")
	if ok, _ := th.Allow("a"); !ok {
		t.Error("call after Forget should be allowed")
	}
}

func TestThrottle_WaitTime(t *testing.T) {
	th, clock := newTestThrottle(100 * time.Millisecond)

	th.Allow("a")
	clock.advance(40 * time.Millisecond)
	_, wait := th.Allow("a")
	if wait != 60*time.Millisecond {
		t.Errorf("wait = %v, want 60ms", wait)
	}
}

func TestThrottle_Concurrent(t *testing.T) {
	th := New(time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := th.Allow("same"); ok {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowedCount != 1 {
		t.Errorf("concurrent calls: %d allowed, want exactly 1", allowedCount)
	}
}
