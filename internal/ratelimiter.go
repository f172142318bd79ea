package internal

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter keyed by client address. It guards
// the credential endpoints.
type RateLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time

	lastSweep time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records a hit for key and reports whether it fits in the window.
// Refused hits are not recorded.
func (r *RateLimiter) Allow(key string) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep(now)
	recent := r.recent(key, now)
	if len(recent) >= r.limit {
		return false
	}
	r.hits[key] = append(recent, now)
	return true
}

// RetryAfter reports how long key has to wait for its oldest hit to leave
// the window. Zero means a hit would be allowed now.
func (r *RateLimiter) RetryAfter(key string) time.Duration {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	recent := r.recent(key, now)
	if len(recent) < r.limit {
		return 0
	}
	return recent[0].Add(r.window).Sub(now)
}

// sweep forgets every idle key at most once per window. Callers hold mu.
func (r *RateLimiter) sweep(now time.Time) {
	if now.Sub(r.lastSweep) < r.window {
		return
	}
	r.lastSweep = now
	for key := range r.hits {
		r.recent(key, now)
	}
}

// Len reports how many keys are currently tracked.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hits)
}

// recent drops hits older than the window and forgets idle keys. Callers hold mu.
func (r *RateLimiter) recent(key string, now time.Time) []time.Time {
	windowStart := now.Add(-r.window)
	slice := r.hits[key]
	idx := 0
	for _, ts := range slice {
		if ts.After(windowStart) {
			slice[idx] = ts
			idx++
		}
	}
	slice = slice[:idx]
	if len(slice) == 0 {
		delete(r.hits, key)
		return nil
	}
	r.hits[key] = slice
	return slice
}
