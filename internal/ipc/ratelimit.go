package ipc

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter keyed by connection id.
type RateLimiter struct {
	max    int
	window time.Duration
	mu     sync.Mutex
	hits   map[string][]time.Time
}

func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:    max,
		window: window,
		hits:   make(map[string][]time.Time),
	}
}

// Allow records a call for key and reports whether it is within the limit.
// Rejected calls are not recorded.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	existing := r.hits[key]
	pruned := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}

	if len(pruned) >= r.max {
		r.hits[key] = pruned
		return false
	}
	r.hits[key] = append(pruned, now)
	return true
}

// Forget drops the history for key, typically when its connection closes.
func (r *RateLimiter) Forget(key string) {
	r.mu.Lock()
	delete(r.hits, key)
	r.mu.Unlock()
}
