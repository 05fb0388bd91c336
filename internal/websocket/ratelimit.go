package websocket

import (
	"sync"
	"time"
)

// RateLimiter enforces a per-participant message budget over a fixed window.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	counters map[string]*windowCounter
}

type windowCounter struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a limiter allowing limit messages per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		window:   window,
		counters: make(map[string]*windowCounter),
	}
}

// Allow records one message for the participant and reports whether it
// falls within the current window's budget.
func (rl *RateLimiter) Allow(participantID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	c, ok := rl.counters[participantID]
	if !ok || now.Sub(c.windowStart) >= rl.window {
		rl.counters[participantID] = &windowCounter{count: 1, windowStart: now}
		return true
	}

	if c.count >= rl.limit {
		return false
	}
	c.count++
	return true
}

// Forget drops the counter for a participant that disconnected.
func (rl *RateLimiter) Forget(participantID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.counters, participantID)
}

// Cleanup removes counters idle for longer than five windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for id, c := range rl.counters {
		if now.Sub(c.windowStart) > 5*rl.window {
			delete(rl.counters, id)
		}
	}
}
