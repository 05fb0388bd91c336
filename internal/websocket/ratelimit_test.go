package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterEnforcesBudget(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("ada"), "message %d should be allowed", i)
	}
	assert.False(t, rl.Allow("ada"))

	// Budgets are per participant.
	assert.True(t, rl.Allow("bob"))
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)

	assert.True(t, rl.Allow("ada"))
	assert.False(t, rl.Allow("ada"))

	time.Sleep(15 * time.Millisecond)
	assert.True(t, rl.Allow("ada"))
}

func TestRateLimiterForget(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	assert.True(t, rl.Allow("ada"))
	assert.False(t, rl.Allow("ada"))

	rl.Forget("ada")
	assert.True(t, rl.Allow("ada"))
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, time.Millisecond)
	rl.Allow("ada")

	time.Sleep(10 * time.Millisecond)
	rl.Cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.counters)
}
