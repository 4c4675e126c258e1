package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestConnectionLimiter_AllowsUpToLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewConnectionLimiter(clock, 3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("conn-1"), "event %d should be allowed", i+1)
	}
	assert.False(t, limiter.Allow("conn-1"))
}

func TestConnectionLimiter_WindowSlides(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewConnectionLimiter(clock, 2, time.Minute)

	assert.True(t, limiter.Allow("conn-1"))
	clock.Advance(30 * time.Second)
	assert.True(t, limiter.Allow("conn-1"))
	assert.False(t, limiter.Allow("conn-1"))

	// The first event falls out of the trailing window.
	clock.Advance(31 * time.Second)
	assert.True(t, limiter.Allow("conn-1"))
	assert.False(t, limiter.Allow("conn-1"))
}

func TestConnectionLimiter_RejectionsAreNotRecorded(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewConnectionLimiter(clock, 1, time.Minute)

	assert.True(t, limiter.Allow("conn-1"))
	for i := 0; i < 10; i++ {
		assert.False(t, limiter.Allow("conn-1"))
	}

	// Hammering while limited must not extend the lockout.
	clock.Advance(61 * time.Second)
	assert.True(t, limiter.Allow("conn-1"))
}

func TestConnectionLimiter_KeysAreIndependent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewConnectionLimiter(clock, 1, time.Minute)

	assert.True(t, limiter.Allow("conn-1"))
	assert.False(t, limiter.Allow("conn-1"))
	assert.True(t, limiter.Allow("conn-2"))
}

func TestConnectionLimiter_Remaining(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewConnectionLimiter(clock, 3, time.Minute)

	assert.Equal(t, 3, limiter.Remaining("conn-1"))
	limiter.Allow("conn-1")
	limiter.Allow("conn-1")
	assert.Equal(t, 1, limiter.Remaining("conn-1"))
}

func TestConnectionLimiter_RemoveResetsKey(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewConnectionLimiter(clock, 1, time.Minute)

	assert.True(t, limiter.Allow("conn-1"))
	assert.False(t, limiter.Allow("conn-1"))

	limiter.Remove("conn-1")
	assert.True(t, limiter.Allow("conn-1"))
}

func TestConnectionLimiter_ConcurrentKeys(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewConnectionLimiter(clock, 100, time.Minute)

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			key := fmt.Sprintf("conn-%d", g)
			for i := 0; i < 100; i++ {
				assert.True(t, limiter.Allow(key))
			}
			assert.False(t, limiter.Allow(key))
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
}
