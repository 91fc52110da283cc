package ratelimiter

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func drain(r *RateLimiter) int {
	n := 0
	for r.Allow() {
		n++
		if n > 10_000 {
			break
		}
	}
	return n
}

// TestAllow verifies the bucket starts full and empties after burst requests.
func TestAllow(t *testing.T) {
	tests := []struct {
		name  string
		rps   uint
		burst uint
		want  int
	}{
		{"standard", 100, 20, 20},
		{"burst below rate", 50, 5, 5},
		{"zero burst raised to one", 10, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.rps, tt.burst, WithClock(newFakeClock().Now))
			assert.Equal(t, tt.want, drain(limiter))
			assert.False(t, limiter.Allow())
		})
	}
}

// TestRefill verifies tokens come back at the configured rate.
func TestRefill(t *testing.T) {
	clock := newFakeClock()
	limiter := New(10, 10, WithClock(clock.Now))
	require.Equal(t, 10, drain(limiter))

	clock.Advance(300 * time.Millisecond)
	assert.Equal(t, 3, drain(limiter))

	clock.Advance(time.Hour)
	assert.Equal(t, 10, drain(limiter), "refill is capped at burst")
}

// TestRetryAfter verifies the wait estimate and that estimating consumes nothing.
func TestRetryAfter(t *testing.T) {
	clock := newFakeClock()
	limiter := New(2, 1, WithClock(clock.Now))

	assert.Zero(t, limiter.RetryAfter())
	require.True(t, limiter.Allow())
	require.False(t, limiter.Allow())

	assert.Equal(t, 500*time.Millisecond, limiter.RetryAfter())
	assert.Equal(t, 500*time.Millisecond, limiter.RetryAfter(), "estimating does not reserve")
	assert.Equal(t, 1, limiter.RetryAfterSeconds())

	clock.Advance(500 * time.Millisecond)
	assert.True(t, limiter.Allow())
}

// TestRetryAfterSeconds verifies the header value is a whole second or more.
func TestRetryAfterSeconds(t *testing.T) {
	limiter := New(1, 1, WithClock(newFakeClock().Now))
	require.True(t, limiter.Allow())
	require.True(t, limiter.RetryAfter() > 0)
	assert.Equal(t, 1, limiter.RetryAfterSeconds())

	clock := newFakeClock()
	fractional := New(4, 1, WithClock(clock.Now))
	require.True(t, fractional.Allow())
	assert.Equal(t, 250*time.Millisecond, fractional.RetryAfter())
	assert.Equal(t, 1, fractional.RetryAfterSeconds(), "sub-second waits round up")
}

// TestSetLimit verifies dynamic rate adjustment.
func TestSetLimit(t *testing.T) {
	clock := newFakeClock()
	limiter := New(10, 50, WithClock(clock.Now))
	drain(limiter)

	limiter.SetLimit(100)
	clock.Advance(200 * time.Millisecond)
	assert.Equal(t, 20, drain(limiter))

	limiter.SetLimit(0)
	assert.True(t, limiter.Unlimited())
	assert.True(t, limiter.Allow())
}

// TestSetBurst verifies dynamic burst adjustment.
func TestSetBurst(t *testing.T) {
	clock := newFakeClock()
	limiter := New(1000, 10, WithClock(clock.Now))
	drain(limiter)

	limiter.SetBurst(50)
	clock.Advance(time.Second)
	assert.Equal(t, 50, drain(limiter))
}

// TestTokens verifies token accounting.
func TestTokens(t *testing.T) {
	limiter := New(10, 10, WithClock(newFakeClock().Now))
	assert.InDelta(t, 10, limiter.Tokens(), 0.001)

	for i := 0; i < 5; i++ {
		limiter.Allow()
	}
	assert.InDelta(t, 5, limiter.Tokens(), 0.001)
}

// TestUnlimitedRate verifies that a zero rate disables limiting.
func TestUnlimitedRate(t *testing.T) {
	limiter := New(0, 0)
	assert.True(t, limiter.Unlimited())

	for i := 0; i < 1000; i++ {
		require.True(t, limiter.Allow(), "request %d", i)
	}
	assert.Zero(t, limiter.RetryAfter())
}

// TestConcurrentAllow verifies no more than burst requests pass at once.
func TestConcurrentAllow(t *testing.T) {
	limiter := New(1, 25, WithClock(newFakeClock().Now))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, allowed)
}

// BenchmarkAllow measures the Allow fast path.
func BenchmarkAllow(b *testing.B) {
	limiter := New(1_000_000, 1_000_000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Allow()
	}
}
