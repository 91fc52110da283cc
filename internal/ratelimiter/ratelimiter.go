// Package ratelimiter gates incoming requests with a token bucket.
//
// The gateway keeps one bucket for the whole listener. Every framed request
// (preflights excepted) consumes one token before authentication runs, so a
// flood of bad tokens cannot keep the workers busy verifying signatures.
package ratelimiter

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter wraps golang.org/x/time/rate.
//
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithClock replaces time.Now. Tests use it to step through refills.
func WithClock(now func() time.Time) Option {
	return func(r *RateLimiter) {
		r.now = now
	}
}

// New creates a limiter refilling requestsPerSecond tokens per second into a
// bucket of size burst.
//
// requestsPerSecond = 0 disables limiting. A zero burst with a non-zero rate
// is raised to 1, otherwise no request could ever pass.
func New(requestsPerSecond, burst uint, opts ...Option) *RateLimiter {
	r := &RateLimiter{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}

	if requestsPerSecond == 0 {
		r.limiter = rate.NewLimiter(rate.Inf, 0)
		return r
	}
	if burst == 0 {
		burst = 1
	}
	r.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst))
	return r
}

// Allow consumes one token if available and reports whether the request may
// proceed. It never blocks.
func (r *RateLimiter) Allow() bool {
	return r.limiter.AllowN(r.now(), 1)
}

// RetryAfter estimates how long a rejected client should wait before the
// next token is available. Zero means a token is available now.
func (r *RateLimiter) RetryAfter() time.Duration {
	now := r.now()
	res := r.limiter.ReserveN(now, 1)
	if !res.OK() {
		return 0
	}
	delay := res.DelayFrom(now)
	res.CancelAt(now)
	return delay
}

// RetryAfterSeconds is RetryAfter rounded up to whole seconds, at least 1,
// as used by the Retry-After header.
func (r *RateLimiter) RetryAfterSeconds() int {
	secs := int(math.Ceil(r.RetryAfter().Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// SetLimit updates the sustained rate. Zero disables limiting.
func (r *RateLimiter) SetLimit(requestsPerSecond uint) {
	if requestsPerSecond == 0 {
		r.limiter.SetLimitAt(r.now(), rate.Inf)
		return
	}
	r.limiter.SetLimitAt(r.now(), rate.Limit(requestsPerSecond))
}

// SetBurst updates the bucket size.
func (r *RateLimiter) SetBurst(burst uint) {
	r.limiter.SetBurstAt(r.now(), int(burst))
}

// Tokens returns the number of tokens currently in the bucket.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.TokensAt(r.now())
}

// Unlimited reports whether the limiter lets everything through.
func (r *RateLimiter) Unlimited() bool {
	return r.limiter.Limit() == rate.Inf
}
