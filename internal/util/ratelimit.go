package util

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles outgoing requests to a per-minute budget. A nil
// *RateLimiter never blocks.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter allows perMinute requests per minute with a burst of one.
// perMinute <= 0 means unlimited and returns nil.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)}
}

// Wait blocks until a request may proceed. It fails early when ctx ends,
// or when its deadline falls before the next slot.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	return rl.lim.Wait(ctx)
}
