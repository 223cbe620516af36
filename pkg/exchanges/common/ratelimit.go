package common

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// RateLimiter throttles outbound requests to stay under the exchange quota.
type RateLimiter struct {
	lim     *rate.Limiter
	waited  atomic.Uint64
	allowed atomic.Uint64
}

// NewRateLimiter allows perSecond requests with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a request may be sent or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	if rl.lim.Allow() {
		rl.allowed.Add(1)
		return nil
	}
	rl.waited.Add(1)
	return rl.lim.Wait(ctx)
}

// GetUsage reports how many requests passed immediately and how many had to wait.
func (rl *RateLimiter) GetUsage() (allowed, waited uint64) {
	return rl.allowed.Load(), rl.waited.Load()
}
