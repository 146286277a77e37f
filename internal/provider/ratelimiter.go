package provider

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"
)

// RateLimiter spaces out requests to a single provider.
type RateLimiter struct {
	limiter *rate.Limiter
	name    string
}

// NewRateLimiter allows rps requests per second with a burst of one, so calls
// are spread evenly instead of arriving in bursts the provider may reject.
func NewRateLimiter(name string, rps int) *RateLimiter {
	if rps <= 0 {
		rps = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		name:    name,
	}
}

// Wait blocks until a request may proceed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := rl.limiter.Wait(ctx); err != nil {
		slog.Debug("rate limiter wait cancelled",
			"provider", rl.name,
			"error", err,
		)
		return err
	}
	return nil
}

// Name returns the provider this limiter belongs to.
func (rl *RateLimiter) Name() string {
	return rl.name
}
