package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Provider so that calls wait on a token bucket.
type RateLimited struct {
	Provider
	limiter *rate.Limiter
}

// NewLimiter returns a token bucket allowing rps calls per second with the
// given burst, or nil when rps is not positive.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// WithLimiter wraps p so Generate waits on limiter. Providers wrapped with the
// same limiter share its budget. A nil limiter returns p unchanged.
func WithLimiter(p Provider, limiter *rate.Limiter) Provider {
	if limiter == nil {
		return p
	}
	return &RateLimited{Provider: p, limiter: limiter}
}

// NewRateLimited limits p to rps calls per second with the given burst using
// a limiter of its own. A non-positive rps returns p unchanged.
func NewRateLimited(p Provider, rps float64, burst int) Provider {
	return WithLimiter(p, NewLimiter(rps, burst))
}

// Generate waits for a token, then delegates.
func (r *RateLimited) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for %s rate limit: %w", r.Name(), err)
	}
	return r.Provider.Generate(ctx, req)
}
