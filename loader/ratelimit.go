package loader

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/kroma-labs/sentinel-loader/request"
)

// ErrRateLimited is wrapped when a request is rejected by the rate limiter.
var ErrRateLimited = errors.New("loader: rate limit exceeded")

// RateLimitConfig configures a RateLimitLoader.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. Non-positive disables
	// limiting.
	RequestsPerSecond float64

	// Burst is the number of requests allowed above the sustained rate.
	Burst int

	// WaitOnLimit makes requests wait for a token instead of failing.
	WaitOnLimit bool
}

// DefaultRateLimitConfig returns 100 requests per second with a burst of
// 10, waiting for tokens.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             10,
		WaitOnLimit:       true,
	}
}

// RateLimitLoader throttles requests with a token bucket shared by every
// chain the stage is linked into.
//
// In wait mode a request blocks for a token until its context is done, and
// then fails as Cancelled, or CannotConnect when the deadline expired. In fail-fast mode a request without a token
// fails immediately as CannotConnect wrapping ErrRateLimited.
type RateLimitLoader struct {
	limiter *rate.Limiter
	wait    bool
	next    Loader
}

// NewRateLimitLoader returns a rate limiting stage.
func NewRateLimitLoader(cfg RateLimitConfig) *RateLimitLoader {
	l := &RateLimitLoader{wait: cfg.WaitOnLimit}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return l
}

// Link implements Stage.
func (l *RateLimitLoader) Link(next Loader) Loader {
	linked := *l
	linked.next = next
	return &linked
}

// Load implements Loader.
func (l *RateLimitLoader) Load(ctx context.Context, req request.Descriptor) Result {
	if l.next == nil {
		return notLinked(req)
	}
	if l.limiter == nil {
		return l.next.Load(ctx, req)
	}

	if l.wait {
		if err := l.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Failure(NewError(contextKind(ctxErr), req, err))
			}
			// The wait would outlast the context deadline.
			return Failure(NewError(CannotConnect, req, errors.Join(ErrRateLimited, err)))
		}
	} else if !l.limiter.Allow() {
		return Failure(NewError(CannotConnect, req, ErrRateLimited))
	}

	return l.next.Load(ctx, req)
}
