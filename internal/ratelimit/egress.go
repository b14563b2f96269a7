package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Egress caps the engine-wide outbound request rate, independent of any
// per-subscription budget. A nil Egress admits everything.
type Egress struct {
	limiter *rate.Limiter
}

// NewEgress creates an engine-wide token bucket. rps <= 0 disables the cap.
func NewEgress(rps float64, burst int) *Egress {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Egress{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until an outbound slot is available or ctx is done.
func (e *Egress) Wait(ctx context.Context) error {
	if e == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}
