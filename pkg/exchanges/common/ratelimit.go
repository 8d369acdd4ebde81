package common

import (
	"context"

	"golang.org/x/time/rate"
)

// Pacer throttles outbound requests to one venue so a burst of fan-out
// replication cannot trip the venue's request limits.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer allows rps sustained requests per second with the given burst.
func NewPacer(rps float64, burst int) *Pacer {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 1
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a request slot is available or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
