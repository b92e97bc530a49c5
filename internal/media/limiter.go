package media

import (
	"context"
	"sync"
	"time"

	"likevault/internal/retry"
)

// Limiter paces outgoing fetches.
type Limiter interface {
	// Wait blocks until the next request may go out, or the context
	// ends.
	Wait(ctx context.Context) error
}

// NopLimiter never waits.
type NopLimiter struct{}

func (NopLimiter) Wait(context.Context) error { return nil }

// Pacer spaces requests at a fixed minimum interval shared across all
// workers. Bursts collapse to a steady drip, which is what a CDN
// rate limit actually wants from us.
type Pacer struct {
	interval time.Duration

	mu   sync.Mutex
	next time.Time
}

// NewPacer allows requestsPerMinute fetches per minute. Non-positive
// rates disable pacing.
func NewPacer(requestsPerMinute int) Limiter {
	if requestsPerMinute <= 0 {
		return NopLimiter{}
	}
	return &Pacer{interval: time.Minute / time.Duration(requestsPerMinute)}
}

func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	now := time.Now()
	wait := p.next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	p.next = now.Add(wait + p.interval)
	p.mu.Unlock()

	if wait == 0 {
		return ctx.Err()
	}
	return retry.Wait(ctx, wait)
}
