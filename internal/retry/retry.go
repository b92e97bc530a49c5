// Package retry bounds every suspension point in the collector: page
// navigations, selector waits and media fetches all run under one
// Policy of attempts, per-attempt timeout and backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// Timeout bounds each attempt. Zero means no per-attempt deadline.
	Timeout time.Duration
	// Backoff yields the delay before each retry.
	Backoff Backoff
}

// DefaultPolicy suits interactive page work: a few attempts, modest
// exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Timeout:     45 * time.Second,
		Backoff: &Exponential{
			Base:       2 * time.Second,
			Max:        30 * time.Second,
			Multiplier: 2,
		},
	}
}

// Do runs op under the policy. The parent context cancels the whole
// sequence; the per-attempt timeout only ends the current attempt.
func (p Policy) Do(ctx context.Context, log zerolog.Logger, name string, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		err := op(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := time.Second
		if p.Backoff != nil {
			delay = p.Backoff.NextDelay(attempt)
		}
		log.Warn().
			Str("op", name).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("retrying")
		if err := Wait(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, lastErr)
}

// Wait sleeps for delay unless the context ends first.
func Wait(ctx context.Context, delay time.Duration) error {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
