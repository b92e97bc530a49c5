package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		Backoff:     &Constant{Delay: time.Millisecond},
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), zerolog.Nop(), "op", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), zerolog.Nop(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := fastPolicy(3).Do(context.Background(), zerolog.Nop(), "op", func(context.Context) error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := fastPolicy(10).Do(ctx, zerolog.Nop(), "op", func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoAttemptTimeoutIsRetryable(t *testing.T) {
	p := Policy{
		MaxAttempts: 2,
		Timeout:     10 * time.Millisecond,
		Backoff:     &Constant{Delay: time.Millisecond},
	}
	calls := 0
	err := p.Do(context.Background(), zerolog.Nop(), "op", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestExponentialGrowth(t *testing.T) {
	b := &Exponential{Base: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}

	d1 := b.NextDelay(1)
	d2 := b.NextDelay(2)
	d3 := b.NextDelay(3)

	// Jitter adds at most 10% on top of the raw delay.
	assert.GreaterOrEqual(t, d1, 100*time.Millisecond)
	assert.LessOrEqual(t, d1, 110*time.Millisecond)
	assert.GreaterOrEqual(t, d2, 200*time.Millisecond)
	assert.GreaterOrEqual(t, d3, 400*time.Millisecond)
}

func TestExponentialCap(t *testing.T) {
	b := &Exponential{Base: time.Second, Max: 2 * time.Second, Multiplier: 10}
	d := b.NextDelay(5)
	assert.LessOrEqual(t, d, 2200*time.Millisecond)
}

func TestWaitHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Wait(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
