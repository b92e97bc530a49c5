package retry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff yields the delay to wait after a given attempt number
// (1-based) fails.
type Backoff interface {
	NextDelay(attempt int) time.Duration
}

// Exponential grows the delay by Multiplier each attempt, capped at
// Max, with up to 10% random jitter to avoid lockstep retries.
type Exponential struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

func (e *Exponential) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := e.Multiplier
	if mult <= 1 {
		mult = 2
	}
	d := float64(e.Base) * math.Pow(mult, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		d = float64(e.Max)
	}
	d += d * 0.1 * rand.Float64()
	return time.Duration(d)
}

// Constant waits the same delay every time.
type Constant struct {
	Delay time.Duration
}

func (c *Constant) NextDelay(int) time.Duration {
	return c.Delay
}
