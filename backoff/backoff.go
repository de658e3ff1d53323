// Package backoff provides delay strategies for redialing a remote worker.
// Strategies are stateless and safe for concurrent use.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a reconnect attempt.
type Strategy interface {
	// Delay returns how long to wait before attempt n (1-indexed).
	// Attempt 1 is the first redial after the initial failure.
	Delay(attempt int) time.Duration
}

// Constant always waits the same interval.
type Constant struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (c Constant) Delay(int) time.Duration { return c.Interval }

// Exponential doubles the delay each attempt, capped at Max.
// With Jitter set the delay is drawn uniformly from [0, capped] so that
// many clients losing the same worker do not redial in lockstep.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  bool
}

// Delay returns min(Initial * 2^(attempt-1), Max), optionally jittered.
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	if e.Jitter {
		return time.Duration(rand.Float64() * base) //nolint:gosec // jitter does not need crypto rand
	}
	return time.Duration(base)
}

// DefaultStrategy is used by the WebSocket transport when none is given:
// jittered exponential from 100ms up to 5s.
func DefaultStrategy() Strategy {
	return Exponential{Initial: 100 * time.Millisecond, Max: 5 * time.Second, Jitter: true}
}

// Retry calls fn until it succeeds, ctx is done, or maxAttempts calls have
// failed (zero means unlimited). It returns the last error from fn, or
// ctx.Err() if the context ended first.
func Retry(ctx context.Context, s Strategy, maxAttempts int, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			return err
		}

		timer := time.NewTimer(s.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
