package resilience

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// AttemptTimeout bounds each attempt when set.
	AttemptTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2,
	}
}

// Delay returns the wait before retry number n (0-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(n)))
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		return p.MaxDelay
	}
	return d
}

// ExecuteWithRetry runs fn until it succeeds, returns an error that is not
// transient, or MaxRetries retries are used up. An open circuit ends the loop.
func ExecuteWithRetry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = runAttempt(ctx, policy.AttemptTimeout, fn)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) || errors.Is(lastErr, ErrCircuitOpen) {
			return lastErr
		}

		if attempt < policy.MaxRetries {
			delay := policy.Delay(attempt)
			log.Debug().Err(lastErr).Int("attempt", attempt+1).Dur("backoff", delay).Msg("retrying transient failure")
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(delay):
			}
		}
	}
	return lastErr
}

func runAttempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}
