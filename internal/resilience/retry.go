package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetriesExhausted is wrapped into the error returned by [Retry] when every
// attempt failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Backoff returns the delay to wait after failed attempt n (1-based).
type Backoff func(attempt int) time.Duration

// QuadraticBackoff waits n² × unit after attempt n: with unit = 2s the delays
// are 2s, 8s, 18s, ...
func QuadraticBackoff(unit time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return time.Duration(attempt*attempt) * unit
	}
}

// ExponentialBackoff doubles base after each attempt, capped at max.
func ExponentialBackoff(base, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt && d < max; i++ {
			d *= 2
		}
		return min(d, max)
	}
}

// RetryPolicy bounds how often and how patiently [Retry] tries.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3.
	MaxAttempts int

	// Backoff computes the wait after each failed attempt. No wait follows the
	// final attempt. Default: QuadraticBackoff(2 * time.Second).
	Backoff Backoff

	// Sleep waits for d or until ctx is done. Tests replace it to observe the
	// schedule without real delays. Default: [Sleep].
	Sleep func(ctx context.Context, d time.Duration) error

	// Retryable decides whether a failed attempt may be retried. Default:
	// every error.
	Retryable func(error) bool

	// OnRetry, if set, is called before each backoff wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Backoff == nil {
		p.Backoff = QuadraticBackoff(2 * time.Second)
	}
	if p.Sleep == nil {
		p.Sleep = Sleep
	}
	return p
}

// Retry calls fn until it succeeds, the policy's attempts are used up, or ctx
// is done. fn receives the 1-based attempt number.
//
// Once ctx is done Retry returns ctx.Err() without further attempts. When all
// attempts fail the error wraps both [ErrRetriesExhausted] and the last
// attempt's error.
func Retry[R any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) (R, error)) (R, error) {
	p := policy.withDefaults()
	var (
		zero    R
		lastErr error
	)
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if err := p.Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, p.MaxAttempts, lastErr)
}

// Sleep blocks for d or until ctx is done, whichever comes first. It returns
// ctx.Err() when interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
