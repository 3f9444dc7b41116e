// Package backoff computes exponential backoff delays with jitter and runs
// bounded retry loops around them.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy parameterizes the delay curve. Durations are expressed in
// milliseconds so factor math stays in float space.
type BackoffPolicy struct {
	// InitialMs is the delay after the first failed attempt.
	InitialMs float64

	// MaxMs caps the computed delay.
	MaxMs float64

	// Factor multiplies the delay each attempt.
	Factor float64

	// Jitter in [0,1] adds up to that fraction of the base delay.
	Jitter float64
}

// DefaultPolicy is 100ms doubling up to 30s with 10% jitter.
func DefaultPolicy() BackoffPolicy {
	return BackoffPolicy{InitialMs: 100, MaxMs: 30000, Factor: 2, Jitter: 0.1}
}

// ComputeBackoff returns the delay before retrying the given attempt.
// Attempts are numbered from 1; attempt 1 gets the initial delay.
func ComputeBackoff(policy BackoffPolicy, attempt int) time.Duration {
	return ComputeBackoffWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not need crypto randomness
}

// ComputeBackoffWithRand is ComputeBackoff with the random jitter input made
// explicit, for deterministic tests. randomValue is in [0,1).
func ComputeBackoffWithRand(policy BackoffPolicy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	total := math.Min(policy.MaxMs, base+base*policy.Jitter*randomValue)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// SleepWithContext sleeps for the duration unless the context ends first.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SleepWithBackoff computes the delay for the attempt and sleeps it.
func SleepWithBackoff(ctx context.Context, policy BackoffPolicy, attempt int) error {
	return SleepWithContext(ctx, ComputeBackoff(policy, attempt))
}

// Retry runs fn up to maxAttempts times, sleeping between attempts per the
// policy. A nil retryable predicate retries every error; otherwise errors the
// predicate rejects are returned immediately. The last error is returned when
// attempts run out.
func Retry[T any](ctx context.Context, policy BackoffPolicy, maxAttempts int, retryable func(error) bool, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return zero, err
		}
		if attempt < maxAttempts {
			if err := SleepWithBackoff(ctx, policy, attempt); err != nil {
				return zero, err
			}
		}
	}
	return zero, lastErr
}
