package providers

import (
	"context"
	"time"

	"github.com/haasonsaas/reactor/internal/backoff"
)

// retryConfig holds shared retry settings for provider calls.
type retryConfig struct {
	maxRetries int
	policy     backoff.BackoffPolicy
}

func newRetryConfig(maxRetries int, baseDelay time.Duration) retryConfig {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return retryConfig{
		maxRetries: maxRetries,
		policy: backoff.BackoffPolicy{
			InitialMs: float64(baseDelay.Milliseconds()),
			MaxMs:     30000,
			Factor:    2,
		},
	}
}

// do runs op up to maxRetries+1 times with exponential backoff, retrying only
// errors IsRetryable accepts. The last error is returned when attempts run out.
func (r retryConfig) do(ctx context.Context, op func() error) error {
	_, err := backoff.Retry(ctx, r.policy, r.maxRetries+1, IsRetryable, func(int) (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
