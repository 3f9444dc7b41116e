package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestComputeBackoffGrowth(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 100, MaxMs: 30000, Factor: 2}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := ComputeBackoffWithRand(policy, tc.attempt, 0); got != tc.want {
			t.Errorf("attempt %d: got %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestComputeBackoffCapsAtMax(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 100, MaxMs: 500, Factor: 2}
	if got := ComputeBackoffWithRand(policy, 10, 0); got != 500*time.Millisecond {
		t.Errorf("got %v, want 500ms cap", got)
	}
}

func TestComputeBackoffJitterBounds(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 100, MaxMs: 30000, Factor: 2, Jitter: 0.1}

	low := ComputeBackoffWithRand(policy, 1, 0)
	high := ComputeBackoffWithRand(policy, 1, 0.999)
	if low != 100*time.Millisecond {
		t.Errorf("zero jitter draw: got %v", low)
	}
	if high < low || high > 110*time.Millisecond {
		t.Errorf("full jitter draw out of bounds: %v", high)
	}
}

func TestComputeBackoffZeroAttempt(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 100, MaxMs: 30000, Factor: 2}
	if got := ComputeBackoffWithRand(policy, 0, 0); got != 100*time.Millisecond {
		t.Errorf("attempt 0 should clamp to the initial delay, got %v", got)
	}
}

func TestSleepWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepWithContext(ctx, time.Second); err == nil {
		t.Fatal("expected a cancellation error")
	}

	if err := SleepWithContext(context.Background(), 0); err != nil {
		t.Errorf("zero duration: %v", err)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 1, MaxMs: 2, Factor: 2}
	calls := 0
	got, err := Retry(context.Background(), policy, 5, nil, func(attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d", calls)
	}
}

func TestRetryReturnsLastErrorWhenExhausted(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 1, MaxMs: 1, Factor: 1}
	wantErr := errors.New("still broken")
	_, err := Retry(context.Background(), policy, 3, nil, func(int) (int, error) {
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v", err)
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 1, MaxMs: 1, Factor: 1}
	fatal := errors.New("bad credentials")
	calls := 0
	_, err := Retry(context.Background(), policy, 5, func(err error) bool {
		return !errors.Is(err, fatal)
	}, func(int) (int, error) {
		calls++
		return 0, fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("got %v", err)
	}
	if calls != 1 {
		t.Errorf("non-retryable error was retried %d times", calls)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Retry(ctx, DefaultPolicy(), 3, nil, func(int) (int, error) {
		calls++
		return 0, errors.New("x")
	})
	if err == nil {
		t.Fatal("expected a context error")
	}
	if calls != 0 {
		t.Errorf("cancelled retry still ran %d times", calls)
	}
}
