package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	r := newRetryConfig(3, time.Millisecond)

	attempts := 0
	err := r.do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	r := newRetryConfig(3, time.Millisecond)

	attempts := 0
	wantErr := errors.New("401 unauthorized")
	err := r.do(context.Background(), func() error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("auth error should not retry, got %d attempts", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	r := newRetryConfig(2, time.Millisecond)

	attempts := 0
	err := r.do(context.Background(), func() error {
		attempts++
		return errors.New("429 too many requests")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", attempts)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	r := newRetryConfig(5, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := r.do(ctx, func() error {
		attempts++
		return errors.New("500 internal server error")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts > 2 {
		t.Errorf("expected cancellation to stop retries early, got %d attempts", attempts)
	}
}
