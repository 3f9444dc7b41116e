package breaker

import (
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  100 * time.Millisecond,
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("test", testConfig())

	for i := 0; i < 2; i++ {
		b.RecordFailure()
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed after 2 failures, got %s", got)
	}

	b.RecordFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", got)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New("test", testConfig())

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if got := b.State(); got != StateClosed {
		t.Errorf("expected closed, non-consecutive failures should not open, got %s", got)
	}
}

func TestRejectsWhileOpen(t *testing.T) {
	now := time.Now()
	b := New("test", testConfig())
	b.SetNowFunc(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Error("function should not run while circuit is open")
	}
}

func TestHalfOpenAfterRecoveryTimeout(t *testing.T) {
	now := time.Now()
	b := New("test", testConfig())
	b.SetNowFunc(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	now = now.Add(99 * time.Millisecond)
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected still open before timeout, got %s", got)
	}

	now = now.Add(1 * time.Millisecond)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("expected half-open after timeout, got %s", got)
	}
}

func TestClosesAfterSuccessThreshold(t *testing.T) {
	now := time.Now()
	b := New("test", testConfig())
	b.SetNowFunc(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	now = now.Add(100 * time.Millisecond)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", got)
	}

	b.RecordSuccess()
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("one success should not close, got %s", got)
	}
	b.RecordSuccess()
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed after 2 half-open successes, got %s", got)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := New("test", testConfig())
	b.SetNowFunc(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	now = now.Add(100 * time.Millisecond)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", got)
	}

	b.RecordSuccess()
	b.RecordFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected reopened after half-open failure, got %s", got)
	}

	// Success progress does not carry across the reopen.
	now = now.Add(100 * time.Millisecond)
	b.RecordSuccess()
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("expected half-open, prior successes must not count, got %s", got)
	}
}

func TestExecutePassesThroughErrors(t *testing.T) {
	b := New("test", testConfig())

	wantErr := errors.New("provider unavailable")
	err := b.Execute(func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped function error, got %v", err)
	}
	if b.Stats().ConsecutiveFailures != 1 {
		t.Errorf("expected 1 recorded failure, got %d", b.Stats().ConsecutiveFailures)
	}

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Stats().ConsecutiveFailures != 0 {
		t.Errorf("success should reset failures, got %d", b.Stats().ConsecutiveFailures)
	}
}

func TestTransitionHook(t *testing.T) {
	var transitions []string
	b := New("claude", testConfig(), WithTransitionHook(func(name string, from, to State) {
		transitions = append(transitions, string(from)+">"+string(to))
	}))
	now := time.Now()
	b.SetNowFunc(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	now = now.Add(100 * time.Millisecond)
	b.Allow()
	b.RecordSuccess()
	b.RecordSuccess()

	want := []string{"closed>open", "open>half_open", "half_open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestReset(t *testing.T) {
	b := New("test", testConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	b.Reset()
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed after reset, got %s", got)
	}
	if b.Stats().ConsecutiveFailures != 0 {
		t.Errorf("expected cleared failures after reset")
	}
}
