package providers

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		msg  string
		want FailureReason
	}{
		{"context deadline exceeded", ReasonTimeout},
		{"request timeout after 30s", ReasonTimeout},
		{"429 too many requests", ReasonRateLimit},
		{"rate_limit_error: slow down", ReasonRateLimit},
		{"401 unauthorized", ReasonAuth},
		{"invalid api key provided", ReasonAuth},
		{"insufficient quota remaining", ReasonBilling},
		{"model not found: gpt-9", ReasonModelUnavailable},
		{"500 internal server error", ReasonServerError},
		{"connection refused", ReasonServerError},
		{"something inexplicable", ReasonUnknown},
	}

	for _, tc := range cases {
		if got := ClassifyError(errors.New(tc.msg)); got != tc.want {
			t.Errorf("ClassifyError(%q) = %s, want %s", tc.msg, got, tc.want)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   FailureReason
	}{
		{401, ReasonAuth},
		{402, ReasonBilling},
		{403, ReasonAuth},
		{404, ReasonModelUnavailable},
		{408, ReasonTimeout},
		{429, ReasonRateLimit},
		{400, ReasonInvalidRequest},
		{500, ReasonServerError},
		{503, ReasonServerError},
		{200, ReasonUnknown},
	}

	for _, tc := range cases {
		err := (&ProviderError{Provider: "test"}).WithStatus(tc.status)
		if err.Reason != tc.want {
			t.Errorf("status %d classified as %s, want %s", tc.status, err.Reason, tc.want)
		}
	}
}

func TestRetryableReasons(t *testing.T) {
	retryable := []FailureReason{ReasonRateLimit, ReasonTimeout, ReasonServerError}
	for _, r := range retryable {
		if !r.IsRetryable() {
			t.Errorf("%s should be retryable", r)
		}
	}
	notRetryable := []FailureReason{ReasonAuth, ReasonBilling, ReasonInvalidRequest, ReasonContentFilter, ReasonUnknown}
	for _, r := range notRetryable {
		if r.IsRetryable() {
			t.Errorf("%s should not be retryable", r)
		}
	}
}

func TestShouldFailover(t *testing.T) {
	err := NewProviderError("anthropic", "claude-sonnet-4-20250514", errors.New("boom")).WithStatus(401)
	if !ShouldFailover(err) {
		t.Error("auth failure should trigger failover")
	}
	if ShouldFailover(NewProviderError("anthropic", "m", errors.New("429 too many requests"))) {
		t.Error("rate limit should retry same provider, not fail over")
	}
}

func TestProviderErrorFormat(t *testing.T) {
	err := NewProviderError("anthropic", "claude-sonnet-4-20250514", errors.New("boom")).
		WithStatus(429).
		WithCode("rate_limit_error").
		WithMessage("slow down")

	got := err.Error()
	for _, want := range []string{"[rate_limit]", "anthropic", "model=claude-sonnet-4-20250514", "status=429", "code=rate_limit_error", "slow down"} {
		if !containsAny(got, want) {
			t.Errorf("error string %q missing %q", got, want)
		}
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewProviderError("openai", "gpt-4o", cause)
	wrapped := fmt.Errorf("request failed: %w", err)

	if !errors.Is(wrapped, cause) {
		t.Error("expected cause to survive wrapping")
	}
	pe, ok := GetProviderError(wrapped)
	if !ok {
		t.Fatal("expected ProviderError in chain")
	}
	if pe.Provider != "openai" {
		t.Errorf("expected provider openai, got %s", pe.Provider)
	}
}
