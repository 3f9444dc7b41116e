package recovery

import (
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/reactor/internal/agenterrors"
	"github.com/haasonsaas/reactor/internal/backoff"
)

func TestDefaultTable(t *testing.T) {
	p := NewPlanner()
	tests := []struct {
		code     agenterrors.Code
		strategy Strategy
	}{
		{agenterrors.CodeLLMTimeout, StrategyRetry},
		{agenterrors.CodeLLMRateLimited, StrategyRetry},
		{agenterrors.CodeLLMUnavailable, StrategyFallback},
		{agenterrors.CodeLLMContextTooLong, StrategyCompact},
		{agenterrors.CodeLLMAuthFailed, StrategyAskUser},
		{agenterrors.CodeToolTimeout, StrategyRetry},
		{agenterrors.CodeToolNotFound, StrategySkip},
		{agenterrors.CodeToolExecutionFailed, StrategySkip},
		{agenterrors.CodeHookBlocked, StrategySkip},
		{agenterrors.CodeExecutionMaxIterations, StrategyAbort},
		{agenterrors.CodeConfigInvalid, StrategyAskUser},
	}
	for _, tt := range tests {
		plan := p.PlanFor(agenterrors.New(tt.code, "x"))
		if plan.Strategy != tt.strategy {
			t.Errorf("%s: strategy = %s, want %s", tt.code, plan.Strategy, tt.strategy)
		}
		if plan.Code != tt.code {
			t.Errorf("%s: plan code = %s", tt.code, plan.Code)
		}
	}
}

func TestUncodedErrorAborts(t *testing.T) {
	p := NewPlanner()
	plan := p.PlanFor(errors.New("something odd"))
	if plan.Strategy != StrategyAbort {
		t.Errorf("uncoded error should abort, got %s", plan.Strategy)
	}
}

func TestRetryIsBounded(t *testing.T) {
	p := NewPlanner()
	plan := p.PlanFor(agenterrors.New(agenterrors.CodeLLMTimeout, "slow"))
	if plan.MaxAttempts <= 0 {
		t.Error("retry plan must bound attempts")
	}
	if plan.Delay(2) <= plan.Delay(1) {
		t.Errorf("backoff should grow: attempt1=%v attempt2=%v", plan.Delay(1), plan.Delay(2))
	}
}

func TestCompactRetriesOnce(t *testing.T) {
	p := NewPlanner()
	plan := p.PlanFor(agenterrors.New(agenterrors.CodeLLMContextTooLong, "413"))
	if plan.MaxAttempts != 1 {
		t.Errorf("compact retries exactly once, got %d", plan.MaxAttempts)
	}
}

func TestAskUserMakesNoAttempts(t *testing.T) {
	p := NewPlanner()
	plan := p.PlanFor(agenterrors.New(agenterrors.CodeLLMAuthFailed, "401"))
	if plan.MaxAttempts != 0 {
		t.Errorf("ask_user must make zero automatic attempts, got %d", plan.MaxAttempts)
	}
	if plan.Delay(1) != 0 {
		t.Error("non-retry strategies have no delay")
	}
}

func TestOverride(t *testing.T) {
	p := NewPlanner(WithOverride(agenterrors.CodeToolNotFound, Plan{Strategy: StrategyAbort}))
	plan := p.PlanFor(agenterrors.New(agenterrors.CodeToolNotFound, "no such tool"))
	if plan.Strategy != StrategyAbort {
		t.Errorf("override ignored, got %s", plan.Strategy)
	}
}

func TestCustomBackoffPolicy(t *testing.T) {
	policy := backoff.BackoffPolicy{InitialMs: 5, MaxMs: 10, Factor: 2}
	p := NewPlanner(WithBackoffPolicy(policy))
	plan := p.PlanFor(agenterrors.New(agenterrors.CodeLLMTimeout, "slow"))
	if plan.Delay(10) != 10*time.Millisecond {
		t.Errorf("delay should cap at MaxMs, got %v", plan.Delay(10))
	}
}
