// Package recovery maps coded errors to recovery strategies. The ReAct loop
// consults the planner after a failure and acts on the returned plan; the
// planner itself performs no I/O.
package recovery

import (
	"time"

	"github.com/haasonsaas/reactor/internal/agenterrors"
	"github.com/haasonsaas/reactor/internal/backoff"
)

// Strategy is the action to take after a failure.
type Strategy string

const (
	// StrategyRetry retries the failed operation with backoff, bounded by
	// the plan's MaxAttempts.
	StrategyRetry Strategy = "retry"

	// StrategyFallback switches to the next provider in the chain.
	StrategyFallback Strategy = "fallback"

	// StrategyCompact triggers context compaction and retries once.
	StrategyCompact Strategy = "compact"

	// StrategySkip drops the failed action and continues the loop.
	StrategySkip Strategy = "skip"

	// StrategyAbort stops the run.
	StrategyAbort Strategy = "abort"

	// StrategyAskUser surfaces the failure and waits for human input. No
	// automatic attempts are made.
	StrategyAskUser Strategy = "ask_user"
)

// Plan is the planner's verdict for one failure.
type Plan struct {
	// Strategy is the action to take.
	Strategy Strategy

	// MaxAttempts bounds retries. Zero for strategies that never retry.
	MaxAttempts int

	// Backoff computes the delay before each retry attempt.
	Backoff backoff.BackoffPolicy

	// Code is the error code the plan was derived from.
	Code agenterrors.Code
}

// Delay returns the backoff delay before the given attempt. Attempts are
// numbered from 1.
func (p Plan) Delay(attempt int) time.Duration {
	if p.Strategy != StrategyRetry && p.Strategy != StrategyCompact {
		return 0
	}
	return backoff.ComputeBackoff(p.Backoff, attempt)
}

// Planner resolves error codes to plans. The default table can be overridden
// per code.
type Planner struct {
	overrides map[agenterrors.Code]Plan
	policy    backoff.BackoffPolicy
}

// Option configures a Planner.
type Option func(*Planner)

// WithOverride replaces the default plan for one code.
func WithOverride(code agenterrors.Code, plan Plan) Option {
	return func(p *Planner) { p.overrides[code] = plan }
}

// WithBackoffPolicy replaces the default retry backoff policy.
func WithBackoffPolicy(policy backoff.BackoffPolicy) Option {
	return func(p *Planner) { p.policy = policy }
}

// NewPlanner creates a Planner with the default code-to-strategy table.
func NewPlanner(opts ...Option) *Planner {
	p := &Planner{
		overrides: make(map[agenterrors.Code]Plan),
		policy:    backoff.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PlanFor returns the recovery plan for an error. Uncoded errors abort.
func (p *Planner) PlanFor(err error) Plan {
	code := agenterrors.CodeOf(err)
	if plan, ok := p.overrides[code]; ok {
		plan.Code = code
		return plan
	}
	plan := p.defaultPlan(code)
	plan.Code = code
	return plan
}

func (p *Planner) defaultPlan(code agenterrors.Code) Plan {
	switch code {
	case agenterrors.CodeLLMTimeout, agenterrors.CodeLLMRateLimited:
		return Plan{Strategy: StrategyRetry, MaxAttempts: 3, Backoff: p.policy}

	case agenterrors.CodeLLMUnavailable:
		return Plan{Strategy: StrategyFallback}

	case agenterrors.CodeLLMContextTooLong:
		// Compaction frees budget; one retry after it.
		return Plan{Strategy: StrategyCompact, MaxAttempts: 1, Backoff: p.policy}

	case agenterrors.CodeToolTimeout, agenterrors.CodeToolRateLimited:
		return Plan{Strategy: StrategyRetry, MaxAttempts: 2, Backoff: p.policy}

	case agenterrors.CodeToolNotFound,
		agenterrors.CodeToolValidationFailed,
		agenterrors.CodeToolExecutionFailed,
		agenterrors.CodeHookBlocked:
		// Failed observations feed back into the loop for self-correction.
		return Plan{Strategy: StrategySkip}

	case agenterrors.CodeHookFailed:
		return Plan{Strategy: StrategySkip}

	case agenterrors.CodeLLMAuthFailed, agenterrors.CodeConfigInvalid:
		return Plan{Strategy: StrategyAskUser}

	case agenterrors.CodeExecutionTimeout,
		agenterrors.CodeExecutionMaxIterations,
		agenterrors.CodeExecutionAborted,
		agenterrors.CodeExecutionFailed,
		agenterrors.CodeSessionNotFound,
		agenterrors.CodeSessionExpired:
		return Plan{Strategy: StrategyAbort}

	default:
		return Plan{Strategy: StrategyAbort}
	}
}
