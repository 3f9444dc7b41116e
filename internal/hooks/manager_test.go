package hooks

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestHooksRunInPriorityOrder(t *testing.T) {
	m := NewManager()
	var order []string

	m.Register(PhasePre, "low", func(ctx context.Context, hc *HookContext) (Result, error) {
		order = append(order, "low")
		return Continue(), nil
	}, WithPriority(PriorityLow))
	m.Register(PhasePre, "high", func(ctx context.Context, hc *HookContext) (Result, error) {
		order = append(order, "high")
		return Continue(), nil
	}, WithPriority(PriorityHigh))
	m.Register(PhasePre, "normal", func(ctx context.Context, hc *HookContext) (Result, error) {
		order = append(order, "normal")
		return Continue(), nil
	})

	m.Run(context.Background(), PhasePre, &HookContext{ToolName: "search"})

	want := []string{"high", "normal", "low"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestBlockStopsChain(t *testing.T) {
	m := NewManager()
	ranAfter := false

	m.Register(PhasePre, "blocker", func(ctx context.Context, hc *HookContext) (Result, error) {
		return Block("not allowed"), nil
	}, WithPriority(PriorityHigh))
	m.Register(PhasePre, "after", func(ctx context.Context, hc *HookContext) (Result, error) {
		ranAfter = true
		return Continue(), nil
	}, WithPriority(PriorityLow))

	result := m.Run(context.Background(), PhasePre, &HookContext{ToolName: "delete_file"})
	if result.Decision != DecisionBlock || result.Reason != "not allowed" {
		t.Fatalf("expected block with reason, got %+v", result)
	}
	if ranAfter {
		t.Error("hooks after a block must not run")
	}
}

func TestModifyInputPropagates(t *testing.T) {
	m := NewManager()

	m.Register(PhasePre, "rewriter", func(ctx context.Context, hc *HookContext) (Result, error) {
		return ModifyInput(json.RawMessage(`{"query":"rewritten"}`)), nil
	}, WithPriority(PriorityHigh))

	var seen string
	m.Register(PhasePre, "observer", func(ctx context.Context, hc *HookContext) (Result, error) {
		seen = string(hc.Input)
		return Continue(), nil
	}, WithPriority(PriorityLow))

	hc := &HookContext{ToolName: "search", Input: json.RawMessage(`{"query":"original"}`)}
	result := m.Run(context.Background(), PhasePre, hc)

	if result.Decision != DecisionContinue {
		t.Fatalf("expected continue, got %+v", result)
	}
	if seen != `{"query":"rewritten"}` {
		t.Errorf("later hook saw stale input: %s", seen)
	}
	if !hc.Modified {
		t.Error("expected Modified flag set")
	}
}

func TestToolPatternFilter(t *testing.T) {
	m := NewManager()
	calls := 0
	m.Register(PhasePre, "fs-only", func(ctx context.Context, hc *HookContext) (Result, error) {
		calls++
		return Continue(), nil
	}, ForTools("fs_*"))

	m.Run(context.Background(), PhasePre, &HookContext{ToolName: "fs_read"})
	m.Run(context.Background(), PhasePre, &HookContext{ToolName: "search"})

	if calls != 1 {
		t.Errorf("expected hook to run only for fs_read, got %d calls", calls)
	}
}

func TestPredicateFilter(t *testing.T) {
	m := NewManager()
	calls := 0
	m.Register(PhasePre, "late-iterations", func(ctx context.Context, hc *HookContext) (Result, error) {
		calls++
		return Continue(), nil
	}, WithPredicate(func(hc *HookContext) bool { return hc.Iteration >= 5 }))

	m.Run(context.Background(), PhasePre, &HookContext{ToolName: "search", Iteration: 1})
	m.Run(context.Background(), PhasePre, &HookContext{ToolName: "search", Iteration: 7})

	if calls != 1 {
		t.Errorf("expected predicate to admit only iteration 7, got %d calls", calls)
	}
}

func TestHookErrorIsSkipped(t *testing.T) {
	m := NewManager()
	m.Register(PhasePre, "broken", func(ctx context.Context, hc *HookContext) (Result, error) {
		panic("boom")
	}, WithPriority(PriorityHigh))

	ranAfter := false
	m.Register(PhasePre, "after", func(ctx context.Context, hc *HookContext) (Result, error) {
		ranAfter = true
		return Continue(), nil
	})

	result := m.Run(context.Background(), PhasePre, &HookContext{ToolName: "search"})
	if result.Decision != DecisionContinue {
		t.Fatalf("broken hook must not block, got %+v", result)
	}
	if !ranAfter {
		t.Error("chain should continue past a panicking hook")
	}
}

func TestSlowHookTimesOut(t *testing.T) {
	m := NewManager(WithTimeout(20 * time.Millisecond))
	m.Register(PhasePre, "slow", func(ctx context.Context, hc *HookContext) (Result, error) {
		time.Sleep(200 * time.Millisecond)
		return Block("too late"), nil
	})

	start := time.Now()
	result := m.Run(context.Background(), PhasePre, &HookContext{ToolName: "search"})
	if result.Decision != DecisionContinue {
		t.Fatalf("timed-out hook must not block, got %+v", result)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Error("Run should return at the hook timeout, not the hook duration")
	}
}

func TestUnregister(t *testing.T) {
	m := NewManager()
	id := m.Register(PhasePost, "temp", func(ctx context.Context, hc *HookContext) (Result, error) {
		return Continue(), nil
	})
	if m.Count(PhasePost) != 1 {
		t.Fatal("expected one post hook")
	}
	if !m.Unregister(id) {
		t.Fatal("expected unregister to succeed")
	}
	if m.Count(PhasePost) != 0 {
		t.Error("expected zero post hooks after unregister")
	}
	if m.Unregister(id) {
		t.Error("double unregister should fail")
	}
}

func TestStopHookVeto(t *testing.T) {
	m := NewManager()
	m.Register(PhaseStop, "verifier", func(ctx context.Context, hc *HookContext) (Result, error) {
		return Block("tests have not run"), nil
	})

	result := m.Run(context.Background(), PhaseStop, &HookContext{})
	if result.Decision != DecisionBlock {
		t.Fatalf("expected stop veto, got %+v", result)
	}
}
