package hooks

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/reactor/internal/observability"
)

// DefaultHookTimeout bounds a single hook invocation.
const DefaultHookTimeout = 5 * time.Second

type hook struct {
	id        string
	name      string
	phase     Phase
	priority  Priority
	patterns  []string
	predicate Predicate
	fn        HookFunc
}

// matches reports whether the hook applies to this call. Patterns use
// path.Match globs ("*" matches everything); no patterns means all tools.
func (h *hook) matches(hc *HookContext) bool {
	if len(h.patterns) > 0 {
		matched := false
		for _, p := range h.patterns {
			if ok, err := path.Match(p, hc.ToolName); err == nil && ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if h.predicate != nil && !h.predicate(hc) {
		return false
	}
	return true
}

// Manager holds hooks per phase and runs matching hooks in priority order.
// Safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	hooks   map[Phase][]*hook
	nextID  int
	timeout time.Duration
	logger  *observability.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout overrides the per-hook timeout.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger *observability.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates an empty hook manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		hooks:   make(map[Phase][]*hook),
		timeout: DefaultHookTimeout,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterOption configures a single hook registration.
type RegisterOption func(*hook)

// ForTools restricts the hook to tool names matching any pattern.
func ForTools(patterns ...string) RegisterOption {
	return func(h *hook) { h.patterns = append(h.patterns, patterns...) }
}

// WithPredicate gates the hook on call state.
func WithPredicate(p Predicate) RegisterOption {
	return func(h *hook) { h.predicate = p }
}

// WithPriority sets the hook priority. Lower runs earlier.
func WithPriority(p Priority) RegisterOption {
	return func(h *hook) { h.priority = p }
}

// Register adds a hook and returns its ID. Hooks in the same phase run in
// ascending priority order; ties keep registration order.
func (m *Manager) Register(phase Phase, name string, fn HookFunc, opts ...RegisterOption) string {
	h := &hook{
		name:     name,
		phase:    phase,
		priority: PriorityNormal,
		fn:       fn,
	}
	for _, opt := range opts {
		opt(h)
	}

	m.mu.Lock()
	m.nextID++
	h.id = fmt.Sprintf("hook-%d", m.nextID)
	m.hooks[phase] = append(m.hooks[phase], h)
	sort.SliceStable(m.hooks[phase], func(i, j int) bool {
		return m.hooks[phase][i].priority < m.hooks[phase][j].priority
	})
	m.mu.Unlock()

	m.logger.Debug(context.Background(), "registered hook",
		"id", h.id, "name", name, "phase", string(phase), "patterns", h.patterns)
	return h.id
}

// Unregister removes a hook by ID.
func (m *Manager) Unregister(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for phase, list := range m.hooks {
		for i, h := range list {
			if h.id == id {
				m.hooks[phase] = append(list[:i], list[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Count returns the number of hooks registered for a phase.
func (m *Manager) Count(phase Phase) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hooks[phase])
}

// Run executes the phase's matching hooks in priority order. The first block
// stops the chain and is returned; modifications are folded into hc and the
// chain continues. Hook errors and timeouts are logged and skipped.
func (m *Manager) Run(ctx context.Context, phase Phase, hc *HookContext) Result {
	m.mu.RLock()
	list := make([]*hook, len(m.hooks[phase]))
	copy(list, m.hooks[phase])
	m.mu.RUnlock()

	for _, h := range list {
		if !h.matches(hc) {
			continue
		}

		result, err := m.invoke(ctx, h, hc)
		if err != nil {
			m.logger.Warn(ctx, "hook failed, continuing",
				"hook", h.name, "phase", string(phase), "tool", hc.ToolName, "error", err)
			continue
		}

		switch result.Decision {
		case DecisionBlock:
			m.logger.Info(ctx, "hook blocked execution",
				"hook", h.name, "tool", hc.ToolName, "reason", result.Reason)
			return result
		case DecisionModify:
			if result.Input != nil {
				hc.Input = result.Input
				hc.Modified = true
			}
			if result.Output != "" {
				hc.Output = result.Output
				hc.Modified = true
			}
		}
	}
	return Continue()
}

// invoke runs one hook with the manager timeout.
func (m *Manager) invoke(ctx context.Context, h *hook, hc *HookContext) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("hook panicked: %v", r)}
			}
		}()
		result, err := h.fn(ctx, hc)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return Result{}, fmt.Errorf("hook %s timed out after %s", h.name, m.timeout)
	}
}
