// Package plugins loads extension modules into the running agent. Plugins
// declare dependencies on other plugins; the loader initializes them in
// topological order, disposes them in reverse, and rejects dependency cycles.
package plugins

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/reactor/internal/events"
	"github.com/haasonsaas/reactor/internal/hooks"
	"github.com/haasonsaas/reactor/internal/observability"
	"github.com/haasonsaas/reactor/internal/tools"
)

// DefaultInitTimeout bounds each plugin's Init call.
const DefaultInitTimeout = 10 * time.Second

// ErrCycle is returned when plugin dependencies form a cycle.
var ErrCycle = errors.New("plugin dependency cycle")

// Plugin is an extension module. Init registers tools and hooks through the
// runtime; Dispose releases whatever Init acquired.
type Plugin interface {
	// Name is the unique plugin identifier.
	Name() string

	// Dependencies lists plugin names that must initialize first.
	Dependencies() []string

	// Init wires the plugin into the runtime.
	Init(ctx context.Context, rt *Runtime) error

	// Dispose tears the plugin down. Called in reverse init order.
	Dispose(ctx context.Context) error
}

// Runtime is the API surface plugins register against.
type Runtime struct {
	tools *tools.Registry
	hooks *hooks.Manager
	bus   *events.Bus

	mu            sync.Mutex
	toolsByPlugin map[string][]string
	hooksByPlugin map[string][]string
	subsByPlugin  map[string][]string
	current       string
}

// NewRuntime creates the runtime plugins register into.
func NewRuntime(registry *tools.Registry, hookMgr *hooks.Manager, bus *events.Bus) *Runtime {
	return &Runtime{
		tools:         registry,
		hooks:         hookMgr,
		bus:           bus,
		toolsByPlugin: make(map[string][]string),
		hooksByPlugin: make(map[string][]string),
		subsByPlugin:  make(map[string][]string),
	}
}

// RegisterTool adds a tool to the shared registry. The loader removes it
// again when the owning plugin is disposed.
func (rt *Runtime) RegisterTool(tool tools.Tool) error {
	if err := rt.tools.Register(tool); err != nil {
		return err
	}
	rt.mu.Lock()
	rt.toolsByPlugin[rt.current] = append(rt.toolsByPlugin[rt.current], tool.Name())
	rt.mu.Unlock()
	return nil
}

// RegisterHook adds a hook to the shared manager, owned by the current
// plugin.
func (rt *Runtime) RegisterHook(phase hooks.Phase, name string, fn hooks.HookFunc, opts ...hooks.RegisterOption) string {
	id := rt.hooks.Register(phase, name, fn, opts...)
	rt.mu.Lock()
	rt.hooksByPlugin[rt.current] = append(rt.hooksByPlugin[rt.current], id)
	rt.mu.Unlock()
	return id
}

// Subscribe attaches an event handler to the bus, owned by the current
// plugin.
func (rt *Runtime) Subscribe(eventType string, handler events.Handler, opts ...events.SubscribeOption) string {
	id := rt.bus.Subscribe(eventType, handler, opts...)
	rt.mu.Lock()
	rt.subsByPlugin[rt.current] = append(rt.subsByPlugin[rt.current], id)
	rt.mu.Unlock()
	return id
}

// releaseOwned unregisters everything a plugin registered.
func (rt *Runtime) releaseOwned(plugin string) {
	rt.mu.Lock()
	toolNames := rt.toolsByPlugin[plugin]
	hookIDs := rt.hooksByPlugin[plugin]
	subIDs := rt.subsByPlugin[plugin]
	delete(rt.toolsByPlugin, plugin)
	delete(rt.hooksByPlugin, plugin)
	delete(rt.subsByPlugin, plugin)
	rt.mu.Unlock()

	for _, name := range toolNames {
		rt.tools.Unregister(name)
	}
	for _, id := range hookIDs {
		rt.hooks.Unregister(id)
	}
	for _, id := range subIDs {
		rt.bus.Unsubscribe(id)
	}
}

// Loader owns the plugin set and its lifecycle.
type Loader struct {
	mu          sync.Mutex
	registered  map[string]Plugin
	initOrder   []string
	initialized bool
	runtime     *Runtime
	timeout     time.Duration
	logger      *observability.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithInitTimeout overrides the per-plugin init timeout.
func WithInitTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) { l.timeout = d }
}

// WithLogger sets the loader's logger.
func WithLogger(logger *observability.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a Loader bound to a runtime.
func NewLoader(rt *Runtime, opts ...LoaderOption) *Loader {
	l := &Loader{
		registered: make(map[string]Plugin),
		runtime:    rt,
		timeout:    DefaultInitTimeout,
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register adds a plugin. Registration after InitAll is an error, as is a
// duplicate name.
func (l *Loader) Register(p Plugin) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.initialized {
		return errors.New("cannot register plugins after initialization")
	}
	name := p.Name()
	if name == "" {
		return errors.New("plugin name is empty")
	}
	if _, ok := l.registered[name]; ok {
		return fmt.Errorf("plugin %q already registered", name)
	}
	l.registered[name] = p
	return nil
}

// InitAll initializes every registered plugin in dependency order. On any
// failure the plugins already initialized are disposed in reverse order and
// the error is returned.
func (l *Loader) InitAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.initialized {
		return errors.New("plugins already initialized")
	}

	order, err := l.topoOrder()
	if err != nil {
		return err
	}

	for _, name := range order {
		if err := l.initOne(ctx, name); err != nil {
			l.disposeLocked(ctx)
			return fmt.Errorf("initializing plugin %q: %w", name, err)
		}
		l.initOrder = append(l.initOrder, name)
		l.logger.Debug(ctx, "plugin initialized", "plugin", name)
	}
	l.initialized = true
	return nil
}

func (l *Loader) initOne(ctx context.Context, name string) error {
	initCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	l.runtime.mu.Lock()
	l.runtime.current = name
	l.runtime.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("plugin panicked: %v", r)
			}
		}()
		done <- l.registered[name].Init(initCtx, l.runtime)
	}()

	select {
	case err := <-done:
		return err
	case <-initCtx.Done():
		return fmt.Errorf("init timed out after %s", l.timeout)
	}
}

// DisposeAll tears down all initialized plugins in reverse init order and
// releases their tools, hooks, and subscriptions.
func (l *Loader) DisposeAll(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disposeLocked(ctx)
	l.initialized = false
}

func (l *Loader) disposeLocked(ctx context.Context) {
	for i := len(l.initOrder) - 1; i >= 0; i-- {
		name := l.initOrder[i]
		if err := l.registered[name].Dispose(ctx); err != nil {
			l.logger.Warn(ctx, "plugin dispose failed", "plugin", name, "error", err)
		}
		l.runtime.releaseOwned(name)
	}
	l.initOrder = nil
}

// InitOrder returns the order plugins were initialized in.
func (l *Loader) InitOrder() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.initOrder...)
}

// topoOrder produces a dependency-respecting order. Ties break
// alphabetically so the order is deterministic.
func (l *Loader) topoOrder() ([]string, error) {
	indegree := make(map[string]int, len(l.registered))
	dependents := make(map[string][]string)

	for name, p := range l.registered {
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for _, dep := range p.Dependencies() {
			if _, ok := l.registered[dep]; !ok {
				return nil, fmt.Errorf("plugin %q depends on unknown plugin %q", name, dep)
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(l.registered))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		released := false
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
				released = true
			}
		}
		if released {
			sort.Strings(ready)
		}
	}

	if len(order) != len(l.registered) {
		var stuck []string
		for name, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w involving %v", ErrCycle, stuck)
	}
	return order, nil
}
