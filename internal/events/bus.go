// Package events provides a typed publish/subscribe bus for the structured
// agent event stream. Subscriptions may target one event type or all types,
// optionally with a filter predicate, and may be one-shot.
package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/reactor/internal/observability"
	"github.com/haasonsaas/reactor/pkg/models"
)

// Wildcard subscribes to every event type.
const Wildcard = "*"

// DefaultHandlerTimeout bounds a single async handler invocation.
const DefaultHandlerTimeout = 30 * time.Second

// Handler processes a published event.
type Handler func(ctx context.Context, event models.AgentEvent) error

// Filter decides whether a subscription receives an event.
type Filter func(event models.AgentEvent) bool

// Subscription is one registered handler.
type Subscription struct {
	// ID is the registration identifier used for unsubscribing.
	ID string

	// Type is the event type, or Wildcard.
	Type string

	// Handler is invoked for matching events.
	Handler Handler

	// Filter, when set, must return true for the handler to run.
	Filter Filter

	// Once removes the subscription after its first delivery.
	Once bool

	// Priority orders delivery (lower = earlier).
	Priority int
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*Subscription)

// WithFilter attaches a filter predicate.
func WithFilter(f Filter) SubscribeOption {
	return func(s *Subscription) { s.Filter = f }
}

// WithOnce makes the subscription one-shot.
func WithOnce() SubscribeOption {
	return func(s *Subscription) { s.Once = true }
}

// WithPriority sets the delivery priority (lower = earlier).
func WithPriority(p int) SubscribeOption {
	return func(s *Subscription) { s.Priority = p }
}

// Bus is a typed publish/subscribe hub. One Bus is injected per process or
// per run; there is no global instance.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string][]*Subscription // type (or Wildcard) -> subscriptions
	byID     map[string]*Subscription
	logger   *observability.Logger
	timeout  time.Duration
	sequence uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithHandlerTimeout overrides the per-handler timeout for Emit.
func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// NewBus creates an event bus. A nil logger falls back to a no-op logger.
func NewBus(logger *observability.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = observability.NopLogger()
	}
	b := &Bus{
		subs:    make(map[string][]*Subscription),
		byID:    make(map[string]*Subscription),
		logger:  logger.With("component", "events"),
		timeout: DefaultHandlerTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for an event type (or Wildcard).
// Returns the subscription ID for later unsubscription.
func (b *Bus) Subscribe(eventType string, handler Handler, opts ...SubscribeOption) string {
	sub := &Subscription{
		ID:      uuid.NewString(),
		Type:    eventType,
		Handler: handler,
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[eventType] = append(b.subs[eventType], sub)
	sort.SliceStable(b.subs[eventType], func(i, j int) bool {
		return b.subs[eventType][i].Priority < b.subs[eventType][j].Priority
	})
	b.byID[sub.ID] = sub
	return sub.ID
}

// Once registers a handler removed after its first matching delivery.
func (b *Bus) Once(eventType string, handler Handler, opts ...SubscribeOption) string {
	return b.Subscribe(eventType, handler, append(opts, WithOnce())...)
}

// Unsubscribe removes a subscription by ID.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(id)
}

func (b *Bus) removeLocked(id string) bool {
	sub, ok := b.byID[id]
	if !ok {
		return false
	}
	delete(b.byID, id)
	list := b.subs[sub.Type]
	for i, s := range list {
		if s.ID == id {
			b.subs[sub.Type] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return true
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}

// Emit delivers the event to every matching subscription and waits for all
// handlers. Each handler is raced against the bus timeout so one slow handler
// cannot stall emission indefinitely. One-shot subscriptions are removed
// before their handler runs.
func (b *Bus) Emit(ctx context.Context, event models.AgentEvent) {
	for _, sub := range b.collect(event) {
		b.invoke(ctx, sub, event)
	}
}

// EmitSync fires handlers without waiting for completion. Handler errors are
// logged, never propagated to the caller.
func (b *Bus) EmitSync(ctx context.Context, event models.AgentEvent) {
	subs := b.collect(event)
	if len(subs) == 0 {
		return
	}
	go func() {
		for _, sub := range subs {
			b.invoke(ctx, sub, event)
		}
	}()
}

// collect snapshots matching subscriptions in priority order, removing
// one-shot entries.
func (b *Bus) collect(event models.AgentEvent) []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	typed := b.subs[string(event.Type)]
	wild := b.subs[Wildcard]

	matched := make([]*Subscription, 0, len(typed)+len(wild))
	for _, sub := range append(append([]*Subscription{}, typed...), wild...) {
		if sub.Filter != nil && !sub.Filter(event) {
			continue
		}
		matched = append(matched, sub)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})

	for _, sub := range matched {
		if sub.Once {
			b.removeLocked(sub.ID)
		}
	}
	return matched
}

// invoke runs one handler raced against the bus timeout.
func (b *Bus) invoke(ctx context.Context, sub *Subscription, event models.AgentEvent) {
	handlerCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error(ctx, "event handler panicked",
					"event_type", event.Type, "subscription", sub.ID, "panic", r)
				done <- nil
			}
		}()
		done <- sub.Handler(handlerCtx, event)
	}()

	select {
	case err := <-done:
		if err != nil {
			b.logger.Warn(ctx, "event handler error",
				"event_type", event.Type, "subscription", sub.ID, "error", err)
		}
	case <-handlerCtx.Done():
		b.logger.Warn(ctx, "event handler timed out",
			"event_type", event.Type, "subscription", sub.ID, "timeout", b.timeout)
	}
}
