package events

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/reactor/pkg/models"
)

// Emitter produces AgentEvents for one run with monotonic sequence numbers
// and publishes them on the bus.
type Emitter struct {
	bus      *Bus
	runID    string
	sequence uint64
}

// NewEmitter creates a per-run emitter.
func NewEmitter(bus *Bus, runID string) *Emitter {
	return &Emitter{bus: bus, runID: runID}
}

func (e *Emitter) next(eventType models.AgentEventType, payload map[string]any) models.AgentEvent {
	return models.AgentEvent{
		Type:     eventType,
		Sequence: atomic.AddUint64(&e.sequence, 1),
		RunID:    e.runID,
		Time:     time.Now(),
		Payload:  payload,
	}
}

// Emit publishes an event and waits for handlers.
func (e *Emitter) Emit(ctx context.Context, eventType models.AgentEventType, payload map[string]any) {
	if e == nil || e.bus == nil {
		return
	}
	e.bus.Emit(ctx, e.next(eventType, payload))
}

// EmitSync publishes an event without waiting for handlers.
func (e *Emitter) EmitSync(ctx context.Context, eventType models.AgentEventType, payload map[string]any) {
	if e == nil || e.bus == nil {
		return
	}
	e.bus.EmitSync(ctx, e.next(eventType, payload))
}
