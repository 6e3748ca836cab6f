package events

import (
	"sync"

	"usvchain/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Renderable events expose a flat attribute view for RPC and webhooks.
type Renderable interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements the Emitter interface.
func (f EmitterFunc) Emit(evt Event) {
	if f != nil {
		f(evt)
	}
}

// Multi fans committed events out to every registered emitter in
// registration order.
type Multi struct {
	mu       sync.RWMutex
	emitters []Emitter
}

// NewMulti returns a fan-out over the supplied emitters. Nil entries are skipped.
func NewMulti(emitters ...Emitter) *Multi {
	m := &Multi{}
	for _, e := range emitters {
		m.Add(e)
	}
	return m
}

// Add registers another downstream emitter.
func (m *Multi) Add(e Emitter) {
	if m == nil || e == nil {
		return
	}
	m.mu.Lock()
	m.emitters = append(m.emitters, e)
	m.mu.Unlock()
}

// Emit implements the Emitter interface.
func (m *Multi) Emit(evt Event) {
	if m == nil || evt == nil {
		return
	}
	m.mu.RLock()
	emitters := append([]Emitter(nil), m.emitters...)
	m.mu.RUnlock()
	for _, e := range emitters {
		e.Emit(evt)
	}
}

// Render returns the attribute view of evt, or a bare typed event when evt
// does not implement Renderable.
func Render(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if r, ok := evt.(Renderable); ok {
		return r.Event()
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
