package events

import "time"

// Kind is the namespaced name of an event, e.g. "turn.updated".
type Kind string

// Event is anything the engine pushes to the UI.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

// Base carries the fields every event shares. Events embed it and set it
// through NewBase so the timestamp is when the engine raised the event.
type Base struct {
	kind      Kind
	timestamp time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

func (b Base) Kind() Kind { return b.kind }

func (b Base) Timestamp() time.Time { return b.timestamp }
