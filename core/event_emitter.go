package orchestration

import (
	"sync"

	"github.com/koscakluka/ema-voice/core/events"
)

// EventHandler receives session events. It is called from a single
// goroutine, in emission order, and never from the control loop itself, so
// a slow handler delays only later events.
type EventHandler interface {
	HandleEvent(event events.Event)
}

type EventHandlerFunc func(event events.Event)

func (f EventHandlerFunc) HandleEvent(event events.Event) { f(event) }

type noopEventHandler struct{}

func (noopEventHandler) HandleEvent(events.Event) {}

// eventEmitter queues events for the handler. Emit never blocks: when the
// handler falls behind by more than the queue capacity, new events are
// dropped and counted.
type eventEmitter struct {
	handler EventHandler
	queue   chan events.Event

	mu      sync.Mutex
	closed  bool
	dropped uint64

	done chan struct{}
}

func newEventEmitter(handler EventHandler, capacity int) *eventEmitter {
	if handler == nil {
		handler = noopEventHandler{}
	}
	if capacity < 1 {
		capacity = DefaultUIEventQueueCapacity
	}

	emitter := &eventEmitter{
		handler: handler,
		queue:   make(chan events.Event, capacity),
		done:    make(chan struct{}),
	}
	go emitter.dispatch()
	return emitter
}

func (e *eventEmitter) Emit(event events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	select {
	case e.queue <- event:
	default:
		e.dropped++
		logger.Warn("ui event queue full, dropping event", "kind", event.Kind(), "dropped", e.dropped)
	}
}

func (e *eventEmitter) dispatch() {
	defer close(e.done)
	for event := range e.queue {
		e.deliver(event)
	}
}

func (e *eventEmitter) deliver(event events.Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("event handler panicked", "kind", event.Kind(), "panic", recovered)
		}
	}()
	e.handler.HandleEvent(event)
}

// Close stops accepting events. Queued events are still delivered; Close
// does not wait for them so a handler may call back into the engine.
func (e *eventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.queue)
}
