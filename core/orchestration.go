package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/channel"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/tools"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrSessionActive is returned by Start while a session is running.
	ErrSessionActive = errors.New("session already active")
	// ErrSessionNotActive is returned by controls that need a running
	// session.
	ErrSessionNotActive = errors.New("no active session")
)

// Engine runs one voice session at a time: it captures microphone audio,
// streams it to the remote service, plays the synthesized reply and runs
// the tools the remote side asks for.
//
// All session state is owned by a single control loop. The exported methods
// are safe for concurrent use.
type Engine struct {
	dialer         channel.Dialer
	sources        audio.SourceOpener
	sinks          audio.SinkOpener
	deviceStrategy audio.DeviceStrategy
	registry       *tools.Registry
	eventHandler   EventHandler

	chunksDropped metric.Int64Counter
	reconnects    metric.Int64Counter
	now           func() time.Time

	mu      sync.Mutex
	state   State
	current *session
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		state:        StateIdle,
		eventHandler: noopEventHandler{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	var err error
	if e.chunksDropped, err = meter.Int64Counter("ema.audio.chunks_dropped",
		metric.WithDescription("Microphone chunks dropped while the uplink was behind or disconnected")); err != nil {
		logger.Warn("failed to create dropped chunks counter", "error", err)
	}
	if e.reconnects, err = meter.Int64Counter("ema.channel.reconnects",
		metric.WithDescription("Channel reconnect attempts")); err != nil {
		logger.Warn("failed to create reconnects counter", "error", err)
	}

	return e
}

// Start opens the devices and connects a new session. It returns once the
// session is listening, or with the error that failed it.
//
// An invalid cfg is rejected with a *ConfigError before anything is opened
// and leaves the engine state unchanged. Start is allowed from the idle,
// closed and failed states.
func (e *Engine) Start(ctx context.Context, cfg Config) error {
	ctx, span := tracer.Start(ctx, "start session")
	defer span.End()

	if err := cfg.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid config")
		return err
	}
	if e.dialer == nil || e.sources == nil || e.sinks == nil {
		return fmt.Errorf("engine needs a dialer, an audio source and an audio sink")
	}

	e.mu.Lock()
	if !e.state.canStart() {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("%w: session is %s", ErrSessionActive, state)
	}
	s := newSession(e, cfg)
	from := e.state
	e.current = s
	e.state = StateConnecting
	e.mu.Unlock()

	logger.Info("starting session", "session_id", s.id)
	s.emitter.Emit(events.NewSessionStateChanged(s.id, string(from), string(StateConnecting)))

	if err := s.open(ctx); err != nil {
		s.finish(err)
		if s.stopRequested.Load() {
			return fmt.Errorf("session stopped while starting: %w", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start session")
		return err
	}

	s.run()
	return nil
}

// Stop ends the session. It is safe to call from any state and more than
// once: queued assistant audio is played out (or discarded with
// WithInterruptedPlayback), in-flight tool calls are cancelled, and the
// channel and devices are closed exactly once. ctx bounds only how long
// Stop waits.
func (e *Engine) Stop(ctx context.Context, opts ...StopOption) error {
	options := stopOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	e.mu.Lock()
	s := e.current
	if s == nil {
		if e.state == StateIdle {
			e.state = StateClosed
		}
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	return s.stop(ctx, options.interruptPlayback)
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Snapshot returns a deep copy of the current (or last) session.
func (e *Engine) Snapshot() SessionSnapshot {
	e.mu.Lock()
	s, state := e.current, e.state
	e.mu.Unlock()

	if s == nil {
		return SessionSnapshot{State: state, Connection: ConnectionDisconnected}
	}
	return s.snapshot(state)
}

func (e *Engine) activeSession() (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || !e.state.isActive() {
		return nil, ErrSessionNotActive
	}
	return e.current, nil
}

// transition moves the state of session s. Updates from a session that is
// no longer current are ignored, terminal states are left only by Start,
// and a closing session only moves to a terminal state.
func (e *Engine) transition(s *session, to State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != s {
		return false
	}
	from := e.state
	if from == to || from.IsTerminal() {
		return false
	}
	if from == StateClosing && !to.IsTerminal() {
		return false
	}

	e.state = to
	logger.Info("session state changed", "session_id", s.id, "from", from, "to", to)
	s.emitter.Emit(events.NewSessionStateChanged(s.id, string(from), string(to)))
	return true
}

func (e *Engine) toolDefinitions() []channel.ToolDefinition {
	if e.registry == nil {
		return nil
	}

	definitions := e.registry.Definitions()
	offered := make([]channel.ToolDefinition, 0, len(definitions))
	for _, definition := range definitions {
		offered = append(offered, channel.ToolDefinition{
			Name:        definition.Name,
			Description: definition.Description,
			Parameters:  definition.Parameters,
		})
	}
	return offered
}
