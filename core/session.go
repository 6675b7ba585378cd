package orchestration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/channel"
	"github.com/koscakluka/ema-voice/core/conversations"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	controlTickInterval     = 50 * time.Millisecond
	uplinkRetryDelay        = 10 * time.Millisecond
	toolResultSubmitTimeout = 2 * time.Second
	inboxCapacity           = 64
)

// SessionSnapshot is a point-in-time copy of one conversational session.
type SessionSnapshot struct {
	ID         string
	State      State
	Connection ConnectionState

	// Turns is the ordered log of finalised turns.
	Turns []conversations.Turn
	// OpenTurns are the turns not finalised yet: at most one open turn per
	// speaker, plus ended turns still waiting for tool results.
	OpenTurns []conversations.Turn
	// ActiveToolCalls are the tool calls without a result yet.
	ActiveToolCalls []conversations.ToolInvocation

	InputDevice  audio.Selector
	OutputDevice audio.Selector

	DroppedChunks uint64
	Reconnects    int

	StartedAt time.Time
	EndedAt   time.Time
	// Err is why a failed session failed.
	Err string
}

// OpenTurn returns the open turn of speaker, if there is one.
func (s SessionSnapshot) OpenTurn(speaker conversations.Speaker) (conversations.Turn, bool) {
	for _, turn := range s.OpenTurns {
		if turn.Speaker == speaker && !turn.IsFinalised {
			return turn, true
		}
	}
	return conversations.Turn{}, false
}

type inboundEvent struct {
	generation uint64
	event      channel.Event
	// ended is set when the event sequence finished without an error.
	ended bool
}

type toolOutcome struct {
	callID string
	name   string
	result string
	err    error
}

type reconnectOutcome struct {
	conn channel.Conn
	err  error
}

type session struct {
	engine  *Engine
	id      string
	cfg     Config
	emitter *eventEmitter

	ctx           context.Context
	cancel        context.CancelFunc
	stopOnce      sync.Once
	stopRequested atomic.Bool
	stopInterrupt atomic.Bool
	releaseOnce   sync.Once
	done          chan struct{}
	loopDone      chan struct{}

	source audio.Source
	sink   audio.Sink
	buffer *audio.ChunkBuffer
	// uplinkMu keeps requeued audio from interleaving with a flush.
	uplinkMu sync.Mutex

	talking        atomic.Bool
	talkReleasedAt atomic.Int64

	inbox       chan inboundEvent
	commands    chan func()
	toolResults chan toolOutcome
	reconnected chan reconnectOutcome
	uplinkConn  chan channel.Conn

	group      *errgroup.Group
	tools      sync.WaitGroup
	background sync.WaitGroup

	// Written by the control loop (or by Start before the loop runs),
	// read by snapshot.
	mu           sync.Mutex
	connection   ConnectionState
	history      conversations.History
	openTurns    map[conversations.Speaker]*conversations.Turn
	awaiting     []*conversations.Turn
	toolTurns    map[string]*conversations.Turn
	inputDevice  audio.Selector
	outputDevice audio.Selector
	dropped      uint64
	reconnects   int
	startedAt    time.Time
	endedAt      time.Time
	failure      error

	// Control loop only.
	conn                  channel.Conn
	generation            uint64
	playbackSeq           uint64
	discardAssistantAudio bool
	resumeTurns           map[conversations.Speaker]bool
	lastActivity          map[conversations.Speaker]time.Time
	pendingResults        []channel.ToolResult
}

func newSession(e *Engine, cfg Config) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		engine:       e,
		id:           uuid.NewString(),
		cfg:          cfg,
		emitter:      newEventEmitter(e.eventHandler, cfg.UIEventQueueCapacity),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		buffer:       audio.NewChunkBuffer(cfg.CaptureBufferCapacity),
		inbox:        make(chan inboundEvent, inboxCapacity),
		commands:     make(chan func()),
		toolResults:  make(chan toolOutcome),
		reconnected:  make(chan reconnectOutcome, 1),
		uplinkConn:   make(chan channel.Conn, 1),
		connection:   ConnectionDisconnected,
		openTurns:    map[conversations.Speaker]*conversations.Turn{},
		toolTurns:    map[string]*conversations.Turn{},
		startedAt:    e.now(),
		resumeTurns:  map[conversations.Speaker]bool{},
		lastActivity: map[conversations.Speaker]time.Time{},
	}
}

// open acquires the devices and connects the channel. A Stop while opening
// cancels it.
func (s *session) open(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "open session")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.id))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	hook := withContextCancelHook(s.ctx, cancel)
	defer close(hook)

	input := s.resolveDevice(ctx, audio.DeviceKindInput, s.cfg.InputDevice)
	source, input, err := openDevice(ctx, audio.DeviceKindInput, input, s.engine.sources.OpenSource)
	if err != nil {
		err = fmt.Errorf("failed to open audio source: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.source = source

	output := s.resolveDevice(ctx, audio.DeviceKindOutput, s.cfg.OutputDevice)
	sink, output, err := openDevice(ctx, audio.DeviceKindOutput, output, s.engine.sinks.OpenSink)
	if err != nil {
		err = fmt.Errorf("failed to open audio sink: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.sink = sink

	s.mu.Lock()
	s.inputDevice, s.outputDevice = input, output
	s.mu.Unlock()

	conn, err := s.connect(ctx, false, s.cfg.maxRetries())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.conn = conn
	return nil
}

func (s *session) resolveDevice(ctx context.Context, kind audio.DeviceKind, configured audio.Selector) audio.Selector {
	selector, err := audio.ResolveDevice(ctx, kind, configured, s.engine.deviceStrategy)
	if err != nil {
		logger.Warn("device detection failed, using the default device", "session_id", s.id, "kind", kind, "error", err)
	}
	return selector
}

// openDevice opens selector and falls back to the default device once when
// the selected device is unavailable.
func openDevice[T any](ctx context.Context, kind audio.DeviceKind, selector audio.Selector, open func(context.Context, audio.Selector) (T, error)) (T, audio.Selector, error) {
	device, err := open(ctx, selector)
	if err == nil {
		return device, selector, nil
	}

	var deviceErr *audio.DeviceError
	if selector.IsDefault() || !errors.As(err, &deviceErr) {
		return device, selector, err
	}

	logger.Warn("audio device unavailable, falling back to the default device", "kind", kind, "device", selector.String(), "error", err)
	device, err = open(ctx, audio.DefaultDevice)
	return device, audio.DefaultDevice, err
}

// connect dials the channel with exponential backoff. Fatal errors are not
// retried.
func (s *session) connect(ctx context.Context, reconnecting bool, retries int) (channel.Conn, error) {
	config := channel.ConnectConfig{
		Credential: s.cfg.Credential,
		Encoding:   s.source.EncodingInfo(),
		Tools:      s.engine.toolDefinitions(),
	}

	backoff := retry.NewExponential(s.cfg.InitialBackoff)
	backoff = retry.WithCappedDuration(s.cfg.MaxBackoff, backoff)
	backoff = retry.WithMaxRetries(uint64(retries), backoff)

	state := ConnectionConnecting
	if reconnecting {
		state = ConnectionReconnecting
	}

	attempt := 0
	conn, err := retry.DoValue[channel.Conn](ctx, backoff, func(ctx context.Context) (channel.Conn, error) {
		attempt++
		s.setConnection(state, attempt)
		if reconnecting && s.engine.reconnects != nil {
			s.engine.reconnects.Add(ctx, 1)
		}

		conn, err := s.engine.dialer.Connect(ctx, config)
		if err != nil {
			logger.Warn("failed to connect channel", "session_id", s.id, "attempt", attempt, "error", err)
			if channel.IsFatal(err) {
				return nil, err
			}
			return nil, retry.RetryableError(err)
		}
		return conn, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect after %d attempt(s): %w", attempt, err)
	}
	return conn, nil
}

func (s *session) setConnection(state ConnectionState, attempt int) {
	s.mu.Lock()
	changed := s.connection != state || attempt > 1
	s.connection = state
	s.mu.Unlock()

	if changed {
		s.emitter.Emit(events.NewConnectionStateChanged(s.id, string(state), attempt))
	}
}

// run starts the workers of a connected session.
func (s *session) run() {
	ctx, cancelWorkers := context.WithCancel(s.ctx)
	group, ctx := errgroup.WithContext(ctx)
	s.group = group

	s.generation = 1
	s.setConnection(ConnectionConnected, 0)
	s.handOffUplink(s.conn)
	s.engine.transition(s, StateListening)

	s.goWorker(ctx, "control loop", func(ctx context.Context) error {
		defer close(s.loopDone)
		defer cancelWorkers()
		return s.controlLoop(ctx)
	})
	s.goWorker(ctx, "capture", s.capture)
	s.goWorker(ctx, "uplink", s.uplink)
	s.goWorker(ctx, "channel reader", s.readChannel(s.conn, s.generation))

	go func() {
		s.finish(group.Wait())
	}()
}

func (s *session) goWorker(ctx context.Context, name string, run func(context.Context) error) {
	worker := panicSafeNamedWorker(name, run)
	s.group.Go(func() error { return worker(ctx) })
}

// do runs fn on the control loop and waits for it.
func (s *session) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case s.commands <- func() { fn(); close(done) }:
	case <-s.loopDone:
		return ErrSessionNotActive
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-s.loopDone:
		return ErrSessionNotActive
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) setTalking(talking bool) {
	if s.talking.Swap(talking) == talking {
		return
	}
	if !talking {
		s.talkReleasedAt.Store(s.engine.now().UnixNano())
	}
	logger.Debug("push to talk changed", "session_id", s.id, "talking", talking)
}

func (s *session) stop(ctx context.Context, interruptPlayback bool) error {
	s.stopOnce.Do(func() {
		s.stopInterrupt.Store(interruptPlayback)
		s.stopRequested.Store(true)
		s.engine.transition(s, StateClosing)
		s.cancel()
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop session: %w", ctx.Err())
	}
}

// finish tears the session down once its workers have stopped. A session
// that ended without a Stop failed.
func (s *session) finish(cause error) {
	failed := !s.stopRequested.Load()
	if failed && cause == nil {
		cause = errors.New("session ended unexpectedly")
	}
	if !failed {
		s.engine.transition(s, StateClosing)
	}

	s.cancel()
	s.tools.Wait()

	if s.sink != nil {
		if failed || s.stopInterrupt.Load() {
			if discarded := s.sink.Interrupt(); discarded > 0 {
				s.emitter.Emit(events.NewPlaybackInterrupted(discarded, false))
			}
		} else {
			drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
			if err := s.sink.Drain(drainCtx); err != nil {
				logger.Warn("playback did not drain in time, discarding the rest", "session_id", s.id, "error", err)
				s.sink.Interrupt()
			}
			cancel()
		}
	}

	s.background.Wait()
	if err := s.release(); err != nil {
		logger.Warn("failed to release session resources", "session_id", s.id, "error", err)
	}

	s.reportDroppedChunks()

	s.mu.Lock()
	now := s.engine.now()
	s.cancelPendingToolCallsLocked()
	for _, speaker := range []conversations.Speaker{conversations.SpeakerUser, conversations.SpeakerAssistant} {
		if turn := s.openTurns[speaker]; turn != nil {
			delete(s.openTurns, speaker)
			s.finaliseLocked(turn, now)
		}
	}
	s.endedAt = now
	if failed {
		s.connection = ConnectionFailed
		s.failure = cause
	} else {
		s.connection = ConnectionDisconnected
	}
	s.mu.Unlock()

	if failed {
		logger.Error("session failed", "session_id", s.id, "error", cause)
		s.engine.transition(s, StateFailed)
		s.emitter.Emit(events.NewSessionFailed(s.id, cause.Error()))
	} else {
		logger.Info("session closed", "session_id", s.id)
		s.engine.transition(s, StateClosed)
	}

	s.emitter.Close()
	close(s.done)
}

// release closes the channel and the devices, each exactly once.
func (s *session) release() error {
	var err error
	s.releaseOnce.Do(func() {
		var errs []error
		if s.conn != nil {
			if closeErr := s.conn.Close(); closeErr != nil {
				errs = append(errs, fmt.Errorf("failed to close channel: %w", closeErr))
			}
			s.conn = nil
		}
		if s.source != nil {
			if closeErr := s.source.Close(); closeErr != nil {
				errs = append(errs, fmt.Errorf("failed to close audio source: %w", closeErr))
			}
		}
		if s.sink != nil {
			if closeErr := s.sink.Close(); closeErr != nil {
				errs = append(errs, fmt.Errorf("failed to close audio sink: %w", closeErr))
			}
		}
		s.buffer.Close()
		err = errors.Join(errs...)
	})
	return err
}

func (s *session) snapshot(state State) SessionSnapshot {
	s.mu.Lock()
	view := SessionSnapshot{
		ID:            s.id,
		State:         state,
		Connection:    s.connection,
		Turns:         s.history.Turns(),
		InputDevice:   s.inputDevice,
		OutputDevice:  s.outputDevice,
		DroppedChunks: s.dropped,
		Reconnects:    s.reconnects,
		StartedAt:     s.startedAt,
		EndedAt:       s.endedAt,
	}
	for _, speaker := range []conversations.Speaker{conversations.SpeakerUser, conversations.SpeakerAssistant} {
		if turn := s.openTurns[speaker]; turn != nil {
			view.OpenTurns = append(view.OpenTurns, *turn)
		}
	}
	for _, turn := range s.awaiting {
		view.OpenTurns = append(view.OpenTurns, *turn)
	}
	for callID, turn := range s.toolTurns {
		if invocation := turn.ToolInvocation(callID); invocation != nil {
			view.ActiveToolCalls = append(view.ActiveToolCalls, *invocation)
		}
	}
	if s.failure != nil {
		view.Err = s.failure.Error()
	}

	var snapshot SessionSnapshot
	err := copier.CopyWithOption(&snapshot, &view, copier.Option{DeepCopy: true})
	s.mu.Unlock()
	if err != nil {
		logger.Warn("failed to copy session snapshot", "session_id", s.id, "error", err)
		return view
	}

	slices.SortFunc(snapshot.ActiveToolCalls, func(a, b conversations.ToolInvocation) int {
		return a.RequestedAt.Compare(b.RequestedAt)
	})
	return snapshot
}
