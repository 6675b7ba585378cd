package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/koscakluka/ema-voice/core/channel"
	"github.com/koscakluka/ema-voice/core/conversations"
	"github.com/koscakluka/ema-voice/core/events"
)

// controlLoop owns the session state. Everything that changes turns, tool
// calls or playback runs here, one event at a time.
func (s *session) controlLoop(ctx context.Context) error {
	ticker := time.NewTicker(controlTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case inbound := <-s.inbox:
			if err := s.handleInbound(ctx, inbound); err != nil {
				return err
			}

		case command := <-s.commands:
			command()

		case outcome := <-s.toolResults:
			s.handleToolOutcome(ctx, outcome)

		case outcome := <-s.reconnected:
			if err := s.handleReconnected(ctx, outcome); err != nil {
				return err
			}

		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *session) handleInbound(ctx context.Context, inbound inboundEvent) error {
	if inbound.generation != s.generation {
		return nil
	}
	if inbound.ended {
		logger.Warn("channel closed by the remote side", "session_id", s.id)
		s.connectionLost(ctx)
		return nil
	}

	switch event := inbound.event.(type) {
	case channel.SpeechStarted:
		s.handleSpeechStarted(event.Speaker)
	case channel.PartialTranscript:
		s.handleTranscript(event.Speaker, event.Text, false)
	case channel.FinalTranscript:
		s.handleTranscript(event.Speaker, event.Text, true)
	case channel.TurnEnd:
		s.handleTurnEnd(event.Speaker, event.Interrupted)
	case channel.AudioResponseChunk:
		s.handleAudioChunk(event)
	case channel.ToolCallRequested:
		s.dispatchToolCall(event)
	case *channel.ChannelError:
		if event.Kind == channel.ErrorKindFatal {
			return fmt.Errorf("channel failed: %w", event)
		}
		logger.Warn("channel dropped", "session_id", s.id, "error", event)
		s.connectionLost(ctx)
	default:
		logger.Warn("ignoring unknown channel event", "session_id", s.id, "event", fmt.Sprintf("%T", event))
	}
	return nil
}

// connectionLost retires the current connection and reconnects in the
// background. Open turns stay open and continue on the new connection.
func (s *session) connectionLost(ctx context.Context) {
	if s.conn == nil {
		return
	}

	s.generation++
	old := s.conn
	s.conn = nil
	s.handOffUplink(nil)

	s.resumeTurns[conversations.SpeakerUser] = true
	s.resumeTurns[conversations.SpeakerAssistant] = true

	s.engine.transition(s, StateReconnecting)

	retries := s.cfg.maxRetries()
	if retries == 0 {
		s.closeInBackground(old)
		s.reconnected <- reconnectOutcome{err: fmt.Errorf("connection lost and reconnecting is disabled")}
		return
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.retire(old)
		conn, err := s.connect(ctx, true, retries-1)
		select {
		case s.reconnected <- reconnectOutcome{conn: conn, err: err}:
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

func (s *session) handleReconnected(ctx context.Context, outcome reconnectOutcome) error {
	if outcome.err != nil {
		return fmt.Errorf("failed to reconnect: %w", outcome.err)
	}

	s.conn = outcome.conn
	s.goWorker(ctx, "channel reader", s.readChannel(s.conn, s.generation))
	s.handOffUplink(s.conn)

	s.mu.Lock()
	s.reconnects++
	s.mu.Unlock()
	s.setConnection(ConnectionConnected, 0)
	logger.Info("channel reconnected", "session_id", s.id, "generation", s.generation)

	pending := s.pendingResults
	s.pendingResults = nil
	for _, result := range pending {
		s.submitToolResult(ctx, result)
	}

	now := s.engine.now()
	for speaker := range s.lastActivity {
		s.lastActivity[speaker] = now
	}

	if s.sink.Pending() > 0 && s.openTurn(conversations.SpeakerAssistant) != nil {
		s.engine.transition(s, StateSpeaking)
	} else {
		s.engine.transition(s, StateListening)
	}
	return nil
}

// retire closes a dropped connection and puts the audio it accepted but
// never sent back at the head of the capture buffer, ahead of everything
// captured since.
func (s *session) retire(conn channel.Conn) {
	if err := conn.Close(); err != nil {
		logger.Debug("failed to close dropped channel", "session_id", s.id, "error", err)
	}

	unsent := conn.UnsentAudio()
	if len(unsent) == 0 {
		return
	}

	s.uplinkMu.Lock()
	defer s.uplinkMu.Unlock()
	for i := len(unsent) - 1; i >= 0; i-- {
		s.buffer.PushFront(unsent[i])
	}
	logger.Info("requeued audio the dropped channel never sent", "session_id", s.id, "chunks", len(unsent))
}

func (s *session) closeInBackground(conn channel.Conn) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if err := conn.Close(); err != nil {
			logger.Debug("failed to close dropped channel", "session_id", s.id, "error", err)
		}
	}()
}

// readChannel forwards the events of conn to the control loop tagged with
// generation, so events of a replaced connection are ignored.
func (s *session) readChannel(conn channel.Conn, generation uint64) func(context.Context) error {
	return func(ctx context.Context) error {
		for event := range conn.Events(ctx) {
			select {
			case s.inbox <- inboundEvent{generation: generation, event: event}:
			case <-ctx.Done():
				return nil
			}
		}

		select {
		case s.inbox <- inboundEvent{generation: generation, ended: true}:
		case <-ctx.Done():
		}
		return nil
	}
}

// tick runs the periodic bookkeeping of the control loop.
func (s *session) tick() {
	now := s.engine.now()
	s.reportDroppedChunks()
	s.maybeFinishSpeaking()

	s.mu.Lock()
	connected := s.connection == ConnectionConnected
	s.mu.Unlock()
	if connected {
		s.finaliseIdleTurns(now)
	}
}

func (s *session) reportDroppedChunks() {
	total := s.buffer.Dropped()
	s.mu.Lock()
	delta := total - s.dropped
	s.dropped = total
	s.mu.Unlock()
	if delta == 0 {
		return
	}

	if s.engine.chunksDropped != nil {
		s.engine.chunksDropped.Add(s.ctx, int64(delta))
	}
	logger.Warn("dropped microphone chunks", "session_id", s.id, "dropped", delta, "total", total)
	s.emitter.Emit(events.NewCaptureChunksDropped(delta, total))
}
