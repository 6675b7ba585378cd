package orchestration

import (
	"github.com/koscakluka/ema-voice/core/channel"
	"github.com/koscakluka/ema-voice/core/conversations"
	"github.com/koscakluka/ema-voice/core/events"
)

func (s *session) handleAudioChunk(event channel.AudioResponseChunk) {
	if s.discardAssistantAudio {
		return
	}

	turn := s.ensureTurn(conversations.SpeakerAssistant)

	chunk := event.Chunk
	if chunk.Encoding.IsZero() {
		chunk.Encoding = s.sink.EncodingInfo()
	}
	s.playbackSeq++
	chunk.Seq = s.playbackSeq
	if err := s.sink.Enqueue(chunk); err != nil {
		logger.Warn("failed to queue assistant audio", "session_id", s.id, "seq", chunk.Seq, "error", err)
		return
	}

	s.mu.Lock()
	turn.AddAudio(len(chunk.Data), chunk.Duration())
	s.mu.Unlock()
	s.lastActivity[conversations.SpeakerAssistant] = s.engine.now()

	s.engine.transition(s, StateSpeaking)
}

// interruptPlayback discards queued assistant audio and ends the assistant
// turn as interrupted. Audio and transcripts of that response still in
// flight are dropped until the assistant starts speaking again or the
// remote side ends the interrupted turn.
func (s *session) interruptPlayback(bargeIn bool) {
	discarded := s.sink.Interrupt()

	s.mu.Lock()
	if turn := s.openTurns[conversations.SpeakerAssistant]; turn != nil {
		turn.Interrupted = true
		s.endTurnLocked(turn, s.engine.now())
		s.discardAssistantAudio = true
	}
	s.mu.Unlock()

	logger.Info("playback interrupted", "session_id", s.id, "discarded", discarded, "barge_in", bargeIn)
	s.emitter.Emit(events.NewPlaybackInterrupted(discarded, bargeIn))

	if s.engine.State() == StateSpeaking {
		s.engine.transition(s, StateListening)
	}
}

// maybeFinishSpeaking goes back to listening once the assistant turn ended
// and its audio played out.
func (s *session) maybeFinishSpeaking() {
	if s.engine.State() != StateSpeaking {
		return
	}
	if s.openTurn(conversations.SpeakerAssistant) != nil || s.sink.Pending() > 0 {
		return
	}
	s.engine.transition(s, StateListening)
}
