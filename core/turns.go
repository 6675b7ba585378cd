package orchestration

import (
	"slices"
	"time"

	"github.com/koscakluka/ema-voice/core/conversations"
	"github.com/koscakluka/ema-voice/core/events"
)

func (s *session) openTurn(speaker conversations.Speaker) *conversations.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openTurns[speaker]
}

// beginTurn opens a new turn for speaker. A turn that is still open is
// ended first.
func (s *session) beginTurn(speaker conversations.Speaker) *conversations.Turn {
	now := s.engine.now()

	s.mu.Lock()
	if previous := s.openTurns[speaker]; previous != nil {
		s.endTurnLocked(previous, now)
	}
	turn := conversations.NewTurn(speaker, now)
	s.openTurns[speaker] = turn
	s.mu.Unlock()

	s.resumeTurns[speaker] = false
	s.lastActivity[speaker] = now
	s.emitter.Emit(events.NewTurnStarted(turn.ID, speaker))
	return turn
}

// ensureTurn returns the open turn of speaker, opening one when the remote
// side sent content without announcing speech first.
func (s *session) ensureTurn(speaker conversations.Speaker) *conversations.Turn {
	if turn := s.openTurn(speaker); turn != nil {
		return turn
	}
	return s.beginTurn(speaker)
}

func (s *session) handleSpeechStarted(speaker conversations.Speaker) {
	switch speaker {
	case conversations.SpeakerUser:
		if s.engine.State() == StateSpeaking {
			logger.Info("user barged in", "session_id", s.id)
			s.interruptPlayback(true)
		}
	case conversations.SpeakerAssistant:
		s.discardAssistantAudio = false
	}

	if turn := s.openTurn(speaker); turn != nil && s.continuesTurn(speaker, turn) {
		s.resumeTurns[speaker] = false
		s.lastActivity[speaker] = s.engine.now()
		return
	}
	s.beginTurn(speaker)
}

// continuesTurn reports whether speech of speaker belongs to the open turn:
// after a reconnect, or when the turn so far only asked for tools.
func (s *session) continuesTurn(speaker conversations.Speaker, turn *conversations.Turn) bool {
	if s.resumeTurns[speaker] {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(turn.Fragments) == 0 && turn.Audio.Chunks == 0 && len(turn.ToolInvocations) > 0
}

func (s *session) handleTranscript(speaker conversations.Speaker, text string, final bool) {
	if speaker == conversations.SpeakerAssistant && s.discardAssistantAudio {
		return
	}

	turn := s.ensureTurn(speaker)
	now := s.engine.now()

	s.mu.Lock()
	var err error
	if final {
		err = turn.ApplyFinal(text, now)
	} else {
		err = turn.ApplyPartial(text, now)
	}
	updated := copyTurn(turn)
	s.mu.Unlock()

	if err != nil {
		logger.Warn("dropping transcript for finalised turn", "session_id", s.id, "turn_id", turn.ID, "error", err)
		return
	}
	s.lastActivity[speaker] = now
	s.emitter.Emit(events.NewTurnUpdated(updated))
}

func (s *session) handleTurnEnd(speaker conversations.Speaker, interrupted bool) {
	if speaker == conversations.SpeakerAssistant && s.discardAssistantAudio {
		s.discardAssistantAudio = false
		return
	}

	s.mu.Lock()
	if turn := s.openTurns[speaker]; turn != nil {
		if interrupted {
			turn.Interrupted = true
		}
		s.endTurnLocked(turn, s.engine.now())
	}
	s.mu.Unlock()

	s.resumeTurns[speaker] = false
	s.maybeFinishSpeaking()
}

// endTurnLocked closes turn for new content. It is finalised right away
// unless tool calls are still pending, then it waits in awaiting.
func (s *session) endTurnLocked(turn *conversations.Turn, now time.Time) {
	if s.openTurns[turn.Speaker] == turn {
		delete(s.openTurns, turn.Speaker)
	}
	if turn.HasPendingToolInvocations() {
		if !slices.Contains(s.awaiting, turn) {
			s.awaiting = append(s.awaiting, turn)
		}
		return
	}
	s.finaliseLocked(turn, now)
}

func (s *session) finaliseLocked(turn *conversations.Turn, now time.Time) {
	s.awaiting = slices.DeleteFunc(s.awaiting, func(t *conversations.Turn) bool { return t == turn })
	turn.Finalise(now)
	finalised := copyTurn(turn)
	s.history.Push(finalised)
	s.emitter.Emit(events.NewTurnFinalized(finalised))
}

// finaliseIdleTurns ends open turns that got no content for the idle
// timeout. The pending partial is committed instead of dropped, since no
// final transcript is coming for it.
func (s *session) finaliseIdleTurns(now time.Time) {
	for _, speaker := range []conversations.Speaker{conversations.SpeakerUser, conversations.SpeakerAssistant} {
		turn := s.openTurn(speaker)
		if turn == nil {
			continue
		}

		since := s.lastActivity[speaker]
		switch speaker {
		case conversations.SpeakerUser:
			if s.talking.Load() {
				continue
			}
			if released := time.Unix(0, s.talkReleasedAt.Load()); released.After(since) {
				since = released
			}
		case conversations.SpeakerAssistant:
			if s.sink.Pending() > 0 {
				continue
			}
		}
		if now.Sub(since) < s.cfg.TurnIdleTimeout {
			continue
		}

		s.mu.Lock()
		if turn.HasPendingToolInvocations() {
			s.mu.Unlock()
			continue
		}
		if pending := turn.PendingText(); pending != "" {
			turn.ApplyFinal(pending, now)
		}
		logger.Debug("finalising idle turn", "session_id", s.id, "turn_id", turn.ID, "speaker", speaker)
		s.endTurnLocked(turn, now)
		s.mu.Unlock()
	}
	s.maybeFinishSpeaking()
}

func copyTurn(turn *conversations.Turn) conversations.Turn {
	copied := *turn
	copied.Fragments = slices.Clone(turn.Fragments)
	copied.ToolInvocations = slices.Clone(turn.ToolInvocations)
	return copied
}
