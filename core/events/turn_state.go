package events

import "github.com/koscakluka/ema-voice/core/conversations"

const (
	// KindTurnStarted identifies the start of a turn.
	KindTurnStarted Kind = "turn.started"
	// KindTurnUpdated identifies a mutable snapshot of an open turn.
	KindTurnUpdated Kind = "turn.updated"
	// KindTurnFinalized identifies the final snapshot of a turn.
	KindTurnFinalized Kind = "turn.finalized"
)

// TurnStarted marks a speaker opening a turn.
type TurnStarted struct {
	Base
	TurnID  string
	Speaker conversations.Speaker
}

// NewTurnStarted creates a turn started event.
func NewTurnStarted(turnID string, speaker conversations.Speaker) TurnStarted {
	return TurnStarted{Base: NewBase(KindTurnStarted), TurnID: turnID, Speaker: speaker}
}

// TurnUpdated carries a copy of an open turn. Later updates supersede it.
type TurnUpdated struct {
	Base
	Turn conversations.Turn
}

// NewTurnUpdated creates a turn updated event.
func NewTurnUpdated(turn conversations.Turn) TurnUpdated {
	return TurnUpdated{Base: NewBase(KindTurnUpdated), Turn: turn}
}

// TurnFinalized carries the immutable final copy of a turn.
type TurnFinalized struct {
	Base
	Turn conversations.Turn
}

// NewTurnFinalized creates a turn finalized event.
func NewTurnFinalized(turn conversations.Turn) TurnFinalized {
	return TurnFinalized{Base: NewBase(KindTurnFinalized), Turn: turn}
}
