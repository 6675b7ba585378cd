package conversations

import "iter"

// History is the ordered log of finalised turns of a session.
type History struct {
	turns []Turn
}

// Push appends a finalised turn. Open turns are ignored.
func (h *History) Push(turn Turn) {
	if !turn.IsFinalised {
		return
	}
	h.turns = append(h.turns, turn)
}

func (h *History) Len() int { return len(h.turns) }

// Last returns the most recent turn of speaker, or nil.
func (h *History) Last(speaker Speaker) *Turn {
	for i := len(h.turns) - 1; i >= 0; i-- {
		if h.turns[i].Speaker == speaker {
			return &h.turns[i]
		}
	}
	return nil
}

// Values yields turns from oldest to newest.
func (h *History) Values() iter.Seq[Turn] {
	return func(yield func(Turn) bool) {
		for _, turn := range h.turns {
			if !yield(turn) {
				return
			}
		}
	}
}

// RValues yields turns from newest to oldest.
func (h *History) RValues() iter.Seq[Turn] {
	return func(yield func(Turn) bool) {
		for i := len(h.turns) - 1; i >= 0; i-- {
			if !yield(h.turns[i]) {
				return
			}
		}
	}
}

func (h *History) Turns() []Turn { return h.turns }

func (h *History) Clear() { h.turns = nil }
