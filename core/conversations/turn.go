package conversations

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrTurnFinalised = errors.New("turn already finalised")

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// TranscriptFragment is one recognition result. Partial fragments are
// superseded by later ones, a final fragment commits the text.
type TranscriptFragment struct {
	Text       string
	IsFinal    bool
	ReceivedAt time.Time
}

// AudioRef summarises the audio that belongs to a turn without keeping the
// samples around.
type AudioRef struct {
	Chunks int
	Bytes  int
	Length time.Duration
}

type Turn struct {
	ID      string
	Speaker Speaker

	// Fragments in arrival order. Only the latest partial since the last
	// final fragment is kept, older partials are superseded.
	Fragments []TranscriptFragment
	// ToolInvocations requested while this turn was open, in request order.
	ToolInvocations []ToolInvocation
	Audio           AudioRef

	StartedAt   time.Time
	FinalisedAt time.Time
	IsFinalised bool
	// Interrupted is set on assistant turns cut short by barge-in or an
	// explicit interrupt.
	Interrupted bool
}

func NewTurn(speaker Speaker, now time.Time) *Turn {
	return &Turn{ID: uuid.NewString(), Speaker: speaker, StartedAt: now}
}

// ApplyPartial replaces the pending partial fragment with text.
func (t *Turn) ApplyPartial(text string, now time.Time) error {
	if t.IsFinalised {
		return ErrTurnFinalised
	}
	if n := len(t.Fragments); n > 0 && !t.Fragments[n-1].IsFinal {
		t.Fragments[n-1] = TranscriptFragment{Text: text, ReceivedAt: now}
		return nil
	}
	t.Fragments = append(t.Fragments, TranscriptFragment{Text: text, ReceivedAt: now})
	return nil
}

// ApplyFinal commits text, superseding the pending partial fragment.
func (t *Turn) ApplyFinal(text string, now time.Time) error {
	if t.IsFinalised {
		return ErrTurnFinalised
	}
	fragment := TranscriptFragment{Text: text, IsFinal: true, ReceivedAt: now}
	if n := len(t.Fragments); n > 0 && !t.Fragments[n-1].IsFinal {
		t.Fragments[n-1] = fragment
		return nil
	}
	t.Fragments = append(t.Fragments, fragment)
	return nil
}

// Text is the committed transcript: the final fragments joined in order.
// Partial text is never part of it.
func (t *Turn) Text() string {
	text := ""
	for _, fragment := range t.Fragments {
		if !fragment.IsFinal || fragment.Text == "" {
			continue
		}
		if text != "" {
			text += " "
		}
		text += fragment.Text
	}
	return text
}

// PendingText is the partial transcript not committed yet.
func (t *Turn) PendingText() string {
	if n := len(t.Fragments); n > 0 && !t.Fragments[n-1].IsFinal {
		return t.Fragments[n-1].Text
	}
	return ""
}

// DisplayText is the committed text followed by the pending partial.
func (t *Turn) DisplayText() string {
	text, pending := t.Text(), t.PendingText()
	switch {
	case pending == "":
		return text
	case text == "":
		return pending
	default:
		return text + " " + pending
	}
}

func (t *Turn) AddAudio(bytes int, length time.Duration) {
	if t.IsFinalised {
		return
	}
	t.Audio.Chunks++
	t.Audio.Bytes += bytes
	t.Audio.Length += length
}

func (t *Turn) AddToolInvocation(invocation ToolInvocation) {
	t.ToolInvocations = append(t.ToolInvocations, invocation)
}

// ToolInvocation returns the invocation with callID, or nil.
func (t *Turn) ToolInvocation(callID string) *ToolInvocation {
	for i := range t.ToolInvocations {
		if t.ToolInvocations[i].CallID == callID {
			return &t.ToolInvocations[i]
		}
	}
	return nil
}

// HasPendingToolInvocations reports whether any invocation is not resolved.
func (t *Turn) HasPendingToolInvocations() bool {
	for _, invocation := range t.ToolInvocations {
		if !invocation.Status.IsResolved() {
			return true
		}
	}
	return false
}

// Finalise marks the turn immutable. A pending partial fragment is dropped.
func (t *Turn) Finalise(now time.Time) {
	if t.IsFinalised {
		return
	}
	if n := len(t.Fragments); n > 0 && !t.Fragments[n-1].IsFinal {
		t.Fragments = t.Fragments[:n-1]
	}
	t.IsFinalised = true
	t.FinalisedAt = now
}
