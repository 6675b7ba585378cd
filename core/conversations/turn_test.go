package conversations

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestPartialsAreSupersededByFinal(t *testing.T) {
	now := time.Now()
	partialSequences := [][]string{
		{},
		{"what"},
		{"what", "what's the", "what's the price"},
		{"completely", "different", "guesses"},
	}

	for _, partials := range partialSequences {
		turn := NewTurn(SpeakerUser, now)
		for _, partial := range partials {
			if err := turn.ApplyPartial(partial, now); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if err := turn.ApplyFinal("what's the price of ACME", now); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if got := turn.Text(); got != "what's the price of ACME" {
			t.Fatalf("expected only final text after partials %v, got %q", partials, got)
		}
		if len(turn.Fragments) != 1 {
			t.Fatalf("expected 1 committed fragment, got %d", len(turn.Fragments))
		}
	}
}

func TestMultipleFinalFragmentsAreJoinedInOrder(t *testing.T) {
	now := time.Now()
	turn := NewTurn(SpeakerUser, now)
	_ = turn.ApplyPartial("what's", now)
	_ = turn.ApplyFinal("what's the price", now)
	_ = turn.ApplyPartial("of", now)
	_ = turn.ApplyFinal("of ACME", now)

	if got := turn.Text(); got != "what's the price of ACME" {
		t.Fatalf("expected joined final text, got %q", got)
	}
}

func TestPendingTextIsNotCommitted(t *testing.T) {
	now := time.Now()
	turn := NewTurn(SpeakerUser, now)
	_ = turn.ApplyFinal("hello", now)
	_ = turn.ApplyPartial("wor", now)

	if got := turn.Text(); got != "hello" {
		t.Fatalf("expected committed text hello, got %q", got)
	}
	if got := turn.DisplayText(); got != "hello wor" {
		t.Fatalf("expected display text with partial, got %q", got)
	}

	turn.Finalise(now)
	if got := turn.DisplayText(); got != "hello" {
		t.Fatalf("expected pending partial to be dropped on finalise, got %q", got)
	}
}

func TestFinalisedTurnIsImmutable(t *testing.T) {
	now := time.Now()
	turn := NewTurn(SpeakerAssistant, now)
	_ = turn.ApplyFinal("done", now)
	turn.Finalise(now)

	if err := turn.ApplyFinal("more", now); !errors.Is(err, ErrTurnFinalised) {
		t.Fatalf("expected ErrTurnFinalised, got %v", err)
	}
	if err := turn.ApplyPartial("more", now); !errors.Is(err, ErrTurnFinalised) {
		t.Fatalf("expected ErrTurnFinalised, got %v", err)
	}
	turn.AddAudio(10, time.Millisecond)
	if turn.Audio.Chunks != 0 {
		t.Fatalf("expected audio not to be recorded on a finalised turn")
	}
}

func TestToolInvocationTransitions(t *testing.T) {
	now := time.Now()
	turn := NewTurn(SpeakerAssistant, now)
	turn.AddToolInvocation(NewToolInvocation("call-1", "stock_price", json.RawMessage(`{"symbol":"ACME"}`), now))

	if !turn.HasPendingToolInvocations() {
		t.Fatalf("expected pending invocation")
	}

	invocation := turn.ToolInvocation("call-1")
	invocation.MarkRunning()
	invocation.Succeed(`{"price":1}`, now)
	invocation.Fail("timeout", "late", now)

	if invocation.Status != ToolStatusSucceeded {
		t.Fatalf("expected resolved status to stick, got %s", invocation.Status)
	}
	if turn.HasPendingToolInvocations() {
		t.Fatalf("expected no pending invocations")
	}
	if turn.ToolInvocation("missing") != nil {
		t.Fatalf("expected unknown call id to return nil")
	}
}

func TestHistoryKeepsOnlyFinalisedTurns(t *testing.T) {
	now := time.Now()
	var history History

	open := NewTurn(SpeakerUser, now)
	history.Push(*open)

	user := NewTurn(SpeakerUser, now)
	user.Finalise(now)
	assistant := NewTurn(SpeakerAssistant, now)
	assistant.Finalise(now)
	history.Push(*user)
	history.Push(*assistant)

	if history.Len() != 2 {
		t.Fatalf("expected 2 turns, got %d", history.Len())
	}

	var order []Speaker
	for turn := range history.RValues() {
		order = append(order, turn.Speaker)
	}
	if order[0] != SpeakerAssistant || order[1] != SpeakerUser {
		t.Fatalf("expected newest first, got %v", order)
	}
	if last := history.Last(SpeakerUser); last == nil || last.ID != user.ID {
		t.Fatalf("expected last user turn %s, got %+v", user.ID, last)
	}
}
