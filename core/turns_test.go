package orchestration

import (
	"context"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/channel"
	"github.com/koscakluka/ema-voice/core/conversations"
	"github.com/koscakluka/ema-voice/core/events"
)

func TestPartialTranscriptsAreSupersededByFinal(t *testing.T) {
	engine, dialer, _, recorder := newTestEngine()
	startEngine(t, engine, testConfig())
	defer engine.Stop(context.Background(), WithInterruptedPlayback())

	conn := dialer.conn(0)
	conn.emit(channel.SpeechStarted{Speaker: conversations.SpeakerUser})
	conn.emit(channel.PartialTranscript{Speaker: conversations.SpeakerUser, Text: "what"})
	conn.emit(channel.PartialTranscript{Speaker: conversations.SpeakerUser, Text: "what is acme"})

	recorder.waitFor(t, "partial update", func(event events.Event) bool {
		updated, ok := event.(events.TurnUpdated)
		return ok && updated.Turn.DisplayText() == "what is acme"
	})
	open, ok := engine.Snapshot().OpenTurn(conversations.SpeakerUser)
	if !ok || open.Text() != "" || open.PendingText() != "what is acme" {
		t.Fatalf("expected only pending text on the open turn, got %+v", open)
	}

	conn.emit(channel.FinalTranscript{Speaker: conversations.SpeakerUser, Text: "what is acme trading at"})
	conn.emit(channel.PartialTranscript{Speaker: conversations.SpeakerUser, Text: "right"})
	conn.emit(channel.TurnEnd{Speaker: conversations.SpeakerUser})

	waitForCondition(t, 2*time.Second, "user turn to be finalised", func() bool {
		return len(engine.Snapshot().Turns) == 1
	})
	turn := engine.Snapshot().Turns[0]
	if turn.Text() != "what is acme trading at" {
		t.Fatalf("expected final text only, got %q", turn.Text())
	}
	if len(turn.Fragments) != 1 || !turn.IsFinalised {
		t.Fatalf("expected a single final fragment on a finalised turn, got %+v", turn)
	}
}

func TestSpeechStartFinalisesPreviousTurn(t *testing.T) {
	engine, dialer, _, _ := newTestEngine()
	startEngine(t, engine, testConfig())
	defer engine.Stop(context.Background(), WithInterruptedPlayback())

	conn := dialer.conn(0)
	conn.emit(channel.SpeechStarted{Speaker: conversations.SpeakerUser})
	conn.emit(channel.FinalTranscript{Speaker: conversations.SpeakerUser, Text: "first"})
	conn.emit(channel.SpeechStarted{Speaker: conversations.SpeakerUser})
	conn.emit(channel.FinalTranscript{Speaker: conversations.SpeakerUser, Text: "second"})

	waitForCondition(t, 2*time.Second, "second turn", func() bool {
		open, ok := engine.Snapshot().OpenTurn(conversations.SpeakerUser)
		return ok && open.Text() == "second"
	})
	snapshot := engine.Snapshot()
	if len(snapshot.Turns) != 1 || snapshot.Turns[0].Text() != "first" {
		t.Fatalf("expected the first turn to be finalised, got %+v", snapshot.Turns)
	}
	if len(snapshot.OpenTurns) != 1 {
		t.Fatalf("expected one open turn, got %d", len(snapshot.OpenTurns))
	}
}

func TestIdleTurnIsFinalisedAfterTalkEnds(t *testing.T) {
	engine, dialer, _, _ := newTestEngine()
	cfg := testConfig()
	cfg.TurnIdleTimeout = 100 * time.Millisecond
	startEngine(t, engine, cfg)
	defer engine.Stop(context.Background(), WithInterruptedPlayback())

	if err := engine.BeginTalk(); err != nil {
		t.Fatalf("unexpected begin talk error: %v", err)
	}
	conn := dialer.conn(0)
	conn.emit(channel.SpeechStarted{Speaker: conversations.SpeakerUser})
	conn.emit(channel.PartialTranscript{Speaker: conversations.SpeakerUser, Text: "hello there"})

	time.Sleep(300 * time.Millisecond)
	if turns := engine.Snapshot().Turns; len(turns) != 0 {
		t.Fatalf("expected the turn to stay open while talking, got %+v", turns)
	}

	if err := engine.EndTalk(); err != nil {
		t.Fatalf("unexpected end talk error: %v", err)
	}
	waitForCondition(t, 2*time.Second, "idle turn to be finalised", func() bool {
		return len(engine.Snapshot().Turns) == 1
	})
	if text := engine.Snapshot().Turns[0].Text(); text != "hello there" {
		t.Fatalf("expected the pending partial to be committed, got %q", text)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	engine, dialer, _, _ := newTestEngine()
	startEngine(t, engine, testConfig())
	defer engine.Stop(context.Background(), WithInterruptedPlayback())

	conn := dialer.conn(0)
	conn.emit(channel.FinalTranscript{Speaker: conversations.SpeakerUser, Text: "original"})
	conn.emit(channel.TurnEnd{Speaker: conversations.SpeakerUser})
	waitForCondition(t, 2*time.Second, "turn", func() bool {
		return len(engine.Snapshot().Turns) == 1
	})

	snapshot := engine.Snapshot()
	snapshot.Turns[0].Fragments[0].Text = "changed"

	if text := engine.Snapshot().Turns[0].Text(); text != "original" {
		t.Fatalf("expected the session to be unaffected by snapshot changes, got %q", text)
	}
}
