package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/channel"
	"github.com/koscakluka/ema-voice/core/conversations"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/tools"
	"github.com/koscakluka/ema-voice/core/tools/stock"
)

func TestStockPriceConversation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/ACME") {
			t.Errorf("expected ACME lookup, got %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{"currency":"USD","symbol":"ACME","longName":"Acme Corp","regularMarketPrice":110,"chartPreviousClose":100}}],"error":null}}`))
	}))
	defer server.Close()

	registry := tools.NewRegistry()
	if err := registry.Register(stock.Name, stock.NewClient(stock.WithBaseURL(server.URL)).Capability()); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	engine, dialer, devices, _ := newTestEngine(WithToolRegistry(registry))
	startEngine(t, engine, testConfig())

	if definitions := dialer.config(0).Tools; len(definitions) != 1 || definitions[0].Name != stock.Name {
		t.Fatalf("expected the stock tool to be offered, got %+v", definitions)
	}

	conn := dialer.conn(0)
	conn.emit(channel.SpeechStarted{Speaker: conversations.SpeakerUser})
	conn.emit(channel.PartialTranscript{Speaker: conversations.SpeakerUser, Text: "what's the price"})
	conn.emit(channel.FinalTranscript{Speaker: conversations.SpeakerUser, Text: "What's the price of ACME?"})
	conn.emit(channel.TurnEnd{Speaker: conversations.SpeakerUser})
	conn.emit(channel.ToolCallRequested{CallID: "call-acme", Name: stock.Name, Args: json.RawMessage(`{"symbol":"ACME"}`)})

	waitForCondition(t, 2*time.Second, "stock result", func() bool {
		return len(conn.toolResults()) == 1
	})
	result := conn.toolResults()[0]
	var quote stock.Quote
	if err := json.Unmarshal([]byte(result.Content), &quote); err != nil {
		t.Fatalf("expected a quote payload, got %q", result.Content)
	}
	if result.CallID != "call-acme" || quote.Symbol != "ACME" || quote.Price != 110 {
		t.Fatalf("expected the ACME quote, got %+v", quote)
	}

	conn.emit(channel.SpeechStarted{Speaker: conversations.SpeakerAssistant})
	conn.emit(channel.FinalTranscript{Speaker: conversations.SpeakerAssistant, Text: "Acme Corp is trading at 110 dollars."})
	conn.emit(channel.AudioResponseChunk{Chunk: audio.Chunk{Data: make([]byte, 640)}})
	conn.emit(channel.AudioResponseChunk{Chunk: audio.Chunk{Data: make([]byte, 640)}})
	conn.emit(channel.TurnEnd{Speaker: conversations.SpeakerAssistant})

	waitForCondition(t, 2*time.Second, "assistant turn to be finalised", func() bool {
		return len(engine.Snapshot().Turns) == 2
	})
	devices.currentSink().Read(make([]byte, 4096))
	waitForCondition(t, 2*time.Second, "listening after the answer", func() bool {
		return engine.State() == StateListening
	})

	if err := engine.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	turns := engine.Snapshot().Turns
	if turns[0].Speaker != conversations.SpeakerUser || turns[0].Text() != "What's the price of ACME?" {
		t.Fatalf("expected the user question first, got %+v", turns[0])
	}
	answer := turns[1]
	if answer.Speaker != conversations.SpeakerAssistant || answer.Text() != "Acme Corp is trading at 110 dollars." {
		t.Fatalf("expected the assistant answer second, got %+v", answer)
	}
	if len(answer.ToolInvocations) != 1 || answer.ToolInvocations[0].Status != conversations.ToolStatusSucceeded {
		t.Fatalf("expected the stock lookup on the answer turn, got %+v", answer.ToolInvocations)
	}
	if answer.Audio.Chunks != 2 {
		t.Fatalf("expected 2 audio chunks, got %d", answer.Audio.Chunks)
	}
}

func TestReconnectResumesOpenTurn(t *testing.T) {
	engine, dialer, _, recorder := newTestEngine()
	startEngine(t, engine, testConfig())
	defer engine.Stop(context.Background(), WithInterruptedPlayback())

	first := dialer.conn(0)
	first.emit(channel.SpeechStarted{Speaker: conversations.SpeakerUser})
	first.emit(channel.PartialTranscript{Speaker: conversations.SpeakerUser, Text: "book a table for"})
	first.emit(channel.NewTransientError(errLinkDown))

	waitForCondition(t, 2*time.Second, "reconnect", func() bool {
		return engine.Snapshot().Reconnects == 1 && engine.State() == StateListening
	})
	waitForCondition(t, 2*time.Second, "dropped channel to be closed", func() bool {
		return first.closeCount() == 1
	})
	open, ok := engine.Snapshot().OpenTurn(conversations.SpeakerUser)
	if !ok || open.PendingText() != "book a table for" {
		t.Fatalf("expected the user turn to stay open, got %+v", open)
	}

	second := dialer.conn(1)
	second.emit(channel.SpeechStarted{Speaker: conversations.SpeakerUser})
	second.emit(channel.FinalTranscript{Speaker: conversations.SpeakerUser, Text: "book a table for two"})
	second.emit(channel.TurnEnd{Speaker: conversations.SpeakerUser})

	waitForCondition(t, 2*time.Second, "user turn to be finalised", func() bool {
		return len(engine.Snapshot().Turns) == 1
	})
	turn := engine.Snapshot().Turns[0]
	if turn.ID != open.ID || turn.Text() != "book a table for two" {
		t.Fatalf("expected the resumed turn to be finalised, got %+v", turn)
	}

	started := 0
	recorder.mu.Lock()
	for _, event := range recorder.events {
		if e, ok := event.(events.TurnStarted); ok && e.Speaker == conversations.SpeakerUser {
			started++
		}
	}
	recorder.mu.Unlock()
	if started != 1 {
		t.Fatalf("expected a single user turn to be started, got %d", started)
	}

	recorder.waitFor(t, "reconnecting state event", func(event events.Event) bool {
		changed, ok := event.(events.SessionStateChanged)
		return ok && changed.To == string(StateReconnecting)
	})
}

var errLinkDown = errors.New("link down")
