package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/channel"
	"github.com/koscakluka/ema-voice/core/conversations"
)

func newListenServer(t *testing.T, script func(ws *websocket.Conn, r *http.Request)) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		script(ws, r)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestTranscriptionEventsFormOneUserTurn(t *testing.T) {
	queries := make(chan string, 1)
	url := newListenServer(t, func(ws *websocket.Conn, r *http.Request) {
		queries <- r.URL.RawQuery
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"SpeechStarted","channel":[0],"timestamp":0.1}`))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":false,"speech_final":false,"channel":{"alternatives":[{"transcript":"what's the"}]}}`))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"what's the price of ACME"}]}}`))
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_, _, _ = ws.ReadMessage()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := NewDialer(WithURL(url), WithKeepAliveInterval(0)).Connect(ctx, channel.ConnectConfig{
		Credential: "key",
		Encoding:   audio.GetDefaultEncodingInfo(),
	})
	if err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	defer conn.Close()

	var received []channel.Event
	for event := range conn.Events(ctx) {
		received = append(received, event)
	}

	expected := []channel.Event{
		channel.SpeechStarted{Speaker: conversations.SpeakerUser},
		channel.PartialTranscript{Speaker: conversations.SpeakerUser, Text: "what's the"},
		channel.FinalTranscript{Speaker: conversations.SpeakerUser, Text: "what's the price of ACME"},
		channel.TurnEnd{Speaker: conversations.SpeakerUser},
	}
	if len(received) != len(expected) {
		t.Fatalf("expected %d events, got %d: %#v", len(expected), len(received), received)
	}
	for i := range expected {
		if received[i] != expected[i] {
			t.Fatalf("event %d: expected %#v, got %#v", i, expected[i], received[i])
		}
	}

	query := <-queries
	if !strings.Contains(query, "encoding=linear16") || !strings.Contains(query, "sample_rate=16000") {
		t.Fatalf("expected encoding in query, got %s", query)
	}
}

func TestToolResultsAreUnsupported(t *testing.T) {
	url := newListenServer(t, func(ws *websocket.Conn, _ *http.Request) {
		_, _, _ = ws.ReadMessage()
	})

	conn, err := NewDialer(WithURL(url), WithKeepAliveInterval(0)).Connect(context.Background(), channel.ConnectConfig{Credential: "key"})
	if err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	defer conn.Close()

	err = conn.SubmitToolResult(context.Background(), channel.ToolResult{CallID: "1"})
	if !errors.Is(err, channel.ErrToolResultsUnsupported) {
		t.Fatalf("expected ErrToolResultsUnsupported, got %v", err)
	}
}

func TestConvertEncodingRejectsUnsupportedRates(t *testing.T) {
	if _, err := convertEncoding(audio.EncodingInfo{SampleRate: 44100, Format: audio.EncodingLinear16}); err == nil {
		t.Fatalf("expected 44.1kHz to be rejected")
	}
	if _, err := convertEncoding(audio.EncodingInfo{SampleRate: 16000, Format: audio.EncodingMulaw}); err == nil {
		t.Fatalf("expected 16kHz mulaw to be rejected")
	}
	encoding, err := convertEncoding(audio.EncodingInfo{SampleRate: 8000, Format: audio.EncodingMulaw})
	if err != nil || encoding.Format != encodingMulaw {
		t.Fatalf("expected 8kHz mulaw to be accepted, got %+v (%v)", encoding, err)
	}
}
