package flow

import (
	"context"
	"encoding/json"
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

type clientMessage struct {
	Message string `json:"message"`
	ID      string `json:"id"`
	Status  string `json:"status"`
	Content string `json:"content"`
	SeqNo   uint64 `json:"seq_no"`
}

func newFlowServer(t *testing.T, script func(ws *websocket.Conn, start map[string]any)) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		var start map[string]any
		if err := ws.ReadJSON(&start); err != nil {
			return
		}
		if err := ws.WriteJSON(map[string]any{"message": "ConversationStarted", "id": "conv-1"}); err != nil {
			return
		}
		script(ws, start)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func readUntil(ws *websocket.Conn, messageType string) (clientMessage, error) {
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			return clientMessage{}, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return clientMessage{}, err
		}
		if msg.Message == messageType {
			return msg, nil
		}
	}
}

func connect(t *testing.T, url string, tools ...channel.ToolDefinition) channel.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := NewDialer(WithURL(url)).Connect(ctx, channel.ConnectConfig{
		Credential: "secret",
		Encoding:   audio.GetDefaultEncodingInfo(),
		Tools:      tools,
	})
	if err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestConversationTranslatesServerMessagesInOrder(t *testing.T) {
	toolResults := make(chan clientMessage, 1)
	startMessages := make(chan map[string]any, 1)

	url := newFlowServer(t, func(ws *websocket.Conn, start map[string]any) {
		startMessages <- start
		_ = ws.WriteJSON(map[string]any{"message": "AddPartialTranscript", "metadata": map[string]any{"transcript": "what's the"}})
		_ = ws.WriteJSON(map[string]any{"message": "AddTranscript", "metadata": map[string]any{"transcript": "what's the price of ACME"}})
		_ = ws.WriteJSON(map[string]any{
			"message":  "ToolInvoke",
			"id":       "call-1",
			"function": map[string]any{"name": "stock_price", "arguments": map[string]any{"symbol": "ACME"}},
		})

		result, err := readUntil(ws, "ToolResult")
		if err != nil {
			return
		}
		toolResults <- result

		_ = ws.WriteJSON(map[string]any{"message": "ResponseStarted", "content": ""})
		_ = ws.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4})
		_ = ws.WriteJSON(map[string]any{"message": "ResponseCompleted", "content": "ACME trades at 42"})
		if _, err := readUntil(ws, "AudioReceived"); err != nil {
			return
		}
		_ = ws.WriteJSON(map[string]any{"message": "ConversationEnded"})
	})

	conn := connect(t, url, channel.ToolDefinition{Name: "stock_price", Parameters: json.RawMessage(`{"type":"object"}`)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var received []channel.Event
	for event := range conn.Events(ctx) {
		received = append(received, event)
		if call, ok := event.(channel.ToolCallRequested); ok {
			if err := conn.SubmitToolResult(ctx, channel.ToolResult{CallID: call.CallID, Status: channel.ToolResultOK, Content: `{"price":42}`}); err != nil {
				t.Fatalf("unexpected submit error: %v", err)
			}
		}
	}
	if ctx.Err() != nil {
		t.Fatalf("expected event sequence to end on ConversationEnded, got timeout after %d events", len(received))
	}

	start := <-startMessages
	if tools, _ := start["tools"].([]any); len(tools) != 1 {
		t.Fatalf("expected 1 tool in StartConversation, got %v", start["tools"])
	}
	if format, _ := start["audio_format"].(map[string]any); format["encoding"] != "pcm_s16le" {
		t.Fatalf("expected pcm_s16le audio format, got %v", start["audio_format"])
	}

	result := <-toolResults
	if result.ID != "call-1" || result.Status != "ok" || result.Content != `{"price":42}` {
		t.Fatalf("expected tool result for call-1, got %+v", result)
	}

	expected := []channel.Event{
		channel.SpeechStarted{Speaker: conversations.SpeakerUser},
		channel.PartialTranscript{Speaker: conversations.SpeakerUser, Text: "what's the"},
		channel.FinalTranscript{Speaker: conversations.SpeakerUser, Text: "what's the price of ACME"},
		channel.TurnEnd{Speaker: conversations.SpeakerUser},
		channel.ToolCallRequested{CallID: "call-1", Name: "stock_price"},
		channel.SpeechStarted{Speaker: conversations.SpeakerAssistant},
		channel.AudioResponseChunk{},
		channel.FinalTranscript{Speaker: conversations.SpeakerAssistant, Text: "ACME trades at 42"},
		channel.TurnEnd{Speaker: conversations.SpeakerAssistant},
	}
	if len(received) != len(expected) {
		t.Fatalf("expected %d events, got %d: %#v", len(expected), len(received), received)
	}

	for i, want := range expected {
		got := received[i]
		switch want := want.(type) {
		case channel.ToolCallRequested:
			call, ok := got.(channel.ToolCallRequested)
			if !ok || call.CallID != want.CallID || call.Name != want.Name {
				t.Fatalf("event %d: expected %#v, got %#v", i, want, got)
			}
			var args struct{ Symbol string }
			if err := json.Unmarshal(call.Args, &args); err != nil || args.Symbol != "ACME" {
				t.Fatalf("expected ACME symbol argument, got %s (%v)", call.Args, err)
			}
		case channel.AudioResponseChunk:
			chunk, ok := got.(channel.AudioResponseChunk)
			if !ok || chunk.Chunk.Seq != 1 || len(chunk.Chunk.Data) != 4 {
				t.Fatalf("event %d: expected first audio chunk, got %#v", i, got)
			}
		default:
			if got != want {
				t.Fatalf("event %d: expected %#v, got %#v", i, want, got)
			}
		}
	}
}

func TestConnectRejectsInvalidCredentialAsFatal(t *testing.T) {
	url := newFlowServer(t, func(*websocket.Conn, map[string]any) {})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewDialer(WithURL(url)).Connect(ctx, channel.ConnectConfig{Credential: "wrong"})
	if err == nil {
		t.Fatalf("expected connect to fail")
	}
	if !channel.IsFatal(err) {
		t.Fatalf("expected auth rejection to be fatal, got %v", err)
	}
}

func TestMalformedMessageEndsWithFatalError(t *testing.T) {
	url := newFlowServer(t, func(ws *websocket.Conn, _ map[string]any) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		_, _, _ = ws.ReadMessage()
	})
	conn := connect(t, url)

	last := lastEvent(t, conn)
	channelErr, ok := last.(*channel.ChannelError)
	if !ok || channelErr.Kind != channel.ErrorKindFatal {
		t.Fatalf("expected fatal channel error, got %#v", last)
	}
}

func TestServerErrorMessageIsFatal(t *testing.T) {
	url := newFlowServer(t, func(ws *websocket.Conn, _ map[string]any) {
		_ = ws.WriteJSON(map[string]any{"message": "Error", "type": "not_authorised", "reason": "token expired"})
		_, _, _ = ws.ReadMessage()
	})
	conn := connect(t, url)

	last := lastEvent(t, conn)
	if !channel.IsFatal(last.(error)) {
		t.Fatalf("expected fatal error, got %#v", last)
	}
}

func TestDroppedSocketEndsWithTransientError(t *testing.T) {
	url := newFlowServer(t, func(ws *websocket.Conn, _ map[string]any) {
		_ = ws.UnderlyingConn().Close()
	})
	conn := connect(t, url)

	last := lastEvent(t, conn)
	channelErr, ok := last.(*channel.ChannelError)
	if !ok || channelErr.Kind != channel.ErrorKindTransient {
		t.Fatalf("expected transient channel error, got %#v", last)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	url := newFlowServer(t, func(ws *websocket.Conn, _ map[string]any) {
		_, _ = readUntil(ws, "AudioEnded")
	})
	conn := connect(t, url)

	if err := conn.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("expected second close to be a no-op, got %v", err)
	}
	if err := conn.Send(audio.Chunk{Seq: 1, Data: []byte{0, 0}}); !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func lastEvent(t *testing.T, conn channel.Conn) channel.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var last channel.Event
	for event := range conn.Events(ctx) {
		last = event
	}
	if last == nil {
		t.Fatalf("expected at least one event")
	}
	return last
}
