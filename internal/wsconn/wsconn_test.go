package wsconn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/channel"
)

func newServer(t *testing.T, handle func(ws *websocket.Conn)) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handle(ws)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func chunk(seq uint64, size int) audio.Chunk {
	return audio.Chunk{Seq: seq, Timestamp: time.Now(), Data: make([]byte, size), Encoding: audio.GetDefaultEncodingInfo()}
}

func TestStalledPeerHandsBackQueuedAudio(t *testing.T) {
	release := make(chan struct{})
	url := newServer(t, func(ws *websocket.Conn) {
		<-release
		ws.UnderlyingConn().Close()
	})

	conn, err := Dial(context.Background(), url, nil, 8)
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}

	// Fill the socket buffers and the queue until the writer is stuck.
	var accepted uint64
	var fullSince time.Time
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		err := conn.EnqueueChunk(chunk(accepted+1, 256*1024))
		switch {
		case err == nil:
			accepted++
			fullSince = time.Time{}
			continue
		case !errors.Is(err, channel.ErrSendQueueFull):
			t.Fatalf("unexpected enqueue error: %v", err)
		}
		if fullSince.IsZero() {
			fullSince = time.Now()
		} else if time.Since(fullSince) > 200*time.Millisecond {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if fullSince.IsZero() {
		t.Fatalf("expected the queue to fill up against a stalled peer")
	}

	close(release)
	if err := conn.Close(); err != nil {
		t.Logf("close: %v", err)
	}

	unsent := conn.UnsentAudio()
	if len(unsent) < 8 {
		t.Fatalf("expected at least the 8 queued chunks back, got %d", len(unsent))
	}
	if last := unsent[len(unsent)-1].Seq; last != accepted {
		t.Fatalf("expected the last unsent chunk to be seq %d, got %d", accepted, last)
	}
	for i := 1; i < len(unsent); i++ {
		if unsent[i].Seq != unsent[i-1].Seq+1 {
			t.Fatalf("expected unsent chunks in send order, got seq %d after %d", unsent[i].Seq, unsent[i-1].Seq)
		}
	}

	if err := conn.EnqueueChunk(chunk(accepted+1, 640)); !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestHealthyPeerLeavesNothingUnsent(t *testing.T) {
	var received atomic.Int32
	done := make(chan struct{})
	url := newServer(t, func(ws *websocket.Conn) {
		defer close(done)
		defer ws.Close()
		for {
			kind, _, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				received.Add(1)
			}
		}
	})

	conn, err := Dial(context.Background(), url, nil, 16)
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	for seq := uint64(1); seq <= 10; seq++ {
		if err := conn.EnqueueChunk(chunk(seq, 640)); err != nil {
			t.Fatalf("unexpected enqueue error: %v", err)
		}
	}
	if err := conn.EnqueueJSON(map[string]string{"type": "KeepAlive"}); err != nil {
		t.Fatalf("unexpected enqueue error: %v", err)
	}
	conn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the server to see the close")
	}
	if got := received.Load(); got != 10 {
		t.Fatalf("expected 10 audio frames, got %d", got)
	}
	if unsent := conn.UnsentAudio(); len(unsent) != 0 {
		t.Fatalf("expected no unsent audio, got %d chunks", len(unsent))
	}
}

func TestSubmitJSONWaitsForRoom(t *testing.T) {
	var texts atomic.Int32
	url := newServer(t, func(ws *websocket.Conn) {
		defer ws.Close()
		for {
			kind, _, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.TextMessage {
				texts.Add(1)
			}
		}
	})

	conn, err := Dial(context.Background(), url, nil, 1)
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 20; i++ {
		if err := conn.SubmitJSON(ctx, map[string]int{"n": i}); err != nil {
			t.Fatalf("unexpected submit error: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for texts.Load() != 20 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := texts.Load(); got != 20 {
		t.Fatalf("expected 20 text frames, got %d", got)
	}
}
