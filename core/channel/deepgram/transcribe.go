package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/channel"
	"github.com/koscakluka/ema-voice/core/conversations"
	"github.com/koscakluka/ema-voice/internal/wsconn"
)

type controlMessage struct {
	Type string `json:"type"`
}

type conn struct {
	ws                *wsconn.Conn
	keepAliveInterval time.Duration

	events    chan channel.Event
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	lastSend atomic.Int64

	// reader goroutine state
	unendedSegment bool
}

func newConn(ws *wsconn.Conn, keepAliveInterval time.Duration) *conn {
	c := &conn{
		ws:                ws,
		keepAliveInterval: keepAliveInterval,
		events:            make(chan channel.Event, defaultEventBuffer),
		closing:           make(chan struct{}),
		done:              make(chan struct{}),
	}
	c.lastSend.Store(time.Now().UnixNano())

	go c.readAndProcessMessages()
	if keepAliveInterval > 0 {
		go c.keepAlive()
	}
	return c
}

func (c *conn) Send(chunk audio.Chunk) error {
	if err := c.ws.EnqueueChunk(chunk); err != nil {
		return err
	}
	c.lastSend.Store(time.Now().UnixNano())
	return nil
}

func (c *conn) UnsentAudio() []audio.Chunk { return c.ws.UnsentAudio() }

func (c *conn) Events(ctx context.Context) iter.Seq[channel.Event] {
	return func(yield func(channel.Event) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-c.events:
				if !ok {
					return
				}
				if !yield(event) {
					return
				}
			}
		}
	}
}

func (c *conn) SubmitToolResult(context.Context, channel.ToolResult) error {
	return channel.ErrToolResultsUnsupported
}

// Close asks Deepgram to flush the stream and closes the socket.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.ws.EnqueueJSON(controlMessage{Type: string(api.TypeCloseStreamResponse)})
		close(c.closing)
		err = c.ws.Close()
		<-c.done
	})
	return err
}

// keepAlive stops Deepgram from closing the stream while push-to-talk is
// released and no audio is sent.
func (c *conn) keepAlive() {
	ticker := time.NewTicker(c.keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closing:
			return
		case <-c.done:
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, c.lastSend.Load()))
			if idle < c.keepAliveInterval {
				continue
			}
			if err := c.ws.EnqueueJSON(controlMessage{Type: "KeepAlive"}); err != nil {
				logger.Debug("failed to send deepgram keep alive", "error", err)
			}
		}
	}
}

func (c *conn) readAndProcessMessages() {
	defer close(c.done)
	defer close(c.events)

	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			if channelErr := c.ws.ClassifyReadError(err); channelErr != nil {
				c.emit(channelErr)
			}
			return
		}
		if msgType == websocket.BinaryMessage {
			continue
		}
		if err := c.processMessage(msg); err != nil {
			c.emit(channel.NewFatalError(err))
			return
		}
	}
}

func (c *conn) processMessage(msg []byte) error {
	var parsedMsg controlMessage
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		return fmt.Errorf("malformed deepgram message: %w", err)
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			return fmt.Errorf("malformed deepgram results: %w", err)
		}

		transcript := ""
		if len(msgResp.Channel.Alternatives) > 0 {
			transcript = strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
		}
		if transcript != "" {
			c.startSegment()
			if msgResp.IsFinal {
				c.emit(channel.FinalTranscript{Speaker: conversations.SpeakerUser, Text: transcript})
			} else {
				c.emit(channel.PartialTranscript{Speaker: conversations.SpeakerUser, Text: transcript})
			}
		}
		if msgResp.IsFinal && msgResp.SpeechFinal {
			c.endSegment()
		}

	case api.TypeUtteranceEndResponse:
		c.endSegment()

	case api.TypeSpeechStartedResponse:
		c.startSegment()

	case "Error":
		var errResp struct {
			Description string `json:"description"`
			Message     string `json:"message"`
		}
		_ = json.Unmarshal(msg, &errResp)
		return fmt.Errorf("deepgram error: %s %s", errResp.Description, errResp.Message)

	default:
		logger.Debug("unhandled deepgram message", "type", parsedMsg.Type)
	}
	return nil
}

func (c *conn) startSegment() {
	if !c.unendedSegment {
		c.unendedSegment = true
		c.emit(channel.SpeechStarted{Speaker: conversations.SpeakerUser})
	}
}

func (c *conn) endSegment() {
	if c.unendedSegment {
		c.unendedSegment = false
		c.emit(channel.TurnEnd{Speaker: conversations.SpeakerUser})
	}
}

func (c *conn) emit(event channel.Event) {
	select {
	case c.events <- event:
	case <-c.closing:
	}
}
