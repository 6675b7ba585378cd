package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/channel"
	"github.com/koscakluka/ema-voice/core/conversations"
	"github.com/koscakluka/ema-voice/internal/wsconn"
)

var errMissingMessageType = errors.New("message without type")

type conn struct {
	ws             *wsconn.Conn
	encoding       audio.EncodingInfo
	conversationID string

	events    chan channel.Event
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	sentSeq atomic.Uint64

	// reader goroutine state
	userOpen      bool
	assistantOpen bool
	receivedSeq   uint64
}

func newConn(ws *wsconn.Conn, encoding audio.EncodingInfo, conversationID string) *conn {
	c := &conn{
		ws:             ws,
		encoding:       encoding,
		conversationID: conversationID,
		events:         make(chan channel.Event, defaultEventBuffer),
		closing:        make(chan struct{}),
		done:           make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *conn) Send(chunk audio.Chunk) error {
	if err := c.ws.EnqueueChunk(chunk); err != nil {
		return err
	}
	c.sentSeq.Add(1)
	return nil
}

func (c *conn) UnsentAudio() []audio.Chunk { return c.ws.UnsentAudio() }

// Events yields the translated server messages. It is meant to be consumed
// by a single goroutine.
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

func (c *conn) SubmitToolResult(ctx context.Context, result channel.ToolResult) error {
	status := string(result.Status)
	if status == "" {
		status = string(channel.ToolResultOK)
	}
	if err := c.ws.SubmitJSON(ctx, toolResult{
		Message: messageToolResult,
		ID:      result.CallID,
		Status:  status,
		Content: result.Content,
	}); err != nil {
		return fmt.Errorf("failed to submit tool result %s: %w", result.CallID, err)
	}
	return nil
}

// Close tells the server no more audio follows and closes the socket.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.ws.EnqueueJSON(audioEnded{Message: messageAudioEnded, LastSeqNo: c.sentSeq.Load()})
		close(c.closing)
		err = c.ws.Close()
		<-c.done
	})
	return err
}

func (c *conn) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if channelErr := c.ws.ClassifyReadError(err); channelErr != nil {
				c.emit(channelErr)
			}
			return
		}

		if messageType == websocket.BinaryMessage {
			c.handleAudio(data)
			continue
		}

		msg, err := parseServerMessage(data)
		if err != nil {
			c.emit(channel.NewFatalError(err))
			return
		}
		if done := c.handleMessage(msg); done {
			return
		}
	}
}

func (c *conn) handleAudio(data []byte) {
	c.receivedSeq++
	if err := c.ws.EnqueueJSON(audioReceived{
		Message:   messageAudioReceived,
		SeqNo:     c.receivedSeq,
		Buffering: c.encoding.Duration(len(data)).Seconds(),
	}); err != nil {
		logger.Debug("failed to acknowledge flow audio", "seq_no", c.receivedSeq, "error", err)
	}

	c.openAssistant()
	c.emit(channel.AudioResponseChunk{Chunk: audio.Chunk{
		Seq:       c.receivedSeq,
		Timestamp: time.Now(),
		Data:      data,
		Encoding:  c.encoding,
	}})
}

// handleMessage translates one server message and reports whether the
// conversation is over.
func (c *conn) handleMessage(msg serverMessage) bool {
	switch msg.Message {
	case messageAddPartialTranscript:
		if text := strings.TrimSpace(msg.Metadata.Transcript); text != "" {
			c.openUser()
			c.emit(channel.PartialTranscript{Speaker: conversations.SpeakerUser, Text: text})
		}

	case messageAddTranscript:
		if text := strings.TrimSpace(msg.Metadata.Transcript); text != "" {
			c.openUser()
			c.emit(channel.FinalTranscript{Speaker: conversations.SpeakerUser, Text: text})
		}

	case messageResponseStarted:
		c.closeUser()
		c.openAssistant()
		if content := strings.TrimSpace(msg.Content); content != "" {
			c.emit(channel.PartialTranscript{Speaker: conversations.SpeakerAssistant, Text: content})
		}

	case messageResponseCompleted, messageResponseInterrupted:
		c.openAssistant()
		if content := strings.TrimSpace(msg.Content); content != "" {
			c.emit(channel.FinalTranscript{Speaker: conversations.SpeakerAssistant, Text: content})
		}
		c.assistantOpen = false
		c.emit(channel.TurnEnd{
			Speaker:     conversations.SpeakerAssistant,
			Interrupted: msg.Message == messageResponseInterrupted,
		})

	case messageToolInvoke:
		c.closeUser()
		c.emit(channel.ToolCallRequested{
			CallID: msg.ID,
			Name:   msg.Function.Name,
			Args:   normalizeArguments(msg.Function.Arguments),
		})

	case messageError:
		c.emit(channel.NewFatalError(serverError(msg)))
		return true

	case messageWarning:
		logger.Warn("flow warning", "type", msg.Type, "reason", msg.Reason)

	case messageInfo:
		logger.Debug("flow info", "type", msg.Type, "reason", msg.Reason)

	case messageConversationEnding:
		logger.Info("flow conversation ending", "conversation_id", c.conversationID)

	case messageConversationEnded:
		return true

	case messageAudioAdded, messageConversationStarted:

	default:
		logger.Debug("unhandled flow message", "message", msg.Message)
	}
	return false
}

func (c *conn) openUser() {
	if !c.userOpen {
		c.userOpen = true
		c.emit(channel.SpeechStarted{Speaker: conversations.SpeakerUser})
	}
}

func (c *conn) closeUser() {
	if c.userOpen {
		c.userOpen = false
		c.emit(channel.TurnEnd{Speaker: conversations.SpeakerUser})
	}
}

func (c *conn) openAssistant() {
	if !c.assistantOpen {
		c.assistantOpen = true
		c.emit(channel.SpeechStarted{Speaker: conversations.SpeakerAssistant})
	}
}

// emit blocks while the consumer is behind, which in turn stops reading from
// the socket. Nothing is reordered or dropped until the connection closes.
func (c *conn) emit(event channel.Event) {
	select {
	case c.events <- event:
	case <-c.closing:
	}
}

func parseServerMessage(data []byte) (serverMessage, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("malformed server message: %w", err)
	}
	if msg.Message == "" {
		return msg, fmt.Errorf("malformed server message: %w", errMissingMessageType)
	}
	return msg, nil
}

// normalizeArguments accepts arguments sent either as a JSON object or as a
// JSON string containing one.
func normalizeArguments(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		return json.RawMessage(encoded)
	}
	return raw
}

func serverError(msg serverMessage) error {
	return fmt.Errorf("flow server error %s: %s", msg.Type, msg.Reason)
}
