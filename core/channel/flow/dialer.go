package flow

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/channel"
	"github.com/koscakluka/ema-voice/internal/wsconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultURL        = "wss://flow.api.speechmatics.com/v1/flow"
	DefaultTemplateID = "flow-service-assistant-humphrey"

	defaultHandshakeTimeout = 10 * time.Second
	defaultEventBuffer      = 256
)

// Dialer connects to a Flow conversation service.
type Dialer struct {
	url               string
	templateID        string
	templateVariables map[string]string
	sendQueueSize     int
	handshakeTimeout  time.Duration
}

type DialerOption func(*Dialer)

func WithURL(url string) DialerOption {
	return func(d *Dialer) { d.url = url }
}

func WithTemplate(templateID string, variables map[string]string) DialerOption {
	return func(d *Dialer) {
		d.templateID = templateID
		d.templateVariables = variables
	}
}

func WithSendQueueSize(size int) DialerOption {
	return func(d *Dialer) { d.sendQueueSize = size }
}

func WithHandshakeTimeout(timeout time.Duration) DialerOption {
	return func(d *Dialer) { d.handshakeTimeout = timeout }
}

func NewDialer(opts ...DialerOption) *Dialer {
	d := &Dialer{
		url:              DefaultURL,
		templateID:       DefaultTemplateID,
		sendQueueSize:    wsconn.DefaultQueueSize,
		handshakeTimeout: defaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect opens the websocket, starts the conversation and waits until the
// server confirms it.
func (d *Dialer) Connect(ctx context.Context, config channel.ConnectConfig) (_ channel.Conn, err error) {
	ctx, span := tracer.Start(ctx, "connect flow conversation", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("flow.template_id", d.templateID))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to connect")
		}
		span.End()
	}()

	encoding := config.Encoding
	if encoding.IsZero() {
		encoding = audio.GetDefaultEncodingInfo()
	}
	if encoding.Format != audio.EncodingLinear16 {
		return nil, &channel.ConnectError{Kind: channel.ErrorKindFatal, Err: fmt.Errorf("unsupported audio format %s", encoding.Format.Name())}
	}
	if config.Credential == "" {
		return nil, &channel.ConnectError{Kind: channel.ErrorKindFatal, Err: fmt.Errorf("missing credential")}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+config.Credential)
	ws, err := wsconn.Dial(ctx, d.url, header, d.sendQueueSize)
	if err != nil {
		return nil, err
	}

	start := startConversation{
		Message: messageStartConversation,
		AudioFormat: audioFormat{
			Type:       "raw",
			Encoding:   "pcm_s16le",
			SampleRate: encoding.SampleRate,
		},
		ConversationConfig: conversationConfig{
			TemplateID:        d.templateID,
			TemplateVariables: d.templateVariables,
		},
	}
	for _, definition := range config.Tools {
		start.Tools = append(start.Tools, tool{
			Type: "function",
			Function: toolFunction{
				Name:        definition.Name,
				Description: definition.Description,
				Parameters:  definition.Parameters,
			},
		})
	}

	conversationID, err := d.handshake(ctx, ws, start)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	span.SetAttributes(attribute.String("flow.conversation_id", conversationID))
	logger.Info("flow conversation started", "conversation_id", conversationID)

	return newConn(ws, encoding, conversationID), nil
}

func (d *Dialer) handshake(ctx context.Context, ws *wsconn.Conn, start startConversation) (string, error) {
	if err := ws.WriteJSONDirect(start); err != nil {
		return "", &channel.ConnectError{Kind: channel.ErrorKindTransient, Err: fmt.Errorf("failed to start conversation: %w", err)}
	}

	deadline := time.Now().Add(d.handshakeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = ws.SetReadDeadline(deadline)
	defer func() { _ = ws.SetReadDeadline(time.Time{}) }()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			kind := channel.ErrorKindTransient
			if channelErr := ws.ClassifyReadError(err); channelErr != nil {
				kind = channelErr.Kind
			}
			return "", &channel.ConnectError{Kind: kind, Err: fmt.Errorf("failed waiting for conversation start: %w", err)}
		}

		msg, err := parseServerMessage(data)
		if err != nil {
			return "", &channel.ConnectError{Kind: channel.ErrorKindFatal, Err: err}
		}

		switch msg.Message {
		case messageConversationStarted:
			return msg.ID, nil
		case messageError:
			return "", &channel.ConnectError{Kind: channel.ErrorKindFatal, Err: serverError(msg)}
		case messageWarning, messageInfo:
			logger.Warn("flow handshake notice", "type", msg.Type, "reason", msg.Reason)
		}
	}
}
