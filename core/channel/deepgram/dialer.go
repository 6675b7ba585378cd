package deepgram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/channel"
	"github.com/koscakluka/ema-voice/internal/wsconn"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultURL = "wss://api.deepgram.com/v1/listen"

	defaultKeepAliveInterval = 5 * time.Second
	defaultEventBuffer       = 256
)

// Dialer connects to the Deepgram streaming transcription API. The
// connection only transcribes user speech: it never produces assistant audio
// or tool calls.
type Dialer struct {
	url               string
	model             string
	language          string
	keepAliveInterval time.Duration
	sendQueueSize     int
}

type DialerOption func(*Dialer)

func WithURL(url string) DialerOption {
	return func(d *Dialer) { d.url = url }
}

func WithModel(model string) DialerOption {
	return func(d *Dialer) { d.model = model }
}

func WithLanguage(language string) DialerOption {
	return func(d *Dialer) { d.language = language }
}

func WithKeepAliveInterval(interval time.Duration) DialerOption {
	return func(d *Dialer) { d.keepAliveInterval = interval }
}

func NewDialer(opts ...DialerOption) *Dialer {
	d := &Dialer{
		url:               DefaultURL,
		model:             "nova-3",
		language:          "en-US",
		keepAliveInterval: defaultKeepAliveInterval,
		sendQueueSize:     wsconn.DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dialer) Connect(ctx context.Context, config channel.ConnectConfig) (_ channel.Conn, err error) {
	ctx, span := tracer.Start(ctx, "connect deepgram listen", trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to connect")
		}
		span.End()
	}()

	encodingInfo := config.Encoding
	if encodingInfo.IsZero() {
		encodingInfo = audio.GetDefaultEncodingInfo()
	}
	encoding, err := convertEncoding(encodingInfo)
	if err != nil {
		return nil, &channel.ConnectError{Kind: channel.ErrorKindFatal, Err: fmt.Errorf("invalid encoding: %w", err)}
	}
	if config.Credential == "" {
		return nil, &channel.ConnectError{Kind: channel.ErrorKindFatal, Err: fmt.Errorf("deepgram api key not set")}
	}
	if len(config.Tools) > 0 {
		logger.Warn("deepgram channel ignores tool definitions", "tools", len(config.Tools))
	}

	listenURL, err := url.Parse(d.url)
	if err != nil {
		return nil, &channel.ConnectError{Kind: channel.ErrorKindFatal, Err: fmt.Errorf("invalid listen url: %w", err)}
	}
	queryParams := listenURL.Query()
	queryParams.Set("encoding", encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("channels", strconv.Itoa(encoding.Channels))
	queryParams.Set("model", d.model)
	queryParams.Set("language", d.language)
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", "true")
	queryParams.Set("utterance_end_ms", "1000")
	queryParams.Set("endpointing", "300")
	queryParams.Set("vad_events", "true")
	listenURL.RawQuery = queryParams.Encode()

	ws, err := wsconn.Dial(ctx, listenURL.String(), http.Header{"Authorization": {"Token " + config.Credential}}, d.sendQueueSize)
	if err != nil {
		return nil, err
	}

	return newConn(ws, d.keepAliveInterval), nil
}
