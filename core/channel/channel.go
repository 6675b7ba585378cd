// Package channel defines the duplex connection between a voice session and
// the remote transcription and response service.
//
// A Conn uploads microphone audio and yields a lazy sequence of typed events
// in the order the remote side emitted them. Tool calls requested by the
// remote side are correlated by call id and must each be answered with
// SubmitToolResult before the remote side continues that turn.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"iter"

	"github.com/koscakluka/ema-voice/core/audio"
)

var (
	// ErrSendQueueFull is returned by Send when the outbound queue is
	// saturated. The chunk was not queued.
	ErrSendQueueFull = errors.New("channel send queue full")
	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("channel closed")
	// ErrToolResultsUnsupported is returned by connections to services that
	// never request tool calls.
	ErrToolResultsUnsupported = errors.New("channel does not support tool results")
)

type ToolDefinition struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the tool arguments.
	Parameters json.RawMessage
}

type ConnectConfig struct {
	// Credential is sent as the bearer token of the connection.
	Credential string
	// Encoding of the audio that will be sent.
	Encoding audio.EncodingInfo
	Tools    []ToolDefinition
}

type Dialer interface {
	Connect(ctx context.Context, config ConnectConfig) (Conn, error)
}

type DialerFunc func(ctx context.Context, config ConnectConfig) (Conn, error)

func (f DialerFunc) Connect(ctx context.Context, config ConnectConfig) (Conn, error) {
	return f(ctx, config)
}

type Conn interface {
	// Send queues a chunk for upload without blocking on the network.
	Send(chunk audio.Chunk) error
	// Events yields incoming events until the connection closes cleanly or
	// fails. The last event of a failed connection is a ChannelError.
	Events(ctx context.Context) iter.Seq[Event]
	// SubmitToolResult answers a ToolCallRequested with the same call id.
	SubmitToolResult(ctx context.Context, result ToolResult) error
	Close() error
	// UnsentAudio returns the chunks Send accepted that never reached the
	// remote side, in send order. It is complete once Close has returned.
	UnsentAudio() []audio.Chunk
}

type ToolResultStatus string

const (
	ToolResultOK     ToolResultStatus = "ok"
	ToolResultFailed ToolResultStatus = "failed"
)

type ToolResult struct {
	CallID string
	Status ToolResultStatus
	// Content is the payload for the remote model, usually JSON.
	Content string
}
