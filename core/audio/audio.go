package audio

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"
)

var (
	ErrOutOfOrder   = errors.New("audio chunk enqueued out of order")
	ErrDeviceClosed = errors.New("audio device closed")
)

// Chunk is a timestamped buffer of raw samples. The producer gives up the
// Data slice when the chunk is handed off and must not write to it again.
type Chunk struct {
	Seq       uint64
	Timestamp time.Time
	Data      []byte
	Encoding  EncodingInfo
}

func (c Chunk) Duration() time.Duration {
	return c.Encoding.Duration(len(c.Data))
}

// Source captures microphone audio as fixed-size chunks.
type Source interface {
	EncodingInfo() EncodingInfo
	// Chunks yields captured chunks until ctx is done or the source is
	// closed. Capture never blocks on a slow consumer, the oldest chunks
	// are dropped instead.
	Chunks(ctx context.Context) iter.Seq[Chunk]
	Close() error
}

// Sink plays assistant audio in enqueue order.
type Sink interface {
	EncodingInfo() EncodingInfo
	// Enqueue appends a chunk to the playback queue without blocking.
	// Chunks must arrive with increasing Seq, otherwise ErrOutOfOrder.
	Enqueue(chunk Chunk) error
	// Interrupt discards everything queued and returns how many chunks
	// were dropped.
	Interrupt() int
	// Drain blocks until the queue is empty or ctx is done.
	Drain(ctx context.Context) error
	Pending() int
	Close() error
}

type SourceOpener interface {
	OpenSource(ctx context.Context, device Selector) (Source, error)
}

type SinkOpener interface {
	OpenSink(ctx context.Context, device Selector) (Sink, error)
}

// DeviceError reports a capture or playback device that could not be used.
type DeviceError struct {
	Kind   DeviceKind
	Device Selector
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s device %s unavailable: %v", e.Kind, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
