// Package wsconn wraps a gorilla websocket with a bounded outbound queue
// drained by a single writer goroutine, so producers never block on the
// network.
package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/channel"
)

const (
	DefaultQueueSize = 256

	writeTimeout      = 10 * time.Second
	closeDrainTimeout = time.Second
)

type frame struct {
	messageType int
	data        []byte
	// chunk is set for audio frames so they can be handed back when they
	// were never written.
	chunk *audio.Chunk
}

type Conn struct {
	ws       *websocket.Conn
	outbound chan frame
	dequeued chan struct{}

	closing    chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	closed     atomic.Bool

	writeErr atomic.Pointer[error]

	// mu orders enqueues against the writer shutting down, so no frame is
	// queued after the writer collected what it left unsent.
	mu            sync.Mutex
	writerStopped bool
	unsent        []audio.Chunk
}

// Dial opens a websocket and wraps it. A rejected handshake is returned as a
// *channel.ConnectError classified by its HTTP status.
func Dial(ctx context.Context, url string, header http.Header, queueSize int) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, &channel.ConnectError{
				Kind:       channel.KindForStatus(resp.StatusCode),
				StatusCode: resp.StatusCode,
				Err:        err,
			}
		}
		return nil, &channel.ConnectError{Kind: channel.ErrorKindTransient, Err: err}
	}

	return New(ws, queueSize), nil
}

func New(ws *websocket.Conn, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	c := &Conn{
		ws:         ws,
		outbound:   make(chan frame, queueSize),
		dequeued:   make(chan struct{}, 1),
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Enqueue queues a frame without blocking.
func (c *Conn) Enqueue(messageType int, data []byte) error {
	return c.enqueue(frame{messageType: messageType, data: data})
}

// EnqueueChunk queues chunk as a binary frame without blocking. If the
// socket fails before the frame is written, the chunk is reported by
// UnsentAudio.
func (c *Conn) EnqueueChunk(chunk audio.Chunk) error {
	return c.enqueue(frame{messageType: websocket.BinaryMessage, data: chunk.Data, chunk: &chunk})
}

func (c *Conn) enqueue(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.stoppedErr(); err != nil {
		return err
	}

	select {
	case c.outbound <- f:
		return nil
	default:
		return channel.ErrSendQueueFull
	}
}

// stoppedErr reports why nothing can be queued anymore. Callers hold mu.
func (c *Conn) stoppedErr() error {
	if err := c.writeErr.Load(); err != nil {
		return fmt.Errorf("%w: %w", channel.ErrClosed, *err)
	}
	if c.closed.Load() || c.writerStopped {
		return channel.ErrClosed
	}
	return nil
}

// EnqueueJSON marshals v and queues it as a text frame without blocking.
func (c *Conn) EnqueueJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.Enqueue(websocket.TextMessage, data)
}

// SubmitJSON queues v, waiting for room in the queue until ctx is done.
// Use it for messages that must not be dropped.
func (c *Conn) SubmitJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	f := frame{messageType: websocket.TextMessage, data: data}

	for {
		switch err := c.enqueue(f); {
		case err == nil:
			return nil
		case !errors.Is(err, channel.ErrSendQueueFull):
			return err
		}

		select {
		case <-c.dequeued:
		case <-c.writerDone:
			return channel.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WriteJSONDirect writes v synchronously. Only safe before any frame was
// enqueued, e.g. during a handshake.
func (c *Conn) WriteJSONDirect(v any) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

// ReadMessage reads the next message. Only one goroutine may read.
func (c *Conn) ReadMessage() (int, []byte, error) {
	return c.ws.ReadMessage()
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// IsClosing reports whether Close was called.
func (c *Conn) IsClosing() bool { return c.closed.Load() }

// Close flushes what is queued (bounded by a short timeout), sends a close
// frame and closes the socket. It returns once the writer has stopped. It is
// safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed.Store(true)
		c.mu.Unlock()
		close(c.closing)

		flushed := true
		select {
		case <-c.writerDone:
		case <-time.After(closeDrainTimeout):
			flushed = false
		}

		if flushed {
			_ = c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
		}
		// Closing the socket fails a write stuck on a stalled peer.
		err = c.ws.Close()
		<-c.writerDone
	})
	return err
}

// UnsentAudio returns the chunks queued with EnqueueChunk that were never
// written, in queue order. It is complete once Close has returned.
func (c *Conn) UnsentAudio() []audio.Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.unsent)
}

func (c *Conn) writeLoop() {
	defer c.stopWriter()

	for {
		select {
		case f := <-c.outbound:
			c.signalDequeued()
			if !c.write(f) {
				return
			}
		case <-c.closing:
			for {
				select {
				case f := <-c.outbound:
					if !c.write(f) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// stopWriter collects the audio left in the queue and wakes waiting
// submitters.
func (c *Conn) stopWriter() {
	c.mu.Lock()
	c.writerStopped = true
drain:
	for {
		select {
		case f := <-c.outbound:
			if f.chunk != nil {
				c.unsent = append(c.unsent, *f.chunk)
			}
		default:
			break drain
		}
	}
	c.mu.Unlock()
	close(c.writerDone)
}

func (c *Conn) signalDequeued() {
	select {
	case c.dequeued <- struct{}{}:
	default:
	}
}

func (c *Conn) write(f frame) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(f.messageType, f.data); err != nil {
		if f.chunk != nil {
			c.mu.Lock()
			c.unsent = append(c.unsent, *f.chunk)
			c.mu.Unlock()
		}
		err = fmt.Errorf("failed to write websocket message: %w", err)
		c.writeErr.Store(&err)
		// Unblocks the reader so the failure surfaces as a read error.
		_ = c.ws.Close()
		return false
	}
	return true
}

var closeCodesFatal = []int{
	websocket.CloseProtocolError,
	websocket.CloseUnsupportedData,
	websocket.CloseInvalidFramePayloadData,
	websocket.ClosePolicyViolation,
	websocket.CloseMessageTooBig,
	4001, // unauthorized
	4003, // forbidden
}

// ClassifyReadError maps a read error to the end of an event sequence. A nil
// result means the connection ended cleanly.
func (c *Conn) ClassifyReadError(err error) *channel.ChannelError {
	if err == nil || c.closed.Load() {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		for _, code := range closeCodesFatal {
			if closeErr.Code == code {
				return channel.NewFatalError(fmt.Errorf("connection closed by remote: %w", err))
			}
		}
	}

	if writeErr := c.writeErr.Load(); writeErr != nil {
		return channel.NewTransientError(*writeErr)
	}
	return channel.NewTransientError(fmt.Errorf("failed to read websocket message: %w", err))
}
