package audio

import (
	"context"
	"fmt"
	"sync"
)

// PlaybackQueue holds assistant audio waiting for the output device. Device
// backends pull from it with Read; the engine pushes with Enqueue and clears
// it with Interrupt on barge-in.
type PlaybackQueue struct {
	encoding EncodingInfo

	mu      sync.Mutex
	chunks  []Chunk
	offset  int // bytes of chunks[0] already handed to the device
	lastSeq uint64
	hasLast bool
	closed  bool

	updateSignal chan struct{}
	idle         chan struct{}
}

func NewPlaybackQueue(encoding EncodingInfo) *PlaybackQueue {
	idle := make(chan struct{})
	close(idle)
	return &PlaybackQueue{
		encoding:     encoding,
		updateSignal: make(chan struct{}, 1),
		idle:         idle,
	}
}

func (q *PlaybackQueue) EncodingInfo() EncodingInfo { return q.encoding }

func (q *PlaybackQueue) Enqueue(chunk Chunk) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrDeviceClosed
	}
	if q.hasLast && chunk.Seq <= q.lastSeq {
		return fmt.Errorf("%w: seq %d after %d", ErrOutOfOrder, chunk.Seq, q.lastSeq)
	}
	if !chunk.Encoding.IsZero() && chunk.Encoding.SampleRate != q.encoding.SampleRate {
		return fmt.Errorf("chunk sample rate %d does not match sink rate %d", chunk.Encoding.SampleRate, q.encoding.SampleRate)
	}

	q.lastSeq, q.hasLast = chunk.Seq, true
	if len(chunk.Data) == 0 {
		return nil
	}

	if len(q.chunks) == 0 {
		q.idle = make(chan struct{})
	}
	q.chunks = append(q.chunks, chunk)
	q.signalUpdate()
	return nil
}

// Read copies queued audio into p and returns the number of bytes written.
// It never blocks; the caller fills the rest of its device buffer with
// silence.
func (q *PlaybackQueue) Read(p []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for n < len(p) && len(q.chunks) > 0 {
		head := q.chunks[0].Data[q.offset:]
		copied := copy(p[n:], head)
		n += copied
		q.offset += copied
		if q.offset == len(q.chunks[0].Data) {
			q.chunks[0] = Chunk{}
			q.chunks = q.chunks[1:]
			q.offset = 0
		}
	}

	if n > 0 && len(q.chunks) == 0 {
		q.markIdleLocked()
	}
	return n
}

// WaitForAudio blocks until audio is queued, the queue is closed, or ctx is
// done.
func (q *PlaybackQueue) WaitForAudio(ctx context.Context) bool {
	for {
		q.mu.Lock()
		available := len(q.chunks) > 0
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return false
		}
		if available {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-q.updateSignal:
		}
	}
}

func (q *PlaybackQueue) Interrupt() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	discarded := len(q.chunks)
	for i := range q.chunks {
		q.chunks[i] = Chunk{}
	}
	q.chunks = nil
	q.offset = 0
	q.markIdleLocked()
	return discarded
}

func (q *PlaybackQueue) Drain(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain playback queue: %w", ctx.Err())
	}
}

// Pending is the number of chunks not fully handed to the device yet.
func (q *PlaybackQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

func (q *PlaybackQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.chunks = nil
	q.offset = 0
	q.markIdleLocked()
	q.signalUpdate()
}

func (q *PlaybackQueue) markIdleLocked() {
	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
}

func (q *PlaybackQueue) signalUpdate() {
	select {
	case q.updateSignal <- struct{}{}:
	default:
	}
}
