package audio

import (
	"context"
	"sync"
)

// ChunkBuffer is a bounded FIFO of chunks that never blocks the producer.
// When it is full, pushing a new chunk discards the oldest one.
//
// The buffer keeps a head index and a length over a fixed slice, the same way
// a ring buffer does, so pushes and shifts are O(1).
type ChunkBuffer struct {
	notify chan struct{}

	mu      sync.Mutex
	buf     []Chunk
	head    int
	size    int
	dropped uint64
	closed  bool
}

func NewChunkBuffer(capacity int) *ChunkBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ChunkBuffer{
		notify: make(chan struct{}, 1),
		buf:    make([]Chunk, capacity),
	}
}

// Push appends chunk at the tail. It returns true when the oldest chunk had
// to be discarded to make room.
func (b *ChunkBuffer) Push(chunk Chunk) (dropped bool) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return true
	}
	if b.size == len(b.buf) {
		b.buf[b.head] = Chunk{}
		b.head = (b.head + 1) % len(b.buf)
		b.size--
		b.dropped++
		dropped = true
	}
	b.buf[(b.head+b.size)%len(b.buf)] = chunk
	b.size++
	b.mu.Unlock()

	b.signal()
	return dropped
}

// PushFront puts chunk back at the head, used when a shifted chunk could not
// be delivered. A full buffer drops it, since it is the oldest chunk.
func (b *ChunkBuffer) PushFront(chunk Chunk) (dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.size == len(b.buf) {
		b.dropped++
		return true
	}
	b.head = (b.head - 1 + len(b.buf)) % len(b.buf)
	b.buf[b.head] = chunk
	b.size++
	return false
}

// Shift removes and returns the oldest chunk.
func (b *ChunkBuffer) Shift() (Chunk, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return Chunk{}, false
	}
	chunk := b.buf[b.head]
	b.buf[b.head] = Chunk{}
	b.head = (b.head + 1) % len(b.buf)
	b.size--
	return chunk, true
}

// Wait blocks until a chunk is available, the buffer is closed or ctx is
// done. It returns false in the latter two cases.
func (b *ChunkBuffer) Wait(ctx context.Context) bool {
	for {
		b.mu.Lock()
		available := b.size > 0
		closed := b.closed
		b.mu.Unlock()

		if available {
			return true
		}
		if closed {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-b.notify:
		}
	}
}

// Notify fires after pushes and on close. It is coalesced, so a receive
// means "check again", not "exactly one new chunk".
func (b *ChunkBuffer) Notify() <-chan struct{} { return b.notify }

func (b *ChunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *ChunkBuffer) Cap() int { return len(b.buf) }

// Dropped is the total number of chunks discarded since creation.
func (b *ChunkBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Clear discards all buffered chunks and returns how many there were.
func (b *ChunkBuffer) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.size
	for i := range b.buf {
		b.buf[i] = Chunk{}
	}
	b.head, b.size = 0, 0
	return n
}

func (b *ChunkBuffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.signal()
}

func (b *ChunkBuffer) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}
