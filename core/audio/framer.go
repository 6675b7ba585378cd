package audio

import (
	"context"
	"iter"
	"sync"
	"time"
)

const defaultCaptureBacklog = 50 // one second of 20ms frames

// Framer turns the arbitrarily sized buffers delivered by a capture device
// into fixed-duration chunks. Write is safe to call from a device callback:
// it copies the samples and never blocks.
type Framer struct {
	encoding  EncodingInfo
	frameSize int

	mu      sync.Mutex
	pending []byte
	seq     uint64

	out *ChunkBuffer
	now func() time.Time
}

func NewFramer(encoding EncodingInfo, frameDuration time.Duration, backlog int) *Framer {
	if frameDuration <= 0 {
		frameDuration = DefaultFrameDuration
	}
	if backlog <= 0 {
		backlog = defaultCaptureBacklog
	}
	frameSize := encoding.ChunkSize(frameDuration)
	if frameSize <= 0 {
		frameSize = GetDefaultEncodingInfo().ChunkSize(frameDuration)
	}

	return &Framer{
		encoding:  encoding,
		frameSize: frameSize,
		out:       NewChunkBuffer(backlog),
		now:       time.Now,
	}
}

func (f *Framer) FrameSize() int { return f.frameSize }

func (f *Framer) Write(p []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending = append(f.pending, p...)
	for len(f.pending) >= f.frameSize {
		data := make([]byte, f.frameSize)
		copy(data, f.pending[:f.frameSize])
		f.pending = f.pending[f.frameSize:]

		f.seq++
		f.out.Push(Chunk{Seq: f.seq, Timestamp: f.now(), Data: data, Encoding: f.encoding})
	}

	if len(f.pending) == 0 {
		f.pending = nil
	}
}

// Dropped reports how many frames were lost because nobody consumed them.
func (f *Framer) Dropped() uint64 { return f.out.Dropped() }

func (f *Framer) Chunks(ctx context.Context) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		for f.out.Wait(ctx) {
			chunk, ok := f.out.Shift()
			if !ok {
				continue
			}
			if !yield(chunk) {
				return
			}
		}
	}
}

func (f *Framer) Close() {
	f.out.Close()
}
