package audio

import (
	"context"
	"testing"
	"time"
)

func TestFramerEmitsFixedSizeChunksInOrder(t *testing.T) {
	encoding := EncodingInfo{SampleRate: 1000, Channels: 1, Format: EncodingLinear16}
	f := NewFramer(encoding, 10*time.Millisecond, 10) // 10 samples, 20 bytes per frame

	f.Write(make([]byte, 15))
	f.Write(make([]byte, 30))
	f.Close()

	var chunks []Chunk
	for chunk := range f.Chunks(context.Background()) {
		chunks = append(chunks, chunk)
	}

	if len(chunks) != 2 {
		t.Fatalf("expected 2 full frames, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk.Data) != 20 {
			t.Fatalf("expected 20 byte frame, got %d", len(chunk.Data))
		}
		if chunk.Seq != uint64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, chunk.Seq)
		}
	}
}

func TestFramerDropsOldestWhenConsumerIsSlow(t *testing.T) {
	encoding := EncodingInfo{SampleRate: 1000, Channels: 1, Format: EncodingLinear16}
	f := NewFramer(encoding, 10*time.Millisecond, 2)

	f.Write(make([]byte, 20*5))
	if got := f.Dropped(); got != 3 {
		t.Fatalf("expected 3 dropped frames, got %d", got)
	}
}
