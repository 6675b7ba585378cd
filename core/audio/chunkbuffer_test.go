package audio

import (
	"context"
	"testing"
	"time"
)

func chunkSeq(seq uint64) Chunk {
	return Chunk{Seq: seq, Data: []byte{byte(seq)}, Encoding: GetDefaultEncodingInfo()}
}

func TestChunkBufferKeepsEverythingWithinCapacity(t *testing.T) {
	b := NewChunkBuffer(5)
	for i := uint64(1); i <= 5; i++ {
		if dropped := b.Push(chunkSeq(i)); dropped {
			t.Fatalf("expected push %d to fit, but a chunk was dropped", i)
		}
	}

	for i := uint64(1); i <= 5; i++ {
		chunk, ok := b.Shift()
		if !ok {
			t.Fatalf("expected chunk %d to be buffered", i)
		}
		if chunk.Seq != i {
			t.Fatalf("expected chunk %d, got %d", i, chunk.Seq)
		}
	}
	if got := b.Dropped(); got != 0 {
		t.Fatalf("expected no drops, got %d", got)
	}
}

func TestChunkBufferDropsOldestBeyondCapacity(t *testing.T) {
	const capacity, produced = 4, 10
	b := NewChunkBuffer(capacity)
	for i := uint64(1); i <= produced; i++ {
		b.Push(chunkSeq(i))
	}

	if got := b.Dropped(); got != produced-capacity {
		t.Fatalf("expected %d drops, got %d", produced-capacity, got)
	}
	for want := uint64(produced - capacity + 1); want <= produced; want++ {
		chunk, ok := b.Shift()
		if !ok || chunk.Seq != want {
			t.Fatalf("expected chunk %d, got %d (ok=%t)", want, chunk.Seq, ok)
		}
	}
	if _, ok := b.Shift(); ok {
		t.Fatalf("expected buffer to be empty")
	}
}

func TestChunkBufferPushFrontRestoresOrder(t *testing.T) {
	b := NewChunkBuffer(3)
	b.Push(chunkSeq(1))
	b.Push(chunkSeq(2))

	first, _ := b.Shift()
	if dropped := b.PushFront(first); dropped {
		t.Fatalf("expected chunk to be put back")
	}

	for want := uint64(1); want <= 2; want++ {
		chunk, _ := b.Shift()
		if chunk.Seq != want {
			t.Fatalf("expected chunk %d, got %d", want, chunk.Seq)
		}
	}
}

func TestChunkBufferPushFrontOnFullBufferDrops(t *testing.T) {
	b := NewChunkBuffer(2)
	b.Push(chunkSeq(2))
	b.Push(chunkSeq(3))

	if dropped := b.PushFront(chunkSeq(1)); !dropped {
		t.Fatalf("expected put back into a full buffer to drop the chunk")
	}
	if got := b.Dropped(); got != 1 {
		t.Fatalf("expected 1 drop, got %d", got)
	}
}

func TestChunkBufferWaitReturnsOnPushAndClose(t *testing.T) {
	b := NewChunkBuffer(2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Push(chunkSeq(1))
	}()
	if !b.Wait(ctx) {
		t.Fatalf("expected wait to return after push")
	}
	b.Shift()

	b.Close()
	if b.Wait(ctx) {
		t.Fatalf("expected wait on closed empty buffer to return false")
	}
}
