package events

const (
	// KindPlaybackInterrupted identifies discarded assistant playback.
	KindPlaybackInterrupted Kind = "playback.interrupted"
	// KindCaptureChunksDropped identifies microphone chunks lost to a full
	// uplink buffer.
	KindCaptureChunksDropped Kind = "capture.chunks_dropped"
)

// PlaybackInterrupted reports how many queued chunks were discarded.
// BargeIn is false for an explicit interrupt.
type PlaybackInterrupted struct {
	Base
	Discarded int
	BargeIn   bool
}

// NewPlaybackInterrupted creates a playback interrupted event.
func NewPlaybackInterrupted(discarded int, bargeIn bool) PlaybackInterrupted {
	return PlaybackInterrupted{Base: NewBase(KindPlaybackInterrupted), Discarded: discarded, BargeIn: bargeIn}
}

// CaptureChunksDropped reports chunks dropped since the last report and the
// session total.
type CaptureChunksDropped struct {
	Base
	Dropped uint64
	Total   uint64
}

// NewCaptureChunksDropped creates a capture chunks dropped event.
func NewCaptureChunksDropped(dropped, total uint64) CaptureChunksDropped {
	return CaptureChunksDropped{Base: NewBase(KindCaptureChunksDropped), Dropped: dropped, Total: total}
}
