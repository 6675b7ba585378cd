package audio

import (
	"fmt"
	"time"
)

const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultFormat     = "linear16"

	// DefaultFrameDuration is the capture cadence of every source.
	DefaultFrameDuration = 20 * time.Millisecond
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Channels: DefaultChannels, Format: encodingFormat(DefaultFormat)}
}

type EncodingInfo struct {
	SampleRate int
	Channels   int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) Validate() error {
	if e.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", e.SampleRate)
	}
	if e.channels() <= 0 {
		return fmt.Errorf("invalid channel count %d", e.Channels)
	}
	if e.Format.ByteSize() <= 0 {
		return fmt.Errorf("unsupported encoding %q", e.Format.Name())
	}
	return nil
}

// BitDepth is the sample width in bits.
func (e EncodingInfo) BitDepth() int {
	return e.Format.ByteSize() * 8
}

// BytesPerFrame is the size of one sample across all channels.
func (e EncodingInfo) BytesPerFrame() int {
	return e.Format.ByteSize() * e.channels()
}

// ChunkSize returns the byte length of a chunk covering duration d.
func (e EncodingInfo) ChunkSize(d time.Duration) int {
	frames := int(int64(e.SampleRate) * int64(d) / int64(time.Second))
	return frames * e.BytesPerFrame()
}

// Duration returns how long n bytes of audio play for.
func (e EncodingInfo) Duration(n int) time.Duration {
	bytesPerSecond := e.SampleRate * e.BytesPerFrame()
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bytesPerSecond))
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case encodingFormat("alaw"):
		return 0x55
	case encodingFormat("mulaw"):
		return 0xFF
	case encodingFormat("linear16"):
		return 0
	}

	return 0
}

func (e EncodingInfo) String() string {
	return fmt.Sprintf("%s/%dHz/%dch", e.Format.Name(), e.SampleRate, e.channels())
}

// ChannelCount is Channels with the mono default applied.
func (e EncodingInfo) ChannelCount() int { return e.channels() }

func (e EncodingInfo) channels() int {
	if e.Channels == 0 {
		return DefaultChannels
	}
	return e.Channels
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case encodingFormat("mulaw"), encodingFormat("alaw"):
		return 1
	case encodingFormat("linear16"):
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)
