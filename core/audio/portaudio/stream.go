package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-voice/core/audio"
)

type captureStream struct {
	stream   *portaudio.Stream
	encoding audio.EncodingInfo
	framer   *audio.Framer
	in       []int16

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func openCapture(device *portaudio.DeviceInfo, encoding audio.EncodingInfo, framesPerBuffer int) (*captureStream, error) {
	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = encoding.ChannelCount()
	params.SampleRate = float64(encoding.SampleRate)
	params.FramesPerBuffer = framesPerBuffer

	c := &captureStream{
		encoding: encoding,
		framer:   audio.NewFramer(encoding, audio.DefaultFrameDuration, 0),
		in:       make([]int16, framesPerBuffer*encoding.ChannelCount()),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	var err error
	if c.stream, err = portaudio.OpenStream(params, c.in); err != nil {
		return nil, fmt.Errorf("failed to open capture stream: %w", err)
	}
	if err := c.stream.Start(); err != nil {
		_ = c.stream.Close()
		return nil, fmt.Errorf("failed to start capture stream: %w", err)
	}

	go c.readLoop()
	return c, nil
}

func (c *captureStream) readLoop() {
	defer close(c.stopped)

	buf := make([]byte, len(c.in)*2)
	for {
		select {
		case <-c.done:
			return
		default:
		}

		if err := c.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				logger.Debug("capture input overflowed")
			} else {
				logger.Warn("failed to read from capture stream", "error", err)
				return
			}
		}
		for i, sample := range c.in {
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
		}
		c.framer.Write(buf)
	}
}

func (c *captureStream) EncodingInfo() audio.EncodingInfo { return c.encoding }

func (c *captureStream) Chunks(ctx context.Context) iter.Seq[audio.Chunk] {
	return c.framer.Chunks(ctx)
}

func (c *captureStream) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		stopErr := c.stream.Stop()
		<-c.stopped
		err = errors.Join(stopErr, c.stream.Close())
		c.framer.Close()
	})
	if err != nil {
		return fmt.Errorf("failed to close capture stream: %w", err)
	}
	return nil
}

type playbackStream struct {
	stream  *portaudio.Stream
	queue   *audio.PlaybackQueue
	out     []int16
	silence byte

	ctx       context.Context
	cancel    context.CancelFunc
	stopped   chan struct{}
	closeOnce sync.Once
}

func openPlayback(device *portaudio.DeviceInfo, encoding audio.EncodingInfo, framesPerBuffer int) (*playbackStream, error) {
	params := portaudio.LowLatencyParameters(nil, device)
	params.Output.Channels = encoding.ChannelCount()
	params.SampleRate = float64(encoding.SampleRate)
	params.FramesPerBuffer = framesPerBuffer

	ctx, cancel := context.WithCancel(context.Background())
	p := &playbackStream{
		queue:   audio.NewPlaybackQueue(encoding),
		out:     make([]int16, framesPerBuffer*encoding.ChannelCount()),
		silence: encoding.SilenceValue(),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}

	var err error
	if p.stream, err = portaudio.OpenStream(params, p.out); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open playback stream: %w", err)
	}
	if err := p.stream.Start(); err != nil {
		cancel()
		_ = p.stream.Close()
		return nil, fmt.Errorf("failed to start playback stream: %w", err)
	}

	go p.writeLoop()
	return p, nil
}

// writeLoop blocks on the device only while audio is queued, so an idle sink
// does not spin.
func (p *playbackStream) writeLoop() {
	defer close(p.stopped)

	buf := make([]byte, len(p.out)*2)
	for p.queue.WaitForAudio(p.ctx) {
		n := p.queue.Read(buf)
		for i := n; i < len(buf); i++ {
			buf[i] = p.silence
		}
		for i := range p.out {
			p.out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
		}
		if err := p.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			logger.Warn("failed to write to playback stream", "error", err)
			return
		}
	}
}

func (p *playbackStream) EncodingInfo() audio.EncodingInfo { return p.queue.EncodingInfo() }

func (p *playbackStream) Enqueue(chunk audio.Chunk) error { return p.queue.Enqueue(chunk) }

func (p *playbackStream) Interrupt() int { return p.queue.Interrupt() }

func (p *playbackStream) Drain(ctx context.Context) error { return p.queue.Drain(ctx) }

func (p *playbackStream) Pending() int { return p.queue.Pending() }

func (p *playbackStream) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.queue.Close()
		p.cancel()
		<-p.stopped
		err = errors.Join(p.stream.Stop(), p.stream.Close())
	})
	if err != nil {
		return fmt.Errorf("failed to close playback stream: %w", err)
	}
	return nil
}
