package miniaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voice/core/audio"
)

type playbackSink struct {
	device   *malgo.Device
	deviceID *malgo.DeviceID
	queue    *audio.PlaybackQueue

	mu        sync.Mutex
	closeOnce sync.Once
}

func (c *playbackSink) init(audioContext *malgo.AllocatedContext, encoding audio.EncodingInfo, id *malgo.DeviceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deviceID = id
	c.queue = audio.NewPlaybackQueue(encoding)

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = uint32(encoding.SampleRate)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = uint32(encoding.ChannelCount())
	if id != nil {
		config.Playback.DeviceID = id.Pointer()
	}
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = uint32(encoding.SampleRate) / 10 // ~100ms of audio
	config.Periods = 4

	var err error
	if c.device, err = malgo.InitDevice(
		audioContext.Context,
		config,
		malgo.DeviceCallbacks{Data: c.processAudio(encoding.BytesPerFrame(), encoding.SilenceValue())},
	); err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	if err := c.device.Start(); err != nil {
		c.device.Uninit()
		c.device = nil
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	return nil
}

func (c *playbackSink) EncodingInfo() audio.EncodingInfo { return c.queue.EncodingInfo() }

func (c *playbackSink) Enqueue(chunk audio.Chunk) error { return c.queue.Enqueue(chunk) }

func (c *playbackSink) Interrupt() int { return c.queue.Interrupt() }

func (c *playbackSink) Drain(ctx context.Context) error { return c.queue.Drain(ctx) }

func (c *playbackSink) Pending() int { return c.queue.Pending() }

func (c *playbackSink) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.queue.Close()

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.device != nil {
			if stopErr := c.device.Stop(); stopErr != nil {
				err = fmt.Errorf("failed to stop playback device: %w", stopErr)
			}
			c.device.Uninit()
			c.device = nil
		}
	})
	return err
}

// processAudio pulls queued audio into the device buffer and pads the
// remainder with silence.
func (c *playbackSink) processAudio(bytesPerFrame int, silence byte) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := min(int(frameCount)*bytesPerFrame, len(pOutput))
		n := c.queue.Read(pOutput[:need])
		for i := n; i < need; i++ {
			pOutput[i] = silence
		}
	}
}
