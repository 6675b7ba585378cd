package miniaudio

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voice/core/audio"
)

type captureSource struct {
	device   *malgo.Device
	deviceID *malgo.DeviceID
	encoding audio.EncodingInfo
	framer   *audio.Framer

	mu        sync.Mutex
	closeOnce sync.Once
}

func (c *captureSource) init(audioContext *malgo.AllocatedContext, encoding audio.EncodingInfo, id *malgo.DeviceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.encoding = encoding
	c.deviceID = id
	c.framer = audio.NewFramer(encoding, audio.DefaultFrameDuration, 0)
	bytesPerFrame := encoding.BytesPerFrame()

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = uint32(encoding.SampleRate)
	config.Capture.Format = malgo.FormatS16
	config.Capture.Channels = uint32(encoding.ChannelCount())
	if id != nil {
		config.Capture.DeviceID = id.Pointer()
	}
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency
	config.PeriodSizeInFrames = uint32(encoding.SampleRate) * uint32(audio.DefaultFrameDuration.Milliseconds()) / 1000
	config.Periods = 3

	var err error
	c.device, err = malgo.InitDevice(audioContext.Context, config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			c.framer.Write(pInput[:n])
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	if err := c.device.Start(); err != nil {
		c.device.Uninit()
		c.device = nil
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	return nil
}

func (c *captureSource) EncodingInfo() audio.EncodingInfo { return c.encoding }

func (c *captureSource) Chunks(ctx context.Context) iter.Seq[audio.Chunk] {
	return c.framer.Chunks(ctx)
}

func (c *captureSource) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.device != nil {
			if stopErr := c.device.Stop(); stopErr != nil {
				err = fmt.Errorf("failed to stop capture device: %w", stopErr)
			}
			c.device.Uninit()
			c.device = nil
		}
		c.framer.Close()

		if dropped := c.framer.Dropped(); dropped > 0 {
			logger.Warn("capture frames dropped before consumption", "dropped", dropped)
		}
	})
	return err
}
