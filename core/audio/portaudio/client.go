package portaudio

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-voice/core/audio"
)

// Client opens capture and playback streams through PortAudio. It is an
// alternative to the miniaudio backend for hosts where miniaudio has no
// working driver.
type Client struct {
	encoding        audio.EncodingInfo
	framesPerBuffer int

	closeOnce sync.Once
}

type ClientOption func(*Client)

// WithFramesPerBuffer sets the PortAudio buffer size in frames. It defaults
// to one capture frame.
func WithFramesPerBuffer(frames int) ClientOption {
	return func(c *Client) { c.framesPerBuffer = frames }
}

func NewClient(opts ...ClientOption) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	encoding := audio.GetDefaultEncodingInfo()
	client := &Client{
		encoding:        encoding,
		framesPerBuffer: encoding.ChunkSize(audio.DefaultFrameDuration) / encoding.BytesPerFrame(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

func (c *Client) EncodingInfo() audio.EncodingInfo { return c.encoding }

func (c *Client) Devices(_ context.Context, kind audio.DeviceKind) ([]audio.DeviceInfo, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	defaultDevice, _ := defaultDevice(kind)

	var devices []audio.DeviceInfo
	for i, info := range infos {
		if channelsFor(info, kind) == 0 {
			continue
		}
		devices = append(devices, audio.DeviceInfo{
			ID:        strconv.Itoa(i),
			Name:      info.Name,
			Kind:      kind,
			IsDefault: defaultDevice != nil && defaultDevice.Name == info.Name,
		})
	}
	return devices, nil
}

func (c *Client) OpenSource(ctx context.Context, selector audio.Selector) (audio.Source, error) {
	device, err := c.lookupDevice(selector, audio.DeviceKindInput)
	if err != nil {
		return nil, &audio.DeviceError{Kind: audio.DeviceKindInput, Device: selector, Err: err}
	}

	source, err := openCapture(device, c.encoding, c.framesPerBuffer)
	if err != nil {
		return nil, &audio.DeviceError{Kind: audio.DeviceKindInput, Device: selector, Err: err}
	}
	return source, nil
}

func (c *Client) OpenSink(ctx context.Context, selector audio.Selector) (audio.Sink, error) {
	device, err := c.lookupDevice(selector, audio.DeviceKindOutput)
	if err != nil {
		return nil, &audio.DeviceError{Kind: audio.DeviceKindOutput, Device: selector, Err: err}
	}

	sink, err := openPlayback(device, c.encoding, c.framesPerBuffer)
	if err != nil {
		return nil, &audio.DeviceError{Kind: audio.DeviceKindOutput, Device: selector, Err: err}
	}
	return sink, nil
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if err := portaudio.Terminate(); err != nil {
			logger.Warn("failed to terminate PortAudio", "error", err)
		}
	})
}

func (c *Client) lookupDevice(selector audio.Selector, kind audio.DeviceKind) (*portaudio.DeviceInfo, error) {
	if selector.IsDefault() {
		return defaultDevice(kind)
	}

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	for i, info := range infos {
		if channelsFor(info, kind) == 0 {
			continue
		}
		if selector.Matches(audio.DeviceInfo{ID: strconv.Itoa(i), Name: info.Name}) {
			return info, nil
		}
	}
	return nil, fmt.Errorf("no %s device matches %s", kind, selector)
}

func defaultDevice(kind audio.DeviceKind) (*portaudio.DeviceInfo, error) {
	if kind == audio.DeviceKindInput {
		return portaudio.DefaultInputDevice()
	}
	return portaudio.DefaultOutputDevice()
}

func channelsFor(info *portaudio.DeviceInfo, kind audio.DeviceKind) int {
	if kind == audio.DeviceKindInput {
		return info.MaxInputChannels
	}
	return info.MaxOutputChannels
}
