package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voice/core/audio"
)

// Client owns a miniaudio context and opens capture and playback devices on
// it. Devices opened through the client must be closed before the client.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	encoding     audio.EncodingInfo

	closeOnce sync.Once
}

type ClientOption func(*Client)

// WithEncoding overrides the 16 kHz mono linear16 default.
func WithEncoding(encoding audio.EncodingInfo) ClientOption {
	return func(c *Client) { c.encoding = encoding }
}

func NewClient(opts ...ClientOption) (*Client, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := &Client{
		audioContext: audioCtx,
		encoding:     audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(client)
	}

	if err := client.encoding.Validate(); err != nil {
		client.Close()
		return nil, err
	}
	if client.encoding.Format != audio.EncodingLinear16 {
		client.Close()
		return nil, fmt.Errorf("unsupported capture format %s", client.encoding.Format.Name())
	}

	return client, nil
}

func (c *Client) EncodingInfo() audio.EncodingInfo { return c.encoding }

func (c *Client) Devices(_ context.Context, kind audio.DeviceKind) ([]audio.DeviceInfo, error) {
	infos, err := c.audioContext.Devices(deviceType(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s devices: %w", kind, err)
	}

	devices := make([]audio.DeviceInfo, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, audio.DeviceInfo{
			ID:        info.ID.String(),
			Name:      info.Name(),
			Kind:      kind,
			IsDefault: info.IsDefault != 0,
		})
	}
	return devices, nil
}

func (c *Client) OpenSource(ctx context.Context, selector audio.Selector) (audio.Source, error) {
	id, err := c.lookupDevice(selector, audio.DeviceKindInput)
	if err != nil {
		return nil, &audio.DeviceError{Kind: audio.DeviceKindInput, Device: selector, Err: err}
	}

	source := &captureSource{}
	if err := source.init(c.audioContext, c.encoding, id); err != nil {
		return nil, &audio.DeviceError{Kind: audio.DeviceKindInput, Device: selector, Err: err}
	}
	return source, nil
}

func (c *Client) OpenSink(ctx context.Context, selector audio.Selector) (audio.Sink, error) {
	id, err := c.lookupDevice(selector, audio.DeviceKindOutput)
	if err != nil {
		return nil, &audio.DeviceError{Kind: audio.DeviceKindOutput, Device: selector, Err: err}
	}

	sink := &playbackSink{}
	if err := sink.init(c.audioContext, c.encoding, id); err != nil {
		return nil, &audio.DeviceError{Kind: audio.DeviceKindOutput, Device: selector, Err: err}
	}
	return sink, nil
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if err := c.audioContext.Uninit(); err != nil {
			logger.Warn("failed to uninitialize audio context", "error", err)
		}
		c.audioContext.Free()
	})
}

var errDeviceNotFound = errors.New("device not found")

// lookupDevice returns nil for the system default device.
func (c *Client) lookupDevice(selector audio.Selector, kind audio.DeviceKind) (*malgo.DeviceID, error) {
	if selector.IsDefault() {
		return nil, nil
	}

	infos, err := c.audioContext.Devices(deviceType(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s devices: %w", kind, err)
	}
	for _, info := range infos {
		device := audio.DeviceInfo{ID: info.ID.String(), Name: info.Name(), IsDefault: info.IsDefault != 0}
		if selector.Matches(device) {
			id := info.ID
			return &id, nil
		}
	}
	return nil, errDeviceNotFound
}

func deviceType(kind audio.DeviceKind) malgo.DeviceType {
	if kind == audio.DeviceKindInput {
		return malgo.Capture
	}
	return malgo.Playback
}
