package orchestration

import (
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/channel"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/tools"
)

type EngineOption func(*Engine)

// WithDialer sets how the engine reaches the remote service. It is required.
func WithDialer(dialer channel.Dialer) EngineOption {
	return func(e *Engine) { e.dialer = dialer }
}

func WithSourceOpener(opener audio.SourceOpener) EngineOption {
	return func(e *Engine) { e.sources = opener }
}

func WithSinkOpener(opener audio.SinkOpener) EngineOption {
	return func(e *Engine) { e.sinks = opener }
}

// AudioDevices opens both capture and playback devices, as the device
// backends do.
type AudioDevices interface {
	audio.SourceOpener
	audio.SinkOpener
}

func WithAudioDevices(devices AudioDevices) EngineOption {
	return func(e *Engine) {
		e.sources = devices
		e.sinks = devices
	}
}

// WithDeviceStrategy sets how devices are picked when the config does not
// name one. Without it the system default devices are used.
func WithDeviceStrategy(strategy audio.DeviceStrategy) EngineOption {
	return func(e *Engine) { e.deviceStrategy = strategy }
}

// WithToolRegistry sets the tools offered to the remote side. Without it
// every tool call is answered with an unknown tool failure.
func WithToolRegistry(registry *tools.Registry) EngineOption {
	return func(e *Engine) { e.registry = registry }
}

func WithEventHandler(handler EventHandler) EngineOption {
	return func(e *Engine) { e.eventHandler = handler }
}

// WithEventCallback is WithEventHandler for a plain function.
func WithEventCallback(callback func(event events.Event)) EngineOption {
	return func(e *Engine) {
		if callback != nil {
			e.eventHandler = EventHandlerFunc(callback)
		}
	}
}

type stopOptions struct {
	interruptPlayback bool
}

type StopOption func(*stopOptions)

// WithInterruptedPlayback discards queued assistant audio instead of
// playing it out before closing.
func WithInterruptedPlayback() StopOption {
	return func(o *stopOptions) { o.interruptPlayback = true }
}
