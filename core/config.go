package orchestration

import (
	"fmt"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/internal/utils"
)

const (
	DefaultMaxConnectRetries     = 3
	DefaultInitialBackoff        = 250 * time.Millisecond
	DefaultMaxBackoff            = 5 * time.Second
	DefaultCaptureBufferCapacity = 250 // 5s of 20ms chunks
	DefaultToolTimeout           = 15 * time.Second
	DefaultTurnIdleTimeout       = 3 * time.Second
	DefaultDrainTimeout          = 5 * time.Second
	DefaultUIEventQueueCapacity  = 256
)

// Config is everything a session needs, passed into Start. Nothing in the
// engine reads process-wide settings.
type Config struct {
	// Credential is the bearer token for the remote service.
	Credential string

	InputDevice  audio.Selector
	OutputDevice audio.Selector

	// MaxConnectRetries is the number of retries after the first failed
	// connect or after a dropped connection. nil means the default, a
	// pointer to zero disables retries.
	MaxConnectRetries *int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration

	// CaptureBufferCapacity bounds the chunks kept while the channel is not
	// connected. The oldest chunks are dropped beyond it.
	CaptureBufferCapacity int

	ToolTimeout  time.Duration
	ToolTimeouts map[string]time.Duration

	// TurnIdleTimeout finalises an open turn that saw no activity for this
	// long when the remote side never sends a turn end.
	TurnIdleTimeout time.Duration
	// DrainTimeout bounds how long Stop waits for queued playback.
	DrainTimeout time.Duration

	UIEventQueueCapacity int
}

// ConfigError is returned by Start for an invalid Config. No device or
// network resource has been acquired when it is returned.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

// Validate applies defaults, checks required fields, and rejects out-of-range
// values.
func (c *Config) Validate() error {
	if c.Credential == "" {
		return &ConfigError{Field: "credential", Reason: "is required"}
	}

	if c.MaxConnectRetries == nil {
		c.MaxConnectRetries = utils.Ptr(DefaultMaxConnectRetries)
	} else if *c.MaxConnectRetries < 0 {
		return &ConfigError{Field: "max_connect_retries", Reason: fmt.Sprintf("must be >= 0, got %d", *c.MaxConnectRetries)}
	}

	if c.InitialBackoff == 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.InitialBackoff < 0 {
		return &ConfigError{Field: "initial_backoff", Reason: fmt.Sprintf("must be positive, got %s", c.InitialBackoff)}
	}
	if c.MaxBackoff < c.InitialBackoff {
		return &ConfigError{Field: "max_backoff", Reason: fmt.Sprintf("must be >= initial_backoff (%s), got %s", c.InitialBackoff, c.MaxBackoff)}
	}

	if c.CaptureBufferCapacity == 0 {
		c.CaptureBufferCapacity = DefaultCaptureBufferCapacity
	}
	if c.CaptureBufferCapacity < 1 {
		return &ConfigError{Field: "capture_buffer_capacity", Reason: fmt.Sprintf("must be >= 1, got %d", c.CaptureBufferCapacity)}
	}

	if c.ToolTimeout == 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	if c.ToolTimeout < 0 {
		return &ConfigError{Field: "tool_timeout", Reason: fmt.Sprintf("must be positive, got %s", c.ToolTimeout)}
	}
	for name, timeout := range c.ToolTimeouts {
		if timeout <= 0 {
			return &ConfigError{Field: "tool_timeouts." + name, Reason: fmt.Sprintf("must be positive, got %s", timeout)}
		}
	}

	if c.TurnIdleTimeout == 0 {
		c.TurnIdleTimeout = DefaultTurnIdleTimeout
	}
	if c.TurnIdleTimeout < 0 {
		return &ConfigError{Field: "turn_idle_timeout", Reason: fmt.Sprintf("must be positive, got %s", c.TurnIdleTimeout)}
	}

	if c.DrainTimeout == 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.DrainTimeout < 0 {
		return &ConfigError{Field: "drain_timeout", Reason: fmt.Sprintf("must be positive, got %s", c.DrainTimeout)}
	}

	if c.UIEventQueueCapacity == 0 {
		c.UIEventQueueCapacity = DefaultUIEventQueueCapacity
	}
	if c.UIEventQueueCapacity < 1 {
		return &ConfigError{Field: "ui_event_queue_capacity", Reason: fmt.Sprintf("must be >= 1, got %d", c.UIEventQueueCapacity)}
	}

	return nil
}

func (c Config) maxRetries() int {
	if c.MaxConnectRetries == nil {
		return DefaultMaxConnectRetries
	}
	return *c.MaxConnectRetries
}

func (c Config) toolTimeout(name string) time.Duration {
	if timeout, ok := c.ToolTimeouts[name]; ok {
		return timeout
	}
	return c.ToolTimeout
}
