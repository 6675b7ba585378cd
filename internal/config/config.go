package config

import (
	"fmt"
	"strings"
	"time"

	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/audio"
)

const (
	ChannelFlow     = "flow"
	ChannelDeepgram = "deepgram"

	AudioMiniaudio = "miniaudio"
	AudioPortaudio = "portaudio"

	DefaultLogLevel = "info"
	DefaultChannel  = ChannelFlow
	DefaultAudio    = AudioMiniaudio
)

// Config is the CLI configuration: an optional YAML file overridden by the
// environment.
type Config struct {
	LogLevel string `yaml:"log_level"`
	Channel  string `yaml:"channel"`
	Audio    string `yaml:"audio"`

	// InputDevice and OutputDevice select devices by name, or by ID with an
	// "id:" prefix. Empty means the selection strategy decides.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	Flow     FlowConfig     `yaml:"flow"`
	Deepgram DeepgramConfig `yaml:"deepgram"`
	Tools    ToolsConfig    `yaml:"tools"`
	Session  SessionConfig  `yaml:"session"`
}

type FlowConfig struct {
	URL        string            `yaml:"url"`
	TemplateID string            `yaml:"template_id"`
	Variables  map[string]string `yaml:"variables"`
	AuthToken  string            `yaml:"auth_token"`
}

type DeepgramConfig struct {
	URL      string `yaml:"url"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
	APIKey   string `yaml:"api_key"`
}

type ToolsConfig struct {
	TavilyAPIKey string `yaml:"tavily_api_key"`
	OpenAIAPIKey string `yaml:"openai_api_key"`
	// SQLitePath is the database the sql_query tool answers questions
	// about. The tool is disabled without it.
	SQLitePath string   `yaml:"sqlite_path"`
	Disabled   []string `yaml:"disabled"`
}

type SessionConfig struct {
	MaxConnectRetries     *int                     `yaml:"max_connect_retries"`
	InitialBackoff        time.Duration            `yaml:"initial_backoff"`
	MaxBackoff            time.Duration            `yaml:"max_backoff"`
	CaptureBufferCapacity int                      `yaml:"capture_buffer_capacity"`
	ToolTimeout           time.Duration            `yaml:"tool_timeout"`
	ToolTimeouts          map[string]time.Duration `yaml:"tool_timeouts"`
	TurnIdleTimeout       time.Duration            `yaml:"turn_idle_timeout"`
	DrainTimeout          time.Duration            `yaml:"drain_timeout"`
}

func (c *Config) Validate() error {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	switch c.LogLevel {
	case "":
		c.LogLevel = DefaultLogLevel
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unsupported log level %q", c.LogLevel)
	}

	switch c.Channel {
	case "":
		c.Channel = DefaultChannel
	case ChannelFlow, ChannelDeepgram:
	default:
		return fmt.Errorf("config: unsupported channel %q (expected %s or %s)", c.Channel, ChannelFlow, ChannelDeepgram)
	}

	switch c.Audio {
	case "":
		c.Audio = DefaultAudio
	case AudioMiniaudio, AudioPortaudio:
	default:
		return fmt.Errorf("config: unsupported audio backend %q (expected %s or %s)", c.Audio, AudioMiniaudio, AudioPortaudio)
	}

	return nil
}

// Credential is the credential of the configured channel.
func (c Config) Credential() (string, error) {
	switch c.Channel {
	case ChannelDeepgram:
		if c.Deepgram.APIKey == "" {
			return "", fmt.Errorf("config: DEEPGRAM_API_KEY is required for the %s channel", ChannelDeepgram)
		}
		return c.Deepgram.APIKey, nil
	default:
		if c.Flow.AuthToken == "" {
			return "", fmt.Errorf("config: SPEECHMATICS_AUTH_TOKEN is required for the %s channel", ChannelFlow)
		}
		return c.Flow.AuthToken, nil
	}
}

// ToolEnabled reports whether name was not disabled.
func (c Config) ToolEnabled(name string) bool {
	for _, disabled := range c.Tools.Disabled {
		if disabled == name {
			return false
		}
	}
	return true
}

// EngineConfig converts the configuration into the session config passed to
// Start. The engine validates it.
func (c Config) EngineConfig() (orchestration.Config, error) {
	credential, err := c.Credential()
	if err != nil {
		return orchestration.Config{}, err
	}

	return orchestration.Config{
		Credential:            credential,
		InputDevice:           ParseSelector(c.InputDevice),
		OutputDevice:          ParseSelector(c.OutputDevice),
		MaxConnectRetries:     c.Session.MaxConnectRetries,
		InitialBackoff:        c.Session.InitialBackoff,
		MaxBackoff:            c.Session.MaxBackoff,
		CaptureBufferCapacity: c.Session.CaptureBufferCapacity,
		ToolTimeout:           c.Session.ToolTimeout,
		ToolTimeouts:          c.Session.ToolTimeouts,
		TurnIdleTimeout:       c.Session.TurnIdleTimeout,
		DrainTimeout:          c.Session.DrainTimeout,
	}, nil
}

// ParseSelector reads "id:<device id>" or a device name.
func ParseSelector(value string) audio.Selector {
	value = strings.TrimSpace(value)
	if id, ok := strings.CutPrefix(value, "id:"); ok {
		return audio.Selector{ID: strings.TrimSpace(id)}
	}
	return audio.Selector{Name: value}
}
