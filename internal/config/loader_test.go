package config_test

import (
	"io/fs"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/internal/config"
)

func TestLoaderDefaults(t *testing.T) {
	loader := config.Loader{
		Lookup:   func(string) (string, bool) { return "", false },
		ReadFile: func(string) ([]byte, error) { return nil, fs.ErrNotExist },
	}
	cfg, err := loader.Load("")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.LogLevel != config.DefaultLogLevel {
		t.Fatalf("expected log level %q, got %q", config.DefaultLogLevel, cfg.LogLevel)
	}
	if cfg.Channel != config.ChannelFlow || cfg.Audio != config.AudioMiniaudio {
		t.Fatalf("expected flow over miniaudio, got %s over %s", cfg.Channel, cfg.Audio)
	}
	if _, err := cfg.Credential(); err == nil {
		t.Fatalf("expected missing credential to be reported")
	}
}

func TestLoaderReadsFileThenEnvironment(t *testing.T) {
	file := `
log_level: debug
channel: deepgram
output_device: "id:hw:1,0"
deepgram:
  model: nova-3
  api_key: from-file
tools:
  sqlite_path: /tmp/shop.db
  disabled: [generate_image]
session:
  max_connect_retries: 5
  turn_idle_timeout: 2s
  tool_timeouts:
    sql_query: 30s
`
	env := map[string]string{
		"DEEPGRAM_API_KEY": "from-env",
		"TAVILY_API_KEY":   " tavily ",
		"EMA_INPUT_DEVICE": "USB Mic",
	}
	loader := config.Loader{
		Lookup: func(key string) (string, bool) {
			value, ok := env[key]
			return value, ok
		},
		ReadFile: func(path string) ([]byte, error) {
			if path != "ema.yaml" {
				t.Fatalf("expected ema.yaml, got %s", path)
			}
			return []byte(file), nil
		},
	}

	cfg, err := loader.Load("ema.yaml")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Channel != config.ChannelDeepgram {
		t.Fatalf("expected file values, got %+v", cfg)
	}
	if cfg.Deepgram.APIKey != "from-env" {
		t.Fatalf("expected environment to win, got %q", cfg.Deepgram.APIKey)
	}
	if cfg.Tools.TavilyAPIKey != "tavily" {
		t.Fatalf("expected trimmed tavily key, got %q", cfg.Tools.TavilyAPIKey)
	}
	if cfg.ToolEnabled("generate_image") || !cfg.ToolEnabled("sql_query") {
		t.Fatalf("expected only generate_image to be disabled, got %v", cfg.Tools.Disabled)
	}

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig() returned error: %v", err)
	}
	if engineCfg.Credential != "from-env" {
		t.Fatalf("expected deepgram credential, got %q", engineCfg.Credential)
	}
	if engineCfg.OutputDevice.ID != "hw:1,0" || engineCfg.InputDevice.Name != "USB Mic" {
		t.Fatalf("expected parsed device selectors, got %+v / %+v", engineCfg.InputDevice, engineCfg.OutputDevice)
	}
	if engineCfg.MaxConnectRetries == nil || *engineCfg.MaxConnectRetries != 5 {
		t.Fatalf("expected 5 retries, got %v", engineCfg.MaxConnectRetries)
	}
	if engineCfg.TurnIdleTimeout != 2*time.Second || engineCfg.ToolTimeouts["sql_query"] != 30*time.Second {
		t.Fatalf("expected durations from the file, got %s and %v", engineCfg.TurnIdleTimeout, engineCfg.ToolTimeouts)
	}
	if err := engineCfg.Validate(); err != nil {
		t.Fatalf("expected a valid engine config, got %v", err)
	}
}

func TestLoaderRejectsInvalidValues(t *testing.T) {
	tests := map[string]map[string]string{
		"channel": {"EMA_CHANNEL": "carrier-pigeon"},
		"audio":   {"EMA_AUDIO": "alsa"},
		"level":   {"EMA_LOG_LEVEL": "loud"},
		"retries": {"EMA_MAX_CONNECT_RETRIES": "many"},
	}

	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			loader := config.Loader{Lookup: func(key string) (string, bool) {
				value, ok := env[key]
				return value, ok
			}}
			if _, err := loader.Load(""); err == nil {
				t.Fatalf("expected an error for %v", env)
			}
		})
	}
}

func TestLoaderRequiresExplicitFile(t *testing.T) {
	loader := config.Loader{
		Lookup:   func(string) (string, bool) { return "", false },
		ReadFile: func(string) ([]byte, error) { return nil, fs.ErrNotExist },
	}
	if _, err := loader.Load("missing.yaml"); err == nil {
		t.Fatalf("expected a missing explicit file to fail")
	}
}

func TestParseSelector(t *testing.T) {
	if selector := config.ParseSelector(""); !selector.IsDefault() {
		t.Fatalf("expected default selector, got %s", selector)
	}
	if selector := config.ParseSelector("id: 42"); selector.ID != "42" {
		t.Fatalf("expected id 42, got %+v", selector)
	}
	if selector := config.ParseSelector("Headphones"); selector.Name != "Headphones" {
		t.Fatalf("expected name selector, got %+v", selector)
	}
}
