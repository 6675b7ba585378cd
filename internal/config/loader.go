package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/koscakluka/ema-voice/internal/utils"
	"gopkg.in/yaml.v3"
)

// Loader reads the optional YAML file and then the environment. Tests
// replace Lookup and ReadFile.
type Loader struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)
}

// Load reads path (optional, a missing file is not an error when path is
// empty or comes from EMA_CONFIG), applies environment overrides and
// validates the result.
func (l Loader) Load(path string) (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	if l.ReadFile == nil {
		l.ReadFile = os.ReadFile
	}

	cfg := Config{}

	explicit := path != ""
	if !explicit {
		path, _ = l.Lookup("EMA_CONFIG")
	}
	if path != "" {
		if err := l.applyFile(path, explicit, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := l.applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l Loader) applyFile(path string, required bool, cfg *Config) error {
	raw, err := l.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}

func (l Loader) applyEnv(cfg *Config) error {
	overrideString(l.Lookup, "EMA_LOG_LEVEL", &cfg.LogLevel)
	overrideString(l.Lookup, "EMA_CHANNEL", &cfg.Channel)
	overrideString(l.Lookup, "EMA_AUDIO", &cfg.Audio)
	overrideString(l.Lookup, "EMA_INPUT_DEVICE", &cfg.InputDevice)
	overrideString(l.Lookup, "EMA_OUTPUT_DEVICE", &cfg.OutputDevice)
	overrideString(l.Lookup, "EMA_FLOW_URL", &cfg.Flow.URL)
	overrideString(l.Lookup, "EMA_FLOW_TEMPLATE_ID", &cfg.Flow.TemplateID)
	overrideString(l.Lookup, "EMA_DEEPGRAM_MODEL", &cfg.Deepgram.Model)
	overrideString(l.Lookup, "EMA_SQLITE_PATH", &cfg.Tools.SQLitePath)

	overrideString(l.Lookup, "SPEECHMATICS_AUTH_TOKEN", &cfg.Flow.AuthToken)
	overrideString(l.Lookup, "DEEPGRAM_API_KEY", &cfg.Deepgram.APIKey)
	overrideString(l.Lookup, "TAVILY_API_KEY", &cfg.Tools.TavilyAPIKey)
	overrideString(l.Lookup, "OPENAI_API_KEY", &cfg.Tools.OpenAIAPIKey)

	if value, ok := lookupTrimmed(l.Lookup, "EMA_MAX_CONNECT_RETRIES"); ok {
		retries, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: parse EMA_MAX_CONNECT_RETRIES: %w", err)
		}
		cfg.Session.MaxConnectRetries = utils.Ptr(retries)
	}
	if value, ok := lookupTrimmed(l.Lookup, "EMA_DISABLED_TOOLS"); ok {
		cfg.Tools.Disabled = nil
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.Tools.Disabled = append(cfg.Tools.Disabled, name)
			}
		}
	}
	return nil
}

func lookupTrimmed(lookup func(string) (string, bool), key string) (string, bool) {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookupTrimmed(lookup, key); ok {
		*target = value
	}
}
