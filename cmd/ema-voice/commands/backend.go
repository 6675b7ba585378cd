package commands

import (
	"fmt"
	"log/slog"

	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/audio/miniaudio"
	"github.com/koscakluka/ema-voice/core/audio/portaudio"
	"github.com/koscakluka/ema-voice/core/channel"
	"github.com/koscakluka/ema-voice/core/channel/deepgram"
	"github.com/koscakluka/ema-voice/core/channel/flow"
	"github.com/koscakluka/ema-voice/core/tools"
	"github.com/koscakluka/ema-voice/core/tools/image"
	"github.com/koscakluka/ema-voice/core/tools/search"
	"github.com/koscakluka/ema-voice/core/tools/sqlquery"
	"github.com/koscakluka/ema-voice/core/tools/stock"
	"github.com/koscakluka/ema-voice/internal/config"
)

// audioBackend is a device backend: it opens devices and lists them.
type audioBackend interface {
	orchestration.AudioDevices
	audio.DeviceLister
	Close()
}

func newAudioBackend(name string) (audioBackend, error) {
	if name == config.AudioPortaudio {
		client, err := portaudio.NewClient()
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	client, err := miniaudio.NewClient()
	if err != nil {
		return nil, err
	}
	return client, nil
}

func newDialer(cfg config.Config) channel.Dialer {
	switch cfg.Channel {
	case config.ChannelDeepgram:
		var opts []deepgram.DialerOption
		if cfg.Deepgram.URL != "" {
			opts = append(opts, deepgram.WithURL(cfg.Deepgram.URL))
		}
		if cfg.Deepgram.Model != "" {
			opts = append(opts, deepgram.WithModel(cfg.Deepgram.Model))
		}
		if cfg.Deepgram.Language != "" {
			opts = append(opts, deepgram.WithLanguage(cfg.Deepgram.Language))
		}
		return deepgram.NewDialer(opts...)

	default:
		var opts []flow.DialerOption
		if cfg.Flow.URL != "" {
			opts = append(opts, flow.WithURL(cfg.Flow.URL))
		}
		if cfg.Flow.TemplateID != "" || len(cfg.Flow.Variables) > 0 {
			templateID := cfg.Flow.TemplateID
			if templateID == "" {
				templateID = flow.DefaultTemplateID
			}
			opts = append(opts, flow.WithTemplate(templateID, cfg.Flow.Variables))
		}
		return flow.NewDialer(opts...)
	}
}

// newToolRegistry registers every enabled tool that has what it needs. The
// returned func releases tool resources.
func newToolRegistry(cfg config.Config, logger *slog.Logger) (*tools.Registry, func(), error) {
	registry := tools.NewRegistry()
	closers := []func(){}
	cleanup := func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}

	register := func(name string, capability tools.Capability) error {
		if !cfg.ToolEnabled(name) {
			logger.Info("tool disabled", "tool", name)
			return nil
		}
		if err := registry.Register(name, capability); err != nil {
			return fmt.Errorf("failed to register %s: %w", name, err)
		}
		logger.Info("tool registered", "tool", name)
		return nil
	}

	if err := register(stock.Name, stock.NewClient().Capability()); err != nil {
		return nil, cleanup, err
	}

	if cfg.Tools.TavilyAPIKey != "" {
		if err := register(search.Name, search.NewClient(cfg.Tools.TavilyAPIKey).Capability()); err != nil {
			return nil, cleanup, err
		}
	} else {
		logger.Warn("TAVILY_API_KEY not set, web search is unavailable")
	}

	if cfg.Tools.OpenAIAPIKey == "" {
		logger.Warn("OPENAI_API_KEY not set, image generation and sql queries are unavailable")
		return registry, cleanup, nil
	}

	if err := register(image.Name, image.NewGenerator(cfg.Tools.OpenAIAPIKey).Capability()); err != nil {
		return nil, cleanup, err
	}

	if cfg.Tools.SQLitePath != "" && cfg.ToolEnabled(sqlquery.Name) {
		db, err := sqlquery.Open(cfg.Tools.SQLitePath)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to open sql tool database: %w", err)
		}
		closers = append(closers, func() {
			if err := db.Close(); err != nil {
				logger.Warn("failed to close sql tool database", "error", err)
			}
		})
		tool := sqlquery.New(db, sqlquery.NewOpenAIGenerator(cfg.Tools.OpenAIAPIKey))
		if err := register(sqlquery.Name, tool.Capability()); err != nil {
			return nil, cleanup, err
		}
	}

	return registry, cleanup, nil
}

// deviceStrategy prefers headphones for output, as the microphone would
// otherwise pick up the assistant.
func deviceStrategy(lister audio.DeviceLister) audio.DeviceStrategy {
	return audio.HeadphonePreference{Lister: lister}
}
