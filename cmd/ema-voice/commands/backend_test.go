package commands

import (
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"testing"

	"github.com/koscakluka/ema-voice/core/channel/deepgram"
	"github.com/koscakluka/ema-voice/core/channel/flow"
	"github.com/koscakluka/ema-voice/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewDialerFollowsChannel(t *testing.T) {
	if _, ok := newDialer(config.Config{Channel: config.ChannelFlow}).(*flow.Dialer); !ok {
		t.Fatalf("expected flow dialer")
	}
	if _, ok := newDialer(config.Config{Channel: config.ChannelDeepgram}).(*deepgram.Dialer); !ok {
		t.Fatalf("expected deepgram dialer")
	}
}

func TestToolRegistryWithoutKeysOnlyHasStock(t *testing.T) {
	registry, cleanup, err := newToolRegistry(config.Config{}, discardLogger())
	defer cleanup()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	names := registry.Names()
	if len(names) != 1 || names[0] != "stock_price" {
		t.Fatalf("expected only stock_price, got %v", names)
	}
}

func TestToolRegistryHonoursDisabledTools(t *testing.T) {
	cfg := config.Config{Tools: config.ToolsConfig{
		TavilyAPIKey: "tvly-test",
		Disabled:     []string{"stock_price"},
	}}
	registry, cleanup, err := newToolRegistry(cfg, discardLogger())
	defer cleanup()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	names := registry.Names()
	if slices.Contains(names, "stock_price") {
		t.Fatalf("expected stock_price to be disabled, got %v", names)
	}
	if !slices.Contains(names, "internet_search") {
		t.Fatalf("expected internet_search, got %v", names)
	}
}

func TestToolRegistryWithAllCredentials(t *testing.T) {
	cfg := config.Config{Tools: config.ToolsConfig{
		TavilyAPIKey: "tvly-test",
		OpenAIAPIKey: "sk-test",
		SQLitePath:   filepath.Join(t.TempDir(), "tools.db"),
	}}
	registry, cleanup, err := newToolRegistry(cfg, discardLogger())
	defer cleanup()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	names := registry.Names()
	for _, name := range []string{"stock_price", "internet_search", "generate_image", "sql_query"} {
		if !slices.Contains(names, name) {
			t.Fatalf("expected %s to be registered, got %v", name, names)
		}
	}
}
