package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/spf13/cobra"
)

const (
	eventFeedCapacity = 256
	stopTimeout       = 5 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a voice session in the terminal",
	Long: `Start a voice session and show the conversation in a terminal UI.

Press space to start talking and again to stop. The assistant can be cut
short with i. q stops the session and waits for queued playback.`,
	RunE: runSession,
}

func runSession(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sessionCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	backend, err := newAudioBackend(cfg.Audio)
	if err != nil {
		return fmt.Errorf("failed to initialise %s audio: %w", cfg.Audio, err)
	}
	defer backend.Close()

	registry, closeTools, err := newToolRegistry(cfg, logger)
	defer closeTools()
	if err != nil {
		return err
	}

	feed := newEventFeed(eventFeedCapacity)
	engine := orchestration.NewEngine(
		orchestration.WithDialer(newDialer(cfg)),
		orchestration.WithAudioDevices(backend),
		orchestration.WithDeviceStrategy(deviceStrategy(backend)),
		orchestration.WithToolRegistry(registry),
		orchestration.WithEventHandler(feed),
	)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger.Info("starting session", "channel", cfg.Channel, "audio", cfg.Audio, "tools", registry.Names())
	if err := engine.Start(ctx, sessionCfg); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	model := newSessionModel(engine, feed, cfg.Channel)
	_, runErr := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	feed.Close()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	stopErr := engine.Stop(stopCtx)
	if errors.Is(runErr, tea.ErrProgramKilled) {
		runErr = nil
	}

	snapshot := engine.Snapshot()
	logger.Info("session ended", "id", snapshot.ID, "state", snapshot.State, "turns", len(snapshot.Turns), "dropped_chunks", snapshot.DroppedChunks, "reconnects", snapshot.Reconnects)
	if snapshot.State == orchestration.StateFailed && snapshot.Err != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "session failed: %s\n", snapshot.Err)
	}
	return errors.Join(runErr, stopErr)
}

// eventFeed hands engine events to the UI. It never blocks the engine: once
// the UI falls behind by a full buffer, events are dropped and counted.
type eventFeed struct {
	events chan events.Event
	done   chan struct{}

	mu      sync.Mutex
	dropped int
	closed  bool
}

func newEventFeed(capacity int) *eventFeed {
	return &eventFeed{
		events: make(chan events.Event, capacity),
		done:   make(chan struct{}),
	}
}

func (f *eventFeed) HandleEvent(event events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.events <- event:
	default:
		f.dropped++
		slog.Debug("ui event dropped", "kind", event.Kind(), "dropped", f.dropped)
	}
}

// Next blocks until an event arrives or the feed is closed.
func (f *eventFeed) Next() (events.Event, bool) {
	select {
	case event := <-f.events:
		return event, true
	case <-f.done:
		return nil, false
	}
}

func (f *eventFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.done)
}
