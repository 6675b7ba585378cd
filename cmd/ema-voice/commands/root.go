package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/koscakluka/ema-voice/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	logFile     string
	flagChannel string
	flagAudio   string
)

var rootCmd = &cobra.Command{
	Use:          "ema-voice",
	Short:        "Push-to-talk voice assistant",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd, args)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (default $EMA_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", filepath.Join(os.TempDir(), "ema-voice.log"), "where to write logs, - for stderr")
	rootCmd.PersistentFlags().StringVar(&flagChannel, "channel", "", "remote channel: flow or deepgram")
	rootCmd.PersistentFlags().StringVar(&flagAudio, "audio", "", "audio backend: miniaudio or portaudio")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(devicesCmd)
}

// loadConfig loads the config file and environment, then applies flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.Loader{}.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if flagChannel != "" {
		cfg.Channel = flagChannel
	}
	if flagAudio != "" {
		cfg.Audio = flagAudio
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(level string) (*slog.Logger, func(), error) {
	var out io.Writer = os.Stderr
	closeLog := func() {}
	if logFile != "-" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = file
		closeLog = func() { file.Close() }
	}

	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl})), closeLog, nil
}
