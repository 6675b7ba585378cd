package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/internal/config"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio devices and show which ones a session would use",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		backend, err := newAudioBackend(cfg.Audio)
		if err != nil {
			return fmt.Errorf("failed to initialise %s audio: %w", cfg.Audio, err)
		}
		defer backend.Close()

		return printDevices(cmd, backend, cfg)
	},
}

func printDevices(cmd *cobra.Command, lister audio.DeviceLister, cfg config.Config) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	heading := lipgloss.NewStyle().Bold(true)

	for _, kind := range []audio.DeviceKind{audio.DeviceKindInput, audio.DeviceKindOutput} {
		devices, err := lister.Devices(ctx, kind)
		if err != nil {
			return fmt.Errorf("failed to list %s devices: %w", kind, err)
		}

		configured := config.ParseSelector(cfg.InputDevice)
		if kind == audio.DeviceKindOutput {
			configured = config.ParseSelector(cfg.OutputDevice)
		}
		selected, err := audio.ResolveDevice(ctx, kind, configured, deviceStrategy(lister))
		if err != nil {
			fmt.Fprintf(out, "warning: device detection failed, using default: %v\n", err)
		}

		fmt.Fprintln(out, heading.Render(fmt.Sprintf("%s devices", kind)))
		writeDeviceTable(out, devices, selected)
		fmt.Fprintln(out)
	}
	return nil
}

func writeDeviceTable(out io.Writer, devices []audio.DeviceInfo, selected audio.Selector) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if len(devices) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	for _, device := range devices {
		marker := " "
		if selected.Matches(device) {
			marker = "*"
		}
		flags := ""
		if device.IsDefault {
			flags = "default"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, device.Name, device.ID, flags)
	}
}
