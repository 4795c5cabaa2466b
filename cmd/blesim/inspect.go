package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/srg/blesim/internal/device"
	"github.com/srg/blesim/internal/device/fake"
	"github.com/srg/blesim/internal/profile"
	"github.com/srg/blesim/pkg/config"
)

func newInspectCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "inspect [device]",
		Short: "Print the GATT tree of a simulated device",
		Long: `Connects to a simulated device, discovers every service and characteristic,
reads readable values and prints the result as a tree or as JSON.

The device is selected by name or identifier; without one the first device
of the fleet is inspected.`,
		Example: `  blesim inspect HRM-Sim
  blesim inspect --profile device.yaml --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) > 0 {
				query = args[0]
			}
			return runInspect(cmd, query, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of a tree")
	return cmd
}

func runInspect(cmd *cobra.Command, query string, jsonOutput bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	profiles, err := loadProfiles(cfg)
	if err != nil {
		return err
	}
	central, err := newCentral(cfg, profiles, logger)
	if err != nil {
		return err
	}
	dev, err := selectDevice(central, query)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.DeviceTimeout)
	defer cancel()

	if _, err := central.Connect(ctx, dev.Identifier()); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", deviceLabel(dev), err)
	}
	defer func() {
		if err := central.CancelConnection(dev.Identifier()); err != nil {
			logger.WithError(err).Warn("Failed to disconnect")
		}
	}()

	snap, err := snapshot(ctx, dev)
	if err != nil {
		return err
	}

	if jsonOutput || cfg.OutputFormat == config.OutputJSON {
		return writeJSON(cmd.OutOrStdout(), snap)
	}
	writeTree(cmd.OutOrStdout(), snap)
	return nil
}

// snapshot captures the discovered GATT tree plus the advertised identity of dev.
func snapshot(ctx context.Context, dev *fake.Device) (profile.Profile, error) {
	snap, err := profile.Snapshot(ctx, dev)
	if err != nil {
		return snap, err
	}
	snap.Name = dev.Name()
	snap.RSSI = dev.RSSI()
	snap.ManufacturerData = dev.ManufacturerData()
	return snap, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeTree(w io.Writer, p profile.Profile) {
	colors := newPalette(w)

	name := p.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(w, "%s %s\n", colors.device.Sprint(name), colors.muted.Sprintf("[%s]", p.ID))
	fmt.Fprintf(w, "  state: %s, rssi: %d dBm\n", p.State, p.RSSI)
	if len(p.ManufacturerData) > 0 {
		line := fmt.Sprintf("  manufacturer data: %s", p.ManufacturerData)
		if md, err := device.ParseManufacturerData(p.ManufacturerData); err == nil {
			line += colors.muted.Sprintf(" %s", md)
		}
		fmt.Fprintln(w, line)
	}

	if len(p.Services) == 0 {
		fmt.Fprintln(w, "  no services")
		return
	}

	for _, svc := range p.Services {
		fmt.Fprintf(w, "  service %s%s\n", colors.service.Sprint(svc.UUID), label(svc.Name))
		for _, c := range svc.Characteristics {
			line := fmt.Sprintf("    characteristic %s%s", colors.char.Sprint(c.UUID), label(c.Name))
			if c.Properties != "" {
				line += colors.muted.Sprintf(" [%s]", c.Properties)
			}
			if len(c.Value) > 0 {
				line += " = " + colors.value.Sprint(c.Value.String())
				if decoded := decodeValue(c); decoded != "" {
					line += " (" + decoded + ")"
				}
			}
			if c.Notifying {
				line += " (notifying)"
			}
			fmt.Fprintln(w, line)
		}
	}
}

// decodeValue renders well-known values, or returns "" when the format is unknown or malformed.
func decodeValue(c profile.CharacteristicConfig) string {
	u, err := device.ParseUUID(c.UUID)
	if err != nil {
		return ""
	}
	decoded, err := device.DecodeValue(u, c.Value)
	if err != nil {
		return ""
	}
	return decoded
}

func label(name string) string {
	if name == "" {
		return ""
	}
	return " (" + name + ")"
}
