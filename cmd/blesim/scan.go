package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/spf13/cobra"
	"github.com/srg/blesim/internal/device"
	"github.com/srg/blesim/internal/device/fake"
)

func newScanCmd() *cobra.Command {
	var services []string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List simulated devices",
		Long: `Scans the simulated fleet and prints one line per advertising device:
identifier, name, advertised RSSI and services.

Use --service to only list devices advertising one of the given services.`,
		Example: `  blesim scan
  blesim scan --service 180d
  blesim scan --profile fleet.yaml --service 180d,180f`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, services)
		},
	}

	cmd.Flags().StringSliceVarP(&services, "service", "s", nil, "Only list devices advertising these service UUIDs")
	return cmd
}

func runScan(cmd *cobra.Command, services []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	filter, err := parseUUIDs(services)
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

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ScanTimeout)
	defer cancel()

	out := cmd.OutOrStdout()
	colors := newPalette(out)
	found := 0
	err = central.Scan(ctx, filter, func(adv fake.Advertisement) {
		found++
		fmt.Fprintf(out, "%-32s  %s  %4d dBm  %s\n",
			device.UUIDKey(adv.ID),
			colors.device.Sprintf("%-12s", adv.Name),
			adv.RSSI,
			joinUUIDs(adv.Services))
	})
	if err != nil {
		return err
	}

	logger.WithField("count", found).Info("Scan completed")
	if found == 0 {
		fmt.Fprintln(out, "No devices found")
	}
	return nil
}

func parseUUIDs(values []string) ([]ble.UUID, error) {
	var result []ble.UUID
	for _, v := range values {
		u, err := device.ParseUUID(v)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, nil
}

func joinUUIDs(uuids []ble.UUID) string {
	keys := make([]string, 0, len(uuids))
	for _, u := range uuids {
		keys = append(keys, device.UUIDKey(u))
	}
	return strings.Join(keys, ",")
}
