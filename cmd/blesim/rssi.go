package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blesim/internal/session"
)

type rssiOptions struct {
	count    int
	interval time.Duration
}

func newRSSICmd() *cobra.Command {
	var opts rssiOptions

	cmd := &cobra.Command{
		Use:   "rssi [device]",
		Short: "Poll the signal strength of a simulated device",
		Long: `Connects to a simulated device and prints its RSSI every --interval until
--count readings have been printed.

Set rand_seed in the config file for reproducible readings.`,
		Example: `  blesim rssi HRM-Sim --count 3 --interval 500ms`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) > 0 {
				query = args[0]
			}
			return runRSSI(cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.count, "count", "n", 5, "Number of readings")
	cmd.Flags().DurationVarP(&opts.interval, "interval", "i", time.Second, "Polling interval")
	return cmd
}

func runRSSI(cmd *cobra.Command, query string, opts rssiOptions) error {
	if opts.count <= 0 {
		return fmt.Errorf("--count must be positive, got %d", opts.count)
	}
	if opts.interval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", opts.interval)
	}

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

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if _, err := central.Connect(ctx, dev.Identifier()); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", deviceLabel(dev), err)
	}
	defer func() {
		if err := central.CancelConnection(dev.Identifier()); err != nil {
			logger.WithError(err).Warn("Failed to disconnect")
		}
	}()

	readings := make(chan int, opts.count)
	failures := make(chan error, 1)
	s := session.New(dev,
		session.WithLogger(logger),
		session.WithRSSIHandler(func(rssi int) {
			select {
			case readings <- rssi:
			default:
			}
		}),
		session.WithErrorHandler(func(op session.Op, err error) {
			select {
			case failures <- fmt.Errorf("%s: %w", op, err):
			default:
			}
		}),
	)

	if err := s.StartReadingRSSI(opts.interval); err != nil {
		return err
	}
	defer s.StopReadingRSSI()

	out := cmd.OutOrStdout()
	for i := 0; i < opts.count; i++ {
		select {
		case rssi := <-readings:
			fmt.Fprintf(out, "%s: %d dBm\n", deviceLabel(dev), rssi)
		case err := <-failures:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
