package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Each call returns independent flag state.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "blesim",
		Short: "Simulated Bluetooth Low Energy peripherals",
		Long: `Simulated Bluetooth Low Energy (BLE) peripherals for development without radio hardware:

- Scan a simulated fleet described by YAML or JSON profiles
- Inspect the GATT tree of a simulated peripheral
- Read characteristic values
- Poll the signal strength of a simulated device

Without --profile the built-in fleet is used.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		SilenceErrors: true, // main() prints clean errors
		SilenceUsage:  true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("profile", "", "Path to a device or fleet profile (YAML or JSON)")

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newReadCmd())
	rootCmd.AddCommand(newRSSICmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
