package main

import (
	"fmt"
	"os"

	"github.com/nvandessel/pathsim/internal/config"
	"github.com/spf13/cobra"
)

// Set by the release build.
var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pathsim",
		Short: "Path selection simulator for onion-routing networks",
		Long: `pathsim simulates how clients of an onion-routing network build circuits.

Given a consensus snapshot and a file of circuit orders, it draws guard,
middle and exit relays with bandwidth-weighted probabilities, rejects
circuits that break the subnet and family rules, and reports how many
circuits each order produced.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("root", ".", "Project root directory")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.pathsim/config.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newSimulateCmd(),
		newWeightsCmd(),
		newRunsCmd(),
		newConfigCmd(),
		newMCPServerCmd(),
	)

	return rootCmd
}

// loadConfig reads --config when set, otherwise the default locations,
// and validates the result.
func loadConfig(cmd *cobra.Command) (*config.PathsimConfig, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.PathsimConfig
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
