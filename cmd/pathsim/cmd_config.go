package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nvandessel/pathsim/internal/config"
	"github.com/nvandessel/pathsim/internal/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage pathsim configuration",
		Long: `View and modify pathsim configuration settings.

Configuration is stored in ~/.pathsim/config.yaml.

Examples:
  pathsim config list                              # Show all settings
  pathsim config get simulation.max_batches        # Get a specific setting
  pathsim config set selection.exit_stable required
  pathsim config set output.database ~/.pathsim/runs.db`,
	}

	cmd.AddCommand(
		newConfigListCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
	)

	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "Configuration (~/.pathsim/config.yaml):")
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Simulation Settings:")
			fmt.Fprintf(w, "  simulation.seed:              %s\n", seedString(cfg.Simulation.Seed))
			fmt.Fprintf(w, "  simulation.max_batches:       %d\n", cfg.Simulation.MaxBatches)
			fmt.Fprintf(w, "  simulation.max_reject_streak: %d\n", cfg.Simulation.MaxRejectStreak)
			fmt.Fprintf(w, "  simulation.parallelism:       %d\n", cfg.Simulation.Parallelism)
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Selection Settings:")
			fmt.Fprintf(w, "  selection.guard_fast:         %s\n", cfg.Selection.GuardFast)
			fmt.Fprintf(w, "  selection.guard_stable:       %s\n", cfg.Selection.GuardStable)
			fmt.Fprintf(w, "  selection.middle_fast:        %s\n", cfg.Selection.MiddleFast)
			fmt.Fprintf(w, "  selection.middle_stable:      %s\n", cfg.Selection.MiddleStable)
			fmt.Fprintf(w, "  selection.exit_fast:          %s\n", cfg.Selection.ExitFast)
			fmt.Fprintf(w, "  selection.exit_stable:        %s\n", cfg.Selection.ExitStable)
			fmt.Fprintf(w, "  selection.subnet_restriction: %v\n", cfg.Selection.SubnetRestriction)
			fmt.Fprintf(w, "  selection.family_restriction: %v\n", cfg.Selection.FamilyRestriction)
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Output Settings:")
			fmt.Fprintf(w, "  output.database:              %s\n", valueOrDefault(cfg.Output.Database, "(not set)"))
			fmt.Fprintf(w, "  output.metrics_file:          %s\n", valueOrDefault(cfg.Output.MetricsFile, "(not set)"))
			fmt.Fprintf(w, "  output.decision_dir:          %s\n", valueOrDefault(cfg.Output.DecisionDir, "(not set)"))
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Logging Settings:")
			fmt.Fprintf(w, "  logging.level:                %s\n", valueOrDefault(cfg.Logging.Level, "info"))

			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key := args[0]

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			value, found := getConfigValue(cfg, key)
			if !found {
				if jsonOut {
					json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
						"error": "key not found",
						"key":   key,
					})
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Unknown configuration key: %s\n", key)
				}
				return nil
			}

			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"key":   key,
					"value": value,
				})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, value)
			}

			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key := args[0]
			value := args[1]

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if err := setConfigValue(cfg, key, value); err != nil {
				if jsonOut {
					json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
						"error": err.Error(),
						"key":   key,
					})
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Error: %v\n", err)
				}
				return nil
			}

			if err := saveConfig(cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"status": "updated",
					"key":    key,
					"value":  value,
				})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			}

			return nil
		},
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.PathsimConfig, key string) (any, bool) {
	switch key {
	case "simulation.seed":
		return cfg.Simulation.Seed, true
	case "simulation.max_batches":
		return cfg.Simulation.MaxBatches, true
	case "simulation.max_reject_streak":
		return cfg.Simulation.MaxRejectStreak, true
	case "simulation.parallelism":
		return cfg.Simulation.Parallelism, true
	case "selection.guard_fast":
		return cfg.Selection.GuardFast, true
	case "selection.guard_stable":
		return cfg.Selection.GuardStable, true
	case "selection.middle_fast":
		return cfg.Selection.MiddleFast, true
	case "selection.middle_stable":
		return cfg.Selection.MiddleStable, true
	case "selection.exit_fast":
		return cfg.Selection.ExitFast, true
	case "selection.exit_stable":
		return cfg.Selection.ExitStable, true
	case "selection.subnet_restriction":
		return cfg.Selection.SubnetRestriction, true
	case "selection.family_restriction":
		return cfg.Selection.FamilyRestriction, true
	case "output.database":
		return cfg.Output.Database, true
	case "output.metrics_file":
		return cfg.Output.MetricsFile, true
	case "output.decision_dir":
		return cfg.Output.DecisionDir, true
	case "logging.level":
		return cfg.Logging.Level, true
	default:
		return nil, false
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.PathsimConfig, key, value string) error {
	switch key {
	case "simulation.seed":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seed: %s (must be a non-negative integer)", value)
		}
		cfg.Simulation.Seed = n
	case "simulation.max_batches":
		return setPositiveInt(&cfg.Simulation.MaxBatches, key, value)
	case "simulation.max_reject_streak":
		return setPositiveInt(&cfg.Simulation.MaxRejectStreak, key, value)
	case "simulation.parallelism":
		return setPositiveInt(&cfg.Simulation.Parallelism, key, value)
	case "selection.guard_fast":
		return setConstraint(&cfg.Selection.GuardFast, value)
	case "selection.guard_stable":
		return setConstraint(&cfg.Selection.GuardStable, value)
	case "selection.middle_fast":
		return setConstraint(&cfg.Selection.MiddleFast, value)
	case "selection.middle_stable":
		return setConstraint(&cfg.Selection.MiddleStable, value)
	case "selection.exit_fast":
		return setConstraint(&cfg.Selection.ExitFast, value)
	case "selection.exit_stable":
		return setConstraint(&cfg.Selection.ExitStable, value)
	case "selection.subnet_restriction":
		cfg.Selection.SubnetRestriction = value == "true" || value == "1"
	case "selection.family_restriction":
		cfg.Selection.FamilyRestriction = value == "true" || value == "1"
	case "output.database":
		cfg.Output.Database = value
	case "output.metrics_file":
		cfg.Output.MetricsFile = value
	case "output.decision_dir":
		cfg.Output.DecisionDir = value
	case "logging.level":
		validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
		if !validLevels[value] {
			return fmt.Errorf("invalid log level: %s (valid: info, debug, trace)", value)
		}
		cfg.Logging.Level = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

func setPositiveInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return fmt.Errorf("invalid %s: %s (must be a positive integer)", key, value)
	}
	*dst = n
	return nil
}

func setConstraint(dst *string, value string) error {
	if _, err := models.ParseConstraint(value); err != nil {
		return err
	}
	*dst = value
	return nil
}

// saveConfig writes the configuration to ~/.pathsim/config.yaml.
func saveConfig(cfg *config.PathsimConfig) error {
	dir, err := config.Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create .pathsim directory: %w", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// seedString renders a seed, naming the time-based default.
func seedString(seed uint64) string {
	if seed == 0 {
		return "0 (time-based)"
	}
	return strconv.FormatUint(seed, 10)
}

// valueOrDefault returns the value if non-empty, otherwise the default.
func valueOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}
