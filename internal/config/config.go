// Package config provides unified configuration loading for pathsim.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nvandessel/pathsim/internal/constants"
	"github.com/nvandessel/pathsim/internal/eligibility"
	"github.com/nvandessel/pathsim/internal/generator"
	"github.com/nvandessel/pathsim/internal/models"
	"gopkg.in/yaml.v3"
)

// PathsimConfig contains all pathsim configuration settings.
type PathsimConfig struct {
	// Simulation bounds the generator and seeds its random source.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`

	// Selection controls which relays are eligible for each position and
	// which restrictions are applied to drawn circuits.
	Selection SelectionConfig `json:"selection" yaml:"selection"`

	// Output names the optional artifacts a run writes.
	Output OutputConfig `json:"output" yaml:"output"`

	// Logging contains settings for operational and decision logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// SimulationConfig configures the circuit generator.
type SimulationConfig struct {
	// Seed for the random source. Zero picks a time-based seed per run.
	Seed uint64 `json:"seed" yaml:"seed"`

	// MaxBatches caps the number of batches drawn for a single order.
	MaxBatches int `json:"max_batches" yaml:"max_batches"`

	// MaxRejectStreak abandons an order after this many consecutive
	// batches in which every candidate was rejected.
	MaxRejectStreak int `json:"max_reject_streak" yaml:"max_reject_streak"`

	// Parallelism is the number of orders generated concurrently.
	// With 1, orders share one random stream and run in file order.
	Parallelism int `json:"parallelism" yaml:"parallelism"`
}

// SelectionConfig holds per-position flag constraints.
// Each constraint is "any" (the default), "required" or "forbidden".
type SelectionConfig struct {
	GuardFast    string `json:"guard_fast" yaml:"guard_fast"`
	GuardStable  string `json:"guard_stable" yaml:"guard_stable"`
	MiddleFast   string `json:"middle_fast" yaml:"middle_fast"`
	MiddleStable string `json:"middle_stable" yaml:"middle_stable"`
	ExitFast     string `json:"exit_fast" yaml:"exit_fast"`
	ExitStable   string `json:"exit_stable" yaml:"exit_stable"`

	// SubnetRestriction rejects circuits with two hops in the same /16.
	SubnetRestriction bool `json:"subnet_restriction" yaml:"subnet_restriction"`

	// FamilyRestriction rejects circuits with two hops in the same family.
	FamilyRestriction bool `json:"family_restriction" yaml:"family_restriction"`
}

// OutputConfig configures run artifacts. Empty paths disable the artifact.
type OutputConfig struct {
	// Database is the SQLite file that records runs and accepted circuits.
	Database string `json:"database,omitempty" yaml:"database,omitempty"`

	// MetricsFile receives Prometheus text-format metrics after each run.
	MetricsFile string `json:"metrics_file,omitempty" yaml:"metrics_file,omitempty"`

	// DecisionDir holds decisions.jsonl when logging at debug or trace.
	DecisionDir string `json:"decision_dir,omitempty" yaml:"decision_dir,omitempty"`
}

// LoggingConfig configures pathsim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables decision logging to <decision_dir>/decisions.jsonl.
	// "trace" additionally prints every batch to stderr.
	Level string `json:"level" yaml:"level"`
}

// Default returns a PathsimConfig with sensible defaults.
func Default() *PathsimConfig {
	return &PathsimConfig{
		Simulation: SimulationConfig{
			Seed:            0,
			MaxBatches:      constants.DefaultMaxBatches,
			MaxRejectStreak: constants.DefaultMaxRejectStreak,
			Parallelism:     1,
		},
		Selection: SelectionConfig{
			GuardFast:         "any",
			GuardStable:       "any",
			MiddleFast:        "any",
			MiddleStable:      "any",
			ExitFast:          "any",
			ExitStable:        "any",
			SubnetRestriction: true,
			FamilyRestriction: true,
		},
		Output: OutputConfig{
			DecisionDir: defaultDecisionDir(),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Dir returns ~/.pathsim.
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".pathsim"), nil
}

func defaultDecisionDir() string {
	dir, err := Dir()
	if err != nil {
		return ".pathsim"
	}
	return dir
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.pathsim/config.yaml -> environment variables
func Load() (*PathsimConfig, error) {
	config := Default()

	if dir, err := Dir(); err == nil {
		configPath := filepath.Join(dir, "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*PathsimConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Output paths may reference ${HOME} and friends
	config.Output.Database = expandEnvVars(config.Output.Database)
	config.Output.MetricsFile = expandEnvVars(config.Output.MetricsFile)
	config.Output.DecisionDir = expandEnvVars(config.Output.DecisionDir)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *PathsimConfig) Validate() error {
	if c.Simulation.MaxBatches < 1 {
		return fmt.Errorf("max_batches must be at least 1, got %d", c.Simulation.MaxBatches)
	}
	if c.Simulation.MaxRejectStreak < 1 {
		return fmt.Errorf("max_reject_streak must be at least 1, got %d", c.Simulation.MaxRejectStreak)
	}
	if c.Simulation.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1, got %d", c.Simulation.Parallelism)
	}

	if _, err := c.Requirements(); err != nil {
		return err
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// Requirements parses the selection constraints for every position.
func (c *PathsimConfig) Requirements() (map[models.Position]eligibility.Requirement, error) {
	s := c.Selection
	fields := []struct {
		pos          models.Position
		name         string
		fast, stable string
	}{
		{models.PositionGuard, constants.RoleGuard, s.GuardFast, s.GuardStable},
		{models.PositionMiddle, constants.RoleMiddle, s.MiddleFast, s.MiddleStable},
		{models.PositionExit, constants.RoleExit, s.ExitFast, s.ExitStable},
	}

	out := make(map[models.Position]eligibility.Requirement, len(fields))
	for _, f := range fields {
		fast, err := models.ParseConstraint(f.fast)
		if err != nil {
			return nil, fmt.Errorf("selection.%s_fast: %w", f.name, err)
		}
		stable, err := models.ParseConstraint(f.stable)
		if err != nil {
			return nil, fmt.Errorf("selection.%s_stable: %w", f.name, err)
		}
		out[f.pos] = eligibility.Requirement{Fast: fast, Stable: stable}
	}
	return out, nil
}

// Limits returns the generator limits configured for a run.
func (c *PathsimConfig) Limits() generator.Limits {
	return generator.Limits{
		MaxBatches:      c.Simulation.MaxBatches,
		MaxRejectStreak: c.Simulation.MaxRejectStreak,
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *PathsimConfig) {
	if v := os.Getenv("PATHSIM_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Simulation.Seed = n
		}
	}
	if v := os.Getenv("PATHSIM_MAX_BATCHES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.MaxBatches = n
		}
	}
	if v := os.Getenv("PATHSIM_MAX_REJECT_STREAK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.MaxRejectStreak = n
		}
	}
	if v := os.Getenv("PATHSIM_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.Parallelism = n
		}
	}

	if v := os.Getenv("PATHSIM_SUBNET_RESTRICTION"); v != "" {
		config.Selection.SubnetRestriction = v == "true" || v == "1"
	}
	if v := os.Getenv("PATHSIM_FAMILY_RESTRICTION"); v != "" {
		config.Selection.FamilyRestriction = v == "true" || v == "1"
	}

	if v := os.Getenv("PATHSIM_DATABASE"); v != "" {
		config.Output.Database = v
	}
	if v := os.Getenv("PATHSIM_METRICS_FILE"); v != "" {
		config.Output.MetricsFile = v
	}

	if v := os.Getenv("PATHSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
