package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nvandessel/pathsim/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	config := Default()

	assert.Equal(t, uint64(0), config.Simulation.Seed)
	assert.Equal(t, 1000, config.Simulation.MaxBatches)
	assert.Equal(t, 100, config.Simulation.MaxRejectStreak)
	assert.Equal(t, 1, config.Simulation.Parallelism)

	assert.True(t, config.Selection.SubnetRestriction)
	assert.True(t, config.Selection.FamilyRestriction)
	assert.Empty(t, config.Output.Database)
	assert.Equal(t, "info", config.Logging.Level)

	require.NoError(t, config.Validate())
}

func TestDefault_RequirementsUnconstrained(t *testing.T) {
	reqs, err := Default().Requirements()
	require.NoError(t, err)
	require.Len(t, reqs, 3)

	for _, pos := range []models.Position{models.PositionGuard, models.PositionMiddle, models.PositionExit} {
		req, ok := reqs[pos]
		require.True(t, ok, pos.String())
		assert.Equal(t, models.ConstraintAny, req.Fast, pos.String())
		assert.Equal(t, models.ConstraintAny, req.Stable, pos.String())
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("PATHSIM_TEST_DIR", "/data")
	configContent := `
simulation:
  seed: 42
  max_batches: 50
  parallelism: 4

selection:
  exit_stable: required
  middle_fast: forbidden
  family_restriction: false

output:
  database: ${PATHSIM_TEST_DIR}/runs.db

logging:
  level: debug
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0600))

	config, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, uint64(42), config.Simulation.Seed)
	assert.Equal(t, 50, config.Simulation.MaxBatches)
	assert.Equal(t, 100, config.Simulation.MaxRejectStreak, "unset fields keep defaults")
	assert.Equal(t, 4, config.Simulation.Parallelism)
	assert.False(t, config.Selection.FamilyRestriction)
	assert.True(t, config.Selection.SubnetRestriction)
	assert.Equal(t, "/data/runs.db", config.Output.Database)
	assert.Equal(t, "debug", config.Logging.Level)

	reqs, err := config.Requirements()
	require.NoError(t, err)
	assert.Equal(t, models.ConstraintRequired, reqs[models.PositionExit].Stable)
	assert.Equal(t, models.ConstraintForbidden, reqs[models.PositionMiddle].Fast)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("simulation: [unclosed"), 0600))
	_, err = LoadFromFile(bad)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PathsimConfig)
		wantErr string
	}{
		{"defaults", func(*PathsimConfig) {}, ""},
		{"zero max batches", func(c *PathsimConfig) { c.Simulation.MaxBatches = 0 }, "max_batches"},
		{"zero reject streak", func(c *PathsimConfig) { c.Simulation.MaxRejectStreak = 0 }, "max_reject_streak"},
		{"zero parallelism", func(c *PathsimConfig) { c.Simulation.Parallelism = 0 }, "parallelism"},
		{"bad constraint", func(c *PathsimConfig) { c.Selection.GuardStable = "maybe" }, "selection.guard_stable"},
		{"bad log level", func(c *PathsimConfig) { c.Logging.Level = "verbose" }, "invalid log level"},
		{"empty log level", func(c *PathsimConfig) { c.Logging.Level = "" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLimits(t *testing.T) {
	config := Default()
	config.Simulation.MaxBatches = 7
	config.Simulation.MaxRejectStreak = 3

	limits := config.Limits()
	assert.Equal(t, 7, limits.MaxBatches)
	assert.Equal(t, 3, limits.MaxRejectStreak)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PATHSIM_SEED", "7")
	t.Setenv("PATHSIM_MAX_BATCHES", "12")
	t.Setenv("PATHSIM_MAX_REJECT_STREAK", "not-a-number")
	t.Setenv("PATHSIM_PARALLELISM", "3")
	t.Setenv("PATHSIM_SUBNET_RESTRICTION", "false")
	t.Setenv("PATHSIM_FAMILY_RESTRICTION", "1")
	t.Setenv("PATHSIM_DATABASE", "/tmp/runs.db")
	t.Setenv("PATHSIM_METRICS_FILE", "/tmp/pathsim.prom")
	t.Setenv("PATHSIM_LOG_LEVEL", "trace")

	config := Default()
	applyEnvOverrides(config)

	assert.Equal(t, uint64(7), config.Simulation.Seed)
	assert.Equal(t, 12, config.Simulation.MaxBatches)
	assert.Equal(t, 100, config.Simulation.MaxRejectStreak, "unparseable values are ignored")
	assert.Equal(t, 3, config.Simulation.Parallelism)
	assert.False(t, config.Selection.SubnetRestriction)
	assert.True(t, config.Selection.FamilyRestriction)
	assert.Equal(t, "/tmp/runs.db", config.Output.Database)
	assert.Equal(t, "/tmp/pathsim.prom", config.Output.MetricsFile)
	assert.Equal(t, "trace", config.Logging.Level)
}

func TestLoad_ReadsHomeConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	dir := filepath.Join(home, ".pathsim")
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("simulation:\n  seed: 99\n"), 0600))
	t.Setenv("PATHSIM_MAX_BATCHES", "5")

	config, err := Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(99), config.Simulation.Seed)
	assert.Equal(t, 5, config.Simulation.MaxBatches)
}

func TestLoad_NoFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	config, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1000, config.Simulation.MaxBatches)
	assert.Equal(t, filepath.Join(home, ".pathsim"), config.Output.DecisionDir)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("PATHSIM_TEST_VAR", "value")

	assert.Equal(t, "plain", expandEnvVars("plain"))
	assert.Equal(t, "value/x", expandEnvVars("${PATHSIM_TEST_VAR}/x"))
	assert.Equal(t, "$PATHSIM_TEST_VAR", expandEnvVars("$PATHSIM_TEST_VAR"))
}
