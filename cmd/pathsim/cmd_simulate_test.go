package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSimulation(t *testing.T, orderLines ...string) (snapPath, ordersPath, tmpDir string) {
	t.Helper()
	tmpDir = t.TempDir()
	isolateHome(t, tmpDir)
	snapPath = writeFixture(t, tmpDir, "snapshot.yaml", testSnapshotYAML)
	ordersPath = writeFixture(t, tmpDir, "orders.txt", strings.Join(orderLines, "\n")+"\n")
	return snapPath, ordersPath, tmpDir
}

func TestNewSimulateCmd(t *testing.T) {
	cmd := newSimulateCmd()
	assert.Equal(t, "simulate", cmd.Use)
	for _, flag := range []string{"snapshot", "orders", "seed", "parallelism", "max-batches", "db", "metrics", "print"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), flag)
	}
}

func TestSimulateCmd_Text(t *testing.T) {
	snap, orders, _ := setupSimulation(t, "# two orders", "3 * * *", "2 * * * example.com:443")

	stdout, stderr, err := execute(t, newSimulateCmd(), "simulate",
		"--snapshot", snap, "--orders", orders, "--seed", "9")
	require.NoError(t, err, stderr)

	assert.Contains(t, stdout, "(seed 9)")
	assert.Contains(t, stdout, "Delivered 5 circuits for 2 orders (0 failed)")
	assert.Contains(t, stdout, "accepted")
	assert.Contains(t, stderr, "run started")
}

func TestSimulateCmd_JSONWithCircuits(t *testing.T) {
	snap, orders, _ := setupSimulation(t, "3 * * *", "2 G1FP * *")

	stdout, _, err := execute(t, newSimulateCmd(), "simulate",
		"--snapshot", snap, "--orders", orders, "--seed", "4", "--print", "--json")
	require.NoError(t, err)

	var summary simulateSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, uint64(4), summary.Seed)
	assert.Equal(t, 5, summary.Delivered)
	require.Len(t, summary.Orders, 2)
	assert.Len(t, summary.Orders[0].Circuits, 3)
	require.Len(t, summary.Orders[1].Circuits, 2)
	for _, c := range summary.Orders[1].Circuits {
		assert.Equal(t, "G1FP", c[0], "pinned guard")
	}
}

func TestSimulateCmd_PrintText(t *testing.T) {
	snap, orders, _ := setupSimulation(t, "4 * * *")

	stdout, _, err := execute(t, newSimulateCmd(), "simulate",
		"--snapshot", snap, "--orders", orders, "--seed", "2", "--print")
	require.NoError(t, err)

	guards := map[string]bool{"10.1.0.1": true, "10.2.0.1": true}
	var circuitLines int
	for _, line := range strings.Split(stdout, "\n") {
		hops := strings.Fields(line)
		if len(hops) == 3 && guards[hops[0]] {
			circuitLines++
			for _, addr := range hops {
				assert.Regexp(t, `^\d+\.\d+\.\d+\.\d+$`, addr, "circuits print hop addresses")
			}
		}
	}
	assert.Equal(t, 4, circuitLines)
}

func TestSimulateCmd_Stdin(t *testing.T) {
	snap, _, _ := setupSimulation(t)

	var stdout strings.Builder
	rootCmd := newTestRootCmd()
	rootCmd.AddCommand(newSimulateCmd())
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&strings.Builder{})
	rootCmd.SetIn(strings.NewReader("2 * * *\n"))
	rootCmd.SetArgs([]string{"simulate", "--snapshot", snap, "--orders", "-", "--seed", "1"})
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, stdout.String(), "Delivered 2 circuits for 1 orders")
}

func TestSimulateCmd_SkipsMalformedLines(t *testing.T) {
	snap, orders, _ := setupSimulation(t, "zero * * *", "1 * * *")

	stdout, stderr, err := execute(t, newSimulateCmd(), "simulate",
		"--snapshot", snap, "--orders", orders, "--seed", "3")
	require.NoError(t, err)
	assert.Contains(t, stderr, "warning: skipping order line 1")
	assert.Contains(t, stdout, "Delivered 1 circuits for 1 orders")
}

func TestSimulateCmd_FailedOrder(t *testing.T) {
	snap, orders, _ := setupSimulation(t, "1 NOPE * *", "1 * * *")

	stdout, _, err := execute(t, newSimulateCmd(), "simulate",
		"--snapshot", snap, "--orders", orders, "--seed", "3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 orders failed")
	assert.Contains(t, stdout, "unknown relay")
}

func TestSimulateCmd_Errors(t *testing.T) {
	snap, orders, tmpDir := setupSimulation(t, "1 * * *")
	empty := writeFixture(t, tmpDir, "empty.txt", "# nothing\n")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing flags", []string{"simulate"}, "required flag"},
		{"missing snapshot file", []string{"simulate", "--snapshot", filepath.Join(tmpDir, "absent.yaml"), "--orders", orders}, "failed to load snapshot"},
		{"missing orders file", []string{"simulate", "--snapshot", snap, "--orders", filepath.Join(tmpDir, "absent.txt")}, "failed to open orders"},
		{"no valid orders", []string{"simulate", "--snapshot", snap, "--orders", empty}, "no valid orders"},
		{"bad parallelism", []string{"simulate", "--snapshot", snap, "--orders", orders, "--parallelism", "0"}, "parallelism"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, newSimulateCmd(), tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSimulateCmd_MetricsFile(t *testing.T) {
	snap, orders, tmpDir := setupSimulation(t, "3 * * *")
	metricsPath := filepath.Join(tmpDir, "pathsim.prom")

	_, _, err := execute(t, newSimulateCmd(), "simulate",
		"--snapshot", snap, "--orders", orders, "--seed", "5", "--metrics", metricsPath)
	require.NoError(t, err)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pathsim_circuits_accepted_total 3")
	assert.Contains(t, string(data), `pathsim_orders_total{outcome="accepted"} 1`)
}

func TestSimulateCmd_DecisionLog(t *testing.T) {
	snap, orders, tmpDir := setupSimulation(t, "2 * * *")
	decisionDir := filepath.Join(tmpDir, "decisions")
	configPath := writeFixture(t, tmpDir, "pathsim.yaml",
		"logging:\n  level: debug\noutput:\n  decision_dir: "+decisionDir+"\n")

	_, _, err := execute(t, newSimulateCmd(), "simulate", "--config", configPath,
		"--snapshot", snap, "--orders", orders, "--seed", "8")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(decisionDir, "decisions.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event":"order"`)
}
