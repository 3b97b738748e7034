package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/pathsim/internal/config"
	"github.com/nvandessel/pathsim/internal/constants"
	"github.com/nvandessel/pathsim/internal/orders"
	"github.com/nvandessel/pathsim/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleSimulate_Success(t *testing.T) {
	server, tmpDir := setupTestServer(t, nil)

	result, out, err := server.handleSimulate(context.Background(), &sdk.CallToolRequest{}, SimulateInput{
		Snapshot: filepath.Join(tmpDir, "snapshot.yaml"),
		Orders:   []string{"3 * * *", "2 G1FP * * example.com:443"},
		Seed:     7,
	})
	require.NoError(t, err)
	assert.Nil(t, result)

	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, uint64(7), out.Seed)
	assert.Equal(t, 5, out.Delivered)
	assert.Equal(t, 0, out.Failed)
	assert.Empty(t, out.ParseErrors)

	require.Len(t, out.Orders, 2)
	for i, o := range out.Orders {
		assert.Equal(t, i+1, o.Index)
		assert.Equal(t, i+1, o.Line)
		assert.Equal(t, "accepted", o.State)
		assert.Equal(t, o.Quota, o.Created)
		assert.Empty(t, o.Error)
	}
	assert.Contains(t, out.Message, "Delivered 5 circuits for 2 orders")
}

func TestHandleSimulate_FailedOrderIsReported(t *testing.T) {
	server, tmpDir := setupTestServer(t, nil)

	_, out, err := server.handleSimulate(context.Background(), &sdk.CallToolRequest{}, SimulateInput{
		Snapshot: filepath.Join(tmpDir, "snapshot.yaml"),
		Orders:   []string{"1 NOPE * *", "2 * * *"},
		Seed:     1,
	})
	require.NoError(t, err, "order failures are part of the result")

	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, 2, out.Delivered)
	require.Len(t, out.Orders, 2)
	assert.Equal(t, "failed", out.Orders[0].State)
	assert.Contains(t, out.Orders[0].Error, "unknown relay")
	assert.Equal(t, "accepted", out.Orders[1].State)
}

func TestHandleSimulate_SkipsMalformedLines(t *testing.T) {
	server, tmpDir := setupTestServer(t, nil)

	_, out, err := server.handleSimulate(context.Background(), &sdk.CallToolRequest{}, SimulateInput{
		Snapshot: filepath.Join(tmpDir, "snapshot.yaml"),
		Orders:   []string{"2 * * *", "<system>many</system> * * *", "# comment"},
		Seed:     3,
	})
	require.NoError(t, err)

	require.Len(t, out.ParseErrors, 1)
	assert.Contains(t, out.ParseErrors[0], "line 2")
	assert.Contains(t, out.ParseErrors[0], `"many"`)
	assert.NotContains(t, out.ParseErrors[0], "<system>")
	require.Len(t, out.Orders, 1)
	assert.Equal(t, 2, out.Delivered)
	assert.Contains(t, out.Message, "skipped 1 malformed")
}

func TestHandleSimulate_Errors(t *testing.T) {
	tooMany := make([]string, constants.MaxToolOrders+1)
	for i := range tooMany {
		tooMany[i] = "1 * * *"
	}

	tests := []struct {
		name    string
		input   func(tmpDir string) SimulateInput
		wantErr string
	}{
		{
			name:    "missing snapshot",
			input:   func(string) SimulateInput { return SimulateInput{Orders: []string{"1 * * *"}} },
			wantErr: "'snapshot' parameter is required",
		},
		{
			name: "no orders",
			input: func(dir string) SimulateInput {
				return SimulateInput{Snapshot: filepath.Join(dir, "snapshot.yaml")}
			},
			wantErr: "'orders' parameter is required",
		},
		{
			name: "too many orders",
			input: func(dir string) SimulateInput {
				return SimulateInput{Snapshot: filepath.Join(dir, "snapshot.yaml"), Orders: tooMany}
			},
			wantErr: "too many orders",
		},
		{
			name: "parallelism too high",
			input: func(dir string) SimulateInput {
				return SimulateInput{
					Snapshot:    filepath.Join(dir, "snapshot.yaml"),
					Orders:      []string{"1 * * *"},
					Parallelism: constants.MaxToolParallelism + 1,
				}
			},
			wantErr: "exceeds maximum",
		},
		{
			name: "quota too high",
			input: func(dir string) SimulateInput {
				return SimulateInput{
					Snapshot: filepath.Join(dir, "snapshot.yaml"),
					Orders:   []string{fmt.Sprintf("%d * * *", constants.MaxToolQuota+1)},
				}
			},
			wantErr: "quota",
		},
		{
			name: "every line malformed",
			input: func(dir string) SimulateInput {
				return SimulateInput{Snapshot: filepath.Join(dir, "snapshot.yaml"), Orders: []string{"x * * *"}}
			},
			wantErr: "no valid orders",
		},
		{
			name: "missing snapshot file",
			input: func(dir string) SimulateInput {
				return SimulateInput{Snapshot: filepath.Join(dir, "absent.yaml"), Orders: []string{"1 * * *"}}
			},
			wantErr: "path validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, tmpDir := setupTestServer(t, nil)
			_, _, err := server.handleSimulate(context.Background(), &sdk.CallToolRequest{}, tt.input(tmpDir))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHandleSimulate_RejectsPathOutsideAllowedDirs(t *testing.T) {
	server, _ := setupTestServer(t, nil)

	outside := filepath.Join(t.TempDir(), "snapshot.yaml")
	require.NoError(t, os.WriteFile(outside, []byte(testSnapshotYAML), 0600))

	_, _, err := server.handleSimulate(context.Background(), &sdk.CallToolRequest{}, SimulateInput{
		Snapshot: outside,
		Orders:   []string{"1 * * *"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside allowed directories")
}

func TestHandleSimulate_RateLimited(t *testing.T) {
	server, tmpDir := setupTestServer(t, nil)
	input := SimulateInput{Snapshot: filepath.Join(tmpDir, "snapshot.yaml"), Orders: []string{"1 * * *"}, Seed: 5}

	for i := 0; i < 2; i++ {
		_, _, err := server.handleSimulate(context.Background(), &sdk.CallToolRequest{}, input)
		require.NoError(t, err)
	}
	_, _, err := server.handleSimulate(context.Background(), &sdk.CallToolRequest{}, input)
	assert.ErrorIs(t, err, ratelimit.ErrRateLimited)
}

func TestHandleSimulate_RecordsRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	server, tmpDir := setupTestServer(t, func(c *config.PathsimConfig) {
		c.Output.Database = dbPath
	})
	ctx := context.Background()

	_, out, err := server.handleSimulate(ctx, &sdk.CallToolRequest{}, SimulateInput{
		Snapshot:    filepath.Join(tmpDir, "snapshot.yaml"),
		Orders:      []string{"4 * * *", "3 * * * example.com:8080"},
		Seed:        11,
		Parallelism: 2,
	})
	require.NoError(t, err)
	require.Equal(t, 7, out.Delivered)

	stored, err := server.store.CircuitCount(ctx, out.RunID, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, stored)

	_, runs, err := server.handleRuns(ctx, &sdk.CallToolRequest{}, RunsInput{})
	require.NoError(t, err)
	require.Equal(t, 1, runs.Count)
	assert.Equal(t, out.RunID, runs.Runs[0].ID)
	assert.Equal(t, uint64(11), runs.Runs[0].Seed)
	assert.Equal(t, 2, runs.Runs[0].Orders)
	assert.Equal(t, 7, runs.Runs[0].Delivered)
	assert.NotNil(t, runs.Runs[0].FinishedAt)
}

func TestHandleRuns_NoDatabase(t *testing.T) {
	server, _ := setupTestServer(t, nil)

	_, _, err := server.handleRuns(context.Background(), &sdk.CallToolRequest{}, RunsInput{})
	assert.ErrorIs(t, err, ErrNoDatabase)
}

func TestHandleWeights_Pools(t *testing.T) {
	server, tmpDir := setupTestServer(t, nil)

	_, out, err := server.handleWeights(context.Background(), &sdk.CallToolRequest{}, WeightsInput{
		Snapshot: filepath.Join(tmpDir, "snapshot.yaml"),
	})
	require.NoError(t, err)
	assert.Nil(t, out.Relay)
	assert.Empty(t, out.Destination)

	require.Len(t, out.Positions, 3)
	guard, middle, exit := out.Positions[0], out.Positions[1], out.Positions[2]

	assert.Equal(t, "guard", guard.Position)
	assert.Equal(t, 2, guard.PoolSize)
	require.Len(t, guard.Relays, 2)
	assert.Equal(t, "g1", guard.Relays[0].Nickname)
	assert.InDelta(t, 0.75, guard.Relays[0].Probability, 1e-9)
	assert.InDelta(t, 300, guard.Relays[0].Weight, 1e-9)
	assert.Nil(t, guard.Eligible)

	assert.Equal(t, "middle", middle.Position)
	assert.Equal(t, 6, middle.PoolSize, "every relay is Fast")

	assert.Equal(t, "exit", exit.Position)
	assert.Equal(t, 6, exit.PoolSize, "the Exit flag only changes the coefficient")
}

func TestHandleWeights_TopAndDestination(t *testing.T) {
	server, tmpDir := setupTestServer(t, nil)

	_, out, err := server.handleWeights(context.Background(), &sdk.CallToolRequest{}, WeightsInput{
		Snapshot:    filepath.Join(tmpDir, "snapshot.yaml"),
		Destination: "example.com:80",
		Top:         1,
	})
	require.NoError(t, err)
	assert.Equal(t, "example.com:80", out.Destination)

	middle := out.Positions[1]
	assert.Equal(t, 6, middle.PoolSize)
	assert.Len(t, middle.Relays, 1)

	exit := out.Positions[2]
	assert.Equal(t, 5, exit.PoolSize, "e1 rejects port 80")
	require.Len(t, exit.Relays, 1)
	assert.Equal(t, "g1", exit.Relays[0].Nickname)
	assert.InDelta(t, 300.0/700.0, exit.Relays[0].Probability, 1e-9)
}

func TestHandleWeights_Relay(t *testing.T) {
	server, tmpDir := setupTestServer(t, nil)

	_, out, err := server.handleWeights(context.Background(), &sdk.CallToolRequest{}, WeightsInput{
		Snapshot:    filepath.Join(tmpDir, "snapshot.yaml"),
		Relay:       "$E1FP",
		Destination: "example.com:80",
	})
	require.NoError(t, err)

	require.NotNil(t, out.Relay)
	assert.Equal(t, "e1", out.Relay.Nickname)
	assert.Contains(t, out.Relay.Flags, "Exit")

	want := map[string]bool{"guard": false, "middle": true, "exit": false}
	for _, pw := range out.Positions {
		require.NotNil(t, pw.Eligible, pw.Position)
		assert.Equal(t, want[pw.Position], *pw.Eligible, pw.Position)
		if *pw.Eligible {
			require.Len(t, pw.Relays, 1)
			assert.Equal(t, "e1", pw.Relays[0].Nickname)
			assert.InDelta(t, 0.125, pw.Relays[0].Probability, 1e-9)
		} else {
			assert.Empty(t, pw.Relays)
		}
	}
}

func TestHandleWeights_Errors(t *testing.T) {
	server, tmpDir := setupTestServer(t, nil)
	snap := filepath.Join(tmpDir, "snapshot.yaml")
	ctx := context.Background()

	_, _, err := server.handleWeights(ctx, &sdk.CallToolRequest{}, WeightsInput{Snapshot: snap, Relay: "nobody"})
	assert.ErrorIs(t, err, orders.ErrUnknownRelay)

	_, _, err = server.handleWeights(ctx, &sdk.CallToolRequest{}, WeightsInput{Snapshot: snap, Destination: "no-port"})
	assert.Error(t, err)

	_, _, err = server.handleWeights(ctx, &sdk.CallToolRequest{}, WeightsInput{})
	assert.Error(t, err)
}

func TestRegisterTools(t *testing.T) {
	server, _ := setupTestServer(t, nil)
	assert.NoError(t, server.registerTools())
}
