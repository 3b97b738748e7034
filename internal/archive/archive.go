// Package archive exports recorded runs to portable, checksummed files.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nvandessel/pathsim/internal/store"
)

// filePrefix names every archive written by GeneratePath.
const filePrefix = "pathsim-run-"

// Archive is the payload of an archive file.
type Archive struct {
	Version   int                   `json:"version"`
	CreatedAt time.Time             `json:"created_at"`
	Run       store.RunSummary      `json:"run"`
	Orders    []store.OrderRecord   `json:"orders"`
	Circuits  []store.CircuitRecord `json:"circuits"`
}

// RunSource is the part of the run store an export reads.
type RunSource interface {
	GetRun(ctx context.Context, runID string) (*store.RunSummary, error)
	Orders(ctx context.Context, runID string) ([]store.OrderRecord, error)
	Circuits(ctx context.Context, runID string) ([]store.CircuitRecord, error)
}

var _ RunSource = (*store.SQLiteStore)(nil)

// DefaultDir returns the default archive directory (~/.pathsim/archives/).
func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".pathsim", "archives"), nil
}

// Export reads a run from src and writes it to outputPath.
func Export(ctx context.Context, src RunSource, runID, outputPath string) (*Archive, error) {
	run, err := src.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	orders, err := src.Orders(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}
	circuits, err := src.Circuits(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read circuits: %w", err)
	}

	a := &Archive{
		Version:   FormatVersion,
		CreatedAt: time.Now().UTC(),
		Run:       *run,
		Orders:    orders,
		Circuits:  circuits,
	}
	if err := Write(outputPath, a); err != nil {
		return nil, err
	}
	return a, nil
}

// GeneratePath creates a timestamped archive filename for runID in dir.
func GeneratePath(dir, runID string) string {
	ts := time.Now().Format("20060102-150405")
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return filepath.Join(dir, fmt.Sprintf("%s%s-%s.json.gz", filePrefix, ts, short))
}
