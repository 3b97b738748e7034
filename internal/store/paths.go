package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultDatabaseName is the file name used under ~/.pathsim when a
// database is requested without a path.
const DefaultDatabaseName = "runs.db"

// ExpandPath resolves a leading "~/" against the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~")), nil
}

// DefaultDatabasePath returns ~/.pathsim/runs.db.
func DefaultDatabasePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".pathsim", DefaultDatabaseName), nil
}
