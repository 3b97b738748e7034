// Package pathutil confines file paths received from MCP clients to a set
// of allowed directories.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RedactPath reduces a full path to .../<parent>/<basename> for safe error messages.
// For example, "/home/user/.pathsim/tor.yaml" becomes ".../.pathsim/tor.yaml".
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	base := filepath.Base(cleaned)
	parent := filepath.Base(filepath.Dir(cleaned))
	if parent == "." || parent == string(filepath.Separator) {
		return base
	}
	return ".../" + parent + "/" + base
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("path validation failed: "+format, args...)
}

// ValidatePath checks that path lies inside one of allowedDirs once both are
// made absolute and their symlinks resolved. The path itself need not exist.
func ValidatePath(path string, allowedDirs []string) error {
	_, err := resolveWithin(path, allowedDirs)
	return err
}

// ValidateReadable validates path against allowedDirs and checks that it
// names an existing regular file.
func ValidateReadable(path string, allowedDirs []string) error {
	resolved, err := resolveWithin(path, allowedDirs)
	if err != nil {
		return err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return validationError("%q: %w", RedactPath(path), err)
	}
	if !info.Mode().IsRegular() {
		return validationError("%q is not a regular file", RedactPath(path))
	}
	return nil
}

// resolveWithin returns the resolved form of path when it is inside one of
// allowedDirs.
func resolveWithin(path string, allowedDirs []string) (string, error) {
	switch {
	case path == "":
		return "", validationError("path is empty")
	case len(allowedDirs) == 0:
		return "", validationError("no allowed directories configured")
	case strings.ContainsRune(path, '\x00'):
		return "", validationError("path contains null byte")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", validationError("cannot resolve absolute path: %w", err)
	}
	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", validationError("%w", err)
	}

	for _, dir := range allowedDirs {
		base, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if base, err = resolveExisting(base); err != nil {
			continue
		}
		if within(resolved, base) {
			return resolved, nil
		}
	}
	return "", validationError("%q is outside allowed directories", RedactPath(abs))
}

// resolveExisting evaluates symlinks on the longest existing prefix of p
// and re-appends the components that do not exist yet.
func resolveExisting(p string) (string, error) {
	var missing []string
	for {
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("cannot resolve path: %s", RedactPath(p))
		}
		missing = append(missing, filepath.Base(p))
		p = parent
	}
}

// within reports whether path is base or below it.
func within(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// DefaultAllowedSnapshotDirs returns the directories MCP clients may read
// snapshots and order files from: ~/.pathsim/ and, when projectRoot is not
// empty, the project root itself.
func DefaultAllowedSnapshotDirs(projectRoot string) ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	dirs := []string{filepath.Join(homeDir, ".pathsim")}
	if projectRoot != "" {
		dirs = append(dirs, projectRoot)
	}
	return dirs, nil
}
