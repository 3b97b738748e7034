package pathutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePath(t *testing.T) {
	allowedDir := t.TempDir()
	otherDir := t.TempDir()

	subDir := filepath.Join(allowedDir, "subdir")
	require.NoError(t, os.MkdirAll(subDir, 0700))

	tests := []struct {
		name        string
		path        string
		allowedDirs []string
		errContains string
	}{
		{"inside allowed dir", filepath.Join(allowedDir, "tor.yaml"), []string{allowedDir}, ""},
		{"subdirectory of allowed dir", filepath.Join(subDir, "tor.yaml"), []string{allowedDir}, ""},
		{"exactly the allowed dir", allowedDir, []string{allowedDir}, ""},
		{"traversal with dot-dot", filepath.Join(allowedDir, "..", "etc", "passwd"), []string{allowedDir}, "outside allowed directories"},
		{"outside allowed dir", filepath.Join(otherDir, "tor.yaml"), []string{allowedDir}, "outside allowed directories"},
		{"null byte", filepath.Join(allowedDir, "tor\x00.yaml"), []string{allowedDir}, "null byte"},
		{"redundant separators", allowedDir + string(os.PathSeparator) + string(os.PathSeparator) + "tor.yaml", []string{allowedDir}, ""},
		{"empty path", "", []string{allowedDir}, "empty"},
		{"no allowed dirs", filepath.Join(allowedDir, "tor.yaml"), nil, "no allowed directories"},
		{"matches second allowed dir", filepath.Join(otherDir, "tor.yaml"), []string{allowedDir, otherDir}, ""},
		{"embedded dot-dot", filepath.Join(allowedDir, "subdir", "..", "..", "etc", "passwd"), []string{allowedDir}, "outside allowed directories"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path, tt.allowedDirs)
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestValidatePath_Symlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not supported on Windows")
	}

	allowedDir := t.TempDir()
	outsideDir := t.TempDir()

	escape := filepath.Join(allowedDir, "escape")
	require.NoError(t, os.Symlink(outsideDir, escape))

	err := ValidatePath(filepath.Join(escape, "tor.yaml"), []string{allowedDir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside allowed directories")

	realDir := filepath.Join(allowedDir, "real")
	require.NoError(t, os.MkdirAll(realDir, 0700))
	link := filepath.Join(allowedDir, "link")
	require.NoError(t, os.Symlink(realDir, link))

	assert.NoError(t, ValidatePath(filepath.Join(link, "tor.yaml"), []string{allowedDir}))
}

func TestValidateReadable(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "tor.yaml")
	require.NoError(t, os.WriteFile(file, []byte("relays: []\n"), 0600))

	assert.NoError(t, ValidateReadable(file, []string{dir}))

	err := ValidateReadable(filepath.Join(dir, "missing.yaml"), []string{dir})
	assert.Error(t, err)

	err = ValidateReadable(dir, []string{dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a regular file")

	err = ValidateReadable(file, []string{t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside allowed directories")
}

func TestRedactPath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"simple", "/home/user/.pathsim/tor.yaml", ".../.pathsim/tor.yaml"},
		{"deep", "/a/b/c/d/e.txt", ".../d/e.txt"},
		{"root file", "/file.txt", "file.txt"},
		{"relative", "dir/file.txt", ".../dir/file.txt"},
		{"just filename", "file.txt", "file.txt"},
		{"trailing slash cleaned", "/home/user/.pathsim/", ".../user/.pathsim"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RedactPath(tt.input))
		})
	}
}

func TestDefaultAllowedSnapshotDirs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	dirs, err := DefaultAllowedSnapshotDirs("")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(home, ".pathsim")}, dirs)

	projectRoot := t.TempDir()
	dirs, err = DefaultAllowedSnapshotDirs(projectRoot)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(home, ".pathsim"), projectRoot}, dirs)
}

func TestValidateReadable_SymlinkedFileOutside(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not supported on Windows")
	}

	allowedDir := t.TempDir()
	target := filepath.Join(t.TempDir(), "secret.yaml")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0600))

	link := filepath.Join(allowedDir, "tor.yaml")
	require.NoError(t, os.Symlink(target, link))

	err := ValidateReadable(link, []string{allowedDir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside allowed directories")
}
