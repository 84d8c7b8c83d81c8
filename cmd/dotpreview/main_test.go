package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getProjectRoot returns the absolute path to the project root.
func getProjectRoot(t *testing.T) string {
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	t.Fatal("go.mod not found")
	return ""
}

// buildBinary compiles the CLI into a temp dir.
func buildBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping build test in short mode")
	}
	binPath := filepath.Join(t.TempDir(), "dotpreview")
	build := exec.Command("go", "build", "-o", binPath, ".")
	build.Dir = filepath.Join(getProjectRoot(t), "cmd", "dotpreview")
	output, err := build.CombinedOutput()
	require.NoError(t, err, "build failed: %s", string(output))
	return binPath
}

func TestMainHelpFlag(t *testing.T) {
	bin := buildBinary(t)

	out, err := exec.Command(bin, "--help").CombinedOutput()
	require.NoError(t, err)
	assert.Contains(t, string(out), "live preview")
	assert.Contains(t, string(out), "serve")
}

func TestMainUnknownCommand(t *testing.T) {
	bin := buildBinary(t)

	out, err := exec.Command(bin, "unknown-command-xyz").CombinedOutput()
	assert.Error(t, err)
	assert.Contains(t, strings.ToLower(string(out)), "unknown")
}

func TestMainEntryPoints(t *testing.T) {
	_ = main
}

func TestBinaryRenderMarkdown(t *testing.T) {
	bin := buildBinary(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Hi\n"), 0644))

	cmd := exec.Command(bin, "render", "README.md")
	cmd.Dir = dir
	out, err := cmd.Output()
	require.NoError(t, err)
	assert.Contains(t, string(out), "Hi</h1>")
}

func TestBinaryConfigInit(t *testing.T) {
	bin := buildBinary(t)
	dir := t.TempDir()

	cmd := exec.Command(bin, "config", "init")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	assert.FileExists(t, filepath.Join(dir, ".dotpreview.yaml"))

	cmd = exec.Command(bin, "--json", "config", "get", "debouncingInterval")
	cmd.Dir = dir
	out, err = cmd.Output()
	require.NoError(t, err)
	assert.Contains(t, string(out), `"debouncingInterval": "300"`)
}

func TestBinaryInvalidConfig(t *testing.T) {
	bin := buildBinary(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".dotpreview.yaml"), []byte("guardInterval: -1\n"), 0644))

	cmd := exec.Command(bin, "config", "show")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	assert.Error(t, err)
	assert.Contains(t, string(out), "E_CONFIG_INVALID")
}
