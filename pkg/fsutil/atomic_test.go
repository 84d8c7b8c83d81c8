package fsutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotpreview-project/dotpreview/pkg/fsutil"
)

func TestAtomicWrite_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.svg")
	data := []byte(`<svg/>`)

	err := fsutil.AtomicWrite(path, data, 0644)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, content)
}

func TestAtomicWrite_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.dot")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	err := fsutil.AtomicWrite(path, []byte("new"), 0644)
	require.NoError(t, err)

	content, _ := os.ReadFile(path)
	assert.Equal(t, "new", string(content))
}

func TestAtomicWrite_NoTmpLeftOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.svg")
	require.NoError(t, fsutil.AtomicWrite(path, []byte("data"), 0644))

	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 1, "only the target file should exist")
}

func TestAtomicWrite_MissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "graph.svg")
	assert.Error(t, fsutil.AtomicWrite(path, []byte("x"), 0644))
}

func TestAtomicWriteAll_CreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports", "2026", "graph.svg")
	require.NoError(t, fsutil.AtomicWriteAll(path, []byte("x"), 0644))
	assert.FileExists(t, path)
}

func TestIsTemp(t *testing.T) {
	assert.True(t, fsutil.IsTemp("/a/b/"+fsutil.TempPrefix+"123"))
	assert.False(t, fsutil.IsTemp("/a/b/graph.dot"))
}

func TestFsyncDir(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, fsutil.FsyncDir(dir))
	assert.Error(t, fsutil.FsyncDir(filepath.Join(dir, "nope")))
}
