package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestJanitor_Sweep(t *testing.T) {
	root := t.TempDir()
	uploads := filepath.Join(root, "uploads")
	output := filepath.Join(root, "output")

	touch(t, filepath.Join(uploads, "old.mp4"), 8*24*time.Hour)
	touch(t, filepath.Join(uploads, "fresh.mp4"), time.Hour)
	touch(t, filepath.Join(output, "old", "old_clip_1.mp4"), 10*24*time.Hour)
	touch(t, filepath.Join(output, "new", "new_clip_1.mp4"), time.Minute)

	removed, err := NewJanitor(7*24*time.Hour, uploads, output, filepath.Join(root, "missing")).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.NoFileExists(t, filepath.Join(uploads, "old.mp4"))
	assert.FileExists(t, filepath.Join(uploads, "fresh.mp4"))
	assert.NoDirExists(t, filepath.Join(output, "old"))
	assert.FileExists(t, filepath.Join(output, "new", "new_clip_1.mp4"))
}

func TestJanitor_KeepsFreshEmptyDirs(t *testing.T) {
	output := t.TempDir()
	fresh := filepath.Join(output, "fresh")
	stale := filepath.Join(output, "stale")
	require.NoError(t, os.MkdirAll(fresh, 0o755))
	require.NoError(t, os.MkdirAll(stale, 0o755))
	old := time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	removed, err := NewJanitor(7*24*time.Hour, output).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)

	assert.DirExists(t, fresh)
	assert.NoDirExists(t, stale)
}
