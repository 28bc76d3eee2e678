package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFileTruncatesExisting(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("short"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("much longer previous content"), 0o644))

	require.NoError(t, copyFile(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("short"), got)
}

func TestCopyFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := copyFile(filepath.Join(dir, "absent"), filepath.Join(dir, "dst"))
	assert.Error(t, err)
}

func TestReplaceFileSwapsAndRemovesBackup(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "a.jpg")
	optimized := filepath.Join(dir, "a.opt")
	require.NoError(t, os.WriteFile(original, []byte("original"), 0o644))
	require.NoError(t, os.WriteFile(optimized, []byte("optimized"), 0o644))

	require.NoError(t, replaceFile(original, optimized))

	got, err := os.ReadFile(original)
	require.NoError(t, err)
	assert.Equal(t, []byte("optimized"), got)

	_, err = os.Stat(original + ".backup")
	assert.True(t, os.IsNotExist(err))
}

func TestReplaceFileRestoresOnFailure(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(original, []byte("original"), 0o644))

	// optimized source vanished between encode and commit
	err := replaceFile(original, filepath.Join(dir, "gone.opt"))
	require.Error(t, err)

	got, readErr := os.ReadFile(original)
	require.NoError(t, readErr)
	assert.Equal(t, []byte("original"), got)

	_, statErr := os.Stat(original + ".backup")
	assert.True(t, os.IsNotExist(statErr))
}
