package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "week1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("beta"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "week1", "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "image.png"), []byte{0x89}, 0o644))

	files, skipped, err := collectFiles(root, func(name string) bool {
		return strings.HasSuffix(name, ".txt")
	})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "b.txt", files[0].Filename)
	assert.Equal(t, "a.txt", files[1].Filename)
	assert.Equal(t, int64(5), files[1].Size)
	assert.Equal(t, []string{filepath.Join(root, "image.png")}, skipped)

	rc, err := files[1].Open()
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(body))
}

func TestCollectFilesMissingDir(t *testing.T) {
	_, _, err := collectFiles(filepath.Join(t.TempDir(), "nope"), func(string) bool { return true })
	assert.Error(t, err)
}
