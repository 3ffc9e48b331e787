package artifact

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBundleFiles(t *testing.T) {
	dir := t.TempDir()
	weights := writeTestFile(t, dir, "weights.bin", "weights-data")
	emb := writeTestFile(t, dir, "embeddings.bin", "embeddings-data")

	dest := filepath.Join(dir, "bundle.zip")
	require.NoError(t, BundleFiles(dest, []string{weights, emb}))

	r, err := zip.OpenReader(dest)
	require.NoError(t, err)
	defer r.Close()

	contents := map[string]string{}
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		contents[f.Name] = string(data)
	}

	assert.Equal(t, map[string]string{
		"weights.bin":    "weights-data",
		"embeddings.bin": "embeddings-data",
	}, contents)
}

func TestBundleFiles_DuplicateNames(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	f1 := writeTestFile(t, a, "model.bin", "one")
	f2 := writeTestFile(t, b, "model.bin", "two")

	dest := filepath.Join(t.TempDir(), "bundle.zip")
	err := BundleFiles(dest, []string{f1, f2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestBundleFiles_Empty(t *testing.T) {
	err := BundleFiles(filepath.Join(t.TempDir(), "bundle.zip"), nil)
	require.Error(t, err)
}

func TestBundleFiles_MissingInput(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "bundle.zip")
	err := BundleFiles(dest, []string{filepath.Join(t.TempDir(), "gone.bin")})
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}
