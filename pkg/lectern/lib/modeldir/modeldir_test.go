package modeldir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeModel(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("onnx"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644))
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, filepath.Join(dir, "det-base"))
	writeModel(t, filepath.Join(dir, "acme", "det-large"))

	// Empty and file entries are ignored
	require.NoError(t, os.Mkdir(filepath.Join(dir, "empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644))

	models, err := Discover(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, models, 2)

	assert.Equal(t, "acme/det-large", models[0].FullName())
	assert.Equal(t, "acme", models[0].Owner)
	assert.Equal(t, "det-base", models[1].FullName())
	assert.Equal(t, "", models[1].Owner)
	assert.DirExists(t, models[1].Path)
}

func TestDiscoverMissingDir(t *testing.T) {
	models, err := Discover(filepath.Join(t.TempDir(), "nope"), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Empty(t, models)
}

func TestDiscoverEmptyDirArg(t *testing.T) {
	models, err := Discover("", nil)
	require.NoError(t, err)
	assert.Empty(t, models)
}
