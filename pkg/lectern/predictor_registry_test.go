// Copyright 2025 The Lectern Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lectern

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lecternml/lectern/pkg/lectern/lib/ocr"
)

// writeModelDir creates <root>/<parts...> containing a config.json so
// discovery treats it as a model.
func writeModelDir(t *testing.T, root string, parts ...string) {
	t.Helper()
	dir := filepath.Join(append([]string{root}, parts...)...)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644))
}

func TestPredictorRegistry_Discovery(t *testing.T) {
	dir := t.TempDir()
	writeModelDir(t, dir, "surya-det")
	writeModelDir(t, dir, "vikp", "surya-det-v2")

	registry, err := NewPredictorRegistry(PredictorRegistryConfig{
		Kind:      ocr.KindDetector,
		ModelsDir: dir,
	}, nil, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = registry.Close() }()

	assert.Equal(t, ocr.KindDetector, registry.Kind())
	assert.ElementsMatch(t, []string{"surya-det", "vikp/surya-det-v2"}, registry.List())
	assert.Empty(t, registry.ListLoaded())
	assert.False(t, registry.IsLoaded("surya-det"))
}

func TestPredictorRegistry_MissingDir(t *testing.T) {
	registry, err := NewPredictorRegistry(PredictorRegistryConfig{
		Kind:      ocr.KindLayout,
		ModelsDir: filepath.Join(t.TempDir(), "does-not-exist"),
	}, nil, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = registry.Close() }()

	assert.Empty(t, registry.List())
}

func TestPredictorRegistry_GetUnknown(t *testing.T) {
	registry, err := NewPredictorRegistry(PredictorRegistryConfig{
		Kind:      ocr.KindDetector,
		ModelsDir: t.TempDir(),
	}, nil, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = registry.Close() }()

	_, err = registry.Get("nope")
	require.ErrorIs(t, err, ErrUnknownModel)
}

func TestPredictorRegistry_GetCached(t *testing.T) {
	registry, err := NewPredictorRegistry(PredictorRegistryConfig{
		Kind: ocr.KindRecognizer,
	}, nil, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = registry.Close() }()

	mock := &mockPredictor{}
	registry.discovered["surya-rec"] = &PredictorModelInfo{Name: "surya-rec"}
	registry.cache.Set("surya-rec", mock, registry.keepAlive)

	p, err := registry.Get("surya-rec")
	require.NoError(t, err)
	assert.Same(t, mock, p)
	assert.True(t, registry.IsLoaded("surya-rec"))
	assert.ElementsMatch(t, []string{"surya-rec"}, registry.ListLoaded())
}

func TestPredictorRegistry_KeepAliveEviction(t *testing.T) {
	registry, err := NewPredictorRegistry(PredictorRegistryConfig{
		Kind:      ocr.KindRecognizer,
		KeepAlive: 20 * time.Millisecond,
	}, nil, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = registry.Close() }()

	mock := &mockPredictor{}
	registry.discovered["surya-rec"] = &PredictorModelInfo{Name: "surya-rec"}
	registry.cache.Set("surya-rec", mock, registry.keepAlive)

	// Idle model is unloaded and closed after the keep-alive window
	require.Eventually(t, func() bool {
		return mock.closed.Load()
	}, time.Second, 10*time.Millisecond)
	assert.False(t, registry.IsLoaded("surya-rec"))
}

func TestPredictorRegistry_PreloadUnknown(t *testing.T) {
	registry, err := NewPredictorRegistry(PredictorRegistryConfig{
		Kind:      ocr.KindTable,
		ModelsDir: t.TempDir(),
	}, nil, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = registry.Close() }()

	err = registry.Preload([]string{"missing-a", "missing-b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to preload")
}

func TestPredictorRegistry_CloseClosesModels(t *testing.T) {
	registry, err := NewPredictorRegistry(PredictorRegistryConfig{
		Kind: ocr.KindRecognizer,
	}, nil, zap.NewNop())
	require.NoError(t, err)

	mock := &mockPredictor{}
	registry.discovered["surya-rec"] = &PredictorModelInfo{Name: "surya-rec"}
	registry.cache.Set("surya-rec", mock, registry.keepAlive)

	require.NoError(t, registry.Close())
	assert.True(t, mock.closed.Load())
}
