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
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	khugot "github.com/knights-analytics/hugot"
	"go.uber.org/zap"

	"github.com/lecternml/lectern/pkg/lectern/lib/modeldir"
	"github.com/lecternml/lectern/pkg/lectern/lib/ocr"
	"github.com/lecternml/lectern/pkg/lectern/lib/predict"
)

// PredictorModelInfo holds metadata about a discovered model (not loaded yet)
type PredictorModelInfo struct {
	Name     string
	Path     string
	PoolSize int
}

// PredictorRegistry manages the models of one kind with lazy loading and
// TTL-based unloading
type PredictorRegistry struct {
	kind      ocr.Kind
	modelsDir string
	session   *khugot.Session
	logger    *zap.Logger

	// Model discovery (paths only, not loaded)
	discovered map[string]*PredictorModelInfo
	mu         sync.RWMutex

	// Loaded models with TTL cache
	cache *ttlcache.Cache[string, predict.Predictor]

	// Configuration
	keepAlive       time.Duration
	maxLoadedModels uint64
	poolSize        int
	maxNewTokens    int
	textThreshold   float64
}

// PredictorRegistryConfig configures a predictor registry
type PredictorRegistryConfig struct {
	Kind            ocr.Kind
	ModelsDir       string        // Kind-specific subdirectory of the models dir
	KeepAlive       time.Duration // How long to keep models loaded (0 = forever)
	MaxLoadedModels uint64        // Max models in memory (0 = unlimited)
	PoolSize        int           // Number of concurrent pipelines per model (0 = default)
	MaxNewTokens    int           // Generation cap passed to loaded models
	TextThreshold   float64       // Confidence floor for detection regions
}

// NewPredictorRegistry creates a new lazy-loading predictor registry
func NewPredictorRegistry(
	config PredictorRegistryConfig,
	session *khugot.Session,
	logger *zap.Logger,
) (*PredictorRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	keepAlive := config.KeepAlive
	if keepAlive == 0 {
		keepAlive = ttlcache.NoTTL // Never expire
	}

	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = min(runtime.NumCPU(), 4)
	}

	registry := &PredictorRegistry{
		kind:            config.Kind,
		modelsDir:       config.ModelsDir,
		session:         session,
		logger:          logger,
		discovered:      make(map[string]*PredictorModelInfo),
		keepAlive:       keepAlive,
		maxLoadedModels: config.MaxLoadedModels,
		poolSize:        poolSize,
		maxNewTokens:    config.MaxNewTokens,
		textThreshold:   config.TextThreshold,
	}

	// Configure TTL cache with LRU eviction
	cacheOpts := []ttlcache.Option[string, predict.Predictor]{
		ttlcache.WithTTL[string, predict.Predictor](keepAlive),
	}

	if config.MaxLoadedModels > 0 {
		cacheOpts = append(cacheOpts,
			ttlcache.WithCapacity[string, predict.Predictor](config.MaxLoadedModels))
	}

	registry.cache = ttlcache.New(cacheOpts...)

	// Set up eviction callback to close unloaded models
	// Note: Only close on TTL expiration or capacity eviction, not on manual deletion
	// (manual deletion during Close() handles cleanup synchronously)
	registry.cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, predict.Predictor]) {
		// Skip closing on manual deletion - Close() handles cleanup synchronously
		if reason == ttlcache.EvictionReasonDeleted {
			logger.Debug("Model removed from cache (cleanup handled separately)",
				zap.String("model", item.Key()))
			return
		}

		reasonStr := "unknown"
		switch reason {
		case ttlcache.EvictionReasonExpired:
			reasonStr = "expired (keep-alive timeout)"
		case ttlcache.EvictionReasonCapacityReached:
			reasonStr = "capacity reached (LRU eviction)"
		}
		logger.Info("Evicting model from cache",
			zap.String("kind", string(registry.kind)),
			zap.String("model", item.Key()),
			zap.String("reason", reasonStr))
		if err := item.Value().Close(); err != nil {
			logger.Warn("Error closing evicted model",
				zap.String("model", item.Key()),
				zap.Error(err))
		}
	})

	// Start cache cleanup goroutine
	go registry.cache.Start()

	// Discover models (but don't load them)
	if err := registry.discoverModels(); err != nil {
		registry.cache.Stop()
		return nil, err
	}

	logger.Info("Lazy predictor registry initialized",
		zap.String("kind", string(config.Kind)),
		zap.Int("models_discovered", len(registry.discovered)),
		zap.Duration("keep_alive", keepAlive),
		zap.Uint64("max_loaded_models", config.MaxLoadedModels))

	return registry, nil
}

// discoverModels finds all models in the kind directory without loading them
func (r *PredictorRegistry) discoverModels() error {
	if r.modelsDir == "" {
		r.logger.Info("No models directory configured",
			zap.String("kind", string(r.kind)))
		return nil
	}

	discovered, err := modeldir.Discover(r.modelsDir, r.logger)
	if err != nil {
		return fmt.Errorf("discovering %s models: %w", r.kind, err)
	}

	for _, dm := range discovered {
		r.discovered[dm.FullName()] = &PredictorModelInfo{
			Name:     dm.FullName(),
			Path:     dm.Path,
			PoolSize: r.poolSize,
		}
	}

	return nil
}

// Kind returns the model kind this registry manages.
func (r *PredictorRegistry) Kind() ocr.Kind {
	return r.kind
}

// Get returns a predictor by name, loading it if necessary
func (r *PredictorRegistry) Get(modelName string) (predict.Predictor, error) {
	// Check cache first
	if item := r.cache.Get(modelName); item != nil {
		r.logger.Debug("Predictor cache hit", zap.String("model", modelName))
		return item.Value(), nil
	}

	// Check if model is discovered
	r.mu.RLock()
	info, ok := r.discovered[modelName]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelName)
	}

	// Load the model
	return r.loadModel(info)
}

// loadModel loads a model from disk
func (r *PredictorRegistry) loadModel(info *PredictorModelInfo) (predict.Predictor, error) {
	r.logger.Info("Loading model on demand",
		zap.String("kind", string(r.kind)),
		zap.String("model", info.Name),
		zap.String("path", info.Path))

	start := time.Now()
	model, err := predict.NewPooledONNXPredictor(predict.Config{
		ModelPath:     info.Path,
		PoolSize:      info.PoolSize,
		MaxNewTokens:  r.maxNewTokens,
		TextThreshold: r.textThreshold,
	}, r.session, r.logger.Named(info.Name))
	if err != nil {
		return nil, fmt.Errorf("loading model %s: %w", info.Name, err)
	}

	RecordModelLoadDuration(info.Name, string(r.kind), time.Since(start).Seconds())

	r.logger.Info("Successfully loaded model",
		zap.String("name", info.Name),
		zap.Duration("duration", time.Since(start)),
		zap.Int("poolSize", info.PoolSize))

	// Add to cache
	r.cache.Set(info.Name, model, r.keepAlive)

	return model, nil
}

// List returns all available model names (discovered, not necessarily loaded)
func (r *PredictorRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.discovered))
	for name := range r.discovered {
		names = append(names, name)
	}
	return names
}

// ListLoaded returns only the currently loaded model names
func (r *PredictorRegistry) ListLoaded() []string {
	return r.cache.Keys()
}

// IsLoaded returns whether a model is currently loaded in memory
func (r *PredictorRegistry) IsLoaded(modelName string) bool {
	return r.cache.Has(modelName)
}

// Preload loads specified models at startup to avoid first-request latency
func (r *PredictorRegistry) Preload(modelNames []string) error {
	if len(modelNames) == 0 {
		return nil
	}

	r.logger.Info("Preloading models",
		zap.String("kind", string(r.kind)),
		zap.Strings("models", modelNames))

	var loaded, failed int
	for _, name := range modelNames {
		if _, err := r.Get(name); err != nil {
			r.logger.Warn("Failed to preload model",
				zap.String("model", name),
				zap.Error(err))
			failed++
		} else {
			r.logger.Info("Preloaded model",
				zap.String("model", name))
			loaded++
		}
	}

	r.logger.Info("Preloading complete",
		zap.Int("loaded", loaded),
		zap.Int("failed", failed))

	if failed > 0 && loaded == 0 {
		return fmt.Errorf("all %d models failed to preload", failed)
	}

	return nil
}

// PreloadAll loads all discovered models (for eager loading mode)
func (r *PredictorRegistry) PreloadAll() error {
	return r.Preload(r.List())
}

// Close stops the cache and unloads all models
func (r *PredictorRegistry) Close() error {
	r.logger.Info("Closing lazy predictor registry",
		zap.String("kind", string(r.kind)))

	// Stop cache first to prevent new evictions
	r.cache.Stop()

	// Close all cached models synchronously (don't rely on async eviction callbacks)
	for _, key := range r.cache.Keys() {
		if item := r.cache.Get(key); item != nil {
			model := item.Value()
			r.logger.Debug("Closing cached model",
				zap.String("model", key))
			if err := model.Close(); err != nil {
				r.logger.Warn("Error closing model",
					zap.String("model", key),
					zap.Error(err))
			}
		}
	}

	// Clear the cache (eviction callbacks won't close since reason is EvictionReasonDeleted)
	r.cache.DeleteAll()

	return nil
}
