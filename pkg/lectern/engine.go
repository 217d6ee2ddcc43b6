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
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"time"

	khugot "github.com/knights-analytics/hugot"
	"go.uber.org/zap"

	"github.com/lecternml/lectern/pkg/lectern/lib/ocr"
	"github.com/lecternml/lectern/pkg/lectern/lib/predict"
)

var (
	// ErrUnknownModel is returned when a requested model was not discovered.
	ErrUnknownModel = errors.New("model not found")

	// ErrNoModel is returned when a task has no models to run on.
	ErrNoModel = errors.New("no models available for task")

	// ErrAmbiguousModel is returned when a model must be named because
	// several are discovered for the task.
	ErrAmbiguousModel = errors.New("multiple models available, specify one")
)

// Engine dispatches inference tasks to the registry of the right model
// kind, with an optional Tesseract fallback for recognition tasks and an
// optional result cache.
type Engine struct {
	logger     *zap.Logger
	registries map[ocr.Kind]*PredictorRegistry
	cache      *InferenceCache

	fallback     predict.Predictor
	fallbackName string
}

// NewEngine creates an engine over per-kind registries. cache may be nil
// to disable result caching (offline CLI use).
func NewEngine(logger *zap.Logger, registries map[ocr.Kind]*PredictorRegistry, cache *InferenceCache) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:     logger,
		registries: registries,
		cache:      cache,
	}
}

// BuildEngine assembles an engine from config: one registry per model
// kind under <models-dir>/<kind>/, sharing one ONNX session.
func BuildEngine(cfg Config, session *khugot.Session, cache *InferenceCache, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	var keepAlive time.Duration
	if cfg.KeepAlive != "" && cfg.KeepAlive != "0" {
		var err error
		keepAlive, err = time.ParseDuration(cfg.KeepAlive)
		if err != nil {
			return nil, fmt.Errorf("invalid keep_alive duration %q: %w", cfg.KeepAlive, err)
		}
	}

	registries := make(map[ocr.Kind]*PredictorRegistry, len(ocr.Kinds()))
	for _, kind := range ocr.Kinds() {
		if cfg.DisableMath && kind == ocr.KindLatex {
			logger.Info("Math recognition disabled, skipping latex models")
			continue
		}
		var kindDir string
		if cfg.ModelsDir != "" {
			kindDir = filepath.Join(cfg.ModelsDir, string(kind))
		}

		// The confidence floor only means something for region detection
		var threshold float64
		if kind == ocr.KindDetector || kind == ocr.KindLayout {
			threshold = cfg.DetectorTextThreshold
		}

		registry, err := NewPredictorRegistry(PredictorRegistryConfig{
			Kind:            kind,
			ModelsDir:       kindDir,
			KeepAlive:       keepAlive,
			MaxLoadedModels: uint64(cfg.MaxLoadedModels),
			PoolSize:        cfg.PoolSize,
			MaxNewTokens:    cfg.MaxNewTokens,
			TextThreshold:   threshold,
		}, session, logger.Named(string(kind)))
		if err != nil {
			for _, r := range registries {
				_ = r.Close()
			}
			return nil, fmt.Errorf("initializing %s registry: %w", kind, err)
		}
		registries[kind] = registry
	}

	engine := NewEngine(logger.Named("engine"), registries, cache)

	// Tesseract covers recognition tasks when no ONNX recognizer exists
	if len(registries[ocr.KindRecognizer].List()) == 0 && predict.TesseractAvailable() {
		tess, err := predict.NewTesseractPredictor(nil, cfg.DetectorTextThreshold, logger.Named("tesseract"))
		if err != nil {
			logger.Warn("Tesseract fallback unavailable", zap.Error(err))
		} else {
			engine.SetFallback(tess, predict.TesseractName)
			logger.Info("Using Tesseract fallback for recognition tasks")
		}
	}

	return engine, nil
}

// SetFallback installs a predictor used for detect_text and extract_text
// when their registries have no models.
func (e *Engine) SetFallback(p predict.Predictor, name string) {
	e.fallback = p
	e.fallbackName = name
}

// Registry returns the registry for a model kind.
func (e *Engine) Registry(kind ocr.Kind) *PredictorRegistry {
	return e.registries[kind]
}

// Run executes a task over the given images and returns one prediction
// per image plus the name of the model used. An empty model name selects
// the sole discovered model of the task's kind.
func (e *Engine) Run(ctx context.Context, task ocr.Task, model string, images []image.Image) ([]ocr.Prediction, string, error) {
	if len(images) == 0 {
		return nil, "", fmt.Errorf("no images provided")
	}

	kind := task.Kind()
	if kind == "" {
		return nil, "", fmt.Errorf("unknown task: %s", task)
	}

	name, predictor, err := e.resolve(task, model)
	if err != nil {
		return nil, "", err
	}

	if e.cache != nil {
		predictor = e.cache.WrapPredictor(predictor, name)
	}

	RecordTaskRequest(string(task), name)
	start := time.Now()

	predictions, err := predictor.Predict(ctx, images, task)
	if err != nil {
		return nil, name, fmt.Errorf("running %s: %w", task, err)
	}

	RecordImagesProcessed(string(task), name, len(images))
	e.logger.Debug("Task completed",
		zap.String("task", string(task)),
		zap.String("model", name),
		zap.Int("num_images", len(images)),
		zap.Duration("duration", time.Since(start)))

	return predictions, name, nil
}

// resolve picks the predictor for a task and optional model name.
func (e *Engine) resolve(task ocr.Task, model string) (string, predict.Predictor, error) {
	registry := e.registries[task.Kind()]
	fallbackOK := e.fallback != nil &&
		(task == ocr.TaskExtractText || task == ocr.TaskDetectText)

	if model != "" {
		if fallbackOK && model == e.fallbackName {
			return e.fallbackName, e.fallback, nil
		}
		if registry == nil {
			return "", nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
		}
		p, err := registry.Get(model)
		if err != nil {
			return "", nil, err
		}
		return model, p, nil
	}

	var discovered []string
	if registry != nil {
		discovered = registry.List()
	}

	switch len(discovered) {
	case 0:
		if fallbackOK {
			return e.fallbackName, e.fallback, nil
		}
		return "", nil, fmt.Errorf("%w: %s (provision models under the %q directory)",
			ErrNoModel, task, task.Kind())
	case 1:
		p, err := registry.Get(discovered[0])
		if err != nil {
			return "", nil, err
		}
		return discovered[0], p, nil
	default:
		return "", nil, fmt.Errorf("%w: task %s has %d models",
			ErrAmbiguousModel, task, len(discovered))
	}
}

// Preload loads the named models in every registry that discovered them.
// The same name under two kinds loads in both.
func (e *Engine) Preload(names []string) {
	if len(names) == 0 {
		return
	}
	for _, name := range names {
		var kinds []string
		for kind, registry := range e.registries {
			if _, err := registry.Get(name); err == nil {
				kinds = append(kinds, string(kind))
			}
		}
		if len(kinds) == 0 {
			e.logger.Warn("Failed to preload model, not found in any registry",
				zap.String("model", name))
			continue
		}
		e.logger.Info("Preloaded model",
			zap.String("model", name),
			zap.Strings("kinds", kinds))
	}
}

// Models returns the discovered model names per kind.
func (e *Engine) Models() map[string][]string {
	models := make(map[string][]string, len(e.registries))
	for kind, registry := range e.registries {
		models[string(kind)] = registry.List()
	}
	if e.fallback != nil {
		models[string(ocr.KindRecognizer)] = append(models[string(ocr.KindRecognizer)], e.fallbackName)
	}
	return models
}

// Loaded returns the loaded model names per kind.
func (e *Engine) Loaded() map[string][]string {
	loaded := make(map[string][]string, len(e.registries))
	for kind, registry := range e.registries {
		loaded[string(kind)] = registry.ListLoaded()
	}
	return loaded
}

// ModelCount returns the total number of usable models, counting the
// fallback recognizer.
func (e *Engine) ModelCount() int {
	total := 0
	for _, registry := range e.registries {
		total += len(registry.List())
	}
	if e.fallback != nil {
		total++
	}
	return total
}

// Close closes the fallback and all registries.
func (e *Engine) Close() error {
	var errs []error
	if e.fallback != nil {
		if err := e.fallback.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, registry := range e.registries {
		if err := registry.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing engine: %v", errs)
	}
	return nil
}
