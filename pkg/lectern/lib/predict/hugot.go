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

//go:build onnx && ORT

package predict

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"

	khugot "github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/lecternml/lectern/pkg/lectern/lib/ocr"
)

// Ensure PooledONNXPredictor implements the Predictor interface
var _ Predictor = (*PooledONNXPredictor)(nil)

// PooledONNXPredictor runs a Vision2Seq document model through a pool of
// pipelines. Each request acquires a pipeline slot via semaphore,
// enabling true parallelism.
type PooledONNXPredictor struct {
	session       *khugot.Session
	pipelines     []*pipelines.Vision2SeqPipeline
	sem           *semaphore.Weighted
	nextPipeline  atomic.Uint64
	logger        *zap.Logger
	sessionShared bool
	poolSize      int
	maxNewTokens  int
	textThreshold float64
	modelPath     string
}

// NewSharedSession creates the process-wide ONNX session.
// ONNX Runtime allows only one session at a time; all models share it.
func NewSharedSession(logger *zap.Logger) (*khugot.Session, error) {
	var opts []options.WithOption
	if libPath := onnxLibraryPath(); libPath != "" {
		opts = append(opts, options.WithOnnxLibraryPath(libPath))
	}

	session, err := khugot.NewORTSession(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating ONNX session: %w", err)
	}
	if logger != nil {
		logger.Info("Created shared ONNX session")
	}
	return session, nil
}

// onnxLibraryPath returns the directory containing libonnxruntime.so from
// the environment. Checks ONNXRUNTIME_ROOT first, then LD_LIBRARY_PATH.
func onnxLibraryPath() string {
	platform := runtime.GOOS + "-" + runtime.GOARCH

	if root := os.Getenv("ONNXRUNTIME_ROOT"); root != "" {
		platformDir := filepath.Join(root, platform, "lib")
		if _, err := os.Stat(filepath.Join(platformDir, "libonnxruntime.so")); err == nil {
			return platformDir
		}
		directDir := filepath.Join(root, "lib")
		if _, err := os.Stat(filepath.Join(directDir, "libonnxruntime.so")); err == nil {
			return directDir
		}
	}

	if ldPath := os.Getenv("LD_LIBRARY_PATH"); ldPath != "" {
		for _, dir := range filepath.SplitList(ldPath) {
			if _, err := os.Stat(filepath.Join(dir, "libonnxruntime.so")); err == nil {
				return dir
			}
		}
	}

	return ""
}

// NewPooledONNXPredictor creates a pooled predictor for the model at
// cfg.ModelPath. If sharedSession is nil, a private session is created
// and destroyed with the predictor.
func NewPooledONNXPredictor(cfg Config, sharedSession *khugot.Session, logger *zap.Logger) (*PooledONNXPredictor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = min(runtime.NumCPU(), 4)
	}

	session := sharedSession
	sessionShared := sharedSession != nil
	if session == nil {
		var err error
		session, err = NewSharedSession(logger)
		if err != nil {
			return nil, err
		}
	}

	pipelineSlice := make([]*pipelines.Vision2SeqPipeline, poolSize)
	for i := 0; i < poolSize; i++ {
		config := khugot.Vision2SeqConfig{
			ModelPath: cfg.ModelPath,
			Name:      fmt.Sprintf("predictor-%d", i),
		}

		pipeline, err := khugot.NewPipeline[*pipelines.Vision2SeqPipeline](session, config)
		if err != nil {
			// Cleanup already created pipelines
			for j := 0; j < i; j++ {
				if pipelineSlice[j] != nil {
					_ = pipelineSlice[j].Destroy()
				}
			}
			if !sessionShared {
				_ = session.Destroy()
			}
			return nil, fmt.Errorf("creating Vision2Seq pipeline %d: %w", i, err)
		}
		pipelineSlice[i] = pipeline
	}

	predictor := &PooledONNXPredictor{
		session:       session,
		pipelines:     pipelineSlice,
		sem:           semaphore.NewWeighted(int64(poolSize)),
		logger:        logger,
		sessionShared: sessionShared,
		poolSize:      poolSize,
		maxNewTokens:  cfg.MaxNewTokens,
		textThreshold: cfg.TextThreshold,
		modelPath:     cfg.ModelPath,
	}

	logger.Info("Created pooled predictor",
		zap.Int("poolSize", poolSize),
		zap.String("modelPath", cfg.ModelPath))

	return predictor, nil
}

// Predict runs the task on the given images using the Vision2Seq model.
func (p *PooledONNXPredictor) Predict(ctx context.Context, images []image.Image, task ocr.Task) ([]ocr.Prediction, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("no images provided")
	}

	prompt := task.Prompt()
	if prompt == "" {
		return nil, fmt.Errorf("unknown task: %s", task)
	}

	// Acquire a pipeline slot
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring pipeline slot: %w", err)
	}
	defer p.sem.Release(1)

	// Get the next pipeline in round-robin fashion
	idx := p.nextPipeline.Add(1) - 1
	pipeline := p.pipelines[idx%uint64(p.poolSize)]

	var opts []khugot.Vision2SeqOption
	if p.maxNewTokens > 0 {
		opts = append(opts, pipelines.WithVision2SeqMaxTokens(p.maxNewTokens))
	}

	output, err := pipeline.RunWithPrompt(images, prompt, opts...)
	if err != nil {
		return nil, fmt.Errorf("running Vision2Seq inference: %w", err)
	}

	if len(output.GeneratedTexts) != len(images) {
		return nil, fmt.Errorf("expected %d outputs, got %d", len(images), len(output.GeneratedTexts))
	}

	predictions := make([]ocr.Prediction, len(images))
	for i, text := range output.GeneratedTexts {
		predictions[i] = parseForTask(text, images[i], task, p.textThreshold)
	}

	p.logger.Debug("Prediction completed",
		zap.Int("numImages", len(images)),
		zap.String("task", string(task)))

	return predictions, nil
}

// Close releases all pipeline resources.
func (p *PooledONNXPredictor) Close() error {
	p.logger.Info("Closing pooled predictor", zap.Int("poolSize", p.poolSize))

	var errs []error
	for i, pipeline := range p.pipelines {
		if pipeline != nil {
			if err := pipeline.Destroy(); err != nil {
				p.logger.Warn("Error destroying pipeline",
					zap.Int("index", i),
					zap.Error(err))
				errs = append(errs, err)
			}
		}
	}

	// Only destroy the session if we own it
	if !p.sessionShared && p.session != nil {
		if err := p.session.Destroy(); err != nil {
			p.logger.Warn("Error destroying session", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing predictor: %v", errs)
	}
	return nil
}
