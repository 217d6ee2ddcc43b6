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

//go:build !(onnx && ORT)

package predict

import (
	"context"
	"errors"
	"image"

	khugot "github.com/knights-analytics/hugot"
	"go.uber.org/zap"

	"github.com/lecternml/lectern/pkg/lectern/lib/ocr"
)

// PooledONNXPredictor is a stub when built without ONNX support.
// To enable Vision2Seq document models, build with:
// CGO_ENABLED=1 go build -tags="onnx,ORT"
type PooledONNXPredictor struct{}

var errNoONNX = errors.New("PooledONNXPredictor not available: build with -tags=\"onnx,ORT\" to enable Vision2Seq models")

// NewSharedSession returns nil when ONNX support is disabled; model
// loading will fail lazily with a descriptive error.
func NewSharedSession(logger *zap.Logger) (*khugot.Session, error) {
	if logger != nil {
		logger.Warn("Built without ONNX support, models cannot be loaded")
	}
	return nil, nil
}

// NewPooledONNXPredictor returns an error when ONNX support is disabled.
func NewPooledONNXPredictor(cfg Config, sharedSession *khugot.Session, logger *zap.Logger) (*PooledONNXPredictor, error) {
	return nil, errNoONNX
}

// Predict returns an error for the stub since it cannot be used.
func (p *PooledONNXPredictor) Predict(ctx context.Context, images []image.Image, task ocr.Task) ([]ocr.Prediction, error) {
	return nil, errNoONNX
}

// Close is a no-op for the stub.
func (p *PooledONNXPredictor) Close() error {
	return nil
}
