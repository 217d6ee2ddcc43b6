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

//go:build !tesseract

package predict

import (
	"context"
	"errors"
	"image"

	"go.uber.org/zap"

	"github.com/lecternml/lectern/pkg/lectern/lib/ocr"
)

// TesseractName is the model name the fallback registers under.
const TesseractName = "tesseract"

// TesseractPredictor is a stub when built without Tesseract support.
// To enable the OCR fallback, build with: CGO_ENABLED=1 go build -tags=tesseract
type TesseractPredictor struct{}

var errNoTesseract = errors.New("TesseractPredictor not available: build with -tags=tesseract to enable the OCR fallback")

// TesseractAvailable reports whether the build includes Tesseract support.
func TesseractAvailable() bool { return false }

// NewTesseractPredictor returns an error when Tesseract support is disabled.
func NewTesseractPredictor(langs []string, minConfidence float64, logger *zap.Logger) (*TesseractPredictor, error) {
	return nil, errNoTesseract
}

// Predict returns an error for the stub since it cannot be used.
func (t *TesseractPredictor) Predict(ctx context.Context, images []image.Image, task ocr.Task) ([]ocr.Prediction, error) {
	return nil, errNoTesseract
}

// Close is a no-op for the stub.
func (t *TesseractPredictor) Close() error {
	return nil
}
