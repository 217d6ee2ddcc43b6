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

// Package predict runs document inference tasks against loaded models.
package predict

import (
	"context"
	"image"

	"github.com/lecternml/lectern/pkg/lectern/lib/ocr"
)

// Predictor runs a document inference task on a batch of images.
// Implementations are safe for concurrent use.
type Predictor interface {
	// Predict returns one Prediction per input image.
	Predict(ctx context.Context, images []image.Image, task ocr.Task) ([]ocr.Prediction, error)

	// Close releases model resources.
	Close() error
}

// Config holds settings for creating a predictor.
type Config struct {
	// ModelPath is the path to the exported model directory.
	ModelPath string

	// PoolSize is the number of concurrent pipelines (0 = auto-detect from CPU count).
	PoolSize int

	// MaxNewTokens caps generated output length (0 uses the model default).
	MaxNewTokens int

	// TextThreshold is the confidence floor for detection regions.
	TextThreshold float64
}

// parseForTask converts raw model output into the task's typed result.
// The image provides the pixel dimensions location tokens scale to.
func parseForTask(raw string, img image.Image, task ocr.Task, textThreshold float64) ocr.Prediction {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	switch task {
	case ocr.TaskDetectText:
		result := ocr.ParseDetection(raw, w, h, textThreshold)
		return ocr.Prediction{Detection: &result}
	case ocr.TaskExtractText:
		result := ocr.ParseRecognition(raw, w, h)
		return ocr.Prediction{Recognition: &result}
	case ocr.TaskDetectLayout:
		result := ocr.ParseLayout(raw, w, h)
		return ocr.Prediction{Layout: &result}
	case ocr.TaskProcessTables:
		result := ocr.ParseTable(raw, w, h)
		return ocr.Prediction{Table: &result}
	case ocr.TaskRecognizeLatex:
		result := ocr.ParseLatex(raw)
		return ocr.Prediction{Latex: &result}
	}
	return ocr.Prediction{}
}
