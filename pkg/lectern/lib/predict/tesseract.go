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

//go:build tesseract

package predict

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"

	"github.com/lecternml/lectern/pkg/lectern/lib/ocr"
)

// Ensure TesseractPredictor implements the Predictor interface
var _ Predictor = (*TesseractPredictor)(nil)

// TesseractName is the model name the fallback registers under.
const TesseractName = "tesseract"

// TesseractPredictor recognizes text via the system Tesseract install.
// It serves extract_text and detect_text when no ONNX recognizer is
// provisioned. The gosseract client is not safe for concurrent use, so
// calls serialize on a mutex.
type TesseractPredictor struct {
	client        *gosseract.Client
	logger        *zap.Logger
	minConfidence float64
	mu            sync.Mutex
}

// TesseractAvailable reports whether the build includes Tesseract support.
func TesseractAvailable() bool { return true }

// NewTesseractPredictor creates a predictor backed by Tesseract.
// langs selects the recognition languages (empty = "eng"); lines scoring
// below minConfidence are dropped from results.
func NewTesseractPredictor(langs []string, minConfidence float64, logger *zap.Logger) (*TesseractPredictor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(langs) == 0 {
		langs = []string{"eng"}
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(langs...); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("setting tesseract languages: %w", err)
	}

	logger.Info("Created Tesseract predictor",
		zap.Strings("languages", langs),
		zap.Float64("min_confidence", minConfidence))
	return &TesseractPredictor{client: client, logger: logger, minConfidence: minConfidence}, nil
}

// Predict runs OCR on the given images. Only extract_text and
// detect_text are supported.
func (t *TesseractPredictor) Predict(ctx context.Context, images []image.Image, task ocr.Task) ([]ocr.Prediction, error) {
	if task != ocr.TaskExtractText && task != ocr.TaskDetectText {
		return nil, fmt.Errorf("tesseract fallback does not support task %s", task)
	}

	predictions := make([]ocr.Prediction, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pred, err := t.predictOne(img, task)
		if err != nil {
			return nil, fmt.Errorf("tesseract inference on image %d: %w", i, err)
		}
		predictions[i] = pred
	}
	return predictions, nil
}

func (t *TesseractPredictor) predictOne(img image.Image, task ocr.Task) (ocr.Prediction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return ocr.Prediction{}, fmt.Errorf("encoding image: %w", err)
	}
	if err := t.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return ocr.Prediction{}, fmt.Errorf("setting image: %w", err)
	}

	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return ocr.Prediction{}, fmt.Errorf("getting text lines: %w", err)
	}

	bounds := img.Bounds()
	imageBBox := ocr.BBox{0, 0, float64(bounds.Dx()), float64(bounds.Dy())}

	if task == ocr.TaskDetectText {
		result := ocr.DetectionResult{Bboxes: []ocr.Box{}, ImageBBox: imageBBox}
		for _, box := range boxes {
			bbox := rectToBBox(box.Box)
			result.Bboxes = append(result.Bboxes, ocr.Box{
				Polygon:    bbox.Polygon(),
				BBox:       bbox,
				Confidence: box.Confidence / 100,
			})
		}
		result.FilterConfidence(t.minConfidence)
		return ocr.Prediction{Detection: &result}, nil
	}

	result := ocr.RecognitionResult{TextLines: []ocr.TextLine{}, ImageBBox: imageBBox}
	for _, box := range boxes {
		text := strings.TrimSpace(box.Word)
		if text == "" {
			continue
		}
		bbox := rectToBBox(box.Box)
		result.TextLines = append(result.TextLines, ocr.TextLine{
			Text:       text,
			Polygon:    bbox.Polygon(),
			BBox:       bbox,
			Confidence: box.Confidence / 100,
		})
	}
	result.FilterConfidence(t.minConfidence)
	result.Combine()
	return ocr.Prediction{Recognition: &result}, nil
}

func rectToBBox(r image.Rectangle) ocr.BBox {
	return ocr.BBox{float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y)}
}

// Close releases the Tesseract client.
func (t *TesseractPredictor) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}
