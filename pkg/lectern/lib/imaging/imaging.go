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

// Package imaging decodes and normalizes document images for inference.
package imaging

import (
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	// Register stdlib decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	dimaging "github.com/disintegration/imaging"
	"go.uber.org/zap"

	// Register extended decoders
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultExtensions are the file extensions scanned for in input directories.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".tiff"}

// Decode reads and decodes an image, converting it to NRGBA and
// downscaling so neither dimension exceeds maxDim (0 disables scaling).
func Decode(r io.Reader, maxDim int) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	img = EnsureRGB(img)

	if maxDim > 0 {
		bounds := img.Bounds()
		if bounds.Dx() > maxDim || bounds.Dy() > maxDim {
			img = dimaging.Fit(img, maxDim, maxDim, dimaging.Lanczos)
		}
	}

	return img, nil
}

// EnsureRGB converts an image to NRGBA unless it already is.
// Models expect RGB input; paletted, CMYK, and YCbCr images are converted.
func EnsureRGB(img image.Image) image.Image {
	if _, ok := img.(*image.NRGBA); ok {
		return img
	}
	return dimaging.Clone(img)
}

// LoadFile decodes a single image file.
func LoadFile(path string, maxDim int) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	img, err := Decode(f, maxDim)
	if err != nil {
		return nil, fmt.Errorf("loading image %s: %w", path, err)
	}
	return img, nil
}

// LoadFiles decodes a list of image files. Files that fail to load are
// skipped with a warning; the returned paths parallel the returned images.
func LoadFiles(paths []string, maxDim int, logger *zap.Logger) ([]image.Image, []string) {
	if logger == nil {
		logger = zap.NewNop()
	}

	images := make([]image.Image, 0, len(paths))
	loaded := make([]string, 0, len(paths))
	for _, path := range paths {
		img, err := LoadFile(path, maxDim)
		if err != nil {
			logger.Warn("Skipping unreadable image",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		images = append(images, img)
		loaded = append(loaded, path)
	}
	return images, loaded
}

// ScanDir returns image file paths directly under dir, sorted by name.
// Extension matching is case-insensitive; nil exts uses DefaultExtensions.
func ScanDir(dir string, exts []string) ([]string, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading input directory %s: %w", dir, err)
	}

	allowed := make(map[string]bool, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(ext)] = true
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if allowed[strings.ToLower(filepath.Ext(entry.Name()))] {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
