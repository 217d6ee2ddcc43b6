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

// Package output serializes inference results to files or streams.
package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"

	"github.com/lecternml/lectern/pkg/lectern/lib/ocr"
)

// Format selects the serialization format for results.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "txt"
)

// ParseFormat converts a string into a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatText:
		return Format(s), nil
	default:
		return "", fmt.Errorf("invalid output format: %q (valid formats: json, txt)", s)
	}
}

// Write serializes predictions to w in the given format.
func Write(w io.Writer, predictions []ocr.Prediction, format Format) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, predictions)
	case FormatText:
		return writeText(w, predictions)
	default:
		return fmt.Errorf("invalid output format: %q", format)
	}
}

// WriteFile serializes predictions to a file, creating parent
// directories as needed.
func WriteFile(path string, predictions []ocr.Prediction, format Format) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := Write(f, predictions, format); err != nil {
		return err
	}
	return f.Close()
}

// writeJSON writes the flat result list as indented JSON.
func writeJSON(w io.Writer, predictions []ocr.Prediction) error {
	results := make([]any, len(predictions))
	for i, p := range predictions {
		results[i] = p.Value()
	}

	data, err := sonic.ConfigDefault.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing results: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

// writeText writes one "=== Image N ===" section per result. Recognition
// results render their combined text; everything else renders as
// indented JSON.
func writeText(w io.Writer, predictions []ocr.Prediction) error {
	for i, p := range predictions {
		if _, err := fmt.Fprintf(w, "=== Image %d ===\n", i+1); err != nil {
			return err
		}

		if p.Recognition != nil {
			if _, err := fmt.Fprintln(w, p.Recognition.CombinedText); err != nil {
				return err
			}
		} else {
			data, err := sonic.ConfigDefault.MarshalIndent(p.Value(), "", "  ")
			if err != nil {
				return fmt.Errorf("serializing result %d: %w", i, err)
			}
			if _, err := w.Write(data); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}

		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}
