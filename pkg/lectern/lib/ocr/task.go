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

// Package ocr defines the document inference tasks, their result types,
// and the parsers that turn raw Vision2Seq model output into them.
package ocr

import (
	"fmt"
	"strings"
)

// Task identifies a document inference task.
type Task string

const (
	// TaskDetectText finds text line regions without recognizing them
	TaskDetectText Task = "detect_text"
	// TaskExtractText detects and recognizes text lines (full OCR)
	TaskExtractText Task = "extract_text"
	// TaskDetectLayout labels page regions (headers, tables, figures, text blocks)
	TaskDetectLayout Task = "detect_layout"
	// TaskProcessTables recognizes table structure (rows, columns, cells)
	TaskProcessTables Task = "process_tables"
	// TaskRecognizeLatex converts an equation image to LaTeX
	TaskRecognizeLatex Task = "recognize_latex"
)

// Kind identifies the model family a task runs on. Kinds double as the
// subdirectory names under the models directory.
type Kind string

const (
	KindDetector   Kind = "detectors"
	KindRecognizer Kind = "recognizers"
	KindLayout     Kind = "layout"
	KindTable      Kind = "tables"
	KindLatex      Kind = "latex"
)

// Tasks returns all tasks in a stable order.
func Tasks() []Task {
	return []Task{
		TaskDetectText,
		TaskExtractText,
		TaskDetectLayout,
		TaskProcessTables,
		TaskRecognizeLatex,
	}
}

// Kinds returns all model kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindDetector, KindRecognizer, KindLayout, KindTable, KindLatex}
}

// ParseTask converts a string into a Task.
// Returns an error listing the valid task names for unrecognized values.
func ParseTask(s string) (Task, error) {
	switch Task(s) {
	case TaskDetectText, TaskExtractText, TaskDetectLayout, TaskProcessTables, TaskRecognizeLatex:
		return Task(s), nil
	default:
		names := make([]string, 0, len(Tasks()))
		for _, t := range Tasks() {
			names = append(names, string(t))
		}
		return "", fmt.Errorf("invalid task type: %q (valid tasks: %s)", s, strings.Join(names, ", "))
	}
}

// Kind returns the model kind a task runs on.
func (t Task) Kind() Kind {
	switch t {
	case TaskDetectText:
		return KindDetector
	case TaskExtractText:
		return KindRecognizer
	case TaskDetectLayout:
		return KindLayout
	case TaskProcessTables:
		return KindTable
	case TaskRecognizeLatex:
		return KindLatex
	}
	return ""
}

// Prompt returns the natural-language task prompt for Vision2Seq models.
// The model's processor converts these to task tokens internally.
func (t Task) Prompt() string {
	switch t {
	case TaskDetectText:
		return "Locate the text lines in the image, with regions."
	case TaskExtractText:
		return "What is the text in the image, with regions?"
	case TaskDetectLayout:
		return "Locate the layout regions with category name in the image."
	case TaskProcessTables:
		return "Locate the table rows, columns and cells in the image."
	case TaskRecognizeLatex:
		return "What is the LaTeX representation of the equation in the image?"
	}
	return ""
}

// Description returns a short human-readable description of the task.
func (t Task) Description() string {
	switch t {
	case TaskDetectText:
		return "Detect text line regions in document images"
	case TaskExtractText:
		return "Detect and recognize text (full OCR)"
	case TaskDetectLayout:
		return "Label page regions in reading order"
	case TaskProcessTables:
		return "Recognize table structure (rows, columns, cells)"
	case TaskRecognizeLatex:
		return "Convert equation images to LaTeX"
	}
	return ""
}

// String returns the task name as a string.
func (t Task) String() string {
	return string(t)
}
