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

// Package modeldir discovers ONNX models on disk without loading them.
//
// Layout: <dir>/<model>/ or <dir>/<owner>/<model>/. A directory counts
// as a model when it contains model files (*.onnx or config.json).
package modeldir

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Model is a discovered (not loaded) model directory.
type Model struct {
	Owner string
	Name  string
	Path  string
}

// FullName returns "owner/name", or just the name for unowned models.
func (m Model) FullName() string {
	if m.Owner == "" {
		return m.Name
	}
	return m.Owner + "/" + m.Name
}

// Discover scans dir for model directories. A missing directory is not
// an error; it just yields no models.
func Discover(dir string, logger *zap.Logger) ([]Model, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		return nil, nil
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Warn("Models directory does not exist", zap.String("dir", dir))
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading models directory %s: %w", dir, err)
	}

	var models []Model
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if hasModelFiles(path) {
			models = append(models, Model{Name: entry.Name(), Path: path})
			continue
		}

		// Treat as an owner directory and scan one level down
		subEntries, err := os.ReadDir(path)
		if err != nil {
			logger.Warn("Skipping unreadable directory",
				zap.String("dir", path),
				zap.Error(err))
			continue
		}
		for _, sub := range subEntries {
			if !sub.IsDir() {
				continue
			}
			subPath := filepath.Join(path, sub.Name())
			if hasModelFiles(subPath) {
				models = append(models, Model{
					Owner: entry.Name(),
					Name:  sub.Name(),
					Path:  subPath,
				})
			}
		}
	}

	sort.Slice(models, func(i, j int) bool {
		return models[i].FullName() < models[j].FullName()
	})

	for _, m := range models {
		logger.Info("Discovered model (not loaded)",
			zap.String("name", m.FullName()),
			zap.String("path", m.Path))
	}

	return models, nil
}

// hasModelFiles reports whether a directory directly contains loadable
// model files. Exported models always carry config.json at the root, so
// this does not need to recurse; keeping it shallow is what lets owner
// directories be told apart from model directories.
func hasModelFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".onnx") || name == "config.json" {
			return true
		}
	}
	return false
}
