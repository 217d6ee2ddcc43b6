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

// Command lectern runs the Lectern document inference service.
//
// Lectern provides text detection, OCR, layout analysis, table
// recognition, and LaTeX recognition over ONNX document models.
//
// Usage:
//
//	lectern run                                  # Start the server
//	lectern infer --images page.png --task extract_text
//	lectern infer --input-dir ./scans --task detect_layout --output out.json
//	lectern list                                 # List local models
package main

import (
	"runtime"

	"github.com/lecternml/lectern/pkg/lectern/cmd/cmd"
)

// https://goreleaser.com/cookbooks/using-main.version/
//
// main.version: Current Git tag (the v prefix is stripped) or the name
// of the snapshot, if you're using the --snapshot flag
var version = "dev"

func main() {
	runtime.SetMutexProfileFraction(1) // Enable mutex profiling
	runtime.SetBlockProfileRate(1)     // Sample every blocking event
	cmd.Version = version
	cmd.Execute()
}
