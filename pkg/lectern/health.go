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

package lectern

import (
	"net/http"

	"github.com/bytedance/sonic/encoder"
)

// Version information - set at build time via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// HealthResponse is the response for /healthz endpoint
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for /readyz endpoint
type ReadyResponse struct {
	Status string      `json:"status"`
	Models ReadyModels `json:"models"`
}

// ReadyModels shows model availability per kind
type ReadyModels struct {
	Detectors   int `json:"detectors"`
	Recognizers int `json:"recognizers"`
	Layout      int `json:"layout"`
	Tables      int `json:"tables"`
	Latex       int `json:"latex"`
}

// handleHealthz returns 200 if the service is running (liveness check)
func (ln *LecternNode) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = encoder.NewStreamEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// handleReadyz returns 200 if the service is ready to accept requests (readiness check)
func (ln *LecternNode) handleReadyz(w http.ResponseWriter, r *http.Request) {
	models := ln.engine.Models()
	resp := ReadyResponse{
		Status: "ready",
		Models: ReadyModels{
			Detectors:   len(models["detectors"]),
			Recognizers: len(models["recognizers"]),
			Layout:      len(models["layout"]),
			Tables:      len(models["tables"]),
			Latex:       len(models["latex"]),
		},
	}

	// Service is ready if at least one model (or the fallback) is usable
	if ln.engine.ModelCount() == 0 {
		resp.Status = "not_ready"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = encoder.NewStreamEncoder(w).Encode(resp)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = encoder.NewStreamEncoder(w).Encode(resp)
}
