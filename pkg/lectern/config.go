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

// Config holds node configuration, bound from flags, env (LECTERN_*),
// and the optional config file.
type Config struct {
	// ApiUrl is the address the API server listens on.
	ApiUrl string `json:"api_url"`

	// ModelsDir is the root models directory, with one subdirectory per
	// model kind (detectors, recognizers, layout, tables, latex).
	ModelsDir string `json:"models_dir"`

	// KeepAlive is how long to keep idle models loaded ("" or "0" = forever).
	KeepAlive string `json:"keep_alive"`

	// MaxLoadedModels caps models in memory per kind (0 = unlimited).
	MaxLoadedModels int `json:"max_loaded_models"`

	// Preload names models to load at startup.
	Preload []string `json:"preload"`

	// PoolSize is the number of concurrent pipelines per model (0 = min(NumCPU, 4)).
	PoolSize int `json:"pool_size"`

	// MaxNewTokens caps generated output length per image (0 = model default).
	MaxNewTokens int `json:"max_new_tokens"`

	// RequestTimeout bounds queue waiting ("" or "0" = no limit).
	RequestTimeout string `json:"request_timeout"`

	// MaxConcurrentRequests limits in-flight requests (0 = 2 x NumCPU).
	MaxConcurrentRequests int `json:"max_concurrent_requests"`

	// MaxQueueSize limits waiting requests (0 = 64).
	MaxQueueSize int `json:"max_queue_size"`

	// MaxUploadImages limits images per API request (0 = 10).
	MaxUploadImages int `json:"max_upload_images"`

	// MaxImageDimension downscales larger images before inference (0 = 3072).
	MaxImageDimension int `json:"max_image_dimension"`

	// DetectorTextThreshold is the confidence floor for detection regions.
	DetectorTextThreshold float64 `json:"detector_text_threshold"`

	// DisableMath disables the latex model kind and its task.
	DisableMath bool `json:"disable_math"`
}

// Default limits for the API surface.
const (
	DefaultApiUrl            = "http://127.0.0.1:8410"
	DefaultMaxUploadImages   = 10
	DefaultMaxImageDimension = 3072
	DefaultTextThreshold     = 0.6
)

// withDefaults fills zero-valued fields with their defaults.
func (c Config) withDefaults() Config {
	if c.ApiUrl == "" {
		c.ApiUrl = DefaultApiUrl
	}
	if c.MaxUploadImages <= 0 {
		c.MaxUploadImages = DefaultMaxUploadImages
	}
	if c.MaxImageDimension <= 0 {
		c.MaxImageDimension = DefaultMaxImageDimension
	}
	if c.DetectorTextThreshold <= 0 {
		c.DetectorTextThreshold = DefaultTextThreshold
	}
	return c
}
