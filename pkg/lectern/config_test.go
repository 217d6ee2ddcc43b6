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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, DefaultApiUrl, cfg.ApiUrl)
	assert.Equal(t, DefaultMaxUploadImages, cfg.MaxUploadImages)
	assert.Equal(t, DefaultMaxImageDimension, cfg.MaxImageDimension)
	assert.Equal(t, DefaultTextThreshold, cfg.DetectorTextThreshold)
}

func TestConfig_WithDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := Config{
		ApiUrl:                "http://0.0.0.0:9000",
		MaxUploadImages:       3,
		MaxImageDimension:     1024,
		DetectorTextThreshold: 0.8,
	}.withDefaults()

	assert.Equal(t, "http://0.0.0.0:9000", cfg.ApiUrl)
	assert.Equal(t, 3, cfg.MaxUploadImages)
	assert.Equal(t, 1024, cfg.MaxImageDimension)
	assert.Equal(t, 0.8, cfg.DetectorTextThreshold)
}
