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
	"context"
	"encoding/binary"
	"image"
	"image/jpeg"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lecternml/lectern/pkg/lectern/lib/ocr"
	"github.com/lecternml/lectern/pkg/lectern/lib/predict"
)

// InferenceCacheTTL is the default TTL for cached inference results
const InferenceCacheTTL = 5 * time.Minute

// CachedPredictor wraps a predictor with caching support
type CachedPredictor struct {
	predictor predict.Predictor
	model     string
	cache     *ttlcache.Cache[string, []ocr.Prediction]
	sfGroup   *singleflight.Group
	logger    *zap.Logger

	// Metrics
	hits   atomic.Uint64
	misses atomic.Uint64
	sfHits atomic.Uint64
}

// NewCachedPredictor wraps a predictor with caching
func NewCachedPredictor(
	predictor predict.Predictor,
	model string,
	cache *ttlcache.Cache[string, []ocr.Prediction],
	logger *zap.Logger,
) *CachedPredictor {
	return &CachedPredictor{
		predictor: predictor,
		model:     model,
		cache:     cache,
		sfGroup:   &singleflight.Group{},
		logger:    logger,
	}
}

// Predict runs the task on the images with caching support
func (c *CachedPredictor) Predict(ctx context.Context, images []image.Image, task ocr.Task) ([]ocr.Prediction, error) {
	// Generate cache key from model + task + images
	key := c.cacheKey(images, task)

	// Check cache first
	if item := c.cache.Get(key); item != nil {
		c.hits.Add(1)
		RecordCacheHit("inference")
		c.logger.Debug("Inference cache hit",
			zap.String("model", c.model),
			zap.String("task", string(task)),
			zap.Int("num_images", len(images)))
		return item.Value(), nil
	}

	// Use singleflight to deduplicate concurrent identical requests
	result, err, shared := c.sfGroup.Do(key, func() (any, error) {
		c.misses.Add(1)
		RecordCacheMiss("inference")

		start := time.Now()
		predictions, err := c.predictor.Predict(ctx, images, task)
		if err != nil {
			return nil, err
		}

		// Store in cache
		c.cache.Set(key, predictions, ttlcache.DefaultTTL)

		c.logger.Debug("Inference completed and cached",
			zap.String("model", c.model),
			zap.String("task", string(task)),
			zap.Int("num_images", len(images)),
			zap.Duration("duration", time.Since(start)))

		return predictions, nil
	})

	if err != nil {
		return nil, err
	}

	if shared {
		c.sfHits.Add(1)
		c.logger.Debug("Singleflight hit for inference request",
			zap.String("model", c.model))
	}

	return result.([]ocr.Prediction), nil
}

// cacheKey generates a unique cache key from model + task + images
func (c *CachedPredictor) cacheKey(images []image.Image, task ocr.Task) string {
	h := xxhash.New()

	// Include model name
	_, _ = h.WriteString(c.model)
	_, _ = h.WriteString("|")

	// Include task
	_, _ = h.WriteString("t:")
	_, _ = h.WriteString(string(task))
	_, _ = h.WriteString("|")

	// Hash each image
	for i, img := range images {
		_, _ = h.WriteString("i")
		// Use index to ensure order matters
		_, _ = h.Write([]byte{byte(i >> 8), byte(i)})
		_, _ = h.WriteString(":")

		// Hash image dimensions and pixel data hash
		bounds := img.Bounds()
		var dimBuf [16]byte
		binary.BigEndian.PutUint32(dimBuf[0:4], uint32(bounds.Min.X))
		binary.BigEndian.PutUint32(dimBuf[4:8], uint32(bounds.Min.Y))
		binary.BigEndian.PutUint32(dimBuf[8:12], uint32(bounds.Max.X))
		binary.BigEndian.PutUint32(dimBuf[12:16], uint32(bounds.Max.Y))
		_, _ = h.Write(dimBuf[:])

		imgHash := hashImage(img)
		var imgHashBuf [8]byte
		binary.BigEndian.PutUint64(imgHashBuf[:], imgHash)
		_, _ = h.Write(imgHashBuf[:])

		_, _ = h.WriteString("|")
	}

	// Convert uint64 hash to string key
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return string(buf[:])
}

// hashImage generates a hash for an image
func hashImage(img image.Image) uint64 {
	h := xxhash.New()

	// For efficiency, encode to JPEG and hash the bytes
	// This captures the visual content without iterating every pixel
	encoderOpts := jpeg.Options{Quality: 50} // Lower quality is fine for hashing
	if err := jpeg.Encode(h, img, &encoderOpts); err != nil {
		// Fallback: hash dimensions only
		bounds := img.Bounds()
		var buf [16]byte
		binary.BigEndian.PutUint32(buf[0:4], uint32(bounds.Dx()))
		binary.BigEndian.PutUint32(buf[4:8], uint32(bounds.Dy()))
		_, _ = h.Write(buf[:])
	}

	return h.Sum64()
}

// Close closes the underlying predictor
func (c *CachedPredictor) Close() error {
	return c.predictor.Close()
}

// Stats returns cache statistics for this predictor
func (c *CachedPredictor) Stats() PredictorCacheStats {
	return PredictorCacheStats{
		Model:            c.model,
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		SingleflightHits: c.sfHits.Load(),
	}
}

// PredictorCacheStats holds cache statistics for a predictor
type PredictorCacheStats struct {
	Model            string `json:"model"`
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	SingleflightHits uint64 `json:"singleflight_hits"`
}

// InferenceCache manages caching for multiple predictors
type InferenceCache struct {
	cache  *ttlcache.Cache[string, []ocr.Prediction]
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewInferenceCache creates a new inference cache
func NewInferenceCache(logger *zap.Logger) *InferenceCache {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, []ocr.Prediction](InferenceCacheTTL),
	)
	go cache.Start()

	ctx, cancel := context.WithCancel(context.Background())
	ic := &InferenceCache{
		cache:  cache,
		logger: logger,
		cancel: cancel,
	}

	// Log cache stats periodically
	go ic.logStats(ctx)

	return ic
}

// WrapPredictor wraps a predictor with caching
func (ic *InferenceCache) WrapPredictor(predictor predict.Predictor, model string) *CachedPredictor {
	return NewCachedPredictor(predictor, model, ic.cache, ic.logger.Named(model))
}

// Close stops the cache
func (ic *InferenceCache) Close() {
	ic.cancel()
	ic.cache.Stop()
}

// logStats logs cache statistics periodically
func (ic *InferenceCache) logStats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics := ic.cache.Metrics()
			if metrics.Hits > 0 || metrics.Misses > 0 {
				hitRate := float64(0)
				total := metrics.Hits + metrics.Misses
				if total > 0 {
					hitRate = float64(metrics.Hits) / float64(total) * 100
				}
				ic.logger.Info("Inference cache stats",
					zap.Uint64("hits", metrics.Hits),
					zap.Uint64("misses", metrics.Misses),
					zap.Float64("hit_rate_pct", hitRate),
					zap.Int("items", ic.cache.Len()))
			}
		}
	}
}

// Stats returns global cache statistics
func (ic *InferenceCache) Stats() map[string]any {
	metrics := ic.cache.Metrics()
	return map[string]any{
		"hits":   metrics.Hits,
		"misses": metrics.Misses,
		"items":  ic.cache.Len(),
	}
}
