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
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic/encoder"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when the wait queue has no free slots.
	ErrQueueFull = errors.New("request queue is full")

	// ErrRequestTimeout is returned when a request waits longer than the
	// configured queue timeout.
	ErrRequestTimeout = errors.New("request timed out waiting in queue")
)

// RequestQueueConfig configures request admission control.
type RequestQueueConfig struct {
	// MaxConcurrentRequests limits in-flight requests (0 = 2 x NumCPU).
	MaxConcurrentRequests int

	// MaxQueueSize limits waiting requests (0 = 64).
	MaxQueueSize int

	// RequestTimeout bounds time spent waiting for an active slot (0 = no limit).
	RequestTimeout time.Duration
}

// QueueStats is a snapshot of queue state.
type QueueStats struct {
	CurrentActive  int    `json:"current_active"`
	CurrentQueued  int    `json:"current_queued"`
	TotalAdmitted  uint64 `json:"total_admitted"`
	TotalRejected  uint64 `json:"total_rejected"`
	TotalTimedOut  uint64 `json:"total_timed_out"`
	MaxConcurrent  int    `json:"max_concurrent"`
	MaxQueueLength int    `json:"max_queue_length"`
}

// RequestQueue provides backpressure for inference requests: a bounded
// number run concurrently, a bounded number wait, the rest are rejected.
type RequestQueue struct {
	active  chan struct{}
	queued  chan struct{}
	timeout time.Duration
	logger  *zap.Logger

	admitted atomic.Uint64
	rejected atomic.Uint64
	timedOut atomic.Uint64
}

// NewRequestQueue creates a request queue with the given limits.
func NewRequestQueue(config RequestQueueConfig, logger *zap.Logger) *RequestQueue {
	if logger == nil {
		logger = zap.NewNop()
	}

	maxConcurrent := config.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 2 * runtime.NumCPU()
	}
	maxQueue := config.MaxQueueSize
	if maxQueue <= 0 {
		maxQueue = 64
	}

	logger.Info("Request queue initialized",
		zap.Int("max_concurrent", maxConcurrent),
		zap.Int("max_queue_size", maxQueue),
		zap.Duration("request_timeout", config.RequestTimeout))

	return &RequestQueue{
		active:  make(chan struct{}, maxConcurrent),
		queued:  make(chan struct{}, maxQueue),
		timeout: config.RequestTimeout,
		logger:  logger,
	}
}

// Acquire admits a request, blocking while the queue has capacity but all
// active slots are taken. On success it returns a release function that
// must be called when the request finishes. Returns ErrQueueFull when the
// wait queue is full and ErrRequestTimeout when the configured timeout
// elapses before an active slot frees up.
func (q *RequestQueue) Acquire(ctx context.Context) (func(), error) {
	// Take a queue slot without blocking; a full queue means shed load
	select {
	case q.queued <- struct{}{}:
	default:
		q.rejected.Add(1)
		RecordQueueRejection()
		q.logger.Warn("Request rejected, queue full",
			zap.Int("queued", len(q.queued)),
			zap.Int("active", len(q.active)))
		return nil, ErrQueueFull
	}

	start := time.Now()
	var timeoutC <-chan time.Time
	if q.timeout > 0 {
		timer := time.NewTimer(q.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case q.active <- struct{}{}:
		<-q.queued
		q.admitted.Add(1)
		RecordQueueWaitTime(time.Since(start).Seconds())
		UpdateQueueMetrics(q.Stats())
		return func() {
			<-q.active
			UpdateQueueMetrics(q.Stats())
		}, nil

	case <-timeoutC:
		<-q.queued
		q.timedOut.Add(1)
		RecordQueueTimeout()
		q.logger.Warn("Request timed out in queue",
			zap.Duration("waited", time.Since(start)))
		return nil, ErrRequestTimeout

	case <-ctx.Done():
		<-q.queued
		return nil, ctx.Err()
	}
}

// Stats returns a snapshot of queue state.
func (q *RequestQueue) Stats() QueueStats {
	return QueueStats{
		CurrentActive:  len(q.active),
		CurrentQueued:  len(q.queued),
		TotalAdmitted:  q.admitted.Load(),
		TotalRejected:  q.rejected.Load(),
		TotalTimedOut:  q.timedOut.Load(),
		MaxConcurrent:  cap(q.active),
		MaxQueueLength: cap(q.queued),
	}
}

// WriteQueueFullResponse writes the 429 envelope with a Retry-After hint.
func WriteQueueFullResponse(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = encoder.NewStreamEncoder(w).Encode(ErrorResponse{
		Success:    false,
		Error:      "server busy, request queue is full",
		StatusCode: http.StatusTooManyRequests,
	})
}

// WriteTimeoutResponse writes the 503 envelope for queue timeouts.
func WriteTimeoutResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = encoder.NewStreamEncoder(w).Encode(ErrorResponse{
		Success:    false,
		Error:      "request timed out waiting for capacity",
		StatusCode: http.StatusServiceUnavailable,
	})
}
