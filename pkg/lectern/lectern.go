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

// Package lectern implements a document-image inference node: model
// discovery and lazy loading, a task engine, and the HTTP API over it.
package lectern

import (
	"context"
	"net/http"
	"net/url"
	"time"

	khugot "github.com/knights-analytics/hugot"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lecternml/lectern/pkg/lectern/lib/predict"
)

// LecternNode wires the engine, queue, and API limits together.
type LecternNode struct {
	logger *zap.Logger

	engine *Engine

	// Request queue for backpressure control
	requestQueue *RequestQueue

	maxUploadImages   int
	maxImageDimension int
}

// corsMiddleware adds permissive CORS headers for the Lectern API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept, Origin")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// DefaultShutdownTimeout is the default time to wait for graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

// RunAsLectern runs the inference node until ctx is cancelled.
// If readyC is non-nil, it will be closed when the server is ready to
// accept requests.
func RunAsLectern(ctx context.Context, zl *zap.Logger, config Config, readyC chan struct{}) {
	zl = zl.Named("lectern")
	config = config.withDefaults()
	zl.Info("Starting lectern node", zap.Any("config", config))

	u, err := url.Parse(config.ApiUrl)
	if err != nil {
		zl.Fatal("Invalid API URL", zap.String("url", config.ApiUrl), zap.Error(err))
	}

	// Create shared ONNX session for all models.
	// ONNX Runtime allows only one session at a time; every registry
	// must share this one.
	var sharedSession *khugot.Session
	if config.ModelsDir != "" {
		sharedSession, err = predict.NewSharedSession(zl)
		if err != nil {
			zl.Fatal("Failed to create shared ONNX session", zap.Error(err))
		}
		if sharedSession != nil {
			defer func() { _ = sharedSession.Destroy() }()
		}
	}

	// Inference result cache shared by all models
	inferenceCache := NewInferenceCache(zl.Named("inference-cache"))
	defer inferenceCache.Close()

	engine, err := BuildEngine(config, sharedSession, inferenceCache, zl)
	if err != nil {
		zl.Fatal("Failed to initialize engine", zap.Error(err))
	}
	defer func() { _ = engine.Close() }()

	// Preload specified models at startup
	engine.Preload(config.Preload)

	// Initialize request queue for backpressure control
	var requestTimeout time.Duration
	if config.RequestTimeout != "" && config.RequestTimeout != "0" {
		requestTimeout, err = time.ParseDuration(config.RequestTimeout)
		if err != nil {
			zl.Fatal("Invalid request_timeout duration",
				zap.String("request_timeout", config.RequestTimeout), zap.Error(err))
		}
	}

	requestQueue := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: config.MaxConcurrentRequests,
		MaxQueueSize:          config.MaxQueueSize,
		RequestTimeout:        requestTimeout,
	}, zl.Named("queue"))

	node := &LecternNode{
		logger:            zl,
		engine:            engine,
		requestQueue:      requestQueue,
		maxUploadImages:   config.MaxUploadImages,
		maxImageDimension: config.MaxImageDimension,
	}

	apiHandler := NewLecternAPI(zl, node)

	// Create root mux with health endpoints and API handler
	rootMux := http.NewServeMux()

	// Health endpoints (outside /api prefix for k8s compatibility)
	rootMux.HandleFunc("GET /healthz", node.handleHealthz)
	rootMux.HandleFunc("GET /readyz", node.handleReadyz)
	rootMux.Handle("GET /metrics", promhttp.Handler())

	rootMux.Handle("/api/", apiHandler)

	srv := &http.Server{
		Addr:        u.Host,
		Handler:     corsMiddleware(rootMux),
		ReadTimeout: 540 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		zl.Info("Lectern's api server starting", zap.String("address", config.ApiUrl))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Signal readiness after server starts
	if readyC != nil {
		close(readyC)
	}

	// Wait for context cancellation or server error
	select {
	case err := <-serverErr:
		if err != nil {
			zl.Fatal("HTTP server error", zap.Error(err))
		}
	case <-ctx.Done():
		zl.Info("Shutdown signal received, starting graceful shutdown...")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections
	srv.SetKeepAlivesEnabled(false)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("Graceful shutdown failed, forcing close",
			zap.Error(err),
			zap.Duration("timeout", DefaultShutdownTimeout))
		_ = srv.Close()
	} else {
		zl.Info("Graceful shutdown completed successfully")
	}

	zl.Info("HTTP server stopped")
}
