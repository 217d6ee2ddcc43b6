// Copyright 2025 The Lectern Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/bytedance/sonic/encoder"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lecternml/lectern/pkg/lectern"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the lectern server",
	Long:  `Start the lectern server for document inference (OCR, layout, tables, LaTeX).`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("api-url", lectern.DefaultApiUrl, "address the API server listens on")
	runCmd.Flags().Int("health-port", 8411, "health/metrics server port")
	runCmd.Flags().String("keep-alive", "", "how long to keep idle models loaded (e.g. 5m, empty = forever)")
	runCmd.Flags().Int("max-loaded-models", 0, "max loaded models per kind (0 = unlimited)")
	runCmd.Flags().StringSlice("preload", nil, "models to load at startup")
	runCmd.Flags().Int("pool-size", 0, "concurrent pipelines per model (0 = auto)")
	runCmd.Flags().Int("max-new-tokens", 0, "generation cap per image (0 = model default)")
	runCmd.Flags().String("request-timeout", "", "max time a request may wait in queue")
	runCmd.Flags().Int("max-concurrent-requests", 0, "max in-flight requests (0 = 2x CPUs)")
	runCmd.Flags().Int("max-queue-size", 0, "max queued requests (0 = 64)")
	runCmd.Flags().Int("max-upload-images", lectern.DefaultMaxUploadImages, "max images per API request")
	runCmd.Flags().Int("max-image-dimension", lectern.DefaultMaxImageDimension, "downscale larger images before inference")
	runCmd.Flags().Bool("disable-math", false, "disable LaTeX recognition")

	mustBindPFlag("api_url", runCmd.Flags().Lookup("api-url"))
	mustBindPFlag("health_port", runCmd.Flags().Lookup("health-port"))
	mustBindPFlag("keep_alive", runCmd.Flags().Lookup("keep-alive"))
	mustBindPFlag("max_loaded_models", runCmd.Flags().Lookup("max-loaded-models"))
	mustBindPFlag("preload", runCmd.Flags().Lookup("preload"))
	mustBindPFlag("pool_size", runCmd.Flags().Lookup("pool-size"))
	mustBindPFlag("max_new_tokens", runCmd.Flags().Lookup("max-new-tokens"))
	mustBindPFlag("request_timeout", runCmd.Flags().Lookup("request-timeout"))
	mustBindPFlag("max_concurrent_requests", runCmd.Flags().Lookup("max-concurrent-requests"))
	mustBindPFlag("max_queue_size", runCmd.Flags().Lookup("max-queue-size"))
	mustBindPFlag("max_upload_images", runCmd.Flags().Lookup("max-upload-images"))
	mustBindPFlag("max_image_dimension", runCmd.Flags().Lookup("max-image-dimension"))
	mustBindPFlag("disable_math", runCmd.Flags().Lookup("disable-math"))
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Running as lectern")

	cfg := lectern.Config{
		ApiUrl:                viper.GetString("api_url"),
		ModelsDir:             viper.GetString("models_dir"),
		KeepAlive:             viper.GetString("keep_alive"),
		MaxLoadedModels:       viper.GetInt("max_loaded_models"),
		Preload:               viper.GetStringSlice("preload"),
		PoolSize:              viper.GetInt("pool_size"),
		MaxNewTokens:          viper.GetInt("max_new_tokens"),
		RequestTimeout:        viper.GetString("request_timeout"),
		MaxConcurrentRequests: viper.GetInt("max_concurrent_requests"),
		MaxQueueSize:          viper.GetInt("max_queue_size"),
		MaxUploadImages:       viper.GetInt("max_upload_images"),
		MaxImageDimension:     viper.GetInt("max_image_dimension"),
		DetectorTextThreshold: viper.GetFloat64("detector_text_threshold"),
		DisableMath:           viper.GetBool("disable_math"),
	}

	// Track readiness state
	ready := &atomic.Bool{}
	readyC := make(chan struct{})

	// Side health/metrics server for orchestrators scraping a fixed port
	startHealthServer(logger, viper.GetInt("health_port"), ready.Load)

	// Wait for ready signal in background
	go func() {
		<-readyC
		ready.Store(true)
		logger.Info("Lectern is ready")
	}()

	lectern.RunAsLectern(ctx, logger, cfg, readyC)
	return nil
}

// startHealthServer serves /healthz, /readyz, and /metrics on its own port.
func startHealthServer(logger *zap.Logger, port int, isReady func() bool) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = encoder.NewStreamEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ready", http.StatusOK
		if !isReady() {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = encoder.NewStreamEncoder(w).Encode(map[string]string{"status": status})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	go func() {
		addr := fmt.Sprintf(":%d", port)
		logger.Info("Health server starting", zap.String("address", addr))
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			logger.Warn("Health server stopped", zap.Error(err))
		}
	}()
}
