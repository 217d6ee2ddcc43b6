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
	"errors"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/bytedance/sonic/encoder"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lecternml/lectern/pkg/lectern/lib/imaging"
	"github.com/lecternml/lectern/pkg/lectern/lib/ocr"
)

// maxMultipartMemory bounds the in-memory portion of multipart parsing.
const maxMultipartMemory = 64 << 20

// allowedImageTypes is the MIME allowlist for uploaded images.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
	"image/tiff": true,
}

// ProcessingResponse is the success envelope for POST /api/inference.
type ProcessingResponse struct {
	Success         bool   `json:"success"`
	ImagesProcessed int    `json:"images_processed"`
	Results         []any  `json:"results"`
	Message         string `json:"message"`
}

// ErrorResponse is the error envelope for all API endpoints.
type ErrorResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
}

// TaskInfo describes one task for GET /api/tasks.
type TaskInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ModelKind   string `json:"model_kind"`
}

// ModelsResponse is the response for GET /api/models.
type ModelsResponse struct {
	Models map[string][]string `json:"models"`
	Loaded map[string][]string `json:"loaded"`
}

// VersionResponse is the response for GET /api/version.
type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// LecternAPI serves the inference HTTP API.
type LecternAPI struct {
	logger *zap.Logger
	node   *LecternNode
}

// NewLecternAPI builds the /api handler.
func NewLecternAPI(logger *zap.Logger, node *LecternNode) http.Handler {
	api := &LecternAPI{
		logger: logger.Named("api"),
		node:   node,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/inference", api.handleInference)
	mux.HandleFunc("GET /api/tasks", api.handleTasks)
	mux.HandleFunc("GET /api/models", api.handleModels)
	mux.HandleFunc("GET /api/version", api.handleVersion)
	return mux
}

// writeJSON writes a JSON response with the given status.
func (api *LecternAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := encoder.NewStreamEncoder(w).Encode(body); err != nil {
		api.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

// writeError writes the error envelope.
func (api *LecternAPI) writeError(w http.ResponseWriter, status int, msg string) {
	api.writeJSON(w, status, ErrorResponse{
		Success:    false,
		Error:      msg,
		StatusCode: status,
	})
}

// handleInference processes a multipart batch of images with one task.
func (api *LecternAPI) handleInference(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)
	logger := api.logger.With(zap.String("request_id", requestID))

	// Admission control before any parsing work
	release, err := api.node.requestQueue.Acquire(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, ErrQueueFull):
			WriteQueueFullResponse(w, 5*time.Second)
		case errors.Is(err, ErrRequestTimeout):
			WriteTimeoutResponse(w)
		default:
			api.writeError(w, http.StatusServiceUnavailable, "request cancelled")
		}
		return
	}
	defer release()

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		api.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("parsing multipart form: %v", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	task, err := ocr.ParseTask(r.FormValue("task_type"))
	if err != nil {
		api.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		api.writeError(w, http.StatusBadRequest, "no images provided")
		return
	}
	if len(files) > api.node.maxUploadImages {
		api.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("too many images: %d (maximum %d per request)",
				len(files), api.node.maxUploadImages))
		return
	}

	images, err := api.decodeUploads(files)
	if err != nil {
		var unsupported *unsupportedMediaError
		if errors.As(err, &unsupported) {
			api.writeError(w, http.StatusUnsupportedMediaType, err.Error())
		} else {
			api.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	model := r.FormValue("model")

	predictions, modelUsed, err := api.node.engine.Run(r.Context(), task, model, images)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrUnknownModel):
			status = http.StatusNotFound
		case errors.Is(err, ErrNoModel):
			status = http.StatusServiceUnavailable
		case errors.Is(err, ErrAmbiguousModel):
			status = http.StatusBadRequest
		}
		logger.Warn("Inference failed",
			zap.String("task", string(task)),
			zap.String("model", model),
			zap.Error(err))
		api.writeError(w, status, fmt.Sprintf("processing error: %v", err))
		RecordRequestDuration("inference", modelUsed, strconv.Itoa(status), time.Since(start).Seconds())
		return
	}

	results := make([]any, len(predictions))
	for i, p := range predictions {
		results[i] = p.Value()
	}

	logger.Info("Inference completed",
		zap.String("task", string(task)),
		zap.String("model", modelUsed),
		zap.Int("images", len(images)),
		zap.Duration("duration", time.Since(start)))

	RecordRequestDuration("inference", modelUsed, "200", time.Since(start).Seconds())
	api.writeJSON(w, http.StatusOK, ProcessingResponse{
		Success:         true,
		ImagesProcessed: len(images),
		Results:         results,
		Message:         "processing completed successfully",
	})
}

// unsupportedMediaError marks uploads outside the MIME allowlist.
type unsupportedMediaError struct {
	filename    string
	contentType string
}

func (e *unsupportedMediaError) Error() string {
	return fmt.Sprintf("unsupported media type %q for file %s (supported: jpeg, png, webp, tiff)",
		e.contentType, e.filename)
}

// decodeUploads validates and decodes the uploaded image files.
func (api *LecternAPI) decodeUploads(files []*multipart.FileHeader) ([]image.Image, error) {
	images := make([]image.Image, 0, len(files))
	for _, header := range files {
		contentType := header.Header.Get("Content-Type")
		if !allowedImageTypes[contentType] {
			return nil, &unsupportedMediaError{filename: header.Filename, contentType: contentType}
		}

		f, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("opening upload %s: %w", header.Filename, err)
		}
		img, err := imaging.Decode(f, api.node.maxImageDimension)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("processing image %s: %v", header.Filename, err)
		}
		images = append(images, img)
	}
	return images, nil
}

// handleTasks lists the supported tasks. Tasks whose model kind was
// disabled (no registry) are not advertised.
func (api *LecternAPI) handleTasks(w http.ResponseWriter, r *http.Request) {
	tasks := make([]TaskInfo, 0, len(ocr.Tasks()))
	for _, task := range ocr.Tasks() {
		if api.node.engine.Registry(task.Kind()) == nil {
			continue
		}
		tasks = append(tasks, TaskInfo{
			Name:        string(task),
			Description: task.Description(),
			ModelKind:   string(task.Kind()),
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// handleModels lists discovered and loaded models per kind.
func (api *LecternAPI) handleModels(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, ModelsResponse{
		Models: api.node.engine.Models(),
		Loaded: api.node.engine.Loaded(),
	})
}

// handleVersion reports build information.
func (api *LecternAPI) handleVersion(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, VersionResponse{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	})
}
