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
	"bytes"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lecternml/lectern/pkg/lectern/lib/ocr"
	"github.com/lecternml/lectern/pkg/lectern/lib/predict"
)

// newTestNode assembles a node around the given engine with relaxed
// queue limits.
func newTestNode(t *testing.T, engine *Engine) *LecternNode {
	t.Helper()
	return &LecternNode{
		logger: zap.NewNop(),
		engine: engine,
		requestQueue: NewRequestQueue(RequestQueueConfig{
			MaxConcurrentRequests: 4,
			MaxQueueSize:          4,
		}, zap.NewNop()),
		maxUploadImages:   2,
		maxImageDimension: DefaultMaxImageDimension,
	}
}

func newTestServer(t *testing.T, engine *Engine) *httptest.Server {
	t.Helper()
	node := newTestNode(t, engine)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", node.handleHealthz)
	mux.HandleFunc("GET /readyz", node.handleReadyz)
	mux.Handle("/api/", NewLecternAPI(zap.NewNop(), node))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// multipartUpload builds a multipart body with task/model fields and PNG
// uploads named files.
func multipartUpload(t *testing.T, task, model string, names []string, contentType string) (*bytes.Buffer, string) {
	t.Helper()

	var imgBuf bytes.Buffer
	require.NoError(t, png.Encode(&imgBuf, image.NewNRGBA(image.Rect(0, 0, 8, 8))))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if task != "" {
		require.NoError(t, mw.WriteField("task_type", task))
	}
	if model != "" {
		require.NoError(t, mw.WriteField("model", model))
	}
	for _, name := range names {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(imgBuf.Bytes())
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func postInference(t *testing.T, server *httptest.Server, body *bytes.Buffer, contentType string) *http.Response {
	t.Helper()
	resp, err := http.Post(server.URL+"/api/inference", contentType, body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAPI_Inference_Success(t *testing.T) {
	mock := &mockPredictor{}
	engine := newTestEngine(t, map[ocr.Kind]*PredictorRegistry{
		ocr.KindRecognizer: newTestRegistry(t, ocr.KindRecognizer, map[string]predict.Predictor{
			"surya-rec": mock,
		}),
	}, nil)
	server := newTestServer(t, engine)

	body, contentType := multipartUpload(t, "extract_text", "", []string{"page.png"}, "image/png")
	resp := postInference(t, server, body, contentType)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	out := decodeJSON[ProcessingResponse](t, resp)
	assert.True(t, out.Success)
	assert.Equal(t, 1, out.ImagesProcessed)
	require.Len(t, out.Results, 1)
	assert.Equal(t, uint64(1), mock.calls.Load())
}

func TestAPI_Inference_NoFiles(t *testing.T) {
	server := newTestServer(t, newTestEngine(t, map[ocr.Kind]*PredictorRegistry{}, nil))

	body, contentType := multipartUpload(t, "extract_text", "", nil, "image/png")
	resp := postInference(t, server, body, contentType)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	out := decodeJSON[ErrorResponse](t, resp)
	assert.Contains(t, out.Error, "no images")
}

func TestAPI_Inference_TooManyFiles(t *testing.T) {
	server := newTestServer(t, newTestEngine(t, map[ocr.Kind]*PredictorRegistry{}, nil))

	// Node allows 2 uploads per request
	body, contentType := multipartUpload(t, "extract_text", "",
		[]string{"a.png", "b.png", "c.png"}, "image/png")
	resp := postInference(t, server, body, contentType)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	out := decodeJSON[ErrorResponse](t, resp)
	assert.Contains(t, out.Error, "too many images")
}

func TestAPI_Inference_InvalidTask(t *testing.T) {
	server := newTestServer(t, newTestEngine(t, map[ocr.Kind]*PredictorRegistry{}, nil))

	body, contentType := multipartUpload(t, "summon_daemon", "", []string{"a.png"}, "image/png")
	resp := postInference(t, server, body, contentType)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	out := decodeJSON[ErrorResponse](t, resp)
	assert.Contains(t, out.Error, "invalid task")
}

func TestAPI_Inference_UnsupportedMediaType(t *testing.T) {
	server := newTestServer(t, newTestEngine(t, map[ocr.Kind]*PredictorRegistry{}, nil))

	body, contentType := multipartUpload(t, "extract_text", "", []string{"a.pdf"}, "application/pdf")
	resp := postInference(t, server, body, contentType)

	require.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	out := decodeJSON[ErrorResponse](t, resp)
	assert.Contains(t, out.Error, "unsupported media type")
}

func TestAPI_Inference_UnknownModel(t *testing.T) {
	server := newTestServer(t, newTestEngine(t, map[ocr.Kind]*PredictorRegistry{}, nil))

	body, contentType := multipartUpload(t, "extract_text", "no-such-model", []string{"a.png"}, "image/png")
	resp := postInference(t, server, body, contentType)

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Inference_NoModelAvailable(t *testing.T) {
	server := newTestServer(t, newTestEngine(t, map[ocr.Kind]*PredictorRegistry{}, nil))

	body, contentType := multipartUpload(t, "detect_layout", "", []string{"a.png"}, "image/png")
	resp := postInference(t, server, body, contentType)

	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPI_Inference_QueueFull(t *testing.T) {
	node := newTestNode(t, newTestEngine(t, map[ocr.Kind]*PredictorRegistry{}, nil))

	// Saturate both the active slots and the wait queue
	node.requestQueue = NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: 1,
		MaxQueueSize:          1,
	}, zap.NewNop())
	node.requestQueue.active <- struct{}{}
	node.requestQueue.queued <- struct{}{}

	handler := NewLecternAPI(zap.NewNop(), node)

	body, contentType := multipartUpload(t, "extract_text", "", []string{"a.png"}, "image/png")
	req := httptest.NewRequest(http.MethodPost, "/api/inference", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
}

func TestAPI_Tasks(t *testing.T) {
	server := newTestServer(t, newTestEngine(t, map[ocr.Kind]*PredictorRegistry{}, nil))

	resp, err := http.Get(server.URL + "/api/tasks")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeJSON[map[string][]TaskInfo](t, resp)
	require.Len(t, out["tasks"], 5)
	assert.Equal(t, "detect_text", out["tasks"][0].Name)
	assert.Equal(t, "detectors", out["tasks"][0].ModelKind)
}

func TestAPI_Tasks_MathDisabled(t *testing.T) {
	engine, err := BuildEngine(Config{DisableMath: true}, nil, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	server := newTestServer(t, engine)

	resp, err := http.Get(server.URL + "/api/tasks")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeJSON[map[string][]TaskInfo](t, resp)
	require.Len(t, out["tasks"], 4)
	for _, task := range out["tasks"] {
		assert.NotEqual(t, "recognize_latex", task.Name)
	}
}

func TestAPI_Models(t *testing.T) {
	engine := newTestEngine(t, map[ocr.Kind]*PredictorRegistry{
		ocr.KindDetector: newTestRegistry(t, ocr.KindDetector, map[string]predict.Predictor{
			"surya-det": &mockPredictor{},
		}),
	}, nil)
	server := newTestServer(t, engine)

	resp, err := http.Get(server.URL + "/api/models")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeJSON[ModelsResponse](t, resp)
	assert.ElementsMatch(t, []string{"surya-det"}, out.Models["detectors"])
	assert.ElementsMatch(t, []string{"surya-det"}, out.Loaded["detectors"])
}

func TestAPI_Version(t *testing.T) {
	server := newTestServer(t, newTestEngine(t, map[ocr.Kind]*PredictorRegistry{}, nil))

	resp, err := http.Get(server.URL + "/api/version")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeJSON[VersionResponse](t, resp)
	assert.Equal(t, Version, out.Version)
	assert.NotEmpty(t, out.GoVersion)
}

func TestAPI_Healthz(t *testing.T) {
	server := newTestServer(t, newTestEngine(t, map[ocr.Kind]*PredictorRegistry{}, nil))

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeJSON[HealthResponse](t, resp)
	assert.Equal(t, "ok", out.Status)
}

func TestAPI_Readyz(t *testing.T) {
	// Without any models the node is alive but not ready
	server := newTestServer(t, newTestEngine(t, map[ocr.Kind]*PredictorRegistry{}, nil))

	resp, err := http.Get(server.URL + "/readyz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	out := decodeJSON[ReadyResponse](t, resp)
	assert.Equal(t, "not_ready", out.Status)
}

func TestAPI_Readyz_WithModels(t *testing.T) {
	engine := newTestEngine(t, map[ocr.Kind]*PredictorRegistry{
		ocr.KindRecognizer: newTestRegistry(t, ocr.KindRecognizer, map[string]predict.Predictor{
			"surya-rec": &mockPredictor{},
		}),
	}, nil)
	server := newTestServer(t, engine)

	resp, err := http.Get(server.URL + "/readyz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeJSON[ReadyResponse](t, resp)
	assert.Equal(t, "ready", out.Status)
	assert.Equal(t, 1, out.Models.Recognizers)
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/inference", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
