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

// Package client provides a Go SDK client for the Lectern API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/lecternml/lectern/pkg/lectern/lib/ocr"
)

// InferenceResponse is the success envelope returned by POST /api/inference.
// Results holds one raw JSON document per input image; its shape depends
// on the task. Decode entries into the matching lib/ocr result type.
type InferenceResponse struct {
	Success         bool              `json:"success"`
	ImagesProcessed int               `json:"images_processed"`
	Results         []json.RawMessage `json:"results"`
	Message         string            `json:"message"`
}

// ErrorResponse is the error envelope returned by all API endpoints.
type ErrorResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
}

// TaskInfo describes one task from GET /api/tasks.
type TaskInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ModelKind   string `json:"model_kind"`
}

// ModelsResponse is the response from GET /api/models.
type ModelsResponse struct {
	Models map[string][]string `json:"models"`
	Loaded map[string][]string `json:"loaded"`
}

// VersionResponse is the response from GET /api/version.
type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// LecternClient is a client for interacting with the Lectern API.
type LecternClient struct {
	baseURL string
	hc      *http.Client
}

// NewLecternClient creates a new Lectern client. The baseURL should be
// the server address (e.g., "http://localhost:8410"). A nil httpClient
// uses http.DefaultClient.
func NewLecternClient(baseURL string, httpClient *http.Client) *LecternClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &LecternClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		hc:      httpClient,
	}
}

// InferOption configures an inference request.
type InferOption func(*inferOptions)

type inferOptions struct {
	model string
}

// WithModel selects a specific model instead of the task's sole model.
func WithModel(model string) InferOption {
	return func(o *inferOptions) {
		o.model = model
	}
}

// InferFiles runs a task over local image files by path.
func (c *LecternClient) InferFiles(ctx context.Context, task ocr.Task, paths []string, opts ...InferOption) (*InferenceResponse, error) {
	named := make([]NamedReader, 0, len(paths))
	closers := make([]io.Closer, 0, len(paths))
	defer func() {
		for _, cl := range closers {
			_ = cl.Close()
		}
	}()

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		closers = append(closers, f)
		named = append(named, NamedReader{Name: filepath.Base(path), Reader: f})
	}

	return c.Infer(ctx, task, named, opts...)
}

// NamedReader pairs an image stream with its filename. The filename's
// extension determines the part's Content-Type.
type NamedReader struct {
	Name   string
	Reader io.Reader
}

// Infer runs a task over a batch of images.
func (c *LecternClient) Infer(ctx context.Context, task ocr.Task, images []NamedReader, opts ...InferOption) (*InferenceResponse, error) {
	var options inferOptions
	for _, opt := range opts {
		opt(&options)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			if err := mw.WriteField("task_type", string(task)); err != nil {
				return err
			}
			if options.model != "" {
				if err := mw.WriteField("model", options.model); err != nil {
					return err
				}
			}
			for _, img := range images {
				part, err := createImagePart(mw, img.Name)
				if err != nil {
					return err
				}
				if _, err := io.Copy(part, img.Reader); err != nil {
					return fmt.Errorf("writing %s: %w", img.Name, err)
				}
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/inference", pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var out InferenceResponse
	if err := decodeBody(resp.Body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// createImagePart adds a multipart file part with a Content-Type derived
// from the filename extension.
func createImagePart(mw *multipart.Writer, filename string) (io.Writer, error) {
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="files"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	return mw.CreatePart(h)
}

// ListTasks returns the tasks the server supports.
func (c *LecternClient) ListTasks(ctx context.Context) ([]TaskInfo, error) {
	var out struct {
		Tasks []TaskInfo `json:"tasks"`
	}
	if err := c.get(ctx, "/api/tasks", &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// ListModels returns discovered and loaded models grouped by kind.
func (c *LecternClient) ListModels(ctx context.Context) (*ModelsResponse, error) {
	var out ModelsResponse
	if err := c.get(ctx, "/api/models", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetVersion returns Lectern version information.
func (c *LecternClient) GetVersion(ctx context.Context) (*VersionResponse, error) {
	var out VersionResponse
	if err := c.get(ctx, "/api/version", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Healthy reports whether the server's /healthz endpoint responds OK.
func (c *LecternClient) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *LecternClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return decodeBody(resp.Body, out)
}

// decodeError turns a non-200 response into an error, preferring the
// server's error envelope when present.
func decodeError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var envelope ErrorResponse
	if err := sonic.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		return fmt.Errorf("%s (status %d)", envelope.Error, resp.StatusCode)
	}
	return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
}

func decodeBody(r io.Reader, out any) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
