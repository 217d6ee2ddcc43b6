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
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRequestQueue_AcquireRelease(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: 2,
		MaxQueueSize:          2,
	}, zap.NewNop())

	ctx := context.Background()

	release1, err := q.Acquire(ctx)
	require.NoError(t, err)
	release2, err := q.Acquire(ctx)
	require.NoError(t, err)

	stats := q.Stats()
	assert.Equal(t, 2, stats.CurrentActive)
	assert.Equal(t, uint64(2), stats.TotalAdmitted)
	assert.Equal(t, 2, stats.MaxConcurrent)

	release1()
	release2()

	stats = q.Stats()
	assert.Equal(t, 0, stats.CurrentActive)
}

func TestRequestQueue_Defaults(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{}, nil)

	stats := q.Stats()
	assert.Equal(t, 2*runtime.NumCPU(), stats.MaxConcurrent)
	assert.Equal(t, 64, stats.MaxQueueLength)
}

func TestRequestQueue_QueueFull(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: 1,
		MaxQueueSize:          1,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Occupy the only active slot
	release, err := q.Acquire(ctx)
	require.NoError(t, err)
	defer release()

	// Occupy the only queue slot with a blocked waiter
	waiterErr := make(chan error, 1)
	go func() {
		_, err := q.Acquire(ctx)
		waiterErr <- err
	}()

	require.Eventually(t, func() bool {
		return q.Stats().CurrentQueued == 1
	}, time.Second, 5*time.Millisecond)

	// Queue is now full
	_, err = q.Acquire(ctx)
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, uint64(1), q.Stats().TotalRejected)

	// Unblock the waiter
	cancel()
	require.ErrorIs(t, <-waiterErr, context.Canceled)
}

func TestRequestQueue_Timeout(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: 1,
		MaxQueueSize:          1,
		RequestTimeout:        20 * time.Millisecond,
	}, zap.NewNop())

	ctx := context.Background()

	release, err := q.Acquire(ctx)
	require.NoError(t, err)
	defer release()

	_, err = q.Acquire(ctx)
	require.ErrorIs(t, err, ErrRequestTimeout)
	assert.Equal(t, uint64(1), q.Stats().TotalTimedOut)
	assert.Equal(t, 0, q.Stats().CurrentQueued)
}

func TestRequestQueue_ContextCancelled(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: 1,
		MaxQueueSize:          1,
	}, zap.NewNop())

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = q.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, q.Stats().CurrentQueued)
}

func TestRequestQueue_WaiterAdmittedOnRelease(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: 1,
		MaxQueueSize:          1,
	}, zap.NewNop())

	ctx := context.Background()

	release, err := q.Acquire(ctx)
	require.NoError(t, err)

	admitted := make(chan func(), 1)
	go func() {
		r, err := q.Acquire(ctx)
		if err == nil {
			admitted <- r
		}
	}()

	require.Eventually(t, func() bool {
		return q.Stats().CurrentQueued == 1
	}, time.Second, 5*time.Millisecond)

	release()

	select {
	case r := <-admitted:
		r()
	case <-time.After(time.Second):
		t.Fatal("waiter was not admitted after release")
	}

	assert.Equal(t, uint64(2), q.Stats().TotalAdmitted)
}

func TestWriteQueueFullResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteQueueFullResponse(rec, 5*time.Second)

	assert.Equal(t, 429, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))

	var resp ErrorResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, 429, resp.StatusCode)
}

func TestWriteTimeoutResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteTimeoutResponse(rec)

	assert.Equal(t, 503, rec.Code)

	var resp ErrorResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "timed out")
}
