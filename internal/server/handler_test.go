// Copyright 2025 Google LLC
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

package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/googlecloudplatform/staticd/internal/workerpool"
	"github.com/googlecloudplatform/staticd/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// stubPool accepts tasks without running them.
type stubPool struct {
	mu        sync.Mutex
	tasks     []workerpool.Task
	submitErr error
	done      chan struct{}
}

func newStubPool() *stubPool {
	return &stubPool{done: make(chan struct{})}
}

func (p *stubPool) Submit(task workerpool.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submitErr != nil {
		return p.submitErr
	}
	p.tasks = append(p.tasks, task)
	return nil
}

func (p *stubPool) Done() <-chan struct{} {
	return p.done
}

func (p *stubPool) submitted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

func (p *stubPool) task(i int) workerpool.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tasks[i]
}

type stubLimiter struct {
	allow bool
}

func (l *stubLimiter) Capacity() uint64 { return 1 }

func (l *stubLimiter) Allow() bool { return l.allow }

// fakeMetricHandle counts requests per status class.
type fakeMetricHandle struct {
	metrics.MetricHandle

	mu        sync.Mutex
	requests  map[string]int64
	latencies int
}

func newFakeMetricHandle() *fakeMetricHandle {
	return &fakeMetricHandle{MetricHandle: metrics.NewNoopMetrics(), requests: map[string]int64{}}
}

func (f *fakeMetricHandle) HTTPRequestCount(inc int64, statusClass string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[statusClass] += inc
}

func (f *fakeMetricHandle) HTTPRequestLatency(_ context.Context, _ time.Duration, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latencies++
}

type HandlerTest struct {
	suite.Suite
	files   *FileServer
	pool    *workerpool.Pool
	metrics *fakeMetricHandle
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerTest))
}

func (t *HandlerTest) SetupTest() {
	root := t.T().TempDir()
	require.NoError(t.T(), os.WriteFile(filepath.Join(root, "index.html"), []byte(indexContent), 0644))
	t.files = NewFileServer(root, t.T().TempDir())

	var err error
	t.pool, err = workerpool.New(2, true)
	require.NoError(t.T(), err)
	require.NoError(t.T(), t.pool.Start())
	t.metrics = newFakeMetricHandle()
}

func (t *HandlerTest) TearDownTest() {
	t.pool.Shutdown()
}

func (t *HandlerTest) serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func (t *HandlerTest) TestServesFileThroughPool() {
	h := NewHandler(t.pool, t.files, WithMetrics(t.metrics))

	rec := t.serve(h, http.MethodGet, "/index.html")

	assert.Equal(t.T(), http.StatusOK, rec.Code)
	assert.Equal(t.T(), indexContent, rec.Body.String())
	assert.Equal(t.T(), "text/html", rec.Header().Get("Content-Type"))
	_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
	assert.NoError(t.T(), err)
	assert.EqualValues(t.T(), 1, t.metrics.requests[metrics.StatusClass2xx])
	assert.Equal(t.T(), 1, t.metrics.latencies)
}

func (t *HandlerTest) TestMissingFileIs404() {
	h := NewHandler(t.pool, t.files, WithMetrics(t.metrics))

	rec := t.serve(h, http.MethodGet, "/nope.html")

	assert.Equal(t.T(), http.StatusNotFound, rec.Code)
	assert.Equal(t.T(), "404: File not found", rec.Body.String())
	assert.EqualValues(t.T(), 1, t.metrics.requests[metrics.StatusClass4xx])
}

func (t *HandlerTest) TestRequestIDsAreUnique() {
	h := NewHandler(t.pool, t.files)

	first := t.serve(h, http.MethodGet, "/index.html").Header().Get(RequestIDHeader)
	second := t.serve(h, http.MethodGet, "/index.html").Header().Get(RequestIDHeader)

	assert.NotEmpty(t.T(), first)
	assert.NotEqual(t.T(), first, second)
}

func (t *HandlerTest) TestNonGetMethodIsRejected() {
	pool := newStubPool()
	h := NewHandler(pool, t.files, WithMetrics(t.metrics))

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodHead} {
		rec := t.serve(h, method, "/index.html")

		assert.Equal(t.T(), http.StatusMethodNotAllowed, rec.Code, method)
		assert.Equal(t.T(), http.MethodGet, rec.Header().Get("Allow"), method)
	}
	assert.Equal(t.T(), 0, pool.submitted())
	assert.EqualValues(t.T(), 4, t.metrics.requests[metrics.StatusClass4xx])
}

func (t *HandlerTest) TestRateLimitedRequestIs429() {
	pool := newStubPool()
	h := NewHandler(pool, t.files, WithRateLimiter(&stubLimiter{allow: false}))

	rec := t.serve(h, http.MethodGet, "/index.html")

	assert.Equal(t.T(), http.StatusTooManyRequests, rec.Code)
	assert.Equal(t.T(), 0, pool.submitted())
}

func (t *HandlerTest) TestAllowedByRateLimiter() {
	h := NewHandler(t.pool, t.files, WithRateLimiter(&stubLimiter{allow: true}))

	rec := t.serve(h, http.MethodGet, "/index.html")

	assert.Equal(t.T(), http.StatusOK, rec.Code)
}

func (t *HandlerTest) TestClosedPoolIs503() {
	t.pool.Shutdown()
	h := NewHandler(t.pool, t.files, WithMetrics(t.metrics))

	rec := t.serve(h, http.MethodGet, "/index.html")

	assert.Equal(t.T(), http.StatusServiceUnavailable, rec.Code)
	assert.EqualValues(t.T(), 1, t.metrics.requests[metrics.StatusClass5xx])
}

func (t *HandlerTest) TestUnexpectedSubmitErrorIs500() {
	pool := newStubPool()
	pool.submitErr = errors.New("boom")
	h := NewHandler(pool, t.files)

	rec := t.serve(h, http.MethodGet, "/index.html")

	assert.Equal(t.T(), http.StatusInternalServerError, rec.Code)
}

func (t *HandlerTest) TestPoolTerminatedBeforeTaskRanIs503() {
	pool := newStubPool()
	close(pool.done)
	h := NewHandler(pool, t.files)

	rec := t.serve(h, http.MethodGet, "/index.html")

	assert.Equal(t.T(), http.StatusServiceUnavailable, rec.Code)
	require.Equal(t.T(), 1, pool.submitted())
	// The dropped task must not write once the dispatcher has answered.
	pool.task(0).Execute()
	assert.Equal(t.T(), http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t.T(), rec.Body.String(), indexContent)
}

func (t *HandlerTest) TestClientGoneBeforeTaskRan() {
	pool := newStubPool()
	h := NewHandler(pool, t.files, WithMetrics(t.metrics))
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/index.html", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	returned := make(chan struct{})

	go func() {
		h.ServeHTTP(rec, req)
		close(returned)
	}()
	assert.Eventually(t.T(), func() bool { return pool.submitted() == 1 }, time.Second, time.Millisecond)
	cancel()
	<-returned

	pool.task(0).Execute()
	assert.Empty(t.T(), rec.Body.String())
	t.metrics.mu.Lock()
	defer t.metrics.mu.Unlock()
	assert.Equal(t.T(), map[string]int64{metrics.StatusClass4xx: 1}, t.metrics.requests)
}

func (t *HandlerTest) TestConcurrentRequests() {
	h := NewHandler(t.pool, t.files)
	srv := httptest.NewServer(h)
	defer srv.Close()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(srv.URL + "/index.html")
			if !assert.NoError(t.T(), err) {
				return
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			assert.NoError(t.T(), err)
			assert.Equal(t.T(), http.StatusOK, resp.StatusCode)
			assert.Equal(t.T(), indexContent, string(body))
		}()
	}
	wg.Wait()
}
