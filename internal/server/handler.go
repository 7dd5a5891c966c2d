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
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/googlecloudplatform/staticd/internal/logger"
	"github.com/googlecloudplatform/staticd/internal/ratelimit"
	"github.com/googlecloudplatform/staticd/internal/workerpool"
	"github.com/googlecloudplatform/staticd/metrics"
	"github.com/googlecloudplatform/staticd/tracing"
	"github.com/jacobsa/timeutil"
)

const RequestIDHeader = "X-Request-Id"

// StatusClientClosedRequest is recorded for requests whose client went away
// before a worker picked them up. Nothing is written to the connection.
const StatusClientClosedRequest = 499

// TaskRunner is the part of the worker pool the dispatcher relies on.
type TaskRunner interface {
	Submit(task workerpool.Task) error

	// Done is closed once no more tasks will run.
	Done() <-chan struct{}
}

// Handler hands every request to a worker pool and waits for the worker to
// produce the response.
type Handler struct {
	pool         TaskRunner
	files        http.Handler
	limiter      ratelimit.RequestLimiter
	metricHandle metrics.MetricHandle
	traceHandle  tracing.TraceHandle
	clock        timeutil.Clock
}

type HandlerOption func(*Handler)

// WithRateLimiter rejects requests with 429 while l has no token.
func WithRateLimiter(l ratelimit.RequestLimiter) HandlerOption {
	return func(h *Handler) {
		h.limiter = l
	}
}

func WithMetrics(m metrics.MetricHandle) HandlerOption {
	return func(h *Handler) {
		h.metricHandle = m
	}
}

func WithTracing(t tracing.TraceHandle) HandlerOption {
	return func(h *Handler) {
		h.traceHandle = t
	}
}

func WithClock(c timeutil.Clock) HandlerOption {
	return func(h *Handler) {
		h.clock = c
	}
}

// NewHandler returns a dispatcher running files on pool.
func NewHandler(pool TaskRunner, files http.Handler, opts ...HandlerOption) *Handler {
	h := &Handler{
		pool:         pool,
		files:        files,
		metricHandle: metrics.NewNoopMetrics(),
		traceHandle:  tracing.NewNoopTracer(),
		clock:        timeutil.RealClock(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.clock.Now()
	id := uuid.NewString()
	w.Header().Set(RequestIDHeader, id)

	ctx, span := h.traceHandle.StartServerSpan(r.Context(), r.Method+" "+r.URL.Path)
	rw := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		h.traceHandle.SetRequestAttributes(span, rw.status, rw.written)
		h.traceHandle.EndSpan(span)

		class := metrics.StatusClass(rw.status)
		h.metricHandle.HTTPRequestCount(1, class)
		h.metricHandle.HTTPRequestLatency(ctx, h.clock.Now().Sub(start), class)
		logger.Tracef("http: %s %s %s -> %d (%d bytes) [%s]", r.RemoteAddr, r.Method, r.URL.Path, rw.status, rw.written, id)
	}()

	h.dispatch(rw, r.WithContext(ctx))
}

func (h *Handler) dispatch(w *responseRecorder, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "405: Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.limiter != nil && !h.limiter.Allow() {
		http.Error(w, "429: Too many requests", http.StatusTooManyRequests)
		return
	}

	t := &serveTask{
		files: h.files,
		w:     w,
		r:     r,
		done:  make(chan struct{}),
	}
	if err := h.pool.Submit(t); err != nil {
		if errors.Is(err, workerpool.ErrPoolClosed) {
			serviceUnavailable(w)
			return
		}
		logger.Errorf("http: submitting request for %s: %v", r.URL.Path, err)
		http.Error(w, "500: Internal server error", http.StatusInternalServerError)
		return
	}

	select {
	case <-t.done:
	case <-r.Context().Done():
		if t.claim() {
			logger.Debugf("http: client went away before %s was served", r.URL.Path)
			w.status = StatusClientClosedRequest
			return
		}
		<-t.done
	case <-h.pool.Done():
		if t.claim() {
			serviceUnavailable(w)
			return
		}
		<-t.done
	}
}

func serviceUnavailable(w http.ResponseWriter) {
	http.Error(w, "503: Service unavailable", http.StatusServiceUnavailable)
}

// serveTask writes one response from a worker. Whichever of the worker and
// the dispatcher claims it first owns the ResponseWriter; the other side
// must not touch it.
type serveTask struct {
	files   http.Handler
	w       http.ResponseWriter
	r       *http.Request
	claimed atomic.Bool

	// Closed once the worker has finished writing. Never closed if the
	// dispatcher claimed the task.
	done chan struct{}
}

func (t *serveTask) claim() bool {
	return t.claimed.CompareAndSwap(false, true)
}

func (t *serveTask) Execute() {
	if !t.claim() {
		return
	}
	defer close(t.done)
	t.files.ServeHTTP(t.w, t.r)
}

// responseRecorder remembers the status and body size of a response.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func (rr *responseRecorder) WriteHeader(status int) {
	if !rr.wroteHeader {
		rr.status = status
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(p []byte) (int, error) {
	rr.wroteHeader = true
	n, err := rr.ResponseWriter.Write(p)
	rr.written += int64(n)
	return n, err
}

func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}
