// Copyright 2024 Google LLC
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

package metrics

import (
	"context"
	"time"
)

// Values of the status attribute of pool/task_count.
const (
	TaskStatusAccepted = "accepted"
	TaskStatusRejected = "rejected"
)

// Values of the status_class attribute of http/request_count and
// http/request_latencies.
const (
	StatusClass2xx = "2xx"
	StatusClass3xx = "3xx"
	StatusClass4xx = "4xx"
	StatusClass5xx = "5xx"
)

// PoolObserver exposes the instantaneous state of a worker pool to gauges.
type PoolObserver interface {
	ActiveWorkers() int
	QueueLen() int
}

// MetricHandle records the metrics of the server and its worker pool.
type MetricHandle interface {
	// PoolTaskCount - The cumulative number of tasks submitted to the worker pool, by status.
	PoolTaskCount(inc int64, status string)

	// PoolTaskPanicCount - The cumulative number of tasks that panicked while executing.
	PoolTaskPanicCount(inc int64)

	// PoolTaskLatency - The distribution of task execution times.
	PoolTaskLatency(ctx context.Context, latency time.Duration)

	// PoolQueueWait - The distribution of the time tasks spent queued before a worker picked them up.
	PoolQueueWait(ctx context.Context, latency time.Duration)

	// HTTPRequestCount - The cumulative number of HTTP requests answered, by status class.
	HTTPRequestCount(inc int64, statusClass string)

	// HTTPRequestLatency - The distribution of HTTP request latencies, by status class.
	HTTPRequestLatency(ctx context.Context, latency time.Duration, statusClass string)

	// ObservePool registers p as the source of the pool/active_workers and
	// pool/queue_length gauges.
	ObservePool(p PoolObserver)
}

// StatusClass maps an HTTP status code to its status_class attribute value.
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return StatusClass5xx
	case code >= 400:
		return StatusClass4xx
	case code >= 300:
		return StatusClass3xx
	default:
		return StatusClass2xx
	}
}
