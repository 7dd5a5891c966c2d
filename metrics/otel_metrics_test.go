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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// metricValueMap maps attribute sets to metric values.
type metricValueMap map[string]int64

type fakePool struct {
	active, queued int
}

func (f *fakePool) ActiveWorkers() int { return f.active }

func (f *fakePool) QueueLen() int { return f.queued }

func setupOTel(ctx context.Context, t *testing.T) (*otelMetrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	otel.SetMeterProvider(provider)

	m, err := NewOTelMetrics(ctx, 10, 100)
	require.NoError(t, err)
	return m, reader
}

// gatherNonZeroCounterMetrics collects all non-zero int64 sums and gauges from
// the reader, keyed by metric name and then by encoded attribute set.
func gatherNonZeroCounterMetrics(ctx context.Context, t *testing.T, rd *metric.ManualReader) map[string]metricValueMap {
	t.Helper()
	var rm metricdata.ResourceMetrics
	err := rd.Collect(ctx, &rm)
	require.NoError(t, err)

	results := make(map[string]metricValueMap)
	encoder := attribute.DefaultEncoder()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			var points []metricdata.DataPoint[int64]
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				points = data.DataPoints
			case metricdata.Gauge[int64]:
				points = data.DataPoints
			default:
				continue
			}
			metricMap := make(metricValueMap)
			for _, dp := range points {
				if dp.Value == 0 {
					continue
				}
				metricMap[dp.Attributes.Encoded(encoder)] = dp.Value
			}
			if len(metricMap) > 0 {
				results[m.Name] = metricMap
			}
		}
	}
	return results
}

// gatherHistogramCounts returns, per metric name and encoded attribute set,
// the number of recorded values.
func gatherHistogramCounts(ctx context.Context, t *testing.T, rd *metric.ManualReader) map[string]map[string]uint64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	err := rd.Collect(ctx, &rm)
	require.NoError(t, err)

	results := make(map[string]map[string]uint64)
	encoder := attribute.DefaultEncoder()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			hist, ok := m.Data.(metricdata.Histogram[int64])
			if !ok {
				continue
			}
			counts := make(map[string]uint64)
			for _, dp := range hist.DataPoints {
				if dp.Count == 0 {
					continue
				}
				counts[dp.Attributes.Encoded(encoder)] = dp.Count
			}
			if len(counts) > 0 {
				results[m.Name] = counts
			}
		}
	}
	return results
}

func TestPoolTaskCount(t *testing.T) {
	ctx := context.Background()
	m, rd := setupOTel(ctx, t)
	encoder := attribute.DefaultEncoder()

	m.PoolTaskCount(3, TaskStatusAccepted)
	m.PoolTaskCount(1, TaskStatusRejected)
	m.PoolTaskCount(2, TaskStatusAccepted)
	m.PoolTaskCount(-1, TaskStatusAccepted)
	m.PoolTaskCount(1, "unknown")

	metrics := gatherNonZeroCounterMetrics(ctx, t, rd)
	taskCount, ok := metrics["pool/task_count"]
	require.True(t, ok, "pool/task_count metric not found")
	assert.Equal(t, metricValueMap{
		encodedAttr(encoder, "status", TaskStatusAccepted): 5,
		encodedAttr(encoder, "status", TaskStatusRejected): 1,
	}, taskCount)
}

func encodedAttr(encoder attribute.Encoder, key, value string) string {
	s := attribute.NewSet(attribute.String(key, value))
	return s.Encoded(encoder)
}

func TestPoolTaskPanicCount(t *testing.T) {
	ctx := context.Background()
	m, rd := setupOTel(ctx, t)

	m.PoolTaskPanicCount(1)
	m.PoolTaskPanicCount(2)

	metrics := gatherNonZeroCounterMetrics(ctx, t, rd)
	assert.Equal(t, metricValueMap{"": 3}, metrics["pool/task_panic_count"])
}

func TestHTTPRequestCount(t *testing.T) {
	ctx := context.Background()
	m, rd := setupOTel(ctx, t)
	encoder := attribute.DefaultEncoder()

	m.HTTPRequestCount(2, StatusClass2xx)
	m.HTTPRequestCount(1, StatusClass4xx)
	m.HTTPRequestCount(4, StatusClass5xx)

	metrics := gatherNonZeroCounterMetrics(ctx, t, rd)
	assert.Equal(t, metricValueMap{
		encodedAttr(encoder, "status_class", StatusClass2xx): 2,
		encodedAttr(encoder, "status_class", StatusClass4xx): 1,
		encodedAttr(encoder, "status_class", StatusClass5xx): 4,
	}, metrics["http/request_count"])
}

func TestHistograms(t *testing.T) {
	ctx := context.Background()
	m, rd := setupOTel(ctx, t)
	encoder := attribute.DefaultEncoder()

	m.PoolTaskLatency(ctx, 5*time.Millisecond)
	m.PoolTaskLatency(ctx, 7*time.Millisecond)
	m.PoolQueueWait(ctx, time.Millisecond)
	m.HTTPRequestLatency(ctx, 10*time.Millisecond, StatusClass2xx)
	m.HTTPRequestLatency(ctx, 10*time.Millisecond, "bogus")
	m.Close()

	hist := gatherHistogramCounts(ctx, t, rd)
	assert.Equal(t, map[string]uint64{"": 2}, hist["pool/task_latencies"])
	assert.Equal(t, map[string]uint64{"": 1}, hist["pool/queue_wait"])
	assert.Equal(t, map[string]uint64{
		encodedAttr(encoder, "status_class", StatusClass2xx): 1,
	}, hist["http/request_latencies"])
}

func TestRecordAfterCloseIsDropped(t *testing.T) {
	ctx := context.Background()
	m, rd := setupOTel(ctx, t)
	m.Close()

	assert.NotPanics(t, func() {
		m.PoolTaskLatency(ctx, time.Millisecond)
		m.HTTPRequestLatency(ctx, time.Millisecond, StatusClass2xx)
		m.Close()
	})
	assert.Empty(t, gatherHistogramCounts(ctx, t, rd))
}

func TestObservePool(t *testing.T) {
	ctx := context.Background()
	m, rd := setupOTel(ctx, t)
	p := &fakePool{active: 2, queued: 7}

	before := gatherNonZeroCounterMetrics(ctx, t, rd)
	m.ObservePool(p)
	after := gatherNonZeroCounterMetrics(ctx, t, rd)

	assert.NotContains(t, before, "pool/active_workers")
	assert.Equal(t, metricValueMap{"": 2}, after["pool/active_workers"])
	assert.Equal(t, metricValueMap{"": 7}, after["pool/queue_length"])
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{code: 200, expected: StatusClass2xx},
		{code: 304, expected: StatusClass3xx},
		{code: 404, expected: StatusClass4xx},
		{code: 429, expected: StatusClass4xx},
		{code: 503, expected: StatusClass5xx},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, StatusClass(tc.code))
	}
}
