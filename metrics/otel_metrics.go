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
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/googlecloudplatform/staticd/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const logInterval = 5 * time.Minute

var (
	httpRequestCountStatusClass2xxAttrSet     = metric.WithAttributeSet(attribute.NewSet(attribute.String("status_class", StatusClass2xx)))
	httpRequestCountStatusClass3xxAttrSet     = metric.WithAttributeSet(attribute.NewSet(attribute.String("status_class", StatusClass3xx)))
	httpRequestCountStatusClass4xxAttrSet     = metric.WithAttributeSet(attribute.NewSet(attribute.String("status_class", StatusClass4xx)))
	httpRequestCountStatusClass5xxAttrSet     = metric.WithAttributeSet(attribute.NewSet(attribute.String("status_class", StatusClass5xx)))
	httpRequestLatenciesStatusClass2xxAttrSet = metric.WithAttributeSet(attribute.NewSet(attribute.String("status_class", StatusClass2xx)))
	httpRequestLatenciesStatusClass3xxAttrSet = metric.WithAttributeSet(attribute.NewSet(attribute.String("status_class", StatusClass3xx)))
	httpRequestLatenciesStatusClass4xxAttrSet = metric.WithAttributeSet(attribute.NewSet(attribute.String("status_class", StatusClass4xx)))
	httpRequestLatenciesStatusClass5xxAttrSet = metric.WithAttributeSet(attribute.NewSet(attribute.String("status_class", StatusClass5xx)))
	poolTaskCountStatusAcceptedAttrSet        = metric.WithAttributeSet(attribute.NewSet(attribute.String("status", TaskStatusAccepted)))
	poolTaskCountStatusRejectedAttrSet        = metric.WithAttributeSet(attribute.NewSet(attribute.String("status", TaskStatusRejected)))
	unrecognizedAttr                          atomic.Value
)

// Microsecond buckets from 50us to 500s.
var latencyBuckets = []float64{50, 100, 200, 400, 800, 1200, 2000, 5000, 10000, 20000, 50000, 100000, 200000, 500000, 1000000, 2000000, 5000000, 10000000, 50000000, 100000000, 300000000, 500000000}

type histogramRecord struct {
	ctx        context.Context
	instrument metric.Int64Histogram
	value      int64
	attributes metric.RecordOption
}

type otelMetrics struct {
	// Guards ch against sends after Close.
	chMu   sync.RWMutex
	closed bool

	ch                                   chan histogramRecord
	wg                                   *sync.WaitGroup
	httpRequestCountStatusClass2xxAtomic *atomic.Int64
	httpRequestCountStatusClass3xxAtomic *atomic.Int64
	httpRequestCountStatusClass4xxAtomic *atomic.Int64
	httpRequestCountStatusClass5xxAtomic *atomic.Int64
	poolTaskCountStatusAcceptedAtomic    *atomic.Int64
	poolTaskCountStatusRejectedAtomic    *atomic.Int64
	poolTaskPanicCountAtomic             *atomic.Int64
	httpRequestLatencies                 metric.Int64Histogram
	poolQueueWait                        metric.Int64Histogram
	poolTaskLatency                      metric.Int64Histogram
	pool                                 *atomic.Value
}

// poolHolder wraps a PoolObserver so that atomic.Value always stores the same
// concrete type.
type poolHolder struct {
	p PoolObserver
}

func (o *otelMetrics) PoolTaskCount(
	inc int64, status string) {
	if inc < 0 {
		logger.Errorf("Counter metric pool/task_count received a negative increment: %d", inc)
		return
	}
	switch status {
	case TaskStatusAccepted:
		o.poolTaskCountStatusAcceptedAtomic.Add(inc)
	case TaskStatusRejected:
		o.poolTaskCountStatusRejectedAtomic.Add(inc)
	default:
		updateUnrecognizedAttribute(status)
	}
}

func (o *otelMetrics) PoolTaskPanicCount(
	inc int64) {
	if inc < 0 {
		logger.Errorf("Counter metric pool/task_panic_count received a negative increment: %d", inc)
		return
	}
	o.poolTaskPanicCountAtomic.Add(inc)
}

func (o *otelMetrics) PoolTaskLatency(
	ctx context.Context, latency time.Duration) {
	o.record(histogramRecord{ctx: ctx, instrument: o.poolTaskLatency, value: latency.Microseconds()})
}

func (o *otelMetrics) PoolQueueWait(
	ctx context.Context, latency time.Duration) {
	o.record(histogramRecord{ctx: ctx, instrument: o.poolQueueWait, value: latency.Microseconds()})
}

func (o *otelMetrics) HTTPRequestCount(
	inc int64, statusClass string) {
	if inc < 0 {
		logger.Errorf("Counter metric http/request_count received a negative increment: %d", inc)
		return
	}
	switch statusClass {
	case StatusClass2xx:
		o.httpRequestCountStatusClass2xxAtomic.Add(inc)
	case StatusClass3xx:
		o.httpRequestCountStatusClass3xxAtomic.Add(inc)
	case StatusClass4xx:
		o.httpRequestCountStatusClass4xxAtomic.Add(inc)
	case StatusClass5xx:
		o.httpRequestCountStatusClass5xxAtomic.Add(inc)
	default:
		updateUnrecognizedAttribute(statusClass)
	}
}

func (o *otelMetrics) HTTPRequestLatency(
	ctx context.Context, latency time.Duration, statusClass string) {
	var record histogramRecord
	switch statusClass {
	case StatusClass2xx:
		record = histogramRecord{ctx: ctx, instrument: o.httpRequestLatencies, value: latency.Microseconds(), attributes: httpRequestLatenciesStatusClass2xxAttrSet}
	case StatusClass3xx:
		record = histogramRecord{ctx: ctx, instrument: o.httpRequestLatencies, value: latency.Microseconds(), attributes: httpRequestLatenciesStatusClass3xxAttrSet}
	case StatusClass4xx:
		record = histogramRecord{ctx: ctx, instrument: o.httpRequestLatencies, value: latency.Microseconds(), attributes: httpRequestLatenciesStatusClass4xxAttrSet}
	case StatusClass5xx:
		record = histogramRecord{ctx: ctx, instrument: o.httpRequestLatencies, value: latency.Microseconds(), attributes: httpRequestLatenciesStatusClass5xxAttrSet}
	default:
		updateUnrecognizedAttribute(statusClass)
		return
	}
	o.record(record)
}

func (o *otelMetrics) ObservePool(p PoolObserver) {
	o.pool.Store(poolHolder{p: p})
}

func (o *otelMetrics) record(r histogramRecord) {
	o.chMu.RLock()
	defer o.chMu.RUnlock()
	if o.closed {
		return
	}
	select {
	case o.ch <- r: // Do nothing
	default: // Unblock writes to channel if it's full.
	}
}

// observedPool returns the registered pool, or nil.
func (o *otelMetrics) observedPool() PoolObserver {
	h, ok := o.pool.Load().(poolHolder)
	if !ok {
		return nil
	}
	return h.p
}

// NewOTelMetrics creates the instruments on the global meter provider.
// Histogram values are recorded asynchronously by workers goroutines reading
// from a channel of bufferSize; records are dropped when it is full.
func NewOTelMetrics(ctx context.Context, workers int, bufferSize int) (*otelMetrics, error) {
	ch := make(chan histogramRecord, bufferSize)
	var wg sync.WaitGroup
	startSampledLogging(ctx)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range ch {
				if record.attributes != nil {
					record.instrument.Record(record.ctx, record.value, record.attributes)
				} else {
					record.instrument.Record(record.ctx, record.value)
				}
			}
		}()
	}
	meter := otel.Meter("staticd")
	var httpRequestCountStatusClass2xxAtomic,
		httpRequestCountStatusClass3xxAtomic,
		httpRequestCountStatusClass4xxAtomic,
		httpRequestCountStatusClass5xxAtomic atomic.Int64

	var poolTaskCountStatusAcceptedAtomic,
		poolTaskCountStatusRejectedAtomic atomic.Int64

	var poolTaskPanicCountAtomic atomic.Int64

	var pool atomic.Value
	o := &otelMetrics{
		ch:                                   ch,
		wg:                                   &wg,
		httpRequestCountStatusClass2xxAtomic: &httpRequestCountStatusClass2xxAtomic,
		httpRequestCountStatusClass3xxAtomic: &httpRequestCountStatusClass3xxAtomic,
		httpRequestCountStatusClass4xxAtomic: &httpRequestCountStatusClass4xxAtomic,
		httpRequestCountStatusClass5xxAtomic: &httpRequestCountStatusClass5xxAtomic,
		poolTaskCountStatusAcceptedAtomic:    &poolTaskCountStatusAcceptedAtomic,
		poolTaskCountStatusRejectedAtomic:    &poolTaskCountStatusRejectedAtomic,
		poolTaskPanicCountAtomic:             &poolTaskPanicCountAtomic,
		pool:                                 &pool,
	}

	_, err0 := meter.Int64ObservableCounter("http/request_count",
		metric.WithDescription("The cumulative number of HTTP requests answered by the server."),
		metric.WithUnit(""),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			conditionallyObserve(obsrv, &httpRequestCountStatusClass2xxAtomic, httpRequestCountStatusClass2xxAttrSet)
			conditionallyObserve(obsrv, &httpRequestCountStatusClass3xxAtomic, httpRequestCountStatusClass3xxAttrSet)
			conditionallyObserve(obsrv, &httpRequestCountStatusClass4xxAtomic, httpRequestCountStatusClass4xxAttrSet)
			conditionallyObserve(obsrv, &httpRequestCountStatusClass5xxAtomic, httpRequestCountStatusClass5xxAttrSet)
			return nil
		}))

	httpRequestLatencies, err1 := meter.Int64Histogram("http/request_latencies",
		metric.WithDescription("The cumulative distribution of HTTP request latencies."),
		metric.WithUnit("us"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))

	_, err2 := meter.Int64ObservableCounter("pool/task_count",
		metric.WithDescription("The cumulative number of tasks submitted to the worker pool."),
		metric.WithUnit(""),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			conditionallyObserve(obsrv, &poolTaskCountStatusAcceptedAtomic, poolTaskCountStatusAcceptedAttrSet)
			conditionallyObserve(obsrv, &poolTaskCountStatusRejectedAtomic, poolTaskCountStatusRejectedAttrSet)
			return nil
		}))

	_, err3 := meter.Int64ObservableCounter("pool/task_panic_count",
		metric.WithDescription("The cumulative number of tasks that panicked while executing."),
		metric.WithUnit(""),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			conditionallyObserve(obsrv, &poolTaskPanicCountAtomic)
			return nil
		}))

	poolTaskLatency, err4 := meter.Int64Histogram("pool/task_latencies",
		metric.WithDescription("The cumulative distribution of task execution times."),
		metric.WithUnit("us"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))

	poolQueueWait, err5 := meter.Int64Histogram("pool/queue_wait",
		metric.WithDescription("The cumulative distribution of the time tasks spent queued."),
		metric.WithUnit("us"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))

	_, err6 := meter.Int64ObservableGauge("pool/active_workers",
		metric.WithDescription("The number of workers currently executing a task."),
		metric.WithUnit(""),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			if p := o.observedPool(); p != nil {
				obsrv.Observe(int64(p.ActiveWorkers()))
			}
			return nil
		}))

	_, err7 := meter.Int64ObservableGauge("pool/queue_length",
		metric.WithDescription("The number of tasks waiting for a worker."),
		metric.WithUnit(""),
		metric.WithInt64Callback(func(_ context.Context, obsrv metric.Int64Observer) error {
			if p := o.observedPool(); p != nil {
				obsrv.Observe(int64(p.QueueLen()))
			}
			return nil
		}))

	errs := []error{err0, err1, err2, err3, err4, err5, err6, err7}
	if err := errors.Join(errs...); err != nil {
		o.Close()
		return nil, err
	}

	o.httpRequestLatencies = httpRequestLatencies
	o.poolQueueWait = poolQueueWait
	o.poolTaskLatency = poolTaskLatency
	return o, nil
}

// Close stops the histogram workers after they drain the channel. Later
// histogram records are dropped.
func (o *otelMetrics) Close() {
	o.chMu.Lock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
	o.chMu.Unlock()
	o.wg.Wait()
}

func conditionallyObserve(obsrv metric.Int64Observer, counter *atomic.Int64, obsrvOptions ...metric.ObserveOption) {
	if val := counter.Load(); val > 0 {
		obsrv.Observe(val, obsrvOptions...)
	}
}

func updateUnrecognizedAttribute(newValue string) {
	unrecognizedAttr.CompareAndSwap("", newValue)
}

func startSampledLogging(ctx context.Context) {
	// Init the atomic.Value
	unrecognizedAttr.Store("")

	go func() {
		ticker := time.NewTicker(logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logUnrecognizedAttribute()
			}
		}
	}()
}

// logUnrecognizedAttribute retrieves and logs any unrecognized attributes.
func logUnrecognizedAttribute() {
	// Atomically load and reset the attribute name, then generate a log
	// if an unrecognized attribute was encountered.
	if currentAttr := unrecognizedAttr.Swap("").(string); currentAttr != "" {
		logger.Tracef("Attribute %s is not declared", currentAttr)
	}
}
