// Copyright 2024 Google Inc. All Rights Reserved.
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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"

	"github.com/googlecloudplatform/staticd/cfg"
	"github.com/googlecloudplatform/staticd/common"
	"github.com/googlecloudplatform/staticd/internal/locker"
	"github.com/googlecloudplatform/staticd/internal/logger"
	"github.com/googlecloudplatform/staticd/internal/monitor"
	"github.com/googlecloudplatform/staticd/internal/ratelimit"
	"github.com/googlecloudplatform/staticd/internal/server"
	"github.com/googlecloudplatform/staticd/internal/workerpool"
	"github.com/googlecloudplatform/staticd/metrics"
	"github.com/googlecloudplatform/staticd/tracing"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const (
	// Workers and buffer of the asynchronous histogram recorder.
	metricsWorkers    = 3
	metricsBufferSize = 256
)

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

// registerTerminatingSignalHandler returns a context that is cancelled on
// the first SIGINT or SIGTERM.
func registerTerminatingSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, unix.SIGTERM)

	go func() {
		defer signal.Stop(signalChan)
		select {
		case sig := <-signalChan:
			sigName := "undefined"
			switch sig {
			case unix.SIGTERM:
				sigName = "SIGTERM"
			case os.Interrupt:
				sigName = "SIGINT"
			}
			logger.Infof("Received %s, stopping server...", sigName)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func listen(c *cfg.ServerConfig) (net.Listener, error) {
	addr := net.JoinHostPort(c.Address, strconv.FormatInt(c.Port, 10))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	if c.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, int(c.MaxConnections))
	}
	return ln, nil
}

func newHandlerOptions(c *cfg.Config, metricHandle metrics.MetricHandle, traceHandle tracing.TraceHandle) ([]server.HandlerOption, error) {
	opts := []server.HandlerOption{
		server.WithMetrics(metricHandle),
		server.WithTracing(traceHandle),
	}
	if c.Server.MaxRequestsPerSec > 0 {
		l, err := ratelimit.NewRequestLimiter(c.Server.MaxRequestsPerSec, timeutil.RealClock())
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		logger.Infof("Limiting requests to %g per second with bursts of up to %d", c.Server.MaxRequestsPerSec, l.Capacity())
		opts = append(opts, server.WithRateLimiter(l))
	}
	return opts, nil
}

////////////////////////////////////////////////////////////////////////
// Serve
////////////////////////////////////////////////////////////////////////

// Serve runs the server described by c until SIGINT or SIGTERM.
func Serve(c *cfg.Config) (err error) {
	logger.SetLogFormat(c.Logging.Format)
	if err = logger.InitLogFile(c.Logging); err != nil {
		return fmt.Errorf("init log file: %w", err)
	}

	logger.Infof("Start staticd/%s", common.GetVersion())
	logger.Infof("staticd config:\n%s", c)

	if c.Debug.ExitOnInvariantViolation {
		syncutil.EnableInvariantChecking()
		locker.EnableInvariantsCheck()
	}
	if c.Debug.LogMutex {
		locker.EnableDebugMessages()
		if mutexDebugHidden(&c.Logging) {
			logger.Warnf("Mutex debug messages are logged at TRACE and are hidden at severity %s", c.Logging.Severity)
		}
	}

	ctx, cancel := registerTerminatingSignalHandler(context.Background())
	defer cancel()

	ln, err := listen(&c.Server)
	if err != nil {
		return err
	}
	logger.Infof("Starting server on %s:%d", c.Server.Address, c.Server.Port)

	return serve(ctx, c, ln)
}

// mutexDebugHidden reports whether lock debug messages, which are emitted at
// TRACE, fall below the configured severity.
func mutexDebugHidden(c *cfg.LoggingConfig) bool {
	return c.Severity.Rank() > cfg.TraceLogSeverity.Rank()
}

// serve answers requests on ln until ctx is cancelled. It then stops the
// HTTP server first, the worker pool next and flushes the exporters last.
func serve(ctx context.Context, c *cfg.Config, ln net.Listener) (err error) {
	metricExporterShutdownFn := monitor.SetupOTelMetricExporters(ctx, c)
	shutdownTracingFn := monitor.SetupTracing(ctx, c)
	shutdownFn := common.JoinShutdownFunc(metricExporterShutdownFn, shutdownTracingFn)

	var metricHandle metrics.MetricHandle = metrics.NewNoopMetrics()
	otelMetrics, err := metrics.NewOTelMetrics(ctx, metricsWorkers, metricsBufferSize)
	if err != nil {
		logger.Warnf("Falling back to no-op metrics: %v", err)
	} else {
		metricHandle = otelMetrics
	}
	defer func() {
		if otelMetrics != nil {
			otelMetrics.Close()
		}
		if shutdownErr := common.ShutdownWithTimeout(context.Background(), shutdownFn, c.Server.ShutdownTimeout); shutdownErr != nil {
			logger.Errorf("Error while shutting down exporters: %v", shutdownErr)
		}
	}()

	traceHandle := tracing.NewNoopTracer()
	if shutdownTracingFn != nil {
		traceHandle = tracing.NewOTelTracer()
	}

	pool, err := workerpool.New(int(c.WorkerPool.Workers), c.WorkerPool.GracefulShutdown, workerpool.WithMetrics(metricHandle))
	if err != nil {
		ln.Close()
		return fmt.Errorf("worker pool: %w", err)
	}
	defer pool.Close()
	if err = pool.Start(); err != nil {
		ln.Close()
		return fmt.Errorf("worker pool: %w", err)
	}
	metricHandle.ObservePool(pool)

	opts, err := newHandlerOptions(c, metricHandle, traceHandle)
	if err != nil {
		ln.Close()
		return err
	}
	handler := server.NewHandler(pool, server.NewFileServer(string(c.Www.Root), string(c.Www.Errors)), opts...)

	httpServer := &http.Server{
		Handler:      handler,
		ReadTimeout:  c.Server.ReadTimeout,
		WriteTimeout: c.Server.WriteTimeout,
		IdleTimeout:  c.Server.IdleTimeout,
		ErrorLog:     logger.NewLegacyLogger(logger.LevelWarn, "http: "),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := common.ShutdownWithTimeout(context.Background(), httpServer.Shutdown, c.Server.ShutdownTimeout); err != nil {
			logger.Warnf("Server did not stop within %v, closing connections: %v", c.Server.ShutdownTimeout, err)
			httpServer.Close()
		}
		logger.Infof("Stopping worker pool (graceful: %t, queued tasks: %d)", pool.Graceful(), pool.QueueLen())
		pool.Shutdown()
		return nil
	})
	if err = g.Wait(); err != nil {
		return err
	}
	logger.Infof("Server stopped")
	return nil
}
