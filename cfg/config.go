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

package cfg

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Debug DebugConfig `yaml:"debug"`

	Logging LoggingConfig `yaml:"logging"`

	Metrics MetricsConfig `yaml:"metrics"`

	Monitoring MonitoringConfig `yaml:"monitoring"`

	Server ServerConfig `yaml:"server"`

	WorkerPool WorkerPoolConfig `yaml:"worker-pool"`

	Www WwwConfig `yaml:"www"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

type LogRotateLoggingConfig struct {
	BackupFileCount int64 `yaml:"backup-file-count"`

	Compress bool `yaml:"compress"`

	MaxFileSizeMb int64 `yaml:"max-file-size-mb"`
}

type LoggingConfig struct {
	FilePath ResolvedPath `yaml:"file-path"`

	Format string `yaml:"format"`

	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`

	Severity LogSeverity `yaml:"severity"`
}

type MetricsConfig struct {
	PrometheusPort int64 `yaml:"prometheus-port"`
}

type MonitoringConfig struct {
	TracingMode string `yaml:"tracing-mode"`
}

type ServerConfig struct {
	Address string `yaml:"address"`

	IdleTimeout time.Duration `yaml:"idle-timeout"`

	MaxConnections int64 `yaml:"max-connections"`

	MaxRequestsPerSec float64 `yaml:"max-requests-per-sec"`

	Port int64 `yaml:"port"`

	ReadTimeout time.Duration `yaml:"read-timeout"`

	ShutdownTimeout time.Duration `yaml:"shutdown-timeout"`

	WriteTimeout time.Duration `yaml:"write-timeout"`
}

type WorkerPoolConfig struct {
	GracefulShutdown bool `yaml:"graceful-shutdown"`

	Workers int64 `yaml:"workers"`
}

type WwwConfig struct {
	Errors ResolvedPath `yaml:"errors"`

	Root ResolvedPath `yaml:"root"`
}

// BindFlags registers every flag on flagSet and binds it to its config key in
// v. Flag defaults act as the lowest-priority configuration source.
func BindFlags(v *viper.Viper, flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("address", "a", "127.0.0.1", "The address to bind to.")

	err = v.BindPFlag(ServerAddressConfigKey, flagSet.Lookup("address"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Exit when internal invariants are violated.")

	err = v.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Print debug messages when a mutex is held too long.")

	err = v.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex"))
	if err != nil {
		return err
	}

	flagSet.StringP("document-root", "d", "htdocs", "Document root.")

	err = v.BindPFlag(WwwRootConfigKey, flagSet.Lookup("document-root"))
	if err != nil {
		return err
	}

	flagSet.StringP("errors-dir", "e", "errors", "Error template directory. A missing file is answered with <errors-dir>/404.html.")

	err = v.BindPFlag(WwwErrorsConfigKey, flagSet.Lookup("errors-dir"))
	if err != nil {
		return err
	}

	flagSet.BoolP("graceful-shutdown", "", false, "Drain queued requests before the worker pool stops. When false, queued requests are dropped on shutdown.")

	err = v.BindPFlag("worker-pool.graceful-shutdown", flagSet.Lookup("graceful-shutdown"))
	if err != nil {
		return err
	}

	flagSet.DurationP("idle-timeout", "", 90*time.Second, "Maximum time to wait for the next request on a keep-alive connection.")

	err = v.BindPFlag("server.idle-timeout", flagSet.Lookup("idle-timeout"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "The file for storing logs that can be parsed by fluentd. When not provided, logs are printed to stdout.")

	err = v.BindPFlag("logging.file-path", flagSet.Lookup("log-file"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "The format of the log file: 'text' or 'json'.")

	err = v.BindPFlag("logging.format", flagSet.Lookup("log-format"))
	if err != nil {
		return err
	}

	flagSet.IntP("log-rotate-backup-file-count", "", 10, "The maximum number of backup log files to retain after they have been rotated. 0 retains all of them.")

	err = flagSet.MarkHidden("log-rotate-backup-file-count")
	if err != nil {
		return err
	}

	err = v.BindPFlag("logging.log-rotate.backup-file-count", flagSet.Lookup("log-rotate-backup-file-count"))
	if err != nil {
		return err
	}

	flagSet.BoolP("log-rotate-compress", "", true, "Controls whether the rotated log files should be compressed using gzip.")

	err = flagSet.MarkHidden("log-rotate-compress")
	if err != nil {
		return err
	}

	err = v.BindPFlag("logging.log-rotate.compress", flagSet.Lookup("log-rotate-compress"))
	if err != nil {
		return err
	}

	flagSet.IntP("log-rotate-max-file-size-mb", "", 512, "The maximum size in megabytes that a log file can reach before it is rotated.")

	err = flagSet.MarkHidden("log-rotate-max-file-size-mb")
	if err != nil {
		return err
	}

	err = v.BindPFlag("logging.log-rotate.max-file-size-mb", flagSet.Lookup("log-rotate-max-file-size-mb"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "info", "Specifies the logging severity expressed as one of [trace, debug, info, warning, error, off]")

	err = v.BindPFlag("logging.severity", flagSet.Lookup("log-severity"))
	if err != nil {
		return err
	}

	flagSet.IntP("max-connections", "", 0, "Maximum number of simultaneously accepted connections. 0 means no limit.")

	err = v.BindPFlag("server.max-connections", flagSet.Lookup("max-connections"))
	if err != nil {
		return err
	}

	flagSet.Float64P("max-requests-per-sec", "", 0, "Maximum number of requests per second served before answering 429. 0 means no limit.")

	err = v.BindPFlag("server.max-requests-per-sec", flagSet.Lookup("max-requests-per-sec"))
	if err != nil {
		return err
	}

	flagSet.IntP("port", "p", 5555, "The port to listen on.")

	err = v.BindPFlag(ServerPortConfigKey, flagSet.Lookup("port"))
	if err != nil {
		return err
	}

	flagSet.IntP("prometheus-port", "", 0, "Expose Prometheus metrics endpoint on this port and a path of /metrics. 0 disables it.")

	err = v.BindPFlag("metrics.prometheus-port", flagSet.Lookup("prometheus-port"))
	if err != nil {
		return err
	}

	flagSet.DurationP("read-timeout", "", 10*time.Second, "Maximum duration for reading an entire request.")

	err = v.BindPFlag("server.read-timeout", flagSet.Lookup("read-timeout"))
	if err != nil {
		return err
	}

	flagSet.DurationP("shutdown-timeout", "", 30*time.Second, "Maximum time to wait for in-flight requests when the server is stopped.")

	err = v.BindPFlag("server.shutdown-timeout", flagSet.Lookup("shutdown-timeout"))
	if err != nil {
		return err
	}

	flagSet.StringP("tracing-mode", "", "", "Tracing exporter to use. Only 'stdout' is supported; empty disables tracing.")

	err = v.BindPFlag("monitoring.tracing-mode", flagSet.Lookup("tracing-mode"))
	if err != nil {
		return err
	}

	flagSet.IntP("workers", "w", 5, "Number of workers serving requests.")

	err = v.BindPFlag(WorkerPoolWorkersConfigKey, flagSet.Lookup("workers"))
	if err != nil {
		return err
	}

	flagSet.DurationP("write-timeout", "", 10*time.Second, "Maximum duration before timing out writes of the response.")

	err = v.BindPFlag("server.write-timeout", flagSet.Lookup("write-timeout"))
	if err != nil {
		return err
	}

	return nil
}
