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
	"fmt"
	"slices"
)

const (
	PortOutOfRangeError        = "the value of port should be between 1 and 65535"
	WorkersInvalidValueError   = "the value of workers should be atleast 1"
	MaxConnectionsInvalidError = "the value of max-connections can't be negative"
	MaxRequestsInvalidError    = "the value of max-requests-per-sec can't be negative"
	ShutdownTimeoutInvalidErr  = "the value of shutdown-timeout can't be negative"
)

// requiredSetting returns an error naming key when value is empty.
func requiredSetting(key, value string) error {
	if value == "" {
		return fmt.Errorf("did not find required value for %s", key)
	}
	return nil
}

func isValidRequiredSettings(c *Config) error {
	if err := requiredSetting(ServerAddressConfigKey, c.Server.Address); err != nil {
		return err
	}
	if c.Server.Port == 0 {
		return fmt.Errorf("did not find required value for %s", ServerPortConfigKey)
	}
	if err := requiredSetting(WwwRootConfigKey, string(c.Www.Root)); err != nil {
		return err
	}
	return requiredSetting(WwwErrorsConfigKey, string(c.Www.Errors))
}

func isValidServerConfig(c *ServerConfig) error {
	if c.Port < 1 || c.Port > MaxPort {
		return fmt.Errorf(PortOutOfRangeError)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf(MaxConnectionsInvalidError)
	}
	if c.MaxRequestsPerSec < 0 {
		return fmt.Errorf(MaxRequestsInvalidError)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf(ShutdownTimeoutInvalidErr)
	}
	return nil
}

func isValidWorkerPoolConfig(c *WorkerPoolConfig) error {
	if c.Workers < 1 {
		return fmt.Errorf(WorkersInvalidValueError)
	}
	return nil
}

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidLogFormat(format string) error {
	if !slices.Contains([]string{TextLogFormat, JSONLogFormat}, format) {
		return fmt.Errorf("invalid log format: %q. Must be one of [text, json]", format)
	}
	return nil
}

func isValidTracingMode(mode string) error {
	if mode != "" && mode != StdoutTracingMode {
		return fmt.Errorf("unsupported tracing mode: %q", mode)
	}
	return nil
}

func isValidPrometheusPort(port int64) error {
	if port < 0 || port > MaxPort {
		return fmt.Errorf("the value of prometheus-port should be between 0 and 65535")
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	var err error

	if err = isValidRequiredSettings(config); err != nil {
		return err
	}

	if err = isValidServerConfig(&config.Server); err != nil {
		return fmt.Errorf("error parsing server config: %w", err)
	}

	if err = isValidWorkerPoolConfig(&config.WorkerPool); err != nil {
		return fmt.Errorf("error parsing worker-pool config: %w", err)
	}

	if err = isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}

	if err = isValidLogFormat(config.Logging.Format); err != nil {
		return fmt.Errorf("error parsing logging config: %w", err)
	}

	if err = isValidTracingMode(config.Monitoring.TracingMode); err != nil {
		return fmt.Errorf("error parsing monitoring config: %w", err)
	}

	if err = isValidPrometheusPort(config.Metrics.PrometheusPort); err != nil {
		return fmt.Errorf("error parsing metrics config: %w", err)
	}

	return nil
}
