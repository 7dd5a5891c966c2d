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
	"strings"

	"github.com/googlecloudplatform/staticd/internal/util"
)

// isSet interface is abstraction over the IsSet() method of viper, specially
// added to keep rationalize method simple.
type isSet interface {
	IsSet(string) bool
}

func resolveWwwPaths(c *WwwConfig) {
	c.Root = ResolvedPath(util.TrimTrailingSlashes(string(c.Root)))
	c.Errors = ResolvedPath(util.TrimTrailingSlashes(string(c.Errors)))
}

// resolveLoggingConfig lowers the severity to TRACE when mutex debugging is on,
// unless the user asked for a severity explicitly.
func resolveLoggingConfig(v isSet, c *Config) {
	if c.Debug.LogMutex && !v.IsSet(LogSeverityConfigKey) {
		c.Logging.Severity = TraceLogSeverity
	}
	c.Logging.Format = strings.ToLower(c.Logging.Format)
}

// Rationalize updates the config fields based on the values of other fields.
func Rationalize(v isSet, c *Config) error {
	resolveWwwPaths(&c.Www)
	resolveLoggingConfig(v, c)
	c.Server.Address = strings.TrimSpace(c.Server.Address)
	return nil
}

// String renders the effective configuration as YAML.
func (c *Config) String() string {
	s, err := util.YAMLStringify(c)
	if err != nil {
		return ""
	}
	return s
}
