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

package logger

import (
	"log"
	"log/slog"
)

// NewLegacyLogger creates a *log.Logger that writes through the default
// handler at the given level. It exists for APIs such as http.Server.ErrorLog
// that only accept a standard library logger. Prefer Infof(), Warnf(),
// Errorf(), etc. everywhere else.
func NewLegacyLogger(level slog.Level, prefix string) *log.Logger {
	handler := defaultLoggerFactory.handler(programLevel, prefix)
	return slog.NewLogLogger(handler, level)
}
