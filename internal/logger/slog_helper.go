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
	"log/slog"

	"github.com/googlecloudplatform/staticd/cfg"
)

// Severity levels in addition to the ones slog provides.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(12)
)

const (
	severityKey  = "severity"
	messageKey   = "message"
	timestampKey = "timestamp"
	// Fixed width so that text logs line up.
	textTimeFormat = "2006/01/02 15:04:05.000000"
)

var severityNames = map[slog.Level]string{
	LevelTrace: string(cfg.TraceLogSeverity),
	LevelDebug: string(cfg.DebugLogSeverity),
	LevelInfo:  string(cfg.InfoLogSeverity),
	LevelWarn:  string(cfg.WarningLogSeverity),
	LevelError: string(cfg.ErrorLogSeverity),
	LevelOff:   string(cfg.OffLogSeverity),
}

func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	switch cfg.LogSeverity(level) {
	// logs having severity >= the configured value will be logged.
	case cfg.TraceLogSeverity:
		programLevel.Set(LevelTrace)
	case cfg.DebugLogSeverity:
		programLevel.Set(LevelDebug)
	case cfg.InfoLogSeverity:
		programLevel.Set(LevelInfo)
	case cfg.WarningLogSeverity:
		programLevel.Set(LevelWarn)
	case cfg.ErrorLogSeverity:
		programLevel.Set(LevelError)
	case cfg.OffLogSeverity:
		// Nothing is logged above ERROR.
		programLevel.Set(LevelOff)
	}
}

func getHandlerOptions(levelVar *slog.LevelVar, prefix string, format string) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: levelVar,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.LevelKey:
				a.Key = severityKey
				level := a.Value.Any().(slog.Level)
				if name, ok := severityNames[level]; ok {
					a.Value = slog.StringValue(name)
				}
			case slog.TimeKey:
				currTime := a.Value.Time()
				if format == cfg.TextLogFormat {
					a.Value = slog.StringValue(currTime.Format(textTimeFormat))
					return a
				}
				a.Key = timestampKey
				a.Value = slog.GroupValue(
					slog.Int64("seconds", currTime.Unix()),
					slog.Int64("nanos", int64(currTime.Nanosecond())),
				)
			case slog.MessageKey:
				a.Key = messageKey
				a.Value = slog.StringValue(prefix + a.Value.String())
			}
			return a
		},
	}
}
