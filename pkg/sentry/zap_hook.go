// Copyright 2025 UMH Systems GmbH
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

package sentry

import (
	"fmt"
	"slices"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap/zapcore"
)

// FingerprintKeys are the field keys that group issues in Sentry.
var FingerprintKeys = []string{"operation", "type", "field", "store"}

func isFingerprintKey(key string) bool {
	return slices.Contains(FingerprintKeys, key)
}

// SentryHook wraps a zapcore.Core and forwards Warn and above to Sentry
// asynchronously. Every entry is still written to the wrapped core.
type SentryHook struct {
	zapcore.Core
}

// NewSentryHook wraps core.
func NewSentryHook(core zapcore.Core) *SentryHook {
	return &SentryHook{Core: core}
}

// With implements zapcore.Core.
func (h *SentryHook) With(fields []zapcore.Field) zapcore.Core {
	return &SentryHook{Core: h.Core.With(fields)}
}

// Check implements zapcore.Core.
func (h *SentryHook) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if h.Enabled(entry.Level) {
		return ce.AddCore(entry, h)
	}

	return ce
}

// Write implements zapcore.Core.
func (h *SentryHook) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if entry.Level >= zapcore.WarnLevel {
		go capture(entry, fields)
	}

	return h.Core.Write(entry, fields)
}

func capture(entry zapcore.Entry, fields []zapcore.Field) {
	tags := fieldTags(fields)
	level := levelOf(entry.Level)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)

		fingerprint := []string{"{{ default }}", "level: " + string(level)}
		for _, key := range FingerprintKeys {
			if v, ok := tags[key]; ok {
				fingerprint = append(fingerprint, key+": "+v)
			}
		}

		scope.SetFingerprint(fingerprint)
		scope.SetTags(tags)

		if entry.LoggerName != "" {
			scope.SetTag("component", entry.LoggerName)
		}

		sentry.CaptureMessage(entry.Message)
	})
}

// fieldTags renders fields through a map encoder so every zap field type is
// handled the way zap itself would encode it.
func fieldTags(fields []zapcore.Field) map[string]string {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}

	tags := make(map[string]string, len(enc.Fields))
	for k, v := range enc.Fields {
		tags[k] = fmt.Sprintf("%v", v)
	}

	return tags
}

func levelOf(level zapcore.Level) sentry.Level {
	switch level {
	case zapcore.DebugLevel:
		return sentry.LevelDebug
	case zapcore.InfoLevel:
		return sentry.LevelInfo
	case zapcore.WarnLevel:
		return sentry.LevelWarning
	case zapcore.ErrorLevel:
		return sentry.LevelError
	default:
		return sentry.LevelFatal
	}
}
