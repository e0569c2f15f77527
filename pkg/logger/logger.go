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

// Package logger configures the zap loggers used across the cache.
//
// Components ask for a named sugared logger with For. The global logger is
// configured once, either from LOGGING_LEVEL / LOGGING_FORMAT or explicitly
// through Configure.
package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is a case-insensitive level name.
type LogLevel string

// LogFormat selects the encoder.
type LogFormat string

const (
	DebugLevel LogLevel = "DEBUG"
	InfoLevel  LogLevel = "INFO"
	WarnLevel  LogLevel = "WARN"
	ErrorLevel LogLevel = "ERROR"
	// ProductionLevel is an alias for InfoLevel.
	ProductionLevel LogLevel = "PRODUCTION"

	// FormatConsole is zap's console encoder.
	FormatConsole LogFormat = "CONSOLE"
	// FormatJSON is structured JSON, one object per line.
	FormatJSON LogFormat = "JSON"
	// FormatPretty is the compact human-readable encoder of this package.
	FormatPretty LogFormat = "PRETTY"
)

const (
	envLevel  = "LOGGING_LEVEL"
	envFormat = "LOGGING_FORMAT"
)

var (
	initOnce    sync.Once
	initialized bool
	mu          sync.Mutex
)

// ParseLevel converts a level name to a zapcore.Level. Unknown names map to Info.
func ParseLevel(level LogLevel) zapcore.Level {
	switch LogLevel(strings.ToUpper(string(level))) {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseFormat returns the format named by s, or fallback if s names none.
func ParseFormat(s string, fallback LogFormat) LogFormat {
	switch f := LogFormat(strings.ToUpper(s)); f {
	case FormatConsole, FormatJSON, FormatPretty:
		return f
	default:
		return fallback
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000 MST"))
}

func encoderConfig(format LogFormat) zapcore.EncoderConfig {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if format == FormatJSON {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder

		return cfg
	}

	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncodeTime = timeEncoder
	cfg.ConsoleSeparator = " | "

	return cfg
}

// NewCore builds the zap core for level and format writing to ws.
func NewCore(level LogLevel, format LogFormat, ws zapcore.WriteSyncer) zapcore.Core {
	cfg := encoderConfig(format)

	var encoder zapcore.Encoder

	switch format {
	case FormatPretty:
		encoder = NewPrettyEncoder(cfg)
	case FormatConsole:
		encoder = zapcore.NewConsoleEncoder(cfg)
	default:
		encoder = zapcore.NewJSONEncoder(cfg)
	}

	return zapcore.NewCore(encoder, ws, zap.NewAtomicLevelAt(ParseLevel(level)))
}

// New creates a logger writing to stdout.
func New(level LogLevel, format LogFormat) *zap.Logger {
	return zap.New(NewCore(level, format, zapcore.AddSync(os.Stdout)), zap.AddCaller())
}

// Configure replaces the global logger. Later calls win; Initialize becomes a no-op.
func Configure(level LogLevel, format LogFormat) *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	l := New(level, format)
	zap.ReplaceGlobals(l)
	initialized = true

	return l
}

// Initialize configures the global logger from the environment once.
func Initialize() {
	initOnce.Do(func() {
		mu.Lock()
		done := initialized
		mu.Unlock()

		if done {
			return
		}

		level := LogLevel(envOr(envLevel, string(ProductionLevel)))
		format := ParseFormat(envOr(envFormat, ""), FormatPretty)

		l := Configure(level, format)
		l.Debug("logger initialized", zap.String("level", string(level)), zap.String("format", string(format)))
	})
}

// For returns the named sugared logger of a component.
func For(component string) *zap.SugaredLogger {
	Initialize()

	return zap.S().Named(component)
}

// Sync flushes buffered entries of the global logger.
func Sync() error {
	return zap.L().Sync()
}
