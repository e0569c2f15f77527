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

// Package config holds the runtime configuration of a store.
//
// Values come from, in increasing precedence: Default, a YAML file (Load),
// and NORMCACHE_* environment variables (ApplyEnv).
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/normcache/pkg/constants"
	"github.com/united-manufacturing-hub/normcache/pkg/logger"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// DispatchMode selects where observer callbacks run.
type DispatchMode string

const (
	// DispatchInline runs callbacks on the writing goroutine after the
	// transaction released the barrier.
	DispatchInline DispatchMode = "inline"
	// DispatchQueue runs callbacks on one dedicated goroutine, in commit order.
	DispatchQueue DispatchMode = "queue"
)

// DispatchConfig configures notification delivery.
type DispatchConfig struct {
	Mode      DispatchMode `yaml:"mode"`
	QueueSize int          `yaml:"queueSize"`
}

// LoggingConfig mirrors the logger package settings.
type LoggingConfig struct {
	Level  logger.LogLevel  `yaml:"level"`
	Format logger.LogFormat `yaml:"format"`
}

// Config configures one store.
type Config struct {
	// Name labels metrics, loggers and the debug endpoint.
	Name string `yaml:"name"`
	// MaxReaders is the width of the reader/writer barrier.
	MaxReaders int64 `yaml:"maxReaders"`
	// Shards is the number of node table partitions.
	Shards int `yaml:"shards"`
	// StampRetention remembers the stamp of reclaimed nodes. Zero disables it.
	StampRetention time.Duration  `yaml:"stampRetention"`
	Dispatch       DispatchConfig `yaml:"dispatch"`
	// CopyValues deep-copies values on the way in and out, so callers can
	// never alias stored state.
	CopyValues  bool          `yaml:"copyValues"`
	Logging     LoggingConfig `yaml:"logging"`
	MetricsAddr string        `yaml:"metricsAddr"`
}

// Default returns the configuration used when nothing else is specified.
func Default() Config {
	return Config{
		Name:       constants.DefaultStoreName,
		MaxReaders: constants.AmountReadersForStore,
		Shards:     constants.DefaultNodeTableShards,
		Dispatch: DispatchConfig{
			Mode:      DispatchInline,
			QueueSize: constants.DefaultDispatchQueueSize,
		},
		CopyValues: true,
		Logging: LoggingConfig{
			Level:  logger.ProductionLevel,
			Format: logger.FormatPretty,
		},
	}
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidConfig)
	}

	if c.MaxReaders < 1 {
		return fmt.Errorf("%w: maxReaders must be positive, got %d", ErrInvalidConfig, c.MaxReaders)
	}

	if c.Shards < 1 {
		return fmt.Errorf("%w: shards must be positive, got %d", ErrInvalidConfig, c.Shards)
	}

	if c.StampRetention < 0 {
		return fmt.Errorf("%w: stampRetention must not be negative, got %s", ErrInvalidConfig, c.StampRetention)
	}

	switch c.Dispatch.Mode {
	case DispatchInline:
	case DispatchQueue:
		if c.Dispatch.QueueSize < 1 {
			return fmt.Errorf("%w: dispatch.queueSize must be positive in queue mode, got %d", ErrInvalidConfig, c.Dispatch.QueueSize)
		}
	default:
		return fmt.Errorf("%w: unknown dispatch.mode %q", ErrInvalidConfig, c.Dispatch.Mode)
	}

	return nil
}
