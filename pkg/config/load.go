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

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/normcache/pkg/env"
	"github.com/united-manufacturing-hub/normcache/pkg/logger"
)

// Environment variables read by ApplyEnv.
const (
	EnvName           = "NORMCACHE_NAME"
	EnvMaxReaders     = "NORMCACHE_MAX_READERS"
	EnvShards         = "NORMCACHE_SHARDS"
	EnvStampRetention = "NORMCACHE_STAMP_RETENTION"
	EnvDispatchMode   = "NORMCACHE_DISPATCH_MODE"
	EnvQueueSize      = "NORMCACHE_DISPATCH_QUEUE_SIZE"
	EnvCopyValues     = "NORMCACHE_COPY_VALUES"
	EnvMetricsAddr    = "NORMCACHE_METRICS_ADDR"
	EnvLogLevel       = "LOGGING_LEVEL"
	EnvLogFormat      = "LOGGING_FORMAT"
)

// Parse decodes YAML on top of Default. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Load reads and parses the YAML file at path. A missing file yields Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// ApplyEnv overrides cfg with every NORMCACHE_* variable that is set.
// Unparsable values are logged and ignored.
func ApplyEnv(cfg Config, log *zap.SugaredLogger) Config {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	warn := func(key string, err error) {
		log.Warnw("ignoring environment override", "variable", key, "error", err)
	}

	var err error

	if cfg.Name, err = env.GetAsString(EnvName, false, cfg.Name); err != nil {
		warn(EnvName, err)
	}

	readers, err := env.GetAsInt(EnvMaxReaders, false, int(cfg.MaxReaders))
	if err != nil {
		warn(EnvMaxReaders, err)
	}

	cfg.MaxReaders = int64(readers)

	if cfg.Shards, err = env.GetAsInt(EnvShards, false, cfg.Shards); err != nil {
		warn(EnvShards, err)
	}

	if cfg.StampRetention, err = env.GetAsDuration(EnvStampRetention, false, cfg.StampRetention); err != nil {
		warn(EnvStampRetention, err)
	}

	mode, err := env.GetAsString(EnvDispatchMode, false, string(cfg.Dispatch.Mode))
	if err != nil {
		warn(EnvDispatchMode, err)
	}

	cfg.Dispatch.Mode = DispatchMode(mode)

	if cfg.Dispatch.QueueSize, err = env.GetAsInt(EnvQueueSize, false, cfg.Dispatch.QueueSize); err != nil {
		warn(EnvQueueSize, err)
	}

	if cfg.CopyValues, err = env.GetAsBool(EnvCopyValues, false, cfg.CopyValues); err != nil {
		warn(EnvCopyValues, err)
	}

	if cfg.MetricsAddr, err = env.GetAsString(EnvMetricsAddr, false, cfg.MetricsAddr); err != nil {
		warn(EnvMetricsAddr, err)
	}

	level, _ := env.GetAsString(EnvLogLevel, false, string(cfg.Logging.Level))
	cfg.Logging.Level = logger.LogLevel(level)

	format, _ := env.GetAsString(EnvLogFormat, false, string(cfg.Logging.Format))
	cfg.Logging.Format = logger.ParseFormat(format, cfg.Logging.Format)

	return cfg
}
