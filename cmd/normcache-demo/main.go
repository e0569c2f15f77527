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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/united-manufacturing-hub/normcache/internal/demo"
	"github.com/united-manufacturing-hub/normcache/internal/modeltest"
	"github.com/united-manufacturing-hub/normcache/pkg/config"
	"github.com/united-manufacturing-hub/normcache/pkg/constants"
	"github.com/united-manufacturing-hub/normcache/pkg/env"
	"github.com/united-manufacturing-hub/normcache/pkg/logger"
	"github.com/united-manufacturing-hub/normcache/pkg/metrics"
	"github.com/united-manufacturing-hub/normcache/pkg/sentry"
	"github.com/united-manufacturing-hub/normcache/pkg/store"
)

// appVersion is set via -ldflags at build time.
var appVersion = constants.DefaultAppVersion

type flags struct {
	configPath  string
	producers   int
	writes      int
	interval    time.Duration
	duration    time.Duration
	metricsAddr string
	serve       bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:          "normcache-demo",
		Short:        "Drive a normalized entity cache with fake producers",
		Version:      appVersion,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", "", "YAML configuration file")
	cmd.Flags().IntVar(&f.producers, "producers", 4, "number of concurrent producers")
	cmd.Flags().IntVar(&f.writes, "writes", 1000, "writes per producer, 0 for unlimited")
	cmd.Flags().DurationVar(&f.interval, "interval", 0, "pause between two writes of a producer")
	cmd.Flags().DurationVar(&f.duration, "duration", 0, "stop producing after this long, 0 for no limit")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "address of the metrics and inspection server")
	cmd.Flags().BoolVar(&f.serve, "serve", false, "keep serving after the producers finished, until interrupted")

	return cmd
}

func run(ctx context.Context, f *flags) error {
	cfg := config.Default()

	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return err
		}

		cfg = loaded
	}

	cfg = config.ApplyEnv(cfg, nil)
	if f.metricsAddr != "" {
		cfg.MetricsAddr = f.metricsAddr
	}

	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = constants.DefaultMetricsAddr
	}

	logger.Configure(cfg.Logging.Level, cfg.Logging.Format)
	defer func() { _ = logger.Sync() }()

	log := logger.For(logger.ComponentDemo)

	dsn, err := env.GetAsString("SENTRY_DSN", false, "")
	if err != nil {
		return err
	}

	if err := sentry.Init(sentry.Options{DSN: dsn, AppVersion: appVersion, Debounce: true}); err != nil {
		log.Warnw("error reporting unavailable", "error", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The store outlives the signal context; Close below stops its dispatcher.
	s, err := store.New(context.WithoutCancel(ctx), cfg, modeltest.NewRegistry(),
		store.WithDiagnostics(store.NewZapDiagnostics(logger.For(logger.ComponentStore))))
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), constants.DispatcherShutdownTimeout)
		defer cancel()

		if err := s.Close(closeCtx); err != nil {
			log.Warnw("failed to close store", "error", err)
		}
	}()

	server := metrics.SetupMetricsEndpoint(cfg.MetricsAddr, demo.NewRouter(s, log))

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.MetricsReadTimeout)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}()

	log.Infow("starting producers", "store", cfg.Name, "producers", f.producers, "writes", f.writes, "addr", cfg.MetricsAddr)

	runCtx := ctx
	if f.duration > 0 {
		var cancel context.CancelFunc

		runCtx, cancel = context.WithTimeout(ctx, f.duration)
		defer cancel()
	}

	stats, err := demo.Run(runCtx, s, demo.Options{Producers: f.producers, Writes: f.writes, Interval: f.interval}, log)
	if err != nil && runCtx.Err() == nil {
		return err
	}

	log.Infow("producers finished", "writes", stats.Writes, "rejected", stats.Rejected, "notifications", stats.Notifications)

	if f.serve {
		log.Infow("serving until interrupted", "addr", cfg.MetricsAddr)
		<-ctx.Done()
	}

	return nil
}
