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

// Package sentry reports unexpected conditions of the cache to Sentry.
//
// Expected conditions (stale stamps, lookup misses) are never reported.
// Configuration errors and panicking observer callbacks are.
package sentry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/getsentry/sentry-go"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/normcache/pkg/constants"
)

// Options configures Init.
type Options struct {
	DSN        string
	AppVersion string
	// Debounce suppresses repeated reports with the same title for
	// constants.ErrorReportDebounce.
	Debounce bool
	// Transport replaces the HTTP transport, for tests.
	Transport sentry.Transport
}

var (
	debounceMu sync.Mutex
	debounce   = true
	// lastSent maps an event title to the time it was last reported.
	lastSent = expiremap.NewEx[string, time.Time](time.Minute, constants.ErrorReportDebounce)
)

// EnableTestMode disables debouncing.
func EnableTestMode() {
	debounceMu.Lock()
	defer debounceMu.Unlock()

	debounce = false
}

// DisableTestMode restores debouncing.
func DisableTestMode() {
	debounceMu.Lock()
	defer debounceMu.Unlock()

	debounce = true
}

// Environment derives the Sentry environment from a semantic version:
// releases without a prerelease suffix are production.
func Environment(appVersion string) string {
	v, err := semver.NewVersion(appVersion)
	if err != nil || v.Prerelease() != "" {
		return constants.DefaultDevelopmentEnvironment
	}

	return constants.DefaultProductionEnvironment
}

// Init configures the Sentry client. Without a DSN, or for development builds,
// reporting stays disabled and Init returns nil.
func Init(opts Options) error {
	debounceMu.Lock()
	debounce = opts.Debounce
	debounceMu.Unlock()

	if opts.DSN == "" || opts.AppVersion == "" || opts.AppVersion == constants.DefaultAppVersion {
		zap.S().Debug("error reporting disabled")

		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         opts.DSN,
		Environment: Environment(opts.AppVersion),
		Release:     "normcache@" + opts.AppVersion,
		Transport:   opts.Transport,
	})
	if err != nil {
		return fmt.Errorf("initialize sentry: %w", err)
	}

	return nil
}

// errorTitle shortens an error message to its first clause.
func errorTitle(err error) string {
	message := err.Error()

	if idx := strings.IndexAny(message, ".,:"); idx > 0 {
		message = message[:idx]
	}

	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

// shouldSend reports whether a report with title may be sent now.
func shouldSend(title string) bool {
	debounceMu.Lock()
	defer debounceMu.Unlock()

	if !debounce {
		return true
	}

	if _, seen := lastSent.Load(title); seen {
		return false
	}

	lastSent.Set(title, time.Now())

	return true
}

func newEvent(level sentry.Level, err error, tags map[string]string, extra map[string]any) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()
	event.Exception = []sentry.Exception{{
		Type:       errorTitle(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}
	event.Fingerprint = []string{"{{ default }}", "level: " + string(level)}

	if len(tags) > 0 {
		event.Tags = make(map[string]string, len(tags))
	}

	for k, v := range tags {
		event.Tags[k] = v

		if isFingerprintKey(k) {
			event.Fingerprint = append(event.Fingerprint, k+": "+v)
		}
	}

	if len(extra) > 0 {
		event.Extra = extra
	}

	if level == sentry.LevelError || level == sentry.LevelFatal {
		threads, stack := captureGoroutinesAsThreads()
		event.Threads = threads
		event.Attachments = append(event.Attachments, &sentry.Attachment{
			Filename:    "goroutines.txt",
			ContentType: "text/plain",
			Payload:     stack,
		})
	}

	return event
}

func send(event *sentry.Event) {
	sentry.CurrentHub().Clone().CaptureEvent(event)
}
