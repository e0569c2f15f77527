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

package metrics

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/united-manufacturing-hub/normcache/pkg/constants"
	"github.com/united-manufacturing-hub/normcache/pkg/logger"
	"github.com/united-manufacturing-hub/normcache/pkg/sentry"
)

// DebugProvider returns a JSON-serializable view of a store.
type DebugProvider interface {
	DebugInfo() any
}

type debugEntry struct {
	provider DebugProvider
}

var debugRegistry struct {
	mu        sync.RWMutex
	providers map[string]*debugEntry
}

// RegisterDebugProvider exposes provider under name on /debug/normcache and
// returns the function that removes it again. A later registration under the
// same name replaces this one; the returned function then leaves it alone.
func RegisterDebugProvider(name string, provider DebugProvider) (unregister func()) {
	entry := &debugEntry{provider: provider}

	debugRegistry.mu.Lock()
	defer debugRegistry.mu.Unlock()

	if debugRegistry.providers == nil {
		debugRegistry.providers = make(map[string]*debugEntry)
	}

	debugRegistry.providers[name] = entry

	var once sync.Once

	return func() {
		once.Do(func() {
			debugRegistry.mu.Lock()
			defer debugRegistry.mu.Unlock()

			if debugRegistry.providers[name] == entry {
				delete(debugRegistry.providers, name)
			}
		})
	}
}

func collectDebugInfo() map[string]any {
	debugRegistry.mu.RLock()
	defer debugRegistry.mu.RUnlock()

	names := make([]string, 0, len(debugRegistry.providers))
	for name := range debugRegistry.providers {
		names = append(names, name)
	}

	sort.Strings(names)

	out := make(map[string]any, len(names))
	for _, name := range names {
		out[name] = debugRegistry.providers[name].provider.DebugInfo()
	}

	return out
}

// DebugHandler serves the registered providers as JSON. Clients sending
// "Accept-Encoding: zstd" receive a zstd-compressed body.
func DebugHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	info := collectDebugInfo()
	if len(info) == 0 {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"no_providers_registered"}`))

		return
	}

	body, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		http.Error(w, "failed to encode debug info", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if !strings.Contains(r.Header.Get("Accept-Encoding"), "zstd") {
		_, _ = w.Write(body)

		return
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		http.Error(w, "failed to create encoder", http.StatusInternalServerError)

		return
	}
	defer enc.Close()

	w.Header().Set("Content-Encoding", "zstd")
	_, _ = w.Write(enc.EncodeAll(body, nil))
}

// NewMux returns the handler tree served by SetupMetricsEndpoint.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/normcache", DebugHandler)

	return mux
}

// SetupMetricsEndpoint starts serving handler on addr. A nil handler serves
// NewMux; callers adding routes of their own must include it. Call it once at
// startup; the caller owns shutting down the returned server.
func SetupMetricsEndpoint(addr string, handler http.Handler) *http.Server {
	if handler == nil {
		handler = NewMux()
	}

	server := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: constants.MetricsReadTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeError, logger.For(logger.ComponentMetrics))
		}
	}()

	return server
}
