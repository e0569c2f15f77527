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

package metrics_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/united-manufacturing-hub/normcache/pkg/metrics"
)

type staticProvider map[string]int

func (p staticProvider) DebugInfo() any { return map[string]int(p) }

func get(server *httptest.Server, path string, header http.Header) (*http.Response, []byte) {
	req, err := http.NewRequest(http.MethodGet, server.URL+path, nil)
	Expect(err).NotTo(HaveOccurred())

	for k, v := range header {
		req.Header[k] = v
	}

	// Bypass transparent decompression so the raw body can be checked.
	resp, err := (&http.Transport{DisableCompression: true}).RoundTrip(req)
	Expect(err).NotTo(HaveOccurred())

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())

	return resp, body
}

var _ = Describe("Endpoint", func() {
	var (
		server      *httptest.Server
		unregisters []func()
	)

	register := func(name string, p metrics.DebugProvider) func() {
		unregister := metrics.RegisterDebugProvider(name, p)
		unregisters = append(unregisters, unregister)

		return unregister
	}

	BeforeEach(func() {
		server = httptest.NewServer(metrics.NewMux())
		unregisters = nil
	})

	AfterEach(func() {
		server.Close()

		for _, unregister := range unregisters {
			unregister()
		}
	})

	It("exports store metrics", func() {
		metrics.InitStore("endpoint-test")
		metrics.IncStampRejection("endpoint-test", "user")
		metrics.SetNodeCount("endpoint-test", 4)

		_, body := get(server, "/metrics", nil)

		Expect(string(body)).To(ContainSubstring(`normcache_store_stamp_rejections_total{store="endpoint-test",type="user"} 1`))
		Expect(string(body)).To(ContainSubstring(`normcache_store_nodes{store="endpoint-test"} 4`))
		Expect(string(body)).To(ContainSubstring(`normcache_store_dropped_deliveries_total{reason="stale",store="endpoint-test"} 0`))
	})

	It("reports when no provider is registered", func() {
		_, body := get(server, "/debug/normcache", nil)
		Expect(string(body)).To(ContainSubstring("no_providers_registered"))
	})

	It("serves providers as JSON", func() {
		register("feed", staticProvider{"nodes": 3})

		resp, body := get(server, "/debug/normcache", nil)
		Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

		var decoded map[string]map[string]int
		Expect(json.Unmarshal(body, &decoded)).To(Succeed())
		Expect(decoded["feed"]).To(HaveKeyWithValue("nodes", 3))
	})

	It("compresses with zstd on request", func() {
		register("feed", staticProvider{"nodes": 5})

		resp, body := get(server, "/debug/normcache", http.Header{"Accept-Encoding": {"zstd"}})
		Expect(resp.Header.Get("Content-Encoding")).To(Equal("zstd"))

		dec, err := zstd.NewReader(nil)
		Expect(err).NotTo(HaveOccurred())
		defer dec.Close()

		plain, err := dec.DecodeAll(body, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(plain)).To(ContainSubstring(`"nodes": 5`))
	})

	It("keeps a newer provider registered under the same name", func() {
		unregisterOld := register("feed", staticProvider{"nodes": 1})
		unregisterNew := register("feed", staticProvider{"nodes": 2})

		unregisterOld()

		_, body := get(server, "/debug/normcache", nil)

		var decoded map[string]map[string]int
		Expect(json.Unmarshal(body, &decoded)).To(Succeed())
		Expect(decoded["feed"]).To(HaveKeyWithValue("nodes", 2))

		unregisterNew()

		_, body = get(server, "/debug/normcache", nil)
		Expect(string(body)).To(ContainSubstring("no_providers_registered"))
	})

	It("rejects other methods", func() {
		resp, err := http.Post(server.URL+"/debug/normcache", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
	})
})

var _ = Describe("SetupMetricsEndpoint", func() {
	freeAddr := func() string {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())

		addr := l.Addr().String()
		Expect(l.Close()).To(Succeed())

		return addr
	}

	It("serves the given handler", func() {
		mux := metrics.NewMux()
		mux.HandleFunc("/extra", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("extra"))
		})

		addr := freeAddr()
		server := metrics.SetupMetricsEndpoint(addr, mux)

		DeferCleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			Expect(server.Shutdown(ctx)).To(Succeed())
		})

		Eventually(func(g Gomega) {
			resp, err := http.Get("http://" + addr + "/extra")
			g.Expect(err).NotTo(HaveOccurred())

			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(string(body)).To(Equal("extra"))
		}).WithTimeout(2 * time.Second).Should(Succeed())
	})

	It("serves the metrics mux without a handler", func() {
		addr := freeAddr()
		server := metrics.SetupMetricsEndpoint(addr, nil)

		DeferCleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			Expect(server.Shutdown(ctx)).To(Succeed())
		})

		Eventually(func(g Gomega) {
			resp, err := http.Get("http://" + addr + "/metrics")
			g.Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			g.Expect(resp.StatusCode).To(Equal(http.StatusOK))
		}).WithTimeout(2 * time.Second).Should(Succeed())
	})
})

var _ = Describe("IncErrorCountAndLog", func() {
	It("counts the error and logs it", func() {
		metrics.InitStore("errlog-test")

		core, logs := observer.New(zapcore.DebugLevel)
		metrics.IncErrorCountAndLog(metrics.ComponentDispatcher, "errlog-test",
			errors.New("boom"), zap.New(core).Sugar())

		Expect(logs.FilterMessage("component error").Len()).To(Equal(1))
		Expect(logs.All()[0].ContextMap()).To(HaveKeyWithValue("component", metrics.ComponentDispatcher))

		server := httptest.NewServer(metrics.NewMux())
		defer server.Close()

		_, body := get(server, "/metrics", nil)
		Expect(string(body)).To(ContainSubstring(`normcache_store_errors_total{component="dispatcher",store="errlog-test"} 1`))
	})

	It("tolerates a nil logger", func() {
		Expect(func() {
			metrics.IncErrorCountAndLog(metrics.ComponentStore, "errlog-nil", errors.New("boom"), nil)
		}).NotTo(Panic())
	})
})
