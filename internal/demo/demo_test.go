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

package demo_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/normcache/internal/demo"
	"github.com/united-manufacturing-hub/normcache/internal/modeltest"
	"github.com/united-manufacturing-hub/normcache/pkg/config"
	"github.com/united-manufacturing-hub/normcache/pkg/store"
)

func newStore(ctx context.Context, mode config.DispatchMode) *store.EntityStore {
	cfg := config.Default()
	cfg.Name = "demo-test"
	cfg.Dispatch.Mode = mode

	s, err := store.New(ctx, cfg, modeltest.NewRegistry())
	Expect(err).NotTo(HaveOccurred())

	DeferCleanup(func() { Expect(s.Close(context.Background())).To(Succeed()) })

	return s
}

var _ = Describe("Run", func() {
	for _, mode := range []config.DispatchMode{config.DispatchInline, config.DispatchQueue} {
		It("writes concurrently and keeps the feed bounded in "+string(mode)+" mode", func() {
			ctx := context.Background()
			s := newStore(ctx, mode)

			stats, err := demo.Run(ctx, s, demo.Options{Producers: 3, Writes: 20, Users: 4}, zap.NewNop().Sugar())
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Writes).To(Equal(int64(60)))
			Expect(stats.Rejected).To(BeNumerically("<=", stats.Writes))
			Expect(stats.Notifications).To(BeNumerically(">=", 1))

			feed, err := store.FindAnchor[modeltest.Thread](ctx, s, demo.FeedAnchor)
			Expect(err).NotTo(HaveOccurred())

			thread, ok := feed.Value()
			Expect(ok).To(BeTrue())
			Expect(len(thread.Posts)).To(BeNumerically("<=", 16))
		})
	}

	It("stops when the context ends", func() {
		ctx, cancel := context.WithCancel(context.Background())
		s := newStore(context.Background(), config.DispatchInline)

		cancel()

		stats, err := demo.Run(ctx, s, demo.Options{Producers: 2}, zap.NewNop().Sugar())
		Expect(err).To(HaveOccurred())
		Expect(stats.Writes).To(BeZero())
	})
})

var _ = Describe("NewRouter", func() {
	var (
		ctx    context.Context
		s      *store.EntityStore
		server *httptest.Server
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = newStore(ctx, config.DispatchInline)
		server = httptest.NewServer(demo.NewRouter(s, zap.NewNop().Sugar()))
		DeferCleanup(server.Close)

		_, err := store.Save(ctx, s, modeltest.Thread{ID: "main", Posts: []modeltest.Post{
			{ID: 7, Title: "hello", Author: modeltest.User{ID: 1, Name: "ada"}},
		}}, store.WithAnchor(demo.FeedAnchor))
		Expect(err).NotTo(HaveOccurred())
	})

	get := func(path string) *http.Response {
		resp, err := http.Get(server.URL + path)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)

		return resp
	}

	It("serves retained entities", func() {
		resp := get("/users/1")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var user modeltest.User
		Expect(json.NewDecoder(resp.Body).Decode(&user)).To(Succeed())
		Expect(user).To(Equal(modeltest.User{ID: 1, Name: "ada"}))

		resp = get("/posts/7")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("answers 404 for unknown entities and 400 for bad ids", func() {
		Expect(get("/users/99").StatusCode).To(Equal(http.StatusNotFound))
		Expect(get("/users/abc").StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("serves the feed and the aliases", func() {
		var thread modeltest.Thread
		Expect(json.NewDecoder(get("/feed").Body).Decode(&thread)).To(Succeed())
		Expect(thread.Posts).To(HaveLen(1))

		var aliases []string
		Expect(json.NewDecoder(get("/aliases").Body).Decode(&aliases)).To(Succeed())
		Expect(aliases).To(Equal([]string{demo.FeedAnchor}))
	})

	It("serves plain and compressed snapshots", func() {
		var plain store.Snapshot
		Expect(json.NewDecoder(get("/snapshot").Body).Decode(&plain)).To(Succeed())
		Expect(plain.Nodes).To(HaveLen(4))

		dec, err := zstd.NewReader(get("/snapshot?format=zstd").Body)
		Expect(err).NotTo(HaveOccurred())
		defer dec.Close()

		var compressed store.Snapshot
		Expect(json.NewDecoder(dec).Decode(&compressed)).To(Succeed())
		Expect(compressed.Nodes).To(HaveLen(len(plain.Nodes)))
	})

	It("compacts on request", func() {
		_, err := store.Save(ctx, s, modeltest.User{ID: 50})
		Expect(err).NotTo(HaveOccurred())

		resp, err := http.Post(server.URL+"/compact", "application/json", strings.NewReader(""))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)

		var body map[string]int
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		Expect(body["reclaimed"]).To(Equal(1))
	})

	It("mounts the metrics endpoint", func() {
		resp := get("/metrics")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})
})
