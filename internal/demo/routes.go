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

package demo

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/normcache/internal/modeltest"
	"github.com/united-manufacturing-hub/normcache/pkg/entity"
	"github.com/united-manufacturing-hub/normcache/pkg/metrics"
	"github.com/united-manufacturing-hub/normcache/pkg/store"
)

// NewRouter serves read-only views of s next to the metrics and debug
// endpoints:
//
//	GET  /users/{id}       current user, 404 unless retained
//	GET  /posts/{id}       current post, 404 unless retained
//	GET  /feed             the thread bound to FeedAnchor
//	GET  /aliases          anchor names
//	GET  /snapshot         graph snapshot; zstd-compressed with ?format=zstd
//	POST /compact          reclaim unretained nodes
func NewRouter(s *store.EntityStore, log *zap.SugaredLogger) http.Handler {
	h := &handlers{store: s, log: log}

	r := chi.NewRouter()
	r.Get("/users/{id}", h.user)
	r.Get("/posts/{id}", h.post)
	r.Get("/feed", h.feed)
	r.Get("/aliases", h.aliases)
	r.Get("/snapshot", h.snapshot)
	r.Post("/compact", h.compact)

	mux := metrics.NewMux()
	r.Handle("/metrics", mux)
	r.Handle("/debug/normcache", mux)

	return r
}

type handlers struct {
	store *store.EntityStore
	log   *zap.SugaredLogger
}

func (h *handlers) user(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}

	found, ok, err := store.Find[modeltest.User](r.Context(), h.store, entity.NewIdentity(modeltest.UserType, id))
	respond(h, w, found.Value, ok, err)
}

func (h *handlers) post(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}

	found, ok, err := store.Find[modeltest.Post](r.Context(), h.store, entity.NewIdentity(modeltest.PostType, id))
	respond(h, w, found.Value, ok, err)
}

func (h *handlers) feed(w http.ResponseWriter, r *http.Request) {
	anchor, err := store.FindAnchor[modeltest.Thread](r.Context(), h.store, FeedAnchor)
	if err != nil {
		h.fail(w, err)

		return
	}

	thread, ok := anchor.Value()
	respond(h, w, func() modeltest.Thread { return thread }, ok, nil)
}

func (h *handlers) aliases(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.store.Aliases())
}

func (h *handlers) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "zstd" {
		w.Header().Set("Content-Type", "application/zstd")

		if err := h.store.ExportSnapshot(r.Context(), w); err != nil {
			h.log.Warnw("failed to export snapshot", "error", err)
		}

		return
	}

	snap, err := h.store.Snapshot(r.Context())
	if err != nil {
		h.fail(w, err)

		return
	}

	h.writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) compact(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Compact(r.Context())
	if err != nil {
		h.fail(w, err)

		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int{"reclaimed": n})
}

// respond writes value() when found. value is deferred so that a miss never
// touches the empty handle.
func respond[T any](h *handlers, w http.ResponseWriter, value func() T, found bool, err error) {
	switch {
	case err != nil:
		h.fail(w, err)
	case !found:
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		h.writeJSON(w, http.StatusOK, value())
	}
}

func (h *handlers) fail(w http.ResponseWriter, err error) {
	h.log.Warnw("request failed", "error", err)
	h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Debugw("failed to write response", "error", err)
	}
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		http.Error(w, `{"error":"`+name+` must be an integer"}`, http.StatusBadRequest)

		return 0, false
	}

	return v, true
}
