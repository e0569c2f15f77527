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

// Package demo drives a store with fake producers and exposes it over HTTP
// for inspection. It backs the normcache-demo binary.
package demo

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/normcache/internal/modeltest"
	"github.com/united-manufacturing-hub/normcache/pkg/entity"
	"github.com/united-manufacturing-hub/normcache/pkg/store"
)

// FeedAnchor names the anchor holding the thread every producer writes into.
const FeedAnchor = "feed"

// Options configures Run.
type Options struct {
	Producers int
	// Writes is the number of writes per producer. Zero writes until ctx ends.
	Writes int
	// Users bounds the author pool, so producers overwrite each other's users.
	Users    int
	Interval time.Duration
}

// Stats summarizes a Run.
type Stats struct {
	Writes        int64 `json:"writes"`
	Rejected      int64 `json:"rejected"`
	Notifications int64 `json:"notifications"`
	Reclaimed     int   `json:"reclaimed"`
}

// Run anchors a thread, observes it, and lets opts.Producers goroutines store
// posts and users concurrently. Every write carries a stamp from one shared
// clock, so stale writes lose against newer ones regardless of arrival order.
func Run(ctx context.Context, s *store.EntityStore, opts Options, log *zap.SugaredLogger) (Stats, error) {
	if opts.Producers < 1 {
		opts.Producers = 1
	}

	if opts.Users < 1 {
		opts.Users = 8
	}

	var (
		stats Stats
		clock atomic.Int64
	)

	_, err := store.Save(ctx, s, modeltest.Thread{ID: "main"}, store.WithAnchor(FeedAnchor))
	if err != nil {
		return stats, fmt.Errorf("anchor feed: %w", err)
	}

	feed, err := store.FindAnchor[modeltest.Thread](ctx, s, FeedAnchor)
	if err != nil {
		return stats, err
	}

	sub, err := feed.Observe(ctx, func(t modeltest.Thread, ok bool) {
		atomic.AddInt64(&stats.Notifications, 1)
		log.Debugw("feed changed", "posts", len(t.Posts), "set", ok)
	})
	if err != nil {
		return stats, fmt.Errorf("observe feed: %w", err)
	}
	defer sub.Cancel()

	g, gctx := errgroup.WithContext(ctx)

	for p := range opts.Producers {
		g.Go(func() error {
			return produce(gctx, s, p, opts, &clock, &stats)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return stats, err
	}

	// Producers may have been stopped by ctx; flushing and compacting still
	// need a live context.
	final := context.WithoutCancel(ctx)

	if err := s.Flush(final); err != nil {
		return stats, err
	}

	stats.Reclaimed, err = s.Compact(final)
	if err != nil {
		return stats, err
	}

	log.Infow("workload finished",
		"writes", stats.Writes, "rejected", stats.Rejected,
		"notifications", atomic.LoadInt64(&stats.Notifications), "reclaimed", stats.Reclaimed)

	return stats, nil
}

func produce(ctx context.Context, s *store.EntityStore, producer int, opts Options, clock *atomic.Int64, stats *Stats) error {
	rng := rand.New(rand.NewPCG(uint64(producer), uint64(time.Now().UnixNano())))

	for i := 0; opts.Writes == 0 || i < opts.Writes; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		stamp := entity.StampOf(clock.Add(1))
		// Every fourth write is delayed on purpose and usually arrives stale.
		if i%4 == 3 {
			stamp = entity.StampOf(clock.Load() - 2)
		}

		author := modeltest.User{ID: rng.IntN(opts.Users), Name: fmt.Sprintf("user-%d-%d", producer, i)}

		var err error

		if i%2 == 0 {
			_, err = store.Save(ctx, s, author, store.WithStamp(stamp))
		} else {
			_, err = store.Update(ctx, s, FeedIdentity(), func(t *modeltest.Thread) {
				t.Posts = append(t.Posts, modeltest.Post{
					ID:     producer*1_000_000 + i,
					Title:  fmt.Sprintf("post %d from producer %d", i, producer),
					Author: author,
				})
				if len(t.Posts) > 16 {
					t.Posts = t.Posts[len(t.Posts)-16:]
				}
			}, store.WithStamp(stamp))
		}

		atomic.AddInt64(&stats.Writes, 1)

		switch {
		case errors.Is(err, entity.ErrStampTooOld):
			atomic.AddInt64(&stats.Rejected, 1)
		case err != nil:
			return err
		}

		if opts.Interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.Interval):
			}
		}
	}

	return nil
}

// FeedIdentity is the identity of the thread bound to FeedAnchor.
func FeedIdentity() entity.Identity {
	return modeltest.Thread{ID: "main"}.Identity()
}
