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

package store_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/normcache/internal/modeltest"
	"github.com/united-manufacturing-hub/normcache/pkg/entity"
	"github.com/united-manufacturing-hub/normcache/pkg/store"
)

var _ = Describe("EntityStore", func() {
	var (
		ctx context.Context
		s   *store.EntityStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = newStore(ctx, nil)
	})

	Describe("identity deduplication", func() {
		It("keeps one node per identity and updates every aggregate embedding it", func() {
			alice := modeltest.User{ID: 1, Name: "alice"}

			first, err := store.Save(ctx, s, modeltest.Post{ID: 1, Title: "first", Author: alice})
			Expect(err).NotTo(HaveOccurred())
			second, err := store.Save(ctx, s, modeltest.Post{ID: 2, Title: "second", Author: alice})
			Expect(err).NotTo(HaveOccurred())

			firstSeen := &recorder[modeltest.Post]{}
			secondSeen := &recorder[modeltest.Post]{}

			_, err = first.Observe(ctx, firstSeen.record)
			Expect(err).NotTo(HaveOccurred())
			_, err = second.Observe(ctx, secondSeen.record)
			Expect(err).NotTo(HaveOccurred())

			Expect(nodeCount(ctx, s, userID(1))).To(Equal(1))

			_, err = store.Save(ctx, s, modeltest.User{ID: 1, Name: "alicia"})
			Expect(err).NotTo(HaveOccurred())

			Expect(first.Value().Author.Name).To(Equal("alicia"))
			Expect(second.Value().Author.Name).To(Equal("alicia"))
			Expect(firstSeen.last().Author.Name).To(Equal("alicia"))
			Expect(secondSeen.last().Author.Name).To(Equal("alicia"))
			Expect(firstSeen.last().Title).To(Equal("first"))
		})
	})

	Describe("stamps", func() {
		var handle store.Handle[modeltest.User]

		BeforeEach(func() {
			var err error

			handle, err = store.Save(ctx, s, modeltest.User{ID: 1, Name: "five"}, store.WithStamp(entity.StampOf(5)))
			Expect(err).NotTo(HaveOccurred())

			_, err = handle.Observe(ctx, func(modeltest.User) {})
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects an older stamp and keeps the stored value", func() {
			rejected, err := store.Save(ctx, s, modeltest.User{ID: 1, Name: "three"}, store.WithStamp(entity.StampOf(3)))
			Expect(err).To(MatchError(entity.ErrStampTooOld))
			Expect(rejected.Identity()).To(Equal(userID(1)))
			Expect(rejected.Value().Name).To(Equal("five"))
		})

		It("rejects an equal stamp", func() {
			_, err := store.Save(ctx, s, modeltest.User{ID: 1, Name: "tie"}, store.WithStamp(entity.StampOf(5)))
			Expect(err).To(MatchError(entity.ErrStampTooOld))

			found, ok, err := store.Find[modeltest.User](ctx, s, userID(1))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(found.Value().Name).To(Equal("five"))
		})

		It("applies a newer stamp", func() {
			_, err := store.Save(ctx, s, modeltest.User{ID: 1, Name: "six"}, store.WithStamp(entity.StampOf(6)))
			Expect(err).NotTo(HaveOccurred())
			Expect(handle.Value().Name).To(Equal("six"))
		})

		It("does not notify observers of a rejected write", func() {
			seen := &recorder[modeltest.User]{}
			_, err := handle.Observe(ctx, seen.record)
			Expect(err).NotTo(HaveOccurred())
			Expect(seen.count()).To(Equal(1))

			_, err = store.Save(ctx, s, modeltest.User{ID: 1, Name: "three"}, store.WithStamp(entity.StampOf(3)))
			Expect(err).To(HaveOccurred())
			Expect(seen.count()).To(Equal(1))
		})

		It("reports nested rejections without failing the write", func() {
			diag := &diagRecorder{}
			s = newStore(ctx, nil, store.WithDiagnostics(diag))

			author, err := store.Save(ctx, s, modeltest.User{ID: 1, Name: "fresh"}, store.WithStamp(entity.StampOf(10)))
			Expect(err).NotTo(HaveOccurred())
			_, err = author.Observe(ctx, func(modeltest.User) {})
			Expect(err).NotTo(HaveOccurred())

			post, err := store.Save(ctx, s,
				modeltest.Post{ID: 1, Author: modeltest.User{ID: 1, Name: "stale"}},
				store.WithStamp(entity.StampOf(5)))
			Expect(err).NotTo(HaveOccurred())

			Expect(post.Value().Author.Name).To(Equal("fresh"))
			Expect(diag.failed).To(ConsistOf(userID(1)))
			Expect(diag.stored).To(ContainElement(postID(1)))
		})
	})

	Describe("stale links", func() {
		It("stops propagating into an aggregate once a child was dropped from it", func() {
			x := modeltest.Post{ID: 1, Title: "x"}
			y := modeltest.Post{ID: 2, Title: "y"}

			thread, err := store.Save(ctx, s, modeltest.Thread{ID: "t", Posts: []modeltest.Post{x, y}})
			Expect(err).NotTo(HaveOccurred())

			seen := &recorder[modeltest.Thread]{}
			_, err = thread.Observe(ctx, seen.record)
			Expect(err).NotTo(HaveOccurred())

			_, err = store.Save(ctx, s, modeltest.Thread{ID: "t", Posts: []modeltest.Post{y}})
			Expect(err).NotTo(HaveOccurred())
			Expect(seen.count()).To(Equal(2))

			_, err = store.Save(ctx, s, modeltest.Post{ID: 1, Title: "x changed"})
			Expect(err).NotTo(HaveOccurred())

			Expect(thread.Value().Posts).To(Equal([]modeltest.Post{y}))
			Expect(seen.count()).To(Equal(2))
		})

		It("follows a union field to its new case", func() {
			image := modeltest.Image{ID: "img", URL: "a.png"}
			video := modeltest.Video{ID: "vid", Seconds: 3}

			post, err := store.Save(ctx, s, modeltest.Post{ID: 1, Attachment: modeltest.Attachment{Image: &image}})
			Expect(err).NotTo(HaveOccurred())
			_, err = post.Observe(ctx, func(modeltest.Post) {})
			Expect(err).NotTo(HaveOccurred())

			_, err = store.Save(ctx, s, modeltest.Post{ID: 1, Attachment: modeltest.Attachment{Video: &video}})
			Expect(err).NotTo(HaveOccurred())

			_, err = store.Save(ctx, s, modeltest.Image{ID: "img", URL: "b.png"})
			Expect(err).NotTo(HaveOccurred())

			Expect(post.Value().Attachment.Image).To(BeNil())

			_, err = store.Save(ctx, s, modeltest.Video{ID: "vid", Seconds: 9})
			Expect(err).NotTo(HaveOccurred())
			Expect(post.Value().Attachment.Video.Seconds).To(Equal(9))
		})
	})

	Describe("bottom-up notification", func() {
		It("notifies a shared grandparent once with every change applied", func() {
			alice := modeltest.User{ID: 1, Name: "alice"}
			bob := modeltest.User{ID: 2, Name: "bob"}

			thread, err := store.Save(ctx, s, modeltest.Thread{ID: "t", Posts: []modeltest.Post{
				{ID: 1, Author: alice, Editor: &bob},
				{ID: 2, Author: bob, Editor: &alice},
			}})
			Expect(err).NotTo(HaveOccurred())

			seen := &recorder[modeltest.Thread]{}
			_, err = thread.Observe(ctx, seen.record)
			Expect(err).NotTo(HaveOccurred())

			_, err = store.SaveAll(ctx, s, []modeltest.User{
				{ID: 1, Name: "alicia"},
				{ID: 2, Name: "robert"},
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(seen.count()).To(Equal(2))

			posts := seen.last().Posts
			Expect(posts[0].Author.Name).To(Equal("alicia"))
			Expect(posts[0].Editor.Name).To(Equal("robert"))
			Expect(posts[1].Author.Name).To(Equal("robert"))
			Expect(posts[1].Editor.Name).To(Equal("alicia"))
		})

		It("notifies children before their parents", func() {
			var order []string

			post, err := store.Save(ctx, s, modeltest.Post{ID: 1, Author: modeltest.User{ID: 1}})
			Expect(err).NotTo(HaveOccurred())
			_, err = post.Observe(ctx, func(modeltest.Post) { order = append(order, "post") })
			Expect(err).NotTo(HaveOccurred())

			author, found, err := store.Find[modeltest.User](ctx, s, userID(1))
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			_, err = author.Observe(ctx, func(modeltest.User) { order = append(order, "user") })
			Expect(err).NotTo(HaveOccurred())

			order = nil

			_, err = store.Save(ctx, s, modeltest.User{ID: 1, Name: "changed"})
			Expect(err).NotTo(HaveOccurred())
			Expect(order).To(Equal([]string{"user", "post"}))
		})
	})

	Describe("reclamation", func() {
		It("forgets an entity nothing retains", func() {
			_, err := store.Save(ctx, s, modeltest.User{ID: 7, Name: "ghost"})
			Expect(err).NotTo(HaveOccurred())

			_, found, err := store.Find[modeltest.User](ctx, s, userID(7))
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
			Expect(nodeCount(ctx, s, userID(7))).To(BeZero())
		})

		It("keeps an observed entity until the subscription is cancelled", func() {
			handle, err := store.Save(ctx, s, modeltest.User{ID: 7, Name: "kept"})
			Expect(err).NotTo(HaveOccurred())

			sub, err := handle.Observe(ctx, func(modeltest.User) {})
			Expect(err).NotTo(HaveOccurred())

			found, ok, err := store.Find[modeltest.User](ctx, s, userID(7))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(found.Value()).To(Equal(modeltest.User{ID: 7, Name: "kept"}))

			sub.Cancel()

			_, ok, err = store.Find[modeltest.User](ctx, s, userID(7))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("keeps children of an observed aggregate", func() {
			post, err := store.Save(ctx, s, modeltest.Post{ID: 1, Author: modeltest.User{ID: 3, Name: "child"}})
			Expect(err).NotTo(HaveOccurred())
			_, err = post.Observe(ctx, func(modeltest.Post) {})
			Expect(err).NotTo(HaveOccurred())

			user, ok, err := store.Find[modeltest.User](ctx, s, userID(3))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(user.Value().Name).To(Equal("child"))
		})

		It("restores a reclaimed entity from the handle when observed", func() {
			handle, err := store.Save(ctx, s, modeltest.User{ID: 7, Name: "restored"})
			Expect(err).NotTo(HaveOccurred())

			_, found, err := store.Find[modeltest.User](ctx, s, userID(7))
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())

			seen := &recorder[modeltest.User]{}
			_, err = handle.Observe(ctx, seen.record)
			Expect(err).NotTo(HaveOccurred())

			Expect(seen.values).To(Equal([]modeltest.User{{ID: 7, Name: "restored"}}))

			_, found, err = store.Find[modeltest.User](ctx, s, userID(7))
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
		})

		It("compacts every unretained node", func() {
			_, err := store.SaveAll(ctx, s, []modeltest.User{{ID: 1}, {ID: 2}, {ID: 3}})
			Expect(err).NotTo(HaveOccurred())

			kept, err := store.Save(ctx, s, modeltest.User{ID: 4})
			Expect(err).NotTo(HaveOccurred())
			_, err = kept.Observe(ctx, func(modeltest.User) {})
			Expect(err).NotTo(HaveOccurred())

			reclaimed, err := s.Compact(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(reclaimed).To(Equal(3))

			snap, err := s.Snapshot(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Nodes).To(HaveLen(1))
			Expect(snap.Nodes[0].Identity).To(Equal(userID(4).String()))
		})
	})

	Describe("round trip", func() {
		It("returns an aggregate equal to the stored one", func() {
			editor := modeltest.User{ID: 2, Name: "ed"}
			post := modeltest.Post{
				ID:     1,
				Title:  "full",
				Author: modeltest.User{ID: 1, Name: "au"},
				Editor: &editor,
				Comments: []modeltest.Comment{
					{ID: 1, Text: "c1", Author: modeltest.User{ID: 3, Name: "c"}},
					{ID: 2, Text: "c2", Author: modeltest.User{ID: 1, Name: "au"}},
				},
				Attachment: modeltest.Attachment{Image: &modeltest.Image{ID: "img", URL: "x.png"}},
			}

			handle, err := store.Save(ctx, s, post)
			Expect(err).NotTo(HaveOccurred())
			_, err = handle.Observe(ctx, func(modeltest.Post) {})
			Expect(err).NotTo(HaveOccurred())

			found, ok, err := store.Find[modeltest.Post](ctx, s, postID(1))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(found.Value()).To(Equal(post))
		})
	})
})
