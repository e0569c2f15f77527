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

package schema_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/normcache/internal/modeltest"
	"github.com/united-manufacturing-hub/normcache/pkg/entity"
	"github.com/united-manufacturing-hub/normcache/pkg/schema"
)

var _ = Describe("Descriptor", func() {
	var (
		alice modeltest.User
		bob   modeltest.User
		post  modeltest.Post
	)

	BeforeEach(func() {
		alice = modeltest.User{ID: 1, Name: "alice"}
		bob = modeltest.User{ID: 2, Name: "bob"}
		post = modeltest.Post{
			ID:     10,
			Title:  "hello",
			Author: alice,
			Editor: &bob,
			Comments: []modeltest.Comment{
				{ID: 100, Text: "first", Author: bob},
				{ID: 101, Text: "second", Author: alice},
			},
			Attachment: modeltest.Attachment{Image: &modeltest.Image{ID: "img", URL: "http://x"}},
		}
	})

	Describe("construction", func() {
		It("should reject duplicate fields", func() {
			_, err := schema.NewDescriptor[modeltest.Comment]("comment",
				schema.One("author",
					func(c modeltest.Comment) modeltest.User { return c.Author },
					func(c modeltest.Comment, u modeltest.User) modeltest.Comment { c.Author = u; return c }),
				schema.One("author",
					func(c modeltest.Comment) modeltest.User { return c.Author },
					func(c modeltest.Comment, u modeltest.User) modeltest.Comment { c.Author = u; return c }),
			)

			Expect(errors.Is(err, schema.ErrDuplicateField)).To(BeTrue())

			var cfgErr *schema.ConfigError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
			Expect(cfgErr.Type).To(Equal(entity.TypeTag("comment")))
			Expect(cfgErr.Field).To(Equal("author"))
		})

		It("should reject an empty type tag", func() {
			_, err := schema.NewDescriptor[modeltest.User]("")
			Expect(schema.IsConfigError(err)).To(BeTrue())
		})

		It("should panic in MustDescriptor on bad declarations", func() {
			Expect(func() {
				schema.MustDescriptor[modeltest.User]("user", nil)
			}).To(Panic())
		})

		It("should list fields in declaration order", func() {
			Expect(modeltest.Posts.Fields()).To(Equal([]schema.FieldInfo{
				{Name: "author", Shape: schema.ShapeSingle},
				{Name: "editor", Shape: schema.ShapeOptional},
				{Name: "comments", Shape: schema.ShapeCollection},
				{Name: "attachment", Shape: schema.ShapeUnion},
			}))
		})
	})

	Describe("Decompose", func() {
		It("should produce one part per occupied slot in declaration order", func() {
			parts := modeltest.Posts.Decompose(post)

			keys := make([]string, 0, len(parts))
			for _, p := range parts {
				keys = append(keys, p.Key.String())
			}

			Expect(keys).To(Equal([]string{"author", "editor", "comments[0]", "comments[1]", "attachment"}))
			Expect(parts[0].Value).To(Equal(alice))
			Expect(parts[1].Value).To(Equal(bob))
			Expect(parts[4].Shape).To(Equal(schema.ShapeUnion))
		})

		It("should skip empty optionals and inactive unions", func() {
			post.Editor = nil
			post.Attachment = modeltest.Attachment{}

			parts := modeltest.Posts.Decompose(post)
			Expect(parts).To(HaveLen(3))
		})

		It("should return nothing for leaves", func() {
			Expect(modeltest.Users.Decompose(alice)).To(BeEmpty())
		})
	})

	Describe("Recompose", func() {
		It("should round trip a decomposition", func() {
			parts := modeltest.Posts.Decompose(post)

			rebuilt, err := modeltest.Posts.Recompose(modeltest.Post{ID: post.ID, Title: post.Title, Comments: make([]modeltest.Comment, 2)}, schema.Updates(parts))
			Expect(err).NotTo(HaveOccurred())
			Expect(rebuilt).To(Equal(post))
		})

		It("should round trip onto the original value", func() {
			rebuilt, err := modeltest.Posts.Recompose(post, schema.Updates(modeltest.Posts.Decompose(post)))
			Expect(err).NotTo(HaveOccurred())
			Expect(rebuilt).To(Equal(post))
		})

		It("should replace a single collection element", func() {
			edited := modeltest.Comment{ID: 101, Text: "edited", Author: alice}

			updated, err := modeltest.Posts.Recompose(post, map[schema.FieldKey]any{
				schema.ElementKey("comments", 1): edited,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Comments[1].Text).To(Equal("edited"))
			Expect(updated.Comments[0].Text).To(Equal("first"))
			Expect(post.Comments[1].Text).To(Equal("second"), "original slice must not be mutated")
		})

		It("should ignore collection slots that no longer exist", func() {
			updated, err := modeltest.Posts.Recompose(post, map[schema.FieldKey]any{
				schema.ElementKey("comments", 7): modeltest.Comment{ID: 7},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated).To(Equal(post))
		})

		It("should switch union cases", func() {
			updated, err := modeltest.Posts.Recompose(post, map[schema.FieldKey]any{
				schema.Key("attachment"): modeltest.Video{ID: "vid", Seconds: 3},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Attachment.Image).To(BeNil())
			Expect(updated.Attachment.Video.Seconds).To(Equal(3))
		})

		It("should report conversion errors with type and field", func() {
			_, err := modeltest.Posts.Recompose(post, map[schema.FieldKey]any{
				schema.Key("author"): modeltest.Image{ID: "nope"},
			})

			Expect(errors.Is(err, schema.ErrFieldConversion)).To(BeTrue())

			var cfgErr *schema.ConfigError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
			Expect(cfgErr.Type).To(Equal(modeltest.PostType))
			Expect(cfgErr.Field).To(Equal("author"))
		})

		It("should reject undeclared fields", func() {
			_, err := modeltest.Posts.Recompose(post, map[schema.FieldKey]any{
				schema.Key("reviewer"): alice,
			})
			Expect(schema.IsConfigError(err)).To(BeTrue())
		})
	})

	Describe("Codec", func() {
		It("should reject values of another Go type", func() {
			_, err := modeltest.Posts.DecomposeValue(alice)
			Expect(errors.Is(err, schema.ErrTypeMismatch)).To(BeTrue())
		})

		It("should nullify only when declared", func() {
			_, ok := modeltest.Posts.NullifyValue(post)
			Expect(ok).To(BeFalse())

			empty, ok := modeltest.Threads.NullifyValue(modeltest.Thread{ID: "t", Posts: []modeltest.Post{post}})
			Expect(ok).To(BeTrue())
			Expect(empty).To(Equal(modeltest.Thread{ID: "t"}))
		})
	})
})

var _ = Describe("Registry", func() {
	It("should resolve registered codecs", func() {
		registry := modeltest.NewRegistry()

		codec, ok := registry.Lookup(modeltest.PostType)
		Expect(ok).To(BeTrue())
		Expect(codec.Type()).To(Equal(modeltest.PostType))

		_, ok = registry.Lookup("unknown")
		Expect(ok).To(BeFalse())
	})

	It("should reject a second codec for the same type", func() {
		registry := schema.NewRegistry()
		Expect(registry.Register(modeltest.Users)).To(Succeed())

		err := registry.Register(schema.Leaf[modeltest.User](modeltest.UserType))
		Expect(errors.Is(err, schema.ErrTypeAlreadyRegistered)).To(BeTrue())
	})

	It("should list types sorted", func() {
		Expect(modeltest.NewRegistry().Types()).To(Equal([]entity.TypeTag{
			"comment", "image", "post", "thread", "user", "video",
		}))
	})
})
