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

package graph_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/normcache/internal/modeltest"
	"github.com/united-manufacturing-hub/normcache/pkg/entity"
	"github.com/united-manufacturing-hub/normcache/pkg/graph"
	"github.com/united-manufacturing-hub/normcache/pkg/schema"
)

var _ = Describe("Node", func() {
	var node *graph.Node

	BeforeEach(func() {
		node = graph.NewNode(entity.NewIdentity(modeltest.PostType, 1), modeltest.Posts)
	})

	Describe("UpdateValue", func() {
		It("applies stamp-less writes unconditionally", func() {
			Expect(node.UpdateValue(modeltest.Post{ID: 1, Title: "a"}, entity.NoStamp)).To(Succeed())
			Expect(node.UpdateValue(modeltest.Post{ID: 1, Title: "b"}, entity.NoStamp)).To(Succeed())
			Expect(node.Value()).To(Equal(modeltest.Post{ID: 1, Title: "b"}))
			Expect(node.Stamp().IsSet()).To(BeFalse())
		})

		It("rejects older and equal stamps", func() {
			Expect(node.UpdateValue(modeltest.Post{ID: 1, Title: "five"}, entity.StampOf(5))).To(Succeed())

			err := node.UpdateValue(modeltest.Post{ID: 1, Title: "three"}, entity.StampOf(3))
			Expect(errors.Is(err, entity.ErrStampTooOld)).To(BeTrue())

			var stampErr *entity.StampError
			Expect(errors.As(err, &stampErr)).To(BeTrue())
			Expect(stampErr.Current).To(Equal(entity.StampOf(5)))
			Expect(stampErr.Received).To(Equal(entity.StampOf(3)))

			Expect(node.UpdateValue(modeltest.Post{ID: 1, Title: "tie"}, entity.StampOf(5))).To(MatchError(entity.ErrStampTooOld))
			Expect(node.Value()).To(Equal(modeltest.Post{ID: 1, Title: "five"}))
		})

		It("keeps the stamp when an authoritative write follows a stamped one", func() {
			Expect(node.UpdateValue(modeltest.Post{ID: 1}, entity.StampOf(7))).To(Succeed())
			Expect(node.UpdateValue(modeltest.Post{ID: 1, Title: "manual"}, entity.NoStamp)).To(Succeed())
			Expect(node.Stamp()).To(Equal(entity.StampOf(7)))
		})
	})

	Describe("ApplyChildChange", func() {
		It("writes the child value into its slot", func() {
			Expect(node.UpdateValue(modeltest.Post{ID: 1, Author: modeltest.User{ID: 9, Name: "old"}}, entity.NoStamp)).To(Succeed())
			Expect(node.ApplyChildChange(schema.Key("author"), modeltest.User{ID: 9, Name: "new"})).To(Succeed())
			Expect(node.Value().(modeltest.Post).Author.Name).To(Equal("new"))
		})

		It("fails with a configuration error on a mismatched child", func() {
			Expect(node.UpdateValue(modeltest.Post{ID: 1}, entity.NoStamp)).To(Succeed())

			err := node.ApplyChildChange(schema.Key("author"), modeltest.Image{ID: "x"})
			Expect(schema.IsConfigError(err)).To(BeTrue())
		})
	})

	Describe("Nullify", func() {
		It("uses the type's empty representation", func() {
			thread := graph.NewNode(entity.NewIdentity(modeltest.ThreadType, "t"), modeltest.Threads)
			Expect(thread.UpdateValue(modeltest.Thread{ID: "t", Posts: []modeltest.Post{{ID: 1}}}, entity.NoStamp)).To(Succeed())

			Expect(thread.Nullify()).To(BeTrue())
			Expect(thread.Value()).To(Equal(modeltest.Thread{ID: "t"}))
		})

		It("reports false for types without one", func() {
			Expect(node.UpdateValue(modeltest.Post{ID: 1}, entity.NoStamp)).To(Succeed())
			Expect(node.Nullify()).To(BeFalse())
		})
	})

	It("tracks aliases and observers", func() {
		node.AddAlias("b")
		node.AddAlias("a")
		Expect(node.Aliases()).To(Equal([]string{"a", "b"}))
		Expect(node.RemoveAlias("a")).To(BeTrue())
		Expect(node.RemoveAlias("a")).To(BeFalse())

		node.Retain()
		node.Release()
		node.Release()
		Expect(node.ObserverCount()).To(BeZero())
	})
})
