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

// Package schema describes how aggregates decompose into independently
// identified entities.
//
// # Descriptors
//
// A Descriptor[T] lists the fields of T that hold nested entities. Each field
// is declared with one of four shapes:
//
//	One       exactly one nested entity      (Post.Author)
//	Optional  zero or one nested entity      (Post.Editor *User)
//	Many      an ordered list of entities    (Post.Comments []Comment)
//	Union     the active case of a sum type  (Attachment: Image | Video)
//
// Fields are declared with plain getter and setter functions. There is no
// reflection on struct layout: the descriptor is the only per-type
// configuration surface, and it is validated once at construction.
//
//	posts := schema.MustDescriptor[Post]("post",
//	    schema.One("author",
//	        func(p Post) User { return p.Author },
//	        func(p Post, u User) Post { p.Author = u; return p }),
//	    schema.Many("comments",
//	        func(p Post) []Comment { return p.Comments },
//	        func(p Post, c []Comment) Post { p.Comments = c; return p }),
//	)
//
// # Decompose and Recompose
//
// Decompose returns the nested entities in declaration order, one Part per
// occupied FieldKey. Collection elements get their index in the key.
// Recompose writes updated child values back into a parent:
//
//	parts := posts.Decompose(post)
//	same, _ := posts.Recompose(post, schema.Updates(parts))
//
// The round trip Recompose(v, Updates(Decompose(v))) yields a value equal to v.
//
// # Registry
//
// The store resolves descriptors by TypeTag through a Registry. Types that are
// never registered are leaves: they are stored and observed like any entity
// but have no nested fields.
package schema
