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

// Package modeltest provides a small social-feed domain (users, comments,
// posts, threads) with its descriptors, used by tests and the demo binary.
package modeltest

import (
	"fmt"

	"github.com/united-manufacturing-hub/normcache/pkg/entity"
	"github.com/united-manufacturing-hub/normcache/pkg/schema"
)

const (
	UserType    entity.TypeTag = "user"
	CommentType entity.TypeTag = "comment"
	PostType    entity.TypeTag = "post"
	ThreadType  entity.TypeTag = "thread"
	ImageType   entity.TypeTag = "image"
	VideoType   entity.TypeTag = "video"
)

type User struct {
	ID   int
	Name string
}

func (u User) Identity() entity.Identity { return entity.NewIdentity(UserType, u.ID) }

type Comment struct {
	ID     int
	Text   string
	Author User
}

func (c Comment) Identity() entity.Identity { return entity.NewIdentity(CommentType, c.ID) }

type Image struct {
	ID  string
	URL string
}

func (i Image) Identity() entity.Identity { return entity.NewIdentity(ImageType, i.ID) }

type Video struct {
	ID      string
	Seconds int
}

func (v Video) Identity() entity.Identity { return entity.NewIdentity(VideoType, v.ID) }

// Attachment is a sum type: at most one of Image and Video is set.
type Attachment struct {
	Image *Image
	Video *Video
}

type Post struct {
	ID         int
	Title      string
	Author     User
	Editor     *User
	Comments   []Comment
	Attachment Attachment
}

func (p Post) Identity() entity.Identity { return entity.NewIdentity(PostType, p.ID) }

type Thread struct {
	ID    string
	Posts []Post
}

func (t Thread) Identity() entity.Identity { return entity.NewIdentity(ThreadType, t.ID) }

var (
	Users    = schema.Leaf[User](UserType)
	Images   = schema.Leaf[Image](ImageType)
	Videos   = schema.Leaf[Video](VideoType)
	Comments = schema.MustDescriptor[Comment](CommentType,
		schema.One("author",
			func(c Comment) User { return c.Author },
			func(c Comment, u User) Comment { c.Author = u; return c }),
	)
	Posts = schema.MustDescriptor[Post](PostType,
		schema.One("author",
			func(p Post) User { return p.Author },
			func(p Post, u User) Post { p.Author = u; return p }),
		schema.Optional("editor",
			func(p Post) *User { return p.Editor },
			func(p Post, u *User) Post { p.Editor = u; return p }),
		schema.Many("comments",
			func(p Post) []Comment { return p.Comments },
			func(p Post, c []Comment) Post { p.Comments = c; return p }),
		schema.Union("attachment", attachmentEntity, setAttachment),
	)
	Threads = schema.MustDescriptor[Thread](ThreadType,
		schema.Many("posts",
			func(t Thread) []Post { return t.Posts },
			func(t Thread, p []Post) Thread { t.Posts = p; return t }),
	).WithNullify(func(t Thread) Thread { return Thread{ID: t.ID} })
)

func attachmentEntity(p Post) entity.Entity {
	switch {
	case p.Attachment.Image != nil:
		return *p.Attachment.Image
	case p.Attachment.Video != nil:
		return *p.Attachment.Video
	default:
		return nil
	}
}

func setAttachment(p Post, e entity.Entity) (Post, error) {
	switch v := e.(type) {
	case Image:
		p.Attachment = Attachment{Image: &v}
	case Video:
		p.Attachment = Attachment{Video: &v}
	default:
		return p, fmt.Errorf("attachment cannot hold %T", e)
	}

	return p, nil
}

// NewRegistry returns a registry with every descriptor of the domain.
func NewRegistry() *schema.Registry {
	return schema.NewRegistry().MustRegister(Users, Images, Videos, Comments, Posts, Threads)
}
