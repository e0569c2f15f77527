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
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/united-manufacturing-hub/normcache/internal/modeltest"
	"github.com/united-manufacturing-hub/normcache/pkg/entity"
	"github.com/united-manufacturing-hub/normcache/pkg/store"
)

var _ = Describe("ZapDiagnostics", func() {
	It("logs writes, rejections and alias changes", func() {
		ctx := context.Background()
		core, logs := observer.New(zapcore.DebugLevel)
		log := zap.New(core).Sugar()

		s := newStore(ctx, nil, store.WithDiagnostics(store.NewZapDiagnostics(log)), store.WithLogger(log))

		h, err := store.Save(ctx, s, modeltest.User{ID: 1}, store.WithStamp(entity.StampOf(2)), store.WithAnchor("me"))
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Identity()).To(Equal(userID(1)))

		_, err = store.Save(ctx, s, modeltest.User{ID: 1}, store.WithStamp(entity.StampOf(1)))
		Expect(err).To(MatchError(entity.ErrStampTooOld))

		removed, err := s.RemoveAlias(ctx, "me")
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(BeTrue())

		Expect(logs.FilterMessage("stored").Len()).To(Equal(1))
		Expect(logs.FilterMessage("failed to store").Len()).To(Equal(1))
		Expect(logs.FilterMessage("registered alias").FilterField(zap.String("alias", "me")).Len()).To(Equal(1))
		Expect(logs.FilterMessage("unregistered alias").Len()).To(Equal(1))
	})
})
