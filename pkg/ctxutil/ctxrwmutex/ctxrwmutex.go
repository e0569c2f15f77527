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

// Package ctxrwmutex provides the context-aware reader/writer barrier that
// serializes store transactions.
package ctxrwmutex

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/united-manufacturing-hub/normcache/pkg/constants"
)

// CtxRWMutex is a RWMutex whose acquisition can be abandoned through a context.
//
// It is a weighted semaphore of size readers: a reader acquires one unit, a
// writer acquires all of them. Once a writer is waiting, new readers queue
// behind it, so a steady stream of readers cannot starve writers.
type CtxRWMutex struct {
	sem     *semaphore.Weighted
	readers int64
}

// NewCtxRWMutex creates a barrier admitting up to readers concurrent readers.
// A non-positive value selects constants.AmountReadersForStore.
func NewCtxRWMutex(readers int64) *CtxRWMutex {
	if readers <= 0 {
		readers = constants.AmountReadersForStore
	}

	return &CtxRWMutex{sem: semaphore.NewWeighted(readers), readers: readers}
}

// RLock acquires the barrier for reading.
func (m *CtxRWMutex) RLock(ctx context.Context) error {
	return m.sem.Acquire(ctx, 1)
}

// TryRLock acquires the barrier for reading without blocking.
func (m *CtxRWMutex) TryRLock() bool {
	return m.sem.TryAcquire(1)
}

// RUnlock releases a read acquisition.
func (m *CtxRWMutex) RUnlock() {
	m.sem.Release(1)
}

// Lock acquires the barrier exclusively.
func (m *CtxRWMutex) Lock(ctx context.Context) error {
	return m.sem.Acquire(ctx, m.readers)
}

// Unlock releases an exclusive acquisition.
func (m *CtxRWMutex) Unlock() {
	m.sem.Release(m.readers)
}
