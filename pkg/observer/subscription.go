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

package observer

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/united-manufacturing-hub/normcache/pkg/entity"
)

// Callback receives the current value of every watched identity, in the
// order the identities were passed when subscribing. Absent nodes yield nil.
type Callback func(values []any)

// Subscription is the handle of one registered callback. While it is alive
// it retains every node it watches.
type Subscription struct {
	id      uuid.UUID
	ordinal uint64
	targets []entity.Identity
	cb      Callback

	registry *Registry
	alive    atomic.Bool
	once     sync.Once

	mu      sync.Mutex
	lastSeq uint64
}

// ID returns the unique id of the subscription.
func (s *Subscription) ID() uuid.UUID { return s.id }

// Targets returns the watched identities.
func (s *Subscription) Targets() []entity.Identity {
	return append([]entity.Identity(nil), s.targets...)
}

// Alive reports whether Cancel has not been called yet.
func (s *Subscription) Alive() bool { return s.alive.Load() }

// Cancel stops all further callbacks, including deliveries already scheduled
// by an in-flight drain, and releases the watched nodes. It is idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.alive.Store(false)
		s.registry.cancel(s)
	})
}

// deliver invokes the callback unless the subscription was cancelled or a
// value of a later transaction was already delivered. This includes the
// initial delivery of Subscribe: a writer committing between Subscribe and
// the initial Deliver has already handed the callback a newer value.
func (s *Subscription) deliver(values []any, seq uint64) {
	if !s.alive.Load() {
		s.registry.dropped(dropCancelled)

		return
	}

	s.mu.Lock()
	if seq < s.lastSeq {
		s.mu.Unlock()
		s.registry.dropped(dropStale)

		return
	}

	s.lastSeq = seq
	s.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			s.registry.callbackPanicked(s, rec, debug.Stack())
		}
	}()

	s.cb(values)
}

// Delivery is one scheduled callback invocation.
type Delivery struct {
	sub    *Subscription
	values []any
	seq    uint64
	// barrier is closed instead of invoking a callback.
	barrier chan struct{}
}

// Deliver runs the callback on the calling goroutine.
func (d Delivery) Deliver() {
	if d.barrier != nil {
		close(d.barrier)

		return
	}

	if d.sub != nil {
		d.sub.deliver(d.values, d.seq)
	}
}

// Subscription returns the target of the delivery.
func (d Delivery) Subscription() *Subscription { return d.sub }

// Values returns the snapshot that will be passed to the callback.
func (d Delivery) Values() []any { return d.values }
