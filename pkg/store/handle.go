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

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/united-manufacturing-hub/normcache/pkg/entity"
	"github.com/united-manufacturing-hub/normcache/pkg/observer"
)

// ErrEmptyAnchorName is returned for anchor operations without a name.
var ErrEmptyAnchorName = errors.New("empty anchor name")

// Subscription is the handle returned by Observe. Cancel it to stop callbacks
// and release the observed entities.
type Subscription = observer.Subscription

// Handle refers to one stored entity. The zero Handle is not usable.
type Handle[T entity.Entity] struct {
	store    *EntityStore
	identity entity.Identity
	// snapshot is the value the handle last saw. It restores the entity when
	// the handle is observed after the node was reclaimed.
	snapshot T
	stamp    entity.Stamp
}

// Identity returns the identity of the entity.
func (h Handle[T]) Identity() entity.Identity { return h.identity }

// Value returns the current value, or the last value the handle saw once the
// entity was reclaimed.
func (h Handle[T]) Value() T {
	v, err := h.store.readValue(context.Background(), h.identity)
	if err != nil || v == nil {
		return copyOf(h.store, h.snapshot)
	}

	t, ok := v.(T)
	if !ok {
		return copyOf(h.store, h.snapshot)
	}

	return copyOf(h.store, t)
}

// Observe calls onChange with the current value before it returns, then
// after every committed change of the entity or of anything nested in it.
// The entity stays retained until the subscription is cancelled.
// If a concurrent write is delivered first, that newer value replaces the
// initial call.
func (h Handle[T]) Observe(ctx context.Context, onChange func(T)) (*Subscription, error) {
	return h.store.observe(ctx, []entity.Identity{h.identity}, []restorable{{h.snapshot, h.stamp}}, func(values []any) {
		if v, ok := values[0].(T); ok {
			onChange(v)
		}
	})
}

// CollectionHandle refers to an ordered list of stored entities.
type CollectionHandle[T entity.Entity] struct {
	store      *EntityStore
	identities []entity.Identity
	snapshot   []T
	stamps     []entity.Stamp
}

// Identities returns the identities in order.
func (h CollectionHandle[T]) Identities() []entity.Identity {
	return append([]entity.Identity(nil), h.identities...)
}

// Len returns the number of entities.
func (h CollectionHandle[T]) Len() int { return len(h.identities) }

// Values returns the current value of every entity, in order.
func (h CollectionHandle[T]) Values() []T {
	out := make([]T, len(h.identities))

	for i, id := range h.identities {
		out[i] = copyOf(h.store, h.snapshot[i])

		v, err := h.store.readValue(context.Background(), id)
		if err != nil || v == nil {
			continue
		}

		if t, ok := v.(T); ok {
			out[i] = copyOf(h.store, t)
		}
	}

	return out
}

// Observe calls onChange with all current values before it returns, then at
// most once per committed transaction that changed any of them.
func (h CollectionHandle[T]) Observe(ctx context.Context, onChange func([]T)) (*Subscription, error) {
	fallback := make([]restorable, len(h.snapshot))
	for i, v := range h.snapshot {
		fallback[i] = restorable{value: v}
		if i < len(h.stamps) {
			fallback[i].stamp = h.stamps[i]
		}
	}

	return h.store.observe(ctx, h.identities, fallback, func(values []any) {
		out := make([]T, 0, len(values))

		for _, v := range values {
			if t, ok := v.(T); ok {
				out = append(out, t)
			}
		}

		onChange(out)
	})
}

// AnchorHandle refers to the single value bound to an anchor name.
type AnchorHandle[T entity.Entity] struct {
	store *EntityStore
	name  string
}

// Name returns the anchor name.
func (h AnchorHandle[T]) Name() string { return h.name }

// Value returns the bound value. ok is false while the anchor is unset.
func (h AnchorHandle[T]) Value() (value T, ok bool) {
	v, err := h.store.readValue(context.Background(), anchorIdentity(h.name))
	if err != nil {
		return value, false
	}

	value, ok, err = firstItem[T](anchorIdentity(h.name), v)
	if err != nil || !ok {
		return value, false
	}

	return copyOf(h.store, value), true
}

// Observe calls onChange with the bound value before it returns, then after
// every committed change of the anchor or its content. Removing the alias is
// delivered with ok false, or with the nullified content if its type defines
// an empty value.
func (h AnchorHandle[T]) Observe(ctx context.Context, onChange func(value T, ok bool)) (*Subscription, error) {
	id := anchorIdentity(h.name)

	return h.store.observe(ctx, []entity.Identity{id}, nil, func(values []any) {
		v, ok, _ := firstItem[T](id, values[0])
		onChange(v, ok)
	})
}

// AnchorCollectionHandle refers to the list of values bound to an anchor name.
type AnchorCollectionHandle[T entity.Entity] struct {
	store *EntityStore
	name  string
}

// Name returns the anchor name.
func (h AnchorCollectionHandle[T]) Name() string { return h.name }

// Values returns the bound values, or nil while the anchor is unset.
func (h AnchorCollectionHandle[T]) Values() []T {
	v, err := h.store.readValue(context.Background(), anchorIdentity(h.name))
	if err != nil {
		return nil
	}

	items := allItems[T](v)
	for i := range items {
		items[i] = copyOf(h.store, items[i])
	}

	return items
}

// Observe calls onChange with the bound values before it returns, then after
// every committed change of the anchor or its content.
func (h AnchorCollectionHandle[T]) Observe(ctx context.Context, onChange func([]T)) (*Subscription, error) {
	return h.store.observe(ctx, []entity.Identity{anchorIdentity(h.name)}, nil, func(values []any) {
		onChange(allItems[T](values[0]))
	})
}

func (s *EntityStore) checkAnchor(ctx context.Context, name string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	if name == "" {
		return ErrEmptyAnchorName
	}

	return ctx.Err()
}

// firstItem returns the first content item of an anchor value as T.
func firstItem[T any](id entity.Identity, v any) (T, bool, error) {
	var zero T

	a, ok := v.(anchor)
	if !ok || len(a.items) == 0 {
		return zero, false, nil
	}

	t, err := castValue[T](id, a.items[0])
	if err != nil {
		return zero, false, err
	}

	return t, true, nil
}

func allItems[T any](v any) []T {
	a, ok := v.(anchor)
	if !ok || len(a.items) == 0 {
		return nil
	}

	out := make([]T, 0, len(a.items))

	for _, item := range a.items {
		if t, ok := item.(T); ok {
			out = append(out, t)
		}
	}

	return out
}

// restorable is a value a handle saw, with the stamp it was stored under.
type restorable struct {
	value entity.Entity
	stamp entity.Stamp
}

// observe subscribes cb to targets and runs the initial delivery on the
// calling goroutine before it returns. Targets missing from the table are
// restored from fallback unless a newer stamp of theirs was retained;
// anchors are created empty.
//
// The initial delivery is skipped when a concurrent writer already delivered
// a newer value to the subscription, so cb never sees values out of order.
func (s *EntityStore) observe(ctx context.Context, targets []entity.Identity, fallback []restorable, cb observer.Callback) (*Subscription, error) {
	var (
		sub     *observer.Subscription
		initial observer.Delivery
	)

	_, err := s.transact(ctx, OpObserve, func(tx *txn) error {
		for i, id := range targets {
			n, created := s.table.GetOrCreate(id, s.codecFor(id.Type))
			if !created || i >= len(fallback) || fallback[i].value == nil {
				continue
			}

			snap := fallback[i]
			if n.Stamp().After(snap.stamp) {
				s.log.Debugw("not restoring stale handle value", "entity", id.String(),
					"stamp", snap.stamp.String(), "retained", n.Stamp().String())

				continue
			}

			plan, err := s.plan([]entity.Entity{snap.value}, "", false)
			if err != nil {
				return err
			}

			stamp := snap.stamp
			if !n.Stamp().Accepts(stamp) {
				// Same stamp as the retained one: the snapshot is current.
				stamp = entity.NoStamp
			}

			if _, err := tx.write(plan.roots[0], stamp, true); err != nil {
				return err
			}
		}

		tx.onCommit = append(tx.onCommit, func() {
			sub, initial = s.registry.Subscribe(targets, cb)
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("observe: %w", err)
	}

	initial.Deliver()

	return sub, nil
}
