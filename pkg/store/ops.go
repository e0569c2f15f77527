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
	"fmt"

	"github.com/united-manufacturing-hub/normcache/pkg/entity"
)

// WriteOption customizes a write.
type WriteOption func(*writeOptions)

type writeOptions struct {
	stamp  entity.Stamp
	anchor string
}

// WithStamp orders the write. A node only accepts a stamped write whose stamp
// is strictly newer than the one it holds; unstamped writes always apply.
// The stamp applies to every nested entity of the written value.
func WithStamp(stamp entity.Stamp) WriteOption {
	return func(o *writeOptions) { o.stamp = stamp }
}

// WithAnchor additionally binds the written value to the anchor name,
// replacing whatever the anchor held before. The anchor retains its content
// until RemoveAlias.
func WithAnchor(name string) WriteOption {
	return func(o *writeOptions) { o.anchor = name }
}

func collectOptions(opts []WriteOption) writeOptions {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

func toEntities[T entity.Entity](values []T) []entity.Entity {
	out := make([]entity.Entity, len(values))
	for i, v := range values {
		out[i] = v
	}

	return out
}

// Save stores value and all of its nested entities in one transaction.
//
// If the stamp of value is rejected, the returned error wraps
// entity.ErrStampTooOld and the handle refers to the value already stored.
// Rejections of nested entities are reported to Diagnostics only.
func Save[T entity.Entity](ctx context.Context, s *EntityStore, value T, opts ...WriteOption) (Handle[T], error) {
	o := collectOptions(opts)
	value = copyOf(s, value)

	plan, err := s.plan([]entity.Entity{value}, o.anchor, false)
	if err != nil {
		reportConfigError(s, OpSave, err)

		return Handle[T]{}, fmt.Errorf("save: %w", err)
	}

	id := plan.roots[0].id
	snapshot, stamp := value, o.stamp

	tx, err := s.transact(ctx, OpSave, func(tx *txn) error {
		if err := tx.apply(plan, o.stamp); err != nil {
			return err
		}

		snapshot, stamp = currentOr(tx, id, snapshot, stamp)

		return nil
	})
	if err != nil {
		return Handle[T]{}, fmt.Errorf("save %s: %w", id, err)
	}

	return Handle[T]{store: s, identity: id, snapshot: snapshot, stamp: stamp}, tx.rootError(plan.rootIDs())
}

// SaveAll stores values in one transaction. Identities repeated across values
// are written once, at their first occurrence. The returned error joins the
// stamp rejections of values.
func SaveAll[T entity.Entity](ctx context.Context, s *EntityStore, values []T, opts ...WriteOption) (CollectionHandle[T], error) {
	o := collectOptions(opts)

	copied := make([]T, len(values))
	for i, v := range values {
		copied[i] = copyOf(s, v)
	}

	plan, err := s.plan(toEntities(copied), o.anchor, true)
	if err != nil {
		reportConfigError(s, OpSaveAll, err)

		return CollectionHandle[T]{}, fmt.Errorf("save all: %w", err)
	}

	ids := plan.rootIDs()
	stamps := make([]entity.Stamp, len(ids))

	tx, err := s.transact(ctx, OpSaveAll, func(tx *txn) error {
		if err := tx.apply(plan, o.stamp); err != nil {
			return err
		}

		for i, id := range ids {
			copied[i], stamps[i] = currentOr(tx, id, copied[i], o.stamp)
		}

		return nil
	})
	if err != nil {
		return CollectionHandle[T]{}, fmt.Errorf("save all: %w", err)
	}

	return CollectionHandle[T]{store: s, identities: ids, snapshot: copied, stamps: stamps}, tx.rootError(ids)
}

// SaveIfPresent is Save for entities the store already retains. For any other
// entity it returns false without writing or notifying anything.
func SaveIfPresent[T entity.Entity](ctx context.Context, s *EntityStore, value T, opts ...WriteOption) (Handle[T], bool, error) {
	o := collectOptions(opts)
	value = copyOf(s, value)

	plan, err := s.plan([]entity.Entity{value}, o.anchor, false)
	if err != nil {
		reportConfigError(s, OpSaveIfPresent, err)

		return Handle[T]{}, false, fmt.Errorf("save if present: %w", err)
	}

	id := plan.roots[0].id
	snapshot, stamp := value, o.stamp
	present := false

	tx, err := s.transact(ctx, OpSaveIfPresent, func(tx *txn) error {
		if _, ok := s.table.Get(id); !ok {
			return nil
		}

		if !s.table.IsRetained(id) {
			s.collect(id)

			return nil
		}

		present = true

		if err := tx.apply(plan, o.stamp); err != nil {
			return err
		}

		snapshot, stamp = currentOr(tx, id, snapshot, stamp)

		return nil
	})
	if err != nil {
		return Handle[T]{}, false, fmt.Errorf("save if present %s: %w", id, err)
	}

	if !present {
		return Handle[T]{}, false, nil
	}

	return Handle[T]{store: s, identity: id, snapshot: snapshot, stamp: stamp}, true, tx.rootError(plan.rootIDs())
}

// Find returns a handle to the entity id if the store retains it. It never
// creates a node; an unretained node is reclaimed and reported as absent.
func Find[T entity.Entity](ctx context.Context, s *EntityStore, id entity.Identity) (Handle[T], bool, error) {
	found, err := s.lookupAll(ctx, []entity.Identity{id})
	if err != nil {
		return Handle[T]{}, false, err
	}

	if found[0].value == nil {
		return Handle[T]{}, false, nil
	}

	v, err := castValue[T](id, found[0].value)
	if err != nil {
		return Handle[T]{}, false, err
	}

	return Handle[T]{store: s, identity: id, snapshot: v, stamp: found[0].stamp}, true, nil
}

// FindAll returns a handle over those of ids the store retains, in the
// order given.
func FindAll[T entity.Entity](ctx context.Context, s *EntityStore, ids []entity.Identity) (CollectionHandle[T], error) {
	found, err := s.lookupAll(ctx, ids)
	if err != nil {
		return CollectionHandle[T]{}, err
	}

	h := CollectionHandle[T]{store: s}

	for i, f := range found {
		if f.value == nil {
			continue
		}

		t, err := castValue[T](ids[i], f.value)
		if err != nil {
			return CollectionHandle[T]{}, err
		}

		h.identities = append(h.identities, ids[i])
		h.snapshot = append(h.snapshot, t)
		h.stamps = append(h.stamps, f.stamp)
	}

	return h, nil
}

// FindAnchor returns a handle to the single value bound to name. It succeeds
// whether or not the anchor is set; observers see later writes to it.
func FindAnchor[T entity.Entity](ctx context.Context, s *EntityStore, name string) (AnchorHandle[T], error) {
	if err := s.checkAnchor(ctx, name); err != nil {
		return AnchorHandle[T]{}, err
	}

	return AnchorHandle[T]{store: s, name: name}, nil
}

// FindAnchorAll is FindAnchor for anchors written by SaveAll.
func FindAnchorAll[T entity.Entity](ctx context.Context, s *EntityStore, name string) (AnchorCollectionHandle[T], error) {
	if err := s.checkAnchor(ctx, name); err != nil {
		return AnchorCollectionHandle[T]{}, err
	}

	return AnchorCollectionHandle[T]{store: s, name: name}, nil
}

// Update applies mutate to a copy of the current value of id and writes the
// result through the normal write path. It returns false without calling
// mutate when the store does not retain id. mutate runs under the writer
// barrier and must not use the store.
func Update[T entity.Entity](ctx context.Context, s *EntityStore, id entity.Identity, mutate func(*T), opts ...WriteOption) (bool, error) {
	o := collectOptions(opts)

	var (
		found bool
		plan  *writePlan
	)

	tx, err := s.transact(ctx, OpUpdate, func(tx *txn) error {
		n, ok := s.table.Get(id)
		if !ok || !n.HasValue() {
			return nil
		}

		if !s.table.IsRetained(id) {
			s.collect(id)

			return nil
		}

		current, err := castValue[T](id, n.Value())
		if err != nil {
			return err
		}

		current = copyOf(s, current)
		mutate(&current)
		found = true

		if current.Identity() != id {
			return fmt.Errorf("%w: mutator changed %s into %s", entity.ErrInvalidIdentity, id, current.Identity())
		}

		plan, err = s.plan([]entity.Entity{current}, o.anchor, false)
		if err != nil {
			return err
		}

		return tx.apply(plan, o.stamp)
	})
	if err != nil {
		reportConfigError(s, OpUpdate, err)

		return false, fmt.Errorf("update %s: %w", id, err)
	}

	if !found {
		return false, nil
	}

	return true, tx.rootError(plan.rootIDs())
}

// UpdateAnchor is Update for the single value bound to name. The anchor
// keeps pointing at the mutated value.
func UpdateAnchor[T entity.Entity](ctx context.Context, s *EntityStore, name string, mutate func(*T), opts ...WriteOption) (bool, error) {
	o := collectOptions(opts)

	var (
		found bool
		plan  *writePlan
	)

	tx, err := s.transact(ctx, OpUpdateAnchor, func(tx *txn) error {
		id, ok := s.aliases.lookup(name)
		if !ok {
			return nil
		}

		n, ok := s.table.Get(id)
		if !ok {
			return nil
		}

		current, ok, err := firstItem[T](id, n.Value())
		if err != nil || !ok {
			return err
		}

		current = copyOf(s, current)
		mutate(&current)
		found = true

		plan, err = s.plan([]entity.Entity{current}, name, false)
		if err != nil {
			return err
		}

		return tx.apply(plan, o.stamp)
	})
	if err != nil {
		reportConfigError(s, OpUpdateAnchor, err)

		return false, fmt.Errorf("update anchor %q: %w", name, err)
	}

	if !found {
		return false, nil
	}

	return true, tx.rootError(plan.rootIDs())
}

// currentOr returns the stored value of id as T with the stamp it is stored
// under, or fallback with stamp.
func currentOr[T any](tx *txn, id entity.Identity, fallback T, stamp entity.Stamp) (T, entity.Stamp) {
	n, ok := tx.written[id]
	if !ok || !n.HasValue() {
		return fallback, stamp
	}

	if v, ok := n.Value().(T); ok {
		return v, n.Stamp()
	}

	return fallback, stamp
}
