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
	"sort"
	"sync"

	"github.com/united-manufacturing-hub/normcache/pkg/constants"
	"github.com/united-manufacturing-hub/normcache/pkg/entity"
	"github.com/united-manufacturing-hub/normcache/pkg/graph"
	"github.com/united-manufacturing-hub/normcache/pkg/schema"
)

// anchor is the container stored behind a named alias. It is an ordinary
// entity with one collection field, so anchors go through the same write,
// propagation and notification path as every other aggregate.
type anchor struct {
	name  string
	items []entity.Entity
	// many marks containers written by SaveAll.
	many bool
}

func newAnchor(name string, items []entity.Entity, many bool) anchor {
	return anchor{name: name, items: append([]entity.Entity(nil), items...), many: many}
}

func (a anchor) Identity() entity.Identity { return anchorIdentity(a.name) }

func (a anchor) copyWith(copyValue func(any) any) anchor {
	out := anchor{name: a.name, many: a.many, items: make([]entity.Entity, len(a.items))}

	for i, item := range a.items {
		if c, ok := copyValue(item).(entity.Entity); ok {
			out.items[i] = c
		} else {
			out.items[i] = item
		}
	}

	return out
}

func anchorIdentity(name string) entity.Identity {
	return entity.NewIdentity(constants.AnchorType, name)
}

// anchorCodec decomposes anchors. Removing an alias nullifies the container,
// which observers see as the anchor becoming empty.
var anchorCodec = schema.MustDescriptor[anchor](constants.AnchorType,
	schema.Many("content",
		func(a anchor) []entity.Entity { return a.items },
		func(a anchor, items []entity.Entity) anchor { a.items = items; return a }),
).WithNullify(func(a anchor) anchor { return anchor{name: a.name, many: a.many} })

// aliasTable maps anchor names to the identity of their container.
type aliasTable struct {
	mu    sync.RWMutex
	names map[string]entity.Identity
}

func newAliasTable() *aliasTable {
	return &aliasTable{names: make(map[string]entity.Identity)}
}

// register reports whether name was not registered before.
func (t *aliasTable) register(name string, id entity.Identity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, exists := t.names[name]
	t.names[name] = id

	return !exists
}

func (t *aliasTable) unregister(name string) (entity.Identity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.names[name]
	delete(t.names, name)

	return id, ok
}

func (t *aliasTable) lookup(name string) (entity.Identity, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.names[name]

	return id, ok
}

// list returns the registered names, sorted.
func (t *aliasTable) list() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.names))
	for name := range t.names {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

// Aliases returns the names of all registered anchors, sorted.
func (s *EntityStore) Aliases() []string {
	return s.aliases.list()
}

// RemoveAlias unregisters the anchor name. A single value whose type has an
// empty representation (schema.Descriptor.WithNullify) is overwritten with
// it; any other container is emptied. Either way the change is propagated,
// so observers of the anchor are told about the removal. The former content is no longer retained by the anchor. It
// reports whether the anchor existed.
func (s *EntityStore) RemoveAlias(ctx context.Context, name string) (bool, error) {
	var removed bool

	_, err := s.transact(ctx, OpRemoveAlias, func(tx *txn) error {
		ok, err := tx.removeAlias(name)
		removed = ok

		return err
	})
	if err != nil {
		return false, fmt.Errorf("remove alias %q: %w", name, err)
	}

	return removed, nil
}

// RemoveAllAliases unregisters every anchor in one transaction and returns
// the removed names.
func (s *EntityStore) RemoveAllAliases(ctx context.Context) ([]string, error) {
	var removed []string

	_, err := s.transact(ctx, OpRemoveAlias, func(tx *txn) error {
		for _, name := range s.aliases.list() {
			ok, err := tx.removeAlias(name)
			if err != nil {
				return err
			}

			if ok {
				removed = append(removed, name)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("remove all aliases: %w", err)
	}

	return removed, nil
}

func (tx *txn) removeAlias(name string) (bool, error) {
	s := tx.store

	id, ok := s.aliases.unregister(name)
	if !ok {
		return false, nil
	}

	tx.aliasRemoved = append(tx.aliasRemoved, name)

	n, ok := s.table.Get(id)
	if !ok {
		return true, nil
	}

	n.RemoveAlias(name)

	done, err := tx.nullifyContent(n)
	if err != nil || done {
		return true, err
	}

	s.table.UnlinkAllChildren(n)

	if n.Nullify() {
		if err := tx.enqueue(id); err != nil {
			return true, err
		}
	}

	return true, nil
}

// nullifyContent handles the removal of a single-value anchor whose content
// type has an empty representation: the content is overwritten with it
// through the normal write path and the detached container keeps the result.
// It reports false when the content has no such representation.
func (tx *txn) nullifyContent(container *graph.Node) (bool, error) {
	s := tx.store

	a, ok := container.Value().(anchor)
	if !ok || a.many || len(a.items) != 1 || a.items[0] == nil {
		return false, nil
	}

	contentID := a.items[0].Identity()

	codec := s.codecFor(contentID.Type)
	if codec == nil {
		return false, nil
	}

	current := any(a.items[0])
	if cn, ok := s.table.Get(contentID); ok && cn.HasValue() {
		current = cn.Value()
	}

	empty, ok := codec.NullifyValue(current)
	if !ok {
		return false, nil
	}

	value, ok := empty.(entity.Entity)
	if !ok {
		return false, nil
	}

	plan, err := s.plan([]entity.Entity{value}, "", false)
	if err != nil {
		return false, err
	}

	content, err := tx.write(plan.roots[0], entity.NoStamp, false)
	if err != nil {
		return false, err
	}

	s.table.UnlinkAllChildren(container)

	nullified := a
	if content.HasValue() {
		if e, ok := content.Value().(entity.Entity); ok {
			nullified = newAnchor(a.name, []entity.Entity{e}, false)
		}
	}

	if err := container.UpdateValue(nullified, entity.NoStamp); err != nil {
		return false, err
	}

	return true, tx.enqueue(container.Identity())
}
