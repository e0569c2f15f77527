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

	"github.com/united-manufacturing-hub/normcache/pkg/constants"
	"github.com/united-manufacturing-hub/normcache/pkg/entity"
	"github.com/united-manufacturing-hub/normcache/pkg/graph"
	"github.com/united-manufacturing-hub/normcache/pkg/metrics"
	"github.com/united-manufacturing-hub/normcache/pkg/observer"
	"github.com/united-manufacturing-hub/normcache/pkg/schema"
)

// plannedEntity is one entity of a write, validated and decomposed before
// the barrier is taken. An identity that occurs several times in one write
// is planned once, at its first occurrence.
type plannedEntity struct {
	id       entity.Identity
	value    any
	codec    schema.Codec
	children []plannedChild
}

type plannedChild struct {
	key   schema.FieldKey
	entry *plannedEntity
}

// writePlan is everything one Save, SaveAll or Update writes.
type writePlan struct {
	// roots are the values handed in by the caller, in order.
	roots []*plannedEntity
	// container wraps roots when the write targets an anchor.
	container *plannedEntity
	anchor    string
}

func (p *writePlan) rootIDs() []entity.Identity {
	ids := make([]entity.Identity, len(p.roots))
	for i, r := range p.roots {
		ids[i] = r.id
	}

	return ids
}

type planner struct {
	store *EntityStore
	seen  map[entity.Identity]*plannedEntity
}

// plan validates the identities and field conversions of values. Nothing is
// mutated, so a failing plan leaves the store untouched.
func (s *EntityStore) plan(values []entity.Entity, anchorName string, many bool) (*writePlan, error) {
	p := &planner{store: s, seen: make(map[entity.Identity]*plannedEntity)}
	wp := &writePlan{anchor: anchorName}

	if anchorName != "" {
		container, err := p.visit(newAnchor(anchorName, values, many))
		if err != nil {
			return nil, err
		}

		wp.container = container
	}

	for _, v := range values {
		entry, err := p.visit(v)
		if err != nil {
			return nil, err
		}

		wp.roots = append(wp.roots, entry)
	}

	return wp, nil
}

func (p *planner) visit(value entity.Entity) (*plannedEntity, error) {
	if value == nil {
		return nil, fmt.Errorf("%w: nil entity", entity.ErrInvalidIdentity)
	}

	id := value.Identity()
	if err := id.Validate(); err != nil {
		return nil, err
	}

	if e, ok := p.seen[id]; ok {
		return e, nil
	}

	e := &plannedEntity{id: id, value: value, codec: p.store.codecFor(id.Type)}
	p.seen[id] = e

	if e.codec == nil {
		return e, nil
	}

	parts, err := e.codec.DecomposeValue(value)
	if err != nil {
		return nil, err
	}

	if len(parts) == 0 {
		return e, nil
	}

	// Catches setters that cannot take back what their getters returned.
	if _, err := e.codec.RecomposeValue(value, schema.Updates(parts)); err != nil {
		return nil, err
	}

	for _, part := range parts {
		child, err := p.visit(part.Value)
		if err != nil {
			return nil, err
		}

		e.children = append(e.children, plannedChild{key: part.Key, entry: child})
	}

	return e, nil
}

// txn carries the state of one write transaction. It only lives while the
// writer barrier is held.
type txn struct {
	ctx       context.Context
	store     *EntityStore
	operation string

	begun   bool
	written map[entity.Identity]*graph.Node
	stored  []entity.Identity

	rejected     map[entity.Identity]error
	rejectOrder  []entity.Identity
	configErrors []error
	aliasAdded   []string
	aliasRemoved []string

	onCommit []func()
}

func newTxn(ctx context.Context, s *EntityStore, operation string) *txn {
	return &txn{
		ctx:       ctx,
		store:     s,
		operation: operation,
		written:   make(map[entity.Identity]*graph.Node),
		rejected:  make(map[entity.Identity]error),
	}
}

// begin starts the observer transaction on first use, so that operations
// which end up writing nothing never start one.
func (tx *txn) begin() error {
	if tx.begun {
		return nil
	}

	if err := tx.store.registry.Begin(context.WithoutCancel(tx.ctx)); err != nil {
		return err
	}

	tx.begun = true

	return nil
}

func (tx *txn) enqueue(id entity.Identity) error {
	if err := tx.begin(); err != nil {
		return err
	}

	return tx.store.registry.Enqueue(id)
}

// apply writes a plan with stamp.
func (tx *txn) apply(p *writePlan, stamp entity.Stamp) error {
	if p.container != nil {
		n, err := tx.write(p.container, stamp, false)
		if err != nil {
			return err
		}

		n.AddAlias(p.anchor)

		if tx.store.aliases.register(p.anchor, n.Identity()) {
			tx.aliasAdded = append(tx.aliasAdded, p.anchor)
		}

		return nil
	}

	for _, root := range p.roots {
		if _, err := tx.write(root, stamp, false); err != nil {
			return err
		}
	}

	return nil
}

// write stores e and its nested entities, children first, and links them.
// A stamp rejection leaves the node and everything below it untouched and
// is recorded, not returned. With keepStored, nodes that already hold a
// value are linked as they are.
func (tx *txn) write(e *plannedEntity, stamp entity.Stamp, keepStored bool) (*graph.Node, error) {
	if n, ok := tx.written[e.id]; ok {
		return n, nil
	}

	if err := tx.begin(); err != nil {
		return nil, err
	}

	table := tx.store.table

	n, created := table.GetOrCreate(e.id, e.codec)
	tx.written[e.id] = n

	if keepStored && !created && n.HasValue() {
		return n, nil
	}

	// Anchors are name bindings; the last write wins.
	if e.id.Type == constants.AnchorType {
		stamp = entity.NoStamp
	}

	if !n.Stamp().Accepts(stamp) {
		tx.reject(&entity.StampError{Identity: e.id, Current: n.Stamp(), Received: stamp})

		return n, nil
	}

	table.UnlinkAllChildren(n)

	updates := make(map[schema.FieldKey]any, len(e.children))

	for _, c := range e.children {
		child, err := tx.write(c.entry, stamp, keepStored)
		if err != nil {
			return nil, err
		}

		table.Link(n, c.key, child)

		// The stored child wins over the copy embedded in e.
		if child.HasValue() && child != n {
			updates[c.key] = child.Value()
		}
	}

	value := e.value

	if len(updates) > 0 {
		recomposed, err := e.codec.RecomposeValue(value, updates)
		if err != nil {
			tx.configErrors = append(tx.configErrors, err)
		} else {
			value = recomposed
		}
	}

	if err := n.UpdateValue(value, stamp); err != nil {
		tx.reject(err)

		return n, nil
	}

	if err := tx.enqueue(e.id); err != nil {
		return nil, err
	}

	tx.stored = append(tx.stored, e.id)

	return n, nil
}

func (tx *txn) reject(err error) {
	var stampErr *entity.StampError
	if !errors.As(err, &stampErr) {
		return
	}

	if _, dup := tx.rejected[stampErr.Identity]; !dup {
		tx.rejectOrder = append(tx.rejectOrder, stampErr.Identity)
	}

	tx.rejected[stampErr.Identity] = err
}

// rootError joins the rejections of the given identities.
func (tx *txn) rootError(ids []entity.Identity) error {
	var errs []error

	seen := make(map[entity.Identity]struct{}, len(ids))

	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}

		seen[id] = struct{}{}

		if err, ok := tx.rejected[id]; ok {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// report forwards the outcome of a committed transaction to diagnostics,
// metrics and error reporting. It runs after the barrier was released.
func (tx *txn) report(batch *observer.Batch) {
	s := tx.store

	for _, id := range tx.stored {
		if id.Type != constants.AnchorType {
			s.diag.DidStore(id)
		}
	}

	for _, id := range tx.rejectOrder {
		err := tx.rejected[id]

		metrics.IncStampRejection(s.name, string(id.Type))
		s.diag.DidFailToStore(id, err)
		s.log.Debugw("stale write rejected", "operation", tx.operation, "entity", id.String(), "error", err)
	}

	for _, name := range tx.aliasAdded {
		s.diag.DidRegisterAlias(name)
	}

	for _, name := range tx.aliasRemoved {
		s.diag.DidUnregisterAlias(name)
	}

	errs := tx.configErrors
	if batch != nil {
		errs = append(errs, batch.Errors...)
	}

	for _, err := range errs {
		reportConfigError(s, tx.operation, err)
	}
}
