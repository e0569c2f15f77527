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
	"context"
	"reflect"

	"github.com/google/uuid"

	"github.com/united-manufacturing-hub/normcache/pkg/entity"
	"github.com/united-manufacturing-hub/normcache/pkg/graph"
	"github.com/united-manufacturing-hub/normcache/pkg/metrics"
)

// Batch is the outcome of one drain.
type Batch struct {
	TxID uuid.UUID
	Seq  uint64
	// Changed lists the nodes whose value changed, children before parents.
	Changed []entity.Identity
	// Deliveries holds at most one entry per subscription.
	Deliveries []Delivery
	// Errors collects recomposition failures. They indicate a model that
	// does not match its descriptor; the affected parent keeps its old value.
	Errors []error
}

// Drain propagates the pending changes to every ancestor and prepares the
// notifications of the transaction.
//
// Nodes are visited children first, so a parent is recomposed only after all
// of its changed children hold their final value. A node reached only through
// propagation counts as changed when its recomposed value differs from the
// previous one; enqueued nodes always count as changed. Each subscription is
// notified once, however many of its nodes changed.
func (r *Registry) Drain(ctx context.Context) (*Batch, error) {
	if err := r.transition(ctx, EventDrain); err != nil {
		return nil, err
	}

	batch := &Batch{TxID: r.txID, Seq: r.seq + 1}

	changed := make(map[entity.Identity]struct{}, len(r.order))

	for _, id := range r.bottomUp() {
		n, ok := r.table.Get(id)
		if !ok {
			continue
		}

		_, direct := r.pending[id]

		if r.refresh(n, changed, batch) || direct {
			changed[id] = struct{}{}
			batch.Changed = append(batch.Changed, id)
		}
	}

	scheduled := make(map[uuid.UUID]struct{})

	for _, id := range batch.Changed {
		for _, sub := range sortedSubs(r.watchers[id]) {
			if _, done := scheduled[sub.id]; done {
				continue
			}

			scheduled[sub.id] = struct{}{}
			batch.Deliveries = append(batch.Deliveries, Delivery{
				sub:    sub,
				values: r.snapshot(sub.targets),
				seq:    batch.Seq,
			})
		}
	}

	r.seq = batch.Seq
	metrics.AddNotifications(r.name, len(batch.Deliveries))

	if err := r.transition(ctx, EventFinish); err != nil {
		return batch, err
	}

	return batch, nil
}

// refresh writes the values of changed children into n. It reports whether
// the value of n differs afterwards.
func (r *Registry) refresh(n *graph.Node, changed map[entity.Identity]struct{}, batch *Batch) bool {
	if !n.HasValue() {
		return false
	}

	before := n.Value()
	applied := false

	for key, childID := range n.Children() {
		if _, ok := changed[childID]; !ok {
			continue
		}

		child, ok := r.table.Get(childID)
		if !ok || !child.HasValue() {
			continue
		}

		if err := n.ApplyChildChange(key, child.Value()); err != nil {
			batch.Errors = append(batch.Errors, err)

			continue
		}

		applied = true
	}

	return applied && !reflect.DeepEqual(before, n.Value())
}

// bottomUp returns the pending nodes and all of their ancestors so that every
// node comes before its parents. Cycles are broken at the first revisit.
func (r *Registry) bottomUp() []entity.Identity {
	visited := make(map[entity.Identity]struct{})

	var post []entity.Identity

	var visit func(id entity.Identity)

	visit = func(id entity.Identity) {
		if _, seen := visited[id]; seen {
			return
		}

		visited[id] = struct{}{}

		n, ok := r.table.Get(id)
		if !ok {
			return
		}

		for _, parent := range n.Parents() {
			visit(parent)
		}

		post = append(post, id)
	}

	for _, id := range r.order {
		visit(id)
	}

	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}

	return post
}
