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

package graph

import (
	"sort"

	"github.com/united-manufacturing-hub/normcache/pkg/entity"
	"github.com/united-manufacturing-hub/normcache/pkg/schema"
)

// Node owns the current value of one entity and its position in the graph.
//
// Links between nodes are identities, never pointers: the Table is the arena
// that resolves them. Node fields are not synchronized; every mutation
// happens inside the owning store's write transaction.
type Node struct {
	identity entity.Identity
	codec    schema.Codec

	value any
	stamp entity.Stamp

	// children records which child occupies which slot of value.
	children map[schema.FieldKey]entity.Identity
	// parents counts, per parent, how many slots of that parent hold this node.
	parents   map[entity.Identity]int
	aliases   map[string]struct{}
	observers int
}

// NewNode creates an empty node. codec may be nil for leaf types.
func NewNode(identity entity.Identity, codec schema.Codec) *Node {
	return &Node{
		identity: identity,
		codec:    codec,
		children: make(map[schema.FieldKey]entity.Identity),
		parents:  make(map[entity.Identity]int),
		aliases:  make(map[string]struct{}),
	}
}

func (n *Node) Identity() entity.Identity { return n.identity }
func (n *Node) Codec() schema.Codec       { return n.codec }
func (n *Node) Value() any                { return n.value }
func (n *Node) Stamp() entity.Stamp       { return n.stamp }
func (n *Node) ObserverCount() int        { return n.observers }

// HasValue reports whether a value was ever written to the node.
func (n *Node) HasValue() bool {
	return n.value != nil
}

// UpdateValue applies value if stamp is unset or newer than the stored stamp.
// Otherwise the node is left untouched and a *entity.StampError is returned.
func (n *Node) UpdateValue(value any, stamp entity.Stamp) error {
	if !n.stamp.Accepts(stamp) {
		return &entity.StampError{Identity: n.identity, Current: n.stamp, Received: stamp}
	}

	n.value = value
	n.stamp = n.stamp.Max(stamp)

	return nil
}

// ApplyChildChange writes a child's value into the slot it occupies.
func (n *Node) ApplyChildChange(field schema.FieldKey, childValue any) error {
	if n.codec == nil {
		return nil
	}

	updated, err := n.codec.RecomposeValue(n.value, map[schema.FieldKey]any{field: childValue})
	if err != nil {
		return err
	}

	n.value = updated

	return nil
}

// Nullify replaces the value with the type's empty representation.
// It reports false when the type has none.
func (n *Node) Nullify() bool {
	if n.codec == nil || n.value == nil {
		return false
	}

	empty, ok := n.codec.NullifyValue(n.value)
	if !ok {
		return false
	}

	n.value = empty

	return true
}

// Children returns a copy of the slot to child mapping.
func (n *Node) Children() map[schema.FieldKey]entity.Identity {
	out := make(map[schema.FieldKey]entity.Identity, len(n.children))
	for k, v := range n.children {
		out[k] = v
	}

	return out
}

// Parents returns the parent identities in a stable order.
func (n *Node) Parents() []entity.Identity {
	out := make([]entity.Identity, 0, len(n.parents))
	for p := range n.parents {
		out = append(out, p)
	}

	sortIdentities(out)

	return out
}

// Aliases returns the anchor names referencing the node, sorted.
func (n *Node) Aliases() []string {
	out := make([]string, 0, len(n.aliases))
	for a := range n.aliases {
		out = append(out, a)
	}

	sort.Strings(out)

	return out
}

// HasParents reports whether any parent currently links the node.
func (n *Node) HasParents() bool { return len(n.parents) > 0 }

// HasAliases reports whether any anchor references the node.
func (n *Node) HasAliases() bool { return len(n.aliases) > 0 }

// AddAlias records an anchor referencing the node.
func (n *Node) AddAlias(name string) { n.aliases[name] = struct{}{} }

// RemoveAlias drops an anchor. It reports whether the anchor was present.
func (n *Node) RemoveAlias(name string) bool {
	if _, ok := n.aliases[name]; !ok {
		return false
	}

	delete(n.aliases, name)

	return true
}

// Retain increments the observer count.
func (n *Node) Retain() { n.observers++ }

// Release decrements the observer count, never below zero.
func (n *Node) Release() {
	if n.observers > 0 {
		n.observers--
	}
}

// childSlots returns the slots of n occupied by child, sorted.
func (n *Node) childSlots(child entity.Identity) []schema.FieldKey {
	var slots []schema.FieldKey

	for k, id := range n.children {
		if id == child {
			slots = append(slots, k)
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Name != slots[j].Name {
			return slots[i].Name < slots[j].Name
		}

		return slots[i].Index < slots[j].Index
	})

	return slots
}

func sortIdentities(ids []entity.Identity) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}
