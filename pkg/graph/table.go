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

// Package graph holds the node arena of the normalized cache.
//
// The Table owns every Node, addressed by entity.Identity. Nodes reference
// each other only through identities, so parent/child cycles never become
// pointer cycles. Reclamation is reference driven:
//
//   - A node is retained while it has observers, is referenced by an anchor,
//     or is linked as a child of a retained node.
//   - Unretained nodes stay in the table until the next access that finds
//     them unretained (Collect) or an explicit Compact sweep.
//
// Table methods that touch more than one shard, and every Node mutation, must
// run inside the caller's write transaction. Get and GetOrCreate are safe for
// concurrent use on their own.
package graph

import (
	"fmt"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"

	"github.com/united-manufacturing-hub/normcache/pkg/constants"
	"github.com/united-manufacturing-hub/normcache/pkg/entity"
	"github.com/united-manufacturing-hub/normcache/pkg/schema"
)

// Options configures a Table.
type Options struct {
	// Shards is the number of independently locked partitions. Zero selects
	// constants.DefaultNodeTableShards.
	Shards int
	// StampRetention keeps the last accepted stamp of a reclaimed node for
	// this long, so a recreated node still rejects stale writes. Zero disables it.
	StampRetention time.Duration
}

type shard struct {
	mu    sync.RWMutex
	nodes map[entity.Identity]*Node
}

// Table is the arena of graph nodes.
type Table struct {
	shards    []*shard
	retention *expiremap.ExpireMap[string, entity.Stamp]
}

// NewTable creates an empty table.
func NewTable(opts Options) *Table {
	n := opts.Shards
	if n <= 0 {
		n = constants.DefaultNodeTableShards
	}

	t := &Table{shards: make([]*shard, n)}
	for i := range t.shards {
		t.shards[i] = &shard{nodes: make(map[entity.Identity]*Node)}
	}

	if opts.StampRetention > 0 {
		t.retention = expiremap.NewEx[string, entity.Stamp](opts.StampRetention, opts.StampRetention)
	}

	return t
}

func (t *Table) shardFor(id entity.Identity) *shard {
	return t.shards[id.Hash()%uint64(len(t.shards))]
}

// retentionKey includes the dynamic id type so that user/1 and user/"1" differ.
func retentionKey(id entity.Identity) string {
	return fmt.Sprintf("%s/%T/%v", id.Type, id.ID, id.ID)
}

// Get returns the node for id without creating it.
func (t *Table) Get(id entity.Identity) (*Node, bool) {
	s := t.shardFor(id)

	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]

	return n, ok
}

// GetOrCreate returns the node for id, creating it if absent. Two callers
// racing on the same identity always receive the same node. created reports
// whether this call made the node.
func (t *Table) GetOrCreate(id entity.Identity, codec schema.Codec) (node *Node, created bool) {
	s := t.shardFor(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.nodes[id]; ok {
		return n, false
	}

	n := NewNode(id, codec)

	if t.retention != nil {
		if stamp, ok := t.retention.Load(retentionKey(id)); ok {
			n.stamp = *stamp
		}
	}

	s.nodes[id] = n

	return n, true
}

// Remove drops the node for id. Links are not touched; use Collect to
// reclaim a node together with its bookkeeping.
func (t *Table) Remove(id entity.Identity) {
	s := t.shardFor(id)

	s.mu.Lock()
	n, ok := s.nodes[id]
	delete(s.nodes, id)
	s.mu.Unlock()

	if ok && t.retention != nil && n.stamp.IsSet() {
		t.retention.Set(retentionKey(id), n.stamp)
	}
}

// Len returns the number of nodes currently held, retained or not.
func (t *Table) Len() int {
	total := 0

	for _, s := range t.shards {
		s.mu.RLock()
		total += len(s.nodes)
		s.mu.RUnlock()
	}

	return total
}

// Range calls fn for every node until fn returns false. The node set is
// copied per shard before fn runs, so fn may call back into the table.
func (t *Table) Range(fn func(*Node) bool) {
	for _, s := range t.shards {
		s.mu.RLock()
		nodes := make([]*Node, 0, len(s.nodes))

		for _, n := range s.nodes {
			nodes = append(nodes, n)
		}
		s.mu.RUnlock()

		for _, n := range nodes {
			if !fn(n) {
				return
			}
		}
	}
}

// Link records that child occupies slot key of parent. A different child
// previously in that slot loses its back-reference to parent.
func (t *Table) Link(parent *Node, key schema.FieldKey, child *Node) {
	if old, ok := parent.children[key]; ok {
		if old == child.identity {
			return
		}

		t.Unlink(parent, key)
	}

	parent.children[key] = child.identity
	child.parents[parent.identity]++
}

// Unlink clears slot key of parent.
func (t *Table) Unlink(parent *Node, key schema.FieldKey) {
	childID, ok := parent.children[key]
	if !ok {
		return
	}

	delete(parent.children, key)

	child, ok := t.Get(childID)
	if !ok {
		return
	}

	child.parents[parent.identity]--
	if child.parents[parent.identity] <= 0 {
		delete(child.parents, parent.identity)
	}
}

// UnlinkAllChildren clears every slot of parent. It runs before a full
// re-decomposition so that dropped fields do not keep stale back-references.
func (t *Table) UnlinkAllChildren(parent *Node) {
	for key := range parent.children {
		t.Unlink(parent, key)
	}
}

// SlotsOf returns the slots of parent occupied by child, sorted.
func (t *Table) SlotsOf(parent *Node, child entity.Identity) []schema.FieldKey {
	return parent.childSlots(child)
}

// IsRetained reports whether the node for id is kept alive by an observer,
// an anchor, or a retained ancestor. Absent nodes are not retained.
func (t *Table) IsRetained(id entity.Identity) bool {
	return t.retained(id, make(map[entity.Identity]struct{}))
}

func (t *Table) retained(id entity.Identity, visited map[entity.Identity]struct{}) bool {
	if _, seen := visited[id]; seen {
		return false
	}

	visited[id] = struct{}{}

	n, ok := t.Get(id)
	if !ok {
		return false
	}

	if n.observers > 0 || len(n.aliases) > 0 {
		return true
	}

	for p := range n.parents {
		if t.retained(p, visited) {
			return true
		}
	}

	return false
}

// Collect reclaims the node for id if it is not retained. All of its
// ancestors are unretained as well and are reclaimed with it. It returns the
// reclaimed identities, or nil when the node is retained or absent.
func (t *Table) Collect(id entity.Identity) []entity.Identity {
	if _, ok := t.Get(id); !ok || t.IsRetained(id) {
		return nil
	}

	garbage := []entity.Identity{id}
	seen := map[entity.Identity]struct{}{id: {}}

	for i := 0; i < len(garbage); i++ {
		n, ok := t.Get(garbage[i])
		if !ok {
			continue
		}

		for p := range n.parents {
			if _, dup := seen[p]; !dup {
				seen[p] = struct{}{}
				garbage = append(garbage, p)
			}
		}
	}

	t.reclaim(garbage)

	return garbage
}

// Compact reclaims every unretained node and returns their identities.
func (t *Table) Compact() []entity.Identity {
	live := make(map[entity.Identity]struct{})

	var stack []entity.Identity

	t.Range(func(n *Node) bool {
		if n.observers > 0 || len(n.aliases) > 0 {
			live[n.identity] = struct{}{}
			stack = append(stack, n.identity)
		}

		return true
	})

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n, ok := t.Get(id)
		if !ok {
			continue
		}

		for _, child := range n.children {
			if _, done := live[child]; !done {
				live[child] = struct{}{}
				stack = append(stack, child)
			}
		}
	}

	var garbage []entity.Identity

	t.Range(func(n *Node) bool {
		if _, ok := live[n.identity]; !ok {
			garbage = append(garbage, n.identity)
		}

		return true
	})

	sortIdentities(garbage)
	t.reclaim(garbage)

	return garbage
}

func (t *Table) reclaim(ids []entity.Identity) {
	for _, id := range ids {
		n, ok := t.Get(id)
		if !ok {
			continue
		}

		t.UnlinkAllChildren(n)
	}

	for _, id := range ids {
		t.Remove(id)
	}
}
