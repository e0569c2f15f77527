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
	"io"
	"sort"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/united-manufacturing-hub/normcache/pkg/graph"
)

// NodeInfo describes one node of the graph.
type NodeInfo struct {
	Identity  string            `json:"identity"`
	Type      string            `json:"type"`
	Stamp     string            `json:"stamp"`
	HasValue  bool              `json:"hasValue"`
	Retained  bool              `json:"retained"`
	Observers int               `json:"observers"`
	Aliases   []string          `json:"aliases,omitempty"`
	Parents   []string          `json:"parents,omitempty"`
	Children  map[string]string `json:"children,omitempty"`
}

// Snapshot is a point-in-time view of the graph for debugging. It carries no
// entity values.
type Snapshot struct {
	Name          string     `json:"name"`
	Seq           uint64     `json:"seq"`
	Subscriptions int        `json:"subscriptions"`
	Aliases       []string   `json:"aliases"`
	Nodes         []NodeInfo `json:"nodes"`
}

// Summary is the compact view served on the debug endpoint.
type Summary struct {
	Name          string `json:"name"`
	Seq           uint64 `json:"seq"`
	Nodes         int    `json:"nodes"`
	Subscriptions int    `json:"subscriptions"`
	Aliases       int    `json:"aliases"`
	Busy          bool   `json:"busy,omitempty"`
}

// Snapshot describes every node currently in the table, retained or not,
// sorted by identity.
func (s *EntityStore) Snapshot(ctx context.Context) (Snapshot, error) {
	if s.closed.Load() {
		return Snapshot{}, ErrClosed
	}

	if err := s.barrier.RLock(ctx); err != nil {
		return Snapshot{}, err
	}
	defer s.barrier.RUnlock()

	snap := Snapshot{
		Name:          s.name,
		Seq:           s.registry.Seq(),
		Subscriptions: s.registry.Count(),
		Aliases:       s.aliases.list(),
	}

	s.table.Range(func(n *graph.Node) bool {
		snap.Nodes = append(snap.Nodes, s.describe(n))

		return true
	})

	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].Identity < snap.Nodes[j].Identity })

	return snap, nil
}

func (s *EntityStore) describe(n *graph.Node) NodeInfo {
	info := NodeInfo{
		Identity:  n.Identity().String(),
		Type:      string(n.Identity().Type),
		Stamp:     n.Stamp().String(),
		HasValue:  n.HasValue(),
		Retained:  s.table.IsRetained(n.Identity()),
		Observers: n.ObserverCount(),
	}

	if n.HasAliases() {
		info.Aliases = n.Aliases()
	}

	for _, p := range n.Parents() {
		info.Parents = append(info.Parents, p.String())
	}

	if children := n.Children(); len(children) > 0 {
		info.Children = make(map[string]string, len(children))
		for key, child := range children {
			info.Children[key.String()] = child.String()
		}
	}

	return info
}

// ExportSnapshot writes the snapshot as zstd-compressed JSON to w.
func (s *EntityStore) ExportSnapshot(ctx context.Context, w io.Writer) error {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}

	if err := json.NewEncoder(enc).Encode(snap); err != nil {
		_ = enc.Close()

		return fmt.Errorf("encode snapshot of store %s: %w", s.name, err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush snapshot of store %s: %w", s.name, err)
	}

	return nil
}

// DebugInfo implements metrics.DebugProvider. It never waits for a writer.
func (s *EntityStore) DebugInfo() any {
	summary := Summary{Name: s.name}

	if !s.barrier.TryRLock() {
		summary.Busy = true

		return summary
	}
	defer s.barrier.RUnlock()

	summary.Seq = s.registry.Seq()
	summary.Nodes = s.table.Len()
	summary.Subscriptions = s.registry.Count()
	summary.Aliases = len(s.aliases.list())

	return summary
}
