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

// Package entity defines the identity and ordering primitives shared by every
// layer of the normalized cache.
//
// An Identity is the (type, id) pair that addresses exactly one graph node.
// A Stamp is the optional ordering token attached to a write; the node keeps
// the highest stamp it has accepted and rejects anything that is not newer.
package entity

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

// ErrInvalidIdentity is returned when an identity cannot be used as a node key.
var ErrInvalidIdentity = errors.New("invalid identity")

// TypeTag names the kind of an entity ("user", "post", ...).
// Two values with the same TypeTag and ID are the same entity.
type TypeTag string

// Identity uniquely addresses one node in the graph.
//
// ID may be any comparable value (string, int, a small struct...). It is used
// directly as part of a map key, so non-comparable IDs (slices, maps, funcs)
// are rejected by Validate before they reach the node table.
type Identity struct {
	Type TypeTag
	ID   any
}

// NewIdentity builds an Identity from a type tag and an id.
func NewIdentity(typ TypeTag, id any) Identity {
	return Identity{Type: typ, ID: id}
}

// Entity is implemented by every value that can be stored independently.
// Implementations should use a value receiver so the zero value reports
// its type tag as well.
type Entity interface {
	Identity() Identity
}

// Validate reports whether the identity can be used as a node key.
func (i Identity) Validate() error {
	if i.Type == "" {
		return fmt.Errorf("%w: empty type tag (id %v)", ErrInvalidIdentity, i.ID)
	}

	if i.ID == nil {
		return fmt.Errorf("%w: nil id for type %q", ErrInvalidIdentity, i.Type)
	}

	if !reflect.TypeOf(i.ID).Comparable() {
		return fmt.Errorf("%w: id of type %T for %q is not comparable", ErrInvalidIdentity, i.ID, i.Type)
	}

	return nil
}

// String renders the identity as "type/id".
func (i Identity) String() string {
	return fmt.Sprintf("%s/%v", i.Type, i.ID)
}

// Hash returns a stable 64-bit hash of the identity, used for shard selection.
func (i Identity) Hash() uint64 {
	return xxhash.Sum64String(i.String())
}
