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

package schema

import (
	"sort"
	"sync"

	"github.com/united-manufacturing-hub/normcache/pkg/entity"
)

// Registry maps type tags to their codecs.
//
// Registration normally happens once at startup; lookups happen on every
// write. Types that are never registered decompose to nothing.
type Registry struct {
	mu     sync.RWMutex
	codecs map[entity.TypeTag]Codec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[entity.TypeTag]Codec)}
}

// Register adds a codec. A second codec for the same type is rejected.
func (r *Registry) Register(codec Codec) error {
	if codec == nil || codec.Type() == "" {
		return &ConfigError{Err: entity.ErrInvalidIdentity}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.codecs[codec.Type()]; exists {
		return &ConfigError{Type: codec.Type(), Err: ErrTypeAlreadyRegistered}
	}

	r.codecs[codec.Type()] = codec

	return nil
}

// MustRegister registers all codecs and panics on the first error.
func (r *Registry) MustRegister(codecs ...Codec) *Registry {
	for _, c := range codecs {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}

	return r
}

// Lookup returns the codec for typ.
func (r *Registry) Lookup(typ entity.TypeTag) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.codecs[typ]

	return c, ok
}

// Types lists the registered type tags in sorted order.
func (r *Registry) Types() []entity.TypeTag {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]entity.TypeTag, 0, len(r.codecs))
	for t := range r.codecs {
		types = append(types, t)
	}

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}
