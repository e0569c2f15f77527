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
	"fmt"
	"reflect"
	"strconv"

	"github.com/united-manufacturing-hub/normcache/pkg/entity"
)

// Shape is the declared cardinality of a nested entity field.
type Shape int

const (
	// ShapeSingle holds exactly one entity.
	ShapeSingle Shape = iota
	// ShapeOptional holds zero or one entity.
	ShapeOptional
	// ShapeCollection holds an ordered list of entities.
	ShapeCollection
	// ShapeUnion holds the entity of the currently active case of a sum type.
	ShapeUnion
)

func (s Shape) String() string {
	switch s {
	case ShapeSingle:
		return "single"
	case ShapeOptional:
		return "optional"
	case ShapeCollection:
		return "collection"
	case ShapeUnion:
		return "union"
	default:
		return "unknown"
	}
}

// NoIndex marks a FieldKey that does not address a collection element.
const NoIndex = -1

// FieldKey addresses one slot of a parent that a child node occupies.
// Collection elements carry their position; every other shape uses NoIndex.
type FieldKey struct {
	Name  string
	Index int
}

// Key returns the FieldKey of a non-collection field.
func Key(name string) FieldKey {
	return FieldKey{Name: name, Index: NoIndex}
}

// ElementKey returns the FieldKey of the i-th element of a collection field.
func ElementKey(name string, i int) FieldKey {
	return FieldKey{Name: name, Index: i}
}

func (k FieldKey) String() string {
	if k.Index == NoIndex {
		return k.Name
	}

	return k.Name + "[" + strconv.Itoa(k.Index) + "]"
}

// Part is one nested entity produced by decomposition.
type Part struct {
	Key   FieldKey
	Shape Shape
	Value entity.Entity
}

// Updates turns a decomposition into the update map accepted by Recompose.
func Updates(parts []Part) map[FieldKey]any {
	updates := make(map[FieldKey]any, len(parts))
	for _, p := range parts {
		updates[p.Key] = p.Value
	}

	return updates
}

// Field is one declared nested-entity field of T. Fields are created with
// One, Optional, Many or Union; the set of shapes is closed.
type Field[T any] interface {
	Name() string
	Shape() Shape
	extract(value T) []Part
	apply(value T, key FieldKey, child any) (T, error)
}

type baseField struct {
	name  string
	shape Shape
}

func (f baseField) Name() string { return f.name }
func (f baseField) Shape() Shape { return f.shape }

func conversionError[C any](key FieldKey, child any) error {
	return fmt.Errorf("%w: %s expects %v, got %T", ErrFieldConversion, key, reflect.TypeFor[C](), child)
}

// isNilEntity catches typed nil pointers hiding in an interface.
func isNilEntity(e any) bool {
	if e == nil {
		return true
	}

	v := reflect.ValueOf(e)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	default:
		return false
	}
}

type oneField[T any, C entity.Entity] struct {
	baseField
	get func(T) C
	set func(T, C) T
}

// One declares a field holding exactly one nested entity.
func One[T any, C entity.Entity](name string, get func(T) C, set func(T, C) T) Field[T] {
	return &oneField[T, C]{baseField: baseField{name: name, shape: ShapeSingle}, get: get, set: set}
}

func (f *oneField[T, C]) extract(value T) []Part {
	child := f.get(value)
	if isNilEntity(child) {
		return nil
	}

	return []Part{{Key: Key(f.name), Shape: f.shape, Value: child}}
}

func (f *oneField[T, C]) apply(value T, key FieldKey, child any) (T, error) {
	c, ok := child.(C)
	if !ok {
		return value, conversionError[C](key, child)
	}

	return f.set(value, c), nil
}

type optionalField[T any, C entity.Entity] struct {
	baseField
	get func(T) *C
	set func(T, *C) T
}

// Optional declares a field holding zero or one nested entity.
func Optional[T any, C entity.Entity](name string, get func(T) *C, set func(T, *C) T) Field[T] {
	return &optionalField[T, C]{baseField: baseField{name: name, shape: ShapeOptional}, get: get, set: set}
}

func (f *optionalField[T, C]) extract(value T) []Part {
	child := f.get(value)
	if child == nil || isNilEntity(*child) {
		return nil
	}

	return []Part{{Key: Key(f.name), Shape: f.shape, Value: *child}}
}

func (f *optionalField[T, C]) apply(value T, key FieldKey, child any) (T, error) {
	c, ok := child.(C)
	if !ok {
		return value, conversionError[C](key, child)
	}

	return f.set(value, &c), nil
}

type manyField[T any, C entity.Entity] struct {
	baseField
	get func(T) []C
	set func(T, []C) T
}

// Many declares a field holding an ordered collection of nested entities.
func Many[T any, C entity.Entity](name string, get func(T) []C, set func(T, []C) T) Field[T] {
	return &manyField[T, C]{baseField: baseField{name: name, shape: ShapeCollection}, get: get, set: set}
}

func (f *manyField[T, C]) extract(value T) []Part {
	items := f.get(value)
	parts := make([]Part, 0, len(items))

	for i, child := range items {
		if isNilEntity(child) {
			continue
		}

		parts = append(parts, Part{Key: ElementKey(f.name, i), Shape: f.shape, Value: child})
	}

	return parts
}

func (f *manyField[T, C]) apply(value T, key FieldKey, child any) (T, error) {
	c, ok := child.(C)
	if !ok {
		return value, conversionError[C](key, child)
	}

	items := f.get(value)
	// The slot no longer exists; the next full store relinks the field.
	if key.Index < 0 || key.Index >= len(items) {
		return value, nil
	}

	updated := make([]C, len(items))
	copy(updated, items)
	updated[key.Index] = c

	return f.set(value, updated), nil
}

type unionField[T any] struct {
	baseField
	get func(T) entity.Entity
	set func(T, entity.Entity) (T, error)
}

// Union declares a field whose value is a sum type holding at most one entity
// at a time. get returns the entity of the active case (nil when the active
// case carries none); set writes an updated entity back into that case.
// Switching cases is observed as the field pointing at a different identity.
func Union[T any](name string, get func(T) entity.Entity, set func(T, entity.Entity) (T, error)) Field[T] {
	return &unionField[T]{baseField: baseField{name: name, shape: ShapeUnion}, get: get, set: set}
}

func (f *unionField[T]) extract(value T) []Part {
	child := f.get(value)
	if isNilEntity(child) {
		return nil
	}

	return []Part{{Key: Key(f.name), Shape: f.shape, Value: child}}
}

func (f *unionField[T]) apply(value T, key FieldKey, child any) (T, error) {
	e, ok := child.(entity.Entity)
	if !ok {
		return value, conversionError[entity.Entity](key, child)
	}

	updated, err := f.set(value, e)
	if err != nil {
		return value, fmt.Errorf("%w: %s: %w", ErrFieldConversion, key, err)
	}

	return updated, nil
}
