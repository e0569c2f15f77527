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

	"github.com/united-manufacturing-hub/normcache/pkg/entity"
)

// Codec is the type-erased view of a Descriptor used by the graph engine.
// All values crossing this interface are the concrete T of the descriptor.
type Codec interface {
	Type() entity.TypeTag
	DecomposeValue(value any) ([]Part, error)
	RecomposeValue(value any, updates map[FieldKey]any) (any, error)
	NullifyValue(value any) (any, bool)
}

// FieldInfo describes a declared field for introspection.
type FieldInfo struct {
	Name  string
	Shape Shape
}

// Descriptor is the immutable decomposition description of T.
type Descriptor[T entity.Entity] struct {
	typ     entity.TypeTag
	fields  []Field[T]
	byName  map[string]Field[T]
	nullify func(T) T
}

// NewDescriptor validates the field declarations of T.
// Declaring the same field name twice is a configuration error.
func NewDescriptor[T entity.Entity](typ entity.TypeTag, fields ...Field[T]) (*Descriptor[T], error) {
	if typ == "" {
		return nil, &ConfigError{Type: typ, Err: entity.ErrInvalidIdentity}
	}

	d := &Descriptor[T]{
		typ:    typ,
		fields: make([]Field[T], 0, len(fields)),
		byName: make(map[string]Field[T], len(fields)),
	}

	for _, f := range fields {
		if f == nil || f.Name() == "" {
			return nil, &ConfigError{Type: typ, Err: ErrEmptyFieldName}
		}

		if _, exists := d.byName[f.Name()]; exists {
			return nil, &ConfigError{Type: typ, Field: f.Name(), Err: ErrDuplicateField}
		}

		d.fields = append(d.fields, f)
		d.byName[f.Name()] = f
	}

	return d, nil
}

// MustDescriptor is NewDescriptor for package-level declarations. It panics on
// configuration errors.
func MustDescriptor[T entity.Entity](typ entity.TypeTag, fields ...Field[T]) *Descriptor[T] {
	d, err := NewDescriptor(typ, fields...)
	if err != nil {
		panic(err)
	}

	return d
}

// Leaf returns the empty descriptor of a type without nested entities.
func Leaf[T entity.Entity](typ entity.TypeTag) *Descriptor[T] {
	return MustDescriptor[T](typ)
}

// WithNullify returns a copy of d that knows how to produce the "empty"
// representation of T. Nullification is used when an anchor pointing at the
// value is removed.
func (d *Descriptor[T]) WithNullify(fn func(T) T) *Descriptor[T] {
	clone := *d
	clone.nullify = fn

	return &clone
}

// Type returns the TypeTag the descriptor was declared for.
func (d *Descriptor[T]) Type() entity.TypeTag {
	return d.typ
}

// Fields lists the declared fields in declaration order.
func (d *Descriptor[T]) Fields() []FieldInfo {
	infos := make([]FieldInfo, 0, len(d.fields))
	for _, f := range d.fields {
		infos = append(infos, FieldInfo{Name: f.Name(), Shape: f.Shape()})
	}

	return infos
}

// Decompose returns the nested entities of value in declaration order.
func (d *Descriptor[T]) Decompose(value T) []Part {
	var parts []Part
	for _, f := range d.fields {
		parts = append(parts, f.extract(value)...)
	}

	return parts
}

// Recompose writes updated child values into value. Keys that name no
// declared field, or values of the wrong type, are configuration errors.
func (d *Descriptor[T]) Recompose(value T, updates map[FieldKey]any) (T, error) {
	var err error

	for key, child := range updates {
		f, ok := d.byName[key.Name]
		if !ok {
			return value, &ConfigError{Type: d.typ, Field: key.Name, Err: fmt.Errorf("%w: undeclared field", ErrFieldConversion)}
		}

		value, err = f.apply(value, key, child)
		if err != nil {
			return value, &ConfigError{Type: d.typ, Field: key.Name, Err: err}
		}
	}

	return value, nil
}

// Nullify returns the empty representation of value, if the type has one.
func (d *Descriptor[T]) Nullify(value T) (T, bool) {
	if d.nullify == nil {
		return value, false
	}

	return d.nullify(value), true
}

// DecomposeValue implements Codec.
func (d *Descriptor[T]) DecomposeValue(value any) ([]Part, error) {
	v, err := d.cast(value)
	if err != nil {
		return nil, err
	}

	return d.Decompose(v), nil
}

// RecomposeValue implements Codec.
func (d *Descriptor[T]) RecomposeValue(value any, updates map[FieldKey]any) (any, error) {
	v, err := d.cast(value)
	if err != nil {
		return nil, err
	}

	return d.Recompose(v, updates)
}

// NullifyValue implements Codec.
func (d *Descriptor[T]) NullifyValue(value any) (any, bool) {
	v, err := d.cast(value)
	if err != nil {
		return value, false
	}

	return d.Nullify(v)
}

func (d *Descriptor[T]) cast(value any) (T, error) {
	v, ok := value.(T)
	if !ok {
		var zero T

		return zero, &ConfigError{Type: d.typ, Err: fmt.Errorf("%w: want %T, got %T", ErrTypeMismatch, zero, value)}
	}

	return v, nil
}
