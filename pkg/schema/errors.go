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
	"errors"
	"fmt"

	"github.com/united-manufacturing-hub/normcache/pkg/entity"
)

var (
	// ErrDuplicateField is returned when a descriptor declares the same field twice.
	ErrDuplicateField = errors.New("duplicate field")

	// ErrEmptyFieldName is returned when a field is declared without a name.
	ErrEmptyFieldName = errors.New("empty field name")

	// ErrFieldConversion is returned when a child value cannot be written back
	// into the declared field type.
	ErrFieldConversion = errors.New("field conversion failed")

	// ErrTypeMismatch is returned when a descriptor receives a value of a
	// different Go type than it was declared for.
	ErrTypeMismatch = errors.New("value type does not match descriptor")

	// ErrTypeAlreadyRegistered is returned when two codecs claim the same TypeTag.
	ErrTypeAlreadyRegistered = errors.New("type already registered")
)

// ConfigError locates a bad declaration. It is never expected at runtime:
// a ConfigError means the model is inconsistent with the engine and the
// offending write is aborted.
type ConfigError struct {
	Type  entity.TypeTag
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema %s: %v", e.Type, e.Err)
	}

	return fmt.Sprintf("schema %s.%s: %v", e.Type, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err carries a *ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError

	return errors.As(err, &cfgErr)
}
