// Copyright 2025 Poiesic Systems
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

package core

import (
	"fmt"
	"unicode/utf8"
)

// ValidateEntity validates an entity before it is stored or indexed.
//
// Validation rules:
//   - Entity must not be nil
//   - Type must not be empty
//   - ID must not be empty
//   - ID and Version must be valid UTF-8
//
// NOT validated:
//   - Field shapes (the registry tolerates unset and trailing fields)
func ValidateEntity(e *Entity) error {
	if e == nil {
		return fmt.Errorf("%w: entity is nil", ErrInvalidEntity)
	}

	if e.Type == "" {
		return fmt.Errorf("%w: %w", ErrInvalidEntity, ErrMissingType)
	}

	if e.ID == "" {
		return fmt.Errorf("%w: %s: %w", ErrInvalidEntity, e.Type, ErrMissingIdentity)
	}

	if !utf8.ValidString(e.ID) || !utf8.ValidString(e.Version) {
		return fmt.Errorf("%w: %s %q: identity is not valid UTF-8", ErrInvalidEntity, e.Type, e.ID)
	}

	return nil
}

// ValidateAgainst checks that every set field of e, recursively, fits the
// kind declared in the registry.
func (r *Registry) ValidateAgainst(e *Entity) error {
	d, ok := r.Lookup(e.Type)
	if !ok {
		return fmt.Errorf("%w: %w: %s", ErrInvalidEntity, ErrUnknownType, e.Type)
	}
	if len(e.Fields) > len(d.Fields) {
		return fmt.Errorf("%w: %s has %d fields, schema declares %d", ErrInvalidEntity, e.Type, len(e.Fields), len(d.Fields))
	}
	for i, v := range e.Fields {
		if v == nil {
			continue
		}
		f := d.Fields[i]
		if f.Kind == KindList {
			list, ok := v.(List)
			if !ok {
				return fmt.Errorf("%w: %s.%s: expected list, got %T", ErrInvalidEntity, e.Type, f.Name, v)
			}
			for _, item := range list {
				if err := r.validateValue(e.Type, f.Name, f.Elem, item); err != nil {
					return err
				}
			}
			continue
		}
		if err := r.validateValue(e.Type, f.Name, f.Kind, v); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) validateValue(typeName, field string, kind FieldKind, v Value) error {
	if v == nil {
		return nil
	}
	switch kind {
	case KindScalar:
		switch v.(type) {
		case String, Int, Float, Bool:
			return nil
		}
	case KindReference:
		if _, ok := v.(*Reference); ok {
			return nil
		}
	case KindEntity:
		if nested, ok := v.(*Entity); ok {
			return r.ValidateAgainst(nested)
		}
	}
	return fmt.Errorf("%w: %s.%s: expected %s, got %T", ErrInvalidEntity, typeName, field, kind, v)
}
