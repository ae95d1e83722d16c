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

import "errors"

// Domain errors
var (
	// ErrInvalidEntity indicates an Entity failed validation.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrMissingIdentity indicates an entity without an id was used where one is required.
	ErrMissingIdentity = errors.New("entity has no id")

	// ErrMissingType indicates an entity without a type name.
	ErrMissingType = errors.New("entity has no type")

	// ErrUnknownType indicates a type name that is not part of the registry.
	ErrUnknownType = errors.New("unknown entity type")

	// ErrUnknownField indicates a field name that is not declared for a type.
	ErrUnknownField = errors.New("unknown field")

	// ErrDuplicateType indicates a type registered twice.
	ErrDuplicateType = errors.New("duplicate entity type")

	// ErrTooManyTypes indicates a registry that does not fit a 16-bit type tag.
	ErrTooManyTypes = errors.New("too many entity types")

	// ErrEmptyReference indicates a reference without a target id.
	ErrEmptyReference = errors.New("reference has no target id")

	// ErrInvalidPath indicates a path that cannot be followed or parsed.
	ErrInvalidPath = errors.New("invalid path")

	// ErrPathTooLong indicates a path with more segments than a relation can hold.
	ErrPathTooLong = errors.New("path too long")

	// ErrInvalidSchema indicates a schema document that cannot be turned into a registry.
	ErrInvalidSchema = errors.New("invalid schema")
)
