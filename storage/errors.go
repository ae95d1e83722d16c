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

package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrStorageClosed indicates that the storage engine is closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrTruncatedData indicates that data was truncated during reading.
	ErrTruncatedData = errors.New("truncated data")

	// ErrTypeMismatch indicates stored bytes that decode to a different type than requested.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrInvalidKey indicates a key that cannot be stored in a multi-value store.
	ErrInvalidKey = errors.New("invalid key")

	// ErrMapSizeExceeded indicates the store cannot grow past its configured maximum.
	// It is fatal for the write path.
	ErrMapSizeExceeded = errors.New("storage reached maximum size, cannot grow further")

	// ErrUnknownRelationType indicates a relation whose type tag is not registered.
	ErrUnknownRelationType = errors.New("unknown relation type")
)

// MapFullError reports that a batch does not fit the allocated capacity.
// Shortfall is the number of bytes missing.
type MapFullError struct {
	Shortfall int64
}

func (e *MapFullError) Error() string {
	return fmt.Sprintf("storage map full: %d bytes short", e.Shortfall)
}
