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

// Package storage provides the storage abstraction layer for transitstore.
//
// It holds everything that is independent of the underlying key-value
// engine: the key codec, the relation codec used for index values, the
// entity serializer, the active LRU cache and the interfaces that graph
// traversal consumes. The BadgerDB engine lives in storage/badger.
//
// # Keys
//
// Entity rows are keyed by the encoded id and version:
//
//	NL*#*123-7
//
// Index rows prefix the key with the owning entity's upper-cased type:
//
//	LINE-NL*#*123-7
//
// Ids and versions are upper-cased, occurrences of the type name are
// replaced by '#', and anything other than A-Z and 0-9 becomes '*'. A key
// without a version ends in the separator and is a prefix of every stored
// version of that id.
//
// # Indices
//
// Every upsert maintains four multi-value indices:
//
//   - _embedding: parent key -> child relation
//   - _embedding_inverse: child key -> parent relation
//   - _referencing: source key -> target relation
//   - _referencing_inwards: target key -> source relation
//
// Values are relation tuples (type tag, id, version, numeric path). Every
// forward row has a matching inverse row with the same path.
//
// # Thread Safety
//
// Serializer, KeyCodec, RelationCodec and ActiveLRUCache are safe for
// concurrent use.
package storage
