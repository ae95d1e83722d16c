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

package badger

import (
	"context"
	"fmt"

	"github.com/poiesic/transitstore/core"
	"github.com/poiesic/transitstore/storage"
)

// InsertOption configures InsertObjects.
type InsertOption func(*insertOptions)

type insertOptions struct {
	empty           bool
	deleteEmbedding bool
}

// Empty clears the type's sub-store before the objects are written.
func Empty() InsertOption {
	return func(o *insertOptions) {
		o.empty = true
	}
}

// DeleteEmbedding removes the previous index rows of every written entity,
// so that re-inserting an entity supersedes its old rows.
func DeleteEmbedding() InsertOption {
	return func(o *insertOptions) {
		o.deleteEmbedding = true
	}
}

// InsertObjects queues objects for writing into the sub-store of typeName
// together with their index rows. Objects that are not native entities are
// converted by the serializer's foreign decoder.
func (e *Engine) InsertObjects(ctx context.Context, typeName string, objects []any, opts ...InsertOption) error {
	if e.cfg.ReadOnly {
		return nil
	}
	options := &insertOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if !e.Registry().Known(typeName) {
		return fmt.Errorf("%w: %s", core.ErrUnknownType, typeName)
	}

	if options.empty {
		if err := e.enqueue(ctx, task{kind: taskClear, store: typeName}); err != nil {
			return err
		}
	}
	for _, obj := range objects {
		tasks, err := e.objectTasks(obj, typeName, options.deleteEmbedding)
		if err != nil {
			return err
		}
		if err := e.enqueue(ctx, tasks...); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) objectTasks(obj any, typeName string, deleteEmbedding bool) ([]task, error) {
	entity, err := e.serializer.Native(obj, typeName)
	if err != nil {
		return nil, err
	}
	if err := core.ValidateEntity(entity); err != nil {
		return nil, err
	}
	value, err := e.serializer.Marshal(entity, typeName)
	if err != nil {
		return nil, err
	}
	key := e.serializer.EncodeKey(entity.ID, entity.Version, typeName, false)

	index, err := e.embeddingTasks(entity, deleteEmbedding)
	if err != nil {
		return nil, err
	}
	tasks := make([]task, 0, len(index)+1)
	tasks = append(tasks, task{kind: taskPut, store: typeName, key: makeRowKey(typeName, key), value: value})
	return append(tasks, index...), nil
}

// InsertEntities queues entities, each into the sub-store of its own type.
func (e *Engine) InsertEntities(ctx context.Context, entities []*core.Entity, opts ...InsertOption) error {
	for _, entity := range entities {
		if entity == nil {
			return fmt.Errorf("%w: nil entity", core.ErrInvalidEntity)
		}
		if err := e.InsertObjects(ctx, entity.Type, []any{entity}, opts...); err != nil {
			return err
		}
	}
	return nil
}

// InsertOne queues a single entity.
func (e *Engine) InsertOne(ctx context.Context, entity *core.Entity, opts ...InsertOption) error {
	return e.InsertEntities(ctx, []*core.Entity{entity}, opts...)
}

// InsertRaw queues already encoded rows for store. For the relation indices
// each row is one (key, value) pair of the multi-value store.
func (e *Engine) InsertRaw(ctx context.Context, store string, rows ...storage.RawRow) error {
	if e.cfg.ReadOnly || len(rows) == 0 {
		return nil
	}
	multi := isMultiValue(store)
	tasks := make([]task, 0, len(rows))
	for _, row := range rows {
		if multi {
			physical, err := makeMultiKey(store, row.Key, row.Value)
			if err != nil {
				return err
			}
			tasks = append(tasks, task{kind: taskPut, store: store, key: physical})
			continue
		}
		tasks = append(tasks, task{kind: taskPut, store: store, key: makeRowKey(store, row.Key), value: row.Value})
	}
	return e.enqueue(ctx, tasks...)
}

// InsertMetadata queues out-of-band records into the metadata store. They
// are keyed like index rows and are not indexed themselves.
func (e *Engine) InsertMetadata(ctx context.Context, entities ...*core.Entity) error {
	if e.cfg.ReadOnly {
		return nil
	}
	tasks := make([]task, 0, len(entities))
	for _, entity := range entities {
		if err := core.ValidateEntity(entity); err != nil {
			return err
		}
		value, err := e.serializer.Marshal(entity, entity.Type)
		if err != nil {
			return err
		}
		key := e.serializer.EncodeKey(entity.ID, entity.Version, entity.Type, true)
		tasks = append(tasks, task{
			kind:  taskPut,
			store: storage.MetadataStore,
			key:   makeRowKey(storage.MetadataStore, key),
			value: value,
		})
	}
	return e.enqueue(ctx, tasks...)
}

// Clear queues removal of every row of the given type stores. Stores that
// do not exist are skipped.
func (e *Engine) Clear(ctx context.Context, typeNames ...string) error {
	if e.cfg.ReadOnly {
		return nil
	}
	for _, name := range typeNames {
		ok, err := e.storeExists(name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := e.enqueue(ctx, task{kind: taskClear, store: name}); err != nil {
			return err
		}
	}
	return nil
}

// Drop queues removal of the given type stores and clears all four
// relation indices.
func (e *Engine) Drop(ctx context.Context, typeNames ...string) error {
	if e.cfg.ReadOnly {
		return nil
	}
	tasks := make([]task, 0, len(typeNames)+len(storage.Indexes))
	for _, name := range typeNames {
		if storage.IsReserved(name) {
			return fmt.Errorf("%w: cannot drop reserved store %s", storage.ErrInvalidKey, name)
		}
		tasks = append(tasks, task{kind: taskDrop, store: name})
	}
	for _, idx := range storage.Indexes {
		tasks = append(tasks, task{kind: taskClear, store: string(idx)})
	}
	return e.enqueue(ctx, tasks...)
}

// DeleteByPrefix queues removal of every row of typeName whose key starts
// with prefix.
func (e *Engine) DeleteByPrefix(ctx context.Context, typeName string, prefix []byte) error {
	if e.cfg.ReadOnly {
		return nil
	}
	return e.enqueue(ctx, task{kind: taskDeletePrefix, store: typeName, key: makeRowPrefix(typeName, prefix)})
}

// DeletePair queues removal of one (key, value) pair of a relation index.
func (e *Engine) DeletePair(ctx context.Context, index storage.Index, key, value []byte) error {
	if e.cfg.ReadOnly {
		return nil
	}
	physical, err := makeMultiKey(string(index), key, value)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task{kind: taskDeleteKey, store: string(index), key: physical})
}

// DeleteIndexRows queues removal of every embedding and referencing row of
// entity and of the inverse rows pointing back at it.
func (e *Engine) DeleteIndexRows(ctx context.Context, entity *core.Entity) error {
	if e.cfg.ReadOnly {
		return nil
	}
	if err := core.ValidateEntity(entity); err != nil {
		return err
	}
	key := e.serializer.EncodeKey(entity.ID, entity.NormalizedVersion(), entity.Type, true)
	return e.enqueue(ctx, task{kind: taskDeleteIndexRows, key: key})
}
