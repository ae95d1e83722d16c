package badger

import (
	"context"
	"errors"
	"iter"
	"math/rand/v2"
	"runtime"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/transitstore/core"
	"github.com/poiesic/transitstore/storage"
)

// iterate runs fn over every row under prefix in one read snapshot until fn
// returns false or an error.
func (e *Engine) iterate(ctx context.Context, prefix []byte, prefetch bool, fn func(item *badger.Item) (bool, error)) error {
	return e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = prefetch
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			more, err := fn(it.Item())
			if err != nil || !more {
				return err
			}
		}
		return nil
	})
}

// getRow returns the value stored under key in store. Without exact, the
// first row whose key starts with key is returned. Missing rows return nil.
func (e *Engine) getRow(ctx context.Context, store string, key []byte, exact bool) ([]byte, error) {
	ok, err := e.storeExists(store)
	if err != nil || !ok {
		return nil, err
	}
	if exact {
		var data []byte
		err := e.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(makeRowKey(store, key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			data, err = item.ValueCopy(nil)
			return err
		})
		return data, err
	}

	var data []byte
	err = e.iterate(ctx, makeRowPrefix(store, key), true, func(item *badger.Item) (bool, error) {
		var err error
		data, err = item.ValueCopy(nil)
		return false, err
	})
	return data, err
}

// GetSingle loads one entity. With an empty version the first stored
// version of id is returned. Missing stores and entities return nil.
func (e *Engine) GetSingle(ctx context.Context, typeName, id, version string) (*core.Entity, error) {
	key := e.serializer.EncodeKey(id, version, typeName, false)
	data, err := e.getRow(ctx, typeName, key, version != "" && version != core.VersionAny)
	if err != nil || data == nil {
		return nil, err
	}
	return e.serializer.Unmarshal(data, typeName)
}

// Exists reports whether an entity is stored. Without a version any stored
// version counts.
func (e *Engine) Exists(ctx context.Context, typeName, id, version string) (bool, error) {
	key := e.serializer.EncodeKey(id, version, typeName, false)
	data, err := e.getRow(ctx, typeName, key, version != "" && version != core.VersionAny)
	return data != nil, err
}

// GetRandom returns a uniformly chosen entity of typeName, or nil when the
// store is empty. It scans the store and is meant for sampling.
func (e *Engine) GetRandom(ctx context.Context, typeName string) (*core.Entity, error) {
	ok, err := e.storeExists(typeName)
	if err != nil || !ok {
		return nil, err
	}
	prefix := makeStorePrefix(typeName)

	count := 0
	err = e.iterate(ctx, prefix, false, func(*badger.Item) (bool, error) {
		count++
		return true, nil
	})
	if err != nil || count == 0 {
		return nil, err
	}

	skip := rand.IntN(count)
	var data []byte
	err = e.iterate(ctx, prefix, false, func(item *badger.Item) (bool, error) {
		if skip > 0 {
			skip--
			return true, nil
		}
		var err error
		data, err = item.ValueCopy(nil)
		return false, err
	})
	if err != nil || data == nil {
		return nil, err
	}
	return e.serializer.Unmarshal(data, typeName)
}

// Entities iterates stored entities of typeName in key order, restricted to
// filterID when set, yielding at most limit entities when limit > 0.
func (e *Engine) Entities(ctx context.Context, typeName, filterID string, limit int) iter.Seq2[*core.Entity, error] {
	return func(yield func(*core.Entity, error) bool) {
		ok, err := e.storeExists(typeName)
		if err != nil {
			yield(nil, err)
			return
		}
		if !ok {
			return
		}
		var prefix []byte
		if filterID != "" {
			prefix = e.serializer.EncodeKey(filterID, "", typeName, false)
		}

		n := 0
		stopped := false
		err = e.iterate(ctx, makeRowPrefix(typeName, prefix), true, func(item *badger.Item) (bool, error) {
			if limit > 0 && n >= limit {
				return false, nil
			}
			var entity *core.Entity
			err := item.Value(func(val []byte) error {
				var err error
				entity, err = e.serializer.Unmarshal(val, typeName)
				return err
			})
			if err != nil {
				return false, err
			}
			n++
			if !yield(entity, nil) {
				stopped = true
				return false, nil
			}
			return true, nil
		})
		if err != nil && !stopped {
			yield(nil, err)
		}
	}
}

// Relations iterates the rows of index owned by typeName, restricted to
// filterID when set. Undecodable rows are returned as errors.
func (e *Engine) Relations(ctx context.Context, index storage.Index, typeName, filterID string) iter.Seq2[storage.IndexRow, error] {
	return func(yield func(storage.IndexRow, error) bool) {
		store := string(index)
		prefix := makeRowPrefix(store, e.serializer.EncodeKey(filterID, "", typeName, true))
		stopped := false
		err := e.iterate(ctx, prefix, false, func(item *badger.Item) (bool, error) {
			key, value, ok := splitRow(store, item.Key(), nil)
			if !ok {
				return false, storage.ErrTruncatedData
			}
			rel, err := e.relations.Decode(value)
			if err != nil {
				return false, err
			}
			if !yield(storage.IndexRow{Key: slices.Clone(key), Relation: rel}, nil) {
				stopped = true
				return false, nil
			}
			return true, nil
		})
		if err != nil && !stopped {
			yield(storage.IndexRow{}, err)
		}
	}
}

// ScanRaw calls fn with the logical key and value of every row of store
// whose key starts with prefix. The slices are copies.
func (e *Engine) ScanRaw(ctx context.Context, store string, prefix []byte, fn func(key, value []byte) error) error {
	ok, err := e.storeExists(store)
	if err != nil || !ok {
		return err
	}
	return e.iterate(ctx, makeRowPrefix(store, prefix), true, func(item *badger.Item) (bool, error) {
		physical := item.KeyCopy(nil)
		value, err := item.ValueCopy(nil)
		if err != nil {
			return false, err
		}
		key, val, ok := splitRow(store, physical, value)
		if !ok {
			return false, storage.ErrTruncatedData
		}
		return true, fn(key, val)
	})
}

// GetMetadata loads a metadata record. Missing records return nil.
func (e *Engine) GetMetadata(ctx context.Context, typeName, id, version string) (*core.Entity, error) {
	key := e.serializer.EncodeKey(id, version, typeName, true)
	data, err := e.getRow(ctx, storage.MetadataStore, key, version != "" && version != core.VersionAny)
	if err != nil || data == nil {
		return nil, err
	}
	return e.serializer.Unmarshal(data, typeName)
}

// Tables lists the entity types that have a sub-store, restricted to
// exclusively, or to the interesting types when exclusively is empty.
func (e *Engine) Tables(ctx context.Context, exclusively ...string) ([]string, error) {
	allowed := e.allowed(exclusively)
	var tables []string
	err := e.iterate(ctx, []byte{catalogPrefix}, false, func(item *badger.Item) (bool, error) {
		name := string(item.Key()[1:])
		if _, ok := allowed[name]; ok && !storage.IsReserved(name) {
			tables = append(tables, name)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(tables)
	return tables, nil
}

// Referencing lists the target types found in the referencing index.
func (e *Engine) Referencing(ctx context.Context, exclusively ...string) ([]string, error) {
	return e.relationTypes(ctx, storage.IndexReferencing, exclusively)
}

// Embedded lists the parent types found in the embedding-inverse index.
func (e *Engine) Embedded(ctx context.Context, exclusively ...string) ([]string, error) {
	return e.relationTypes(ctx, storage.IndexEmbeddingInverse, exclusively)
}

func (e *Engine) relationTypes(ctx context.Context, index storage.Index, exclusively []string) ([]string, error) {
	allowed := e.allowed(exclusively)
	seen := make(map[string]struct{})
	store := string(index)
	err := e.iterate(ctx, makeStorePrefix(store), false, func(item *badger.Item) (bool, error) {
		_, value, ok := splitRow(store, item.Key(), nil)
		if !ok {
			return false, storage.ErrTruncatedData
		}
		rel, err := e.relations.Decode(value)
		if err != nil {
			return false, err
		}
		if _, ok := allowed[rel.Type]; ok {
			seen[rel.Type] = struct{}{}
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	types := make([]string, 0, len(seen))
	for name := range seen {
		types = append(types, name)
	}
	slices.Sort(types)
	return types, nil
}

func (e *Engine) allowed(exclusively []string) map[string]struct{} {
	if len(exclusively) == 0 {
		exclusively = e.Registry().Interesting()
	}
	allowed := make(map[string]struct{}, len(exclusively))
	for _, name := range exclusively {
		allowed[name] = struct{}{}
	}
	return allowed
}

// Usage returns the allocated capacity and the bytes in use.
func (e *Engine) Usage() (allocated, used int64) {
	e.resizeMu.RLock()
	defer e.resizeMu.RUnlock()
	return e.allocated, e.used.Load()
}

// GuardFreeSpace grows the capacity when less than percentage of it is free.
func (e *Engine) GuardFreeSpace(percentage float64) error {
	if e.cfg.ReadOnly {
		return nil
	}
	allocated, used := e.Usage()
	minIncrease := int64(float64(allocated) * percentage)
	if allocated-used < minIncrease {
		return e.grow(minIncrease)
	}
	return nil
}

// Vacuum flushes the writer, compacts the LSM tree, reclaims value log
// space and recounts the bytes in use.
func (e *Engine) Vacuum(ctx context.Context) error {
	if e.cfg.ReadOnly {
		return nil
	}
	e.writerMu.Lock()
	defer e.writerMu.Unlock()
	e.stopWriterLocked()
	if err := e.fatalError(); err != nil {
		return err
	}

	if !e.cfg.InMemory {
		if err := e.db.Flatten(runtime.GOMAXPROCS(0)); err != nil {
			return err
		}
		for {
			err := e.db.RunValueLogGC(0.5)
			if errors.Is(err, badger.ErrNoRewrite) {
				break
			}
			if err != nil {
				return err
			}
		}
	}

	var used int64
	err := e.iterate(ctx, []byte{dataPrefix}, false, func(item *badger.Item) (bool, error) {
		used += int64(len(item.Key())) + item.ValueSize()
		return true, nil
	})
	if err != nil {
		return err
	}
	err = e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(usedKey, encodeSize(used))
	})
	if err != nil {
		return err
	}
	e.used.Store(used)
	e.logger.Info("vacuumed storage", "used", used)
	return nil
}
