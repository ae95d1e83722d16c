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
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/transitstore/storage"
)

// copyChunk is the number of rows handed to the target per InsertRaw call.
const copyChunk = 1000

// CopyDB streams every row of the typeName sub-store into target without
// decoding it.
func (e *Engine) CopyDB(ctx context.Context, target storage.RawWriter, typeName string) error {
	return e.copyStore(ctx, target, typeName, nil)
}

// CopyDBEmbedding streams the rows of all four relation indices owned by the
// given types into target.
func (e *Engine) CopyDBEmbedding(ctx context.Context, target storage.RawWriter, types []string) error {
	for _, idx := range storage.Indexes {
		for _, typeName := range types {
			if err := e.copyStore(ctx, target, string(idx), e.serializer.TypePrefix(typeName)); err != nil {
				return err
			}
		}
	}
	return nil
}

// CopyDBMetadata streams the metadata store into target.
func (e *Engine) CopyDBMetadata(ctx context.Context, target storage.RawWriter) error {
	return e.copyStore(ctx, target, storage.MetadataStore, nil)
}

func (e *Engine) copyStore(ctx context.Context, target storage.RawWriter, store string, prefix []byte) error {
	rows := make([]storage.RawRow, 0, copyChunk)
	err := e.ScanRaw(ctx, store, prefix, func(key, value []byte) error {
		rows = append(rows, storage.RawRow{Key: key, Value: value})
		if len(rows) < copyChunk {
			return nil
		}
		err := target.InsertRaw(ctx, store, rows...)
		rows = make([]storage.RawRow, 0, copyChunk)
		return err
	})
	if err != nil {
		return fmt.Errorf("copy %s: %w", store, err)
	}
	if err := target.InsertRaw(ctx, store, rows...); err != nil {
		return fmt.Errorf("copy %s: %w", store, err)
	}
	return nil
}

// CopyTables copies the given type stores into target concurrently, then
// optionally the index rows of those types and the metadata store. All
// failures are reported together.
func (e *Engine) CopyTables(ctx context.Context, target storage.RawWriter, types []string, embedding, metadata bool) error {
	jobs := make([]func() error, 0, len(types)+2)
	for _, typeName := range types {
		jobs = append(jobs, func() error {
			return e.CopyDB(ctx, target, typeName)
		})
	}
	if embedding {
		jobs = append(jobs, func() error {
			return e.CopyDBEmbedding(ctx, target, types)
		})
	}
	if metadata {
		jobs = append(jobs, func() error {
			return e.CopyDBMetadata(ctx, target)
		})
	}
	if len(jobs) == 0 {
		return nil
	}

	pool, err := ants.NewPool(min(len(jobs), runtime.GOMAXPROCS(0)))
	if err != nil {
		return fmt.Errorf("failed to create copy pool: %w", err)
	}
	defer pool.Release()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, job := range jobs {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if err := job(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}
	wg.Wait()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	e.logger.Debug("copied tables", "types", len(types), "embedding", embedding, "metadata", metadata)
	return nil
}
