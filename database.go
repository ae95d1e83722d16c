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

package transitstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/poiesic/transitstore/core"
	"github.com/poiesic/transitstore/document"
	"github.com/poiesic/transitstore/graph"
	"github.com/poiesic/transitstore/storage"
	"github.com/poiesic/transitstore/storage/badger"
)

// Database ties a type registry, the entity serializer, the document codec
// and a storage engine together.
type Database struct {
	engine     *badger.Engine
	serializer *storage.Serializer
	codec      *document.Codec
	registry   *core.Registry
	logger     *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	registry    *core.Registry
	schemaPath  string
	compression bool
	logger      *slog.Logger
	engineOpts  []badger.Option
}

// WithRegistry uses registry instead of the built-in transit schema.
func WithRegistry(registry *core.Registry) DatabaseOption {
	return func(o *databaseOptions) {
		o.registry = registry
	}
}

// WithSchema loads the type registry from a YAML schema file.
func WithSchema(path string) DatabaseOption {
	return func(o *databaseOptions) {
		o.schemaPath = path
	}
}

// WithCompression enables or disables compression of stored entities.
func WithCompression(enabled bool) DatabaseOption {
	return func(o *databaseOptions) {
		o.compression = enabled
	}
}

// WithLogger sets the logger for the database and its engine.
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		o.logger = logger
	}
}

// WithEngineOptions passes options through to the storage engine.
func WithEngineOptions(opts ...badger.Option) DatabaseOption {
	return func(o *databaseOptions) {
		o.engineOpts = append(o.engineOpts, opts...)
	}
}

// NewDatabase opens the store at filePath. Pass badger.WithInMemory through
// WithEngineOptions for a store without files.
func NewDatabase(filePath string, opts ...DatabaseOption) (*Database, error) {
	options := &databaseOptions{
		compression: true,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	registry := options.registry
	if options.schemaPath != "" {
		var err error
		if registry, err = core.LoadSchema(options.schemaPath); err != nil {
			return nil, err
		}
	}
	if registry == nil {
		registry = core.TransitRegistry()
	}

	codec := document.NewCodec(registry)
	serializer, err := storage.NewSerializer(registry,
		storage.WithCompression(options.compression),
		storage.WithForeignDecoder(codec))
	if err != nil {
		return nil, err
	}

	engineOpts := append([]badger.Option{
		badger.WithPath(filePath),
		badger.WithLogger(options.logger),
	}, options.engineOpts...)
	engine, err := badger.Open(serializer, badger.NewConfig(engineOpts...))
	if err != nil {
		serializer.Close()
		return nil, err
	}

	return &Database{
		engine:     engine,
		serializer: serializer,
		codec:      codec,
		registry:   registry,
		logger:     options.logger,
	}, nil
}

// Close flushes pending writes and releases the engine and serializer.
func (db *Database) Close() error {
	if err := db.engine.Close(); err != nil {
		db.logger.Error("error closing storage engine", "err", err)
		db.serializer.Close()
		return err
	}
	if err := db.serializer.Close(); err != nil {
		db.logger.Error("error closing serializer", "err", err)
		return err
	}
	return nil
}

// Engine returns the storage engine.
func (db *Database) Engine() *badger.Engine {
	return db.engine
}

// Registry returns the type registry the database was opened with.
func (db *Database) Registry() *core.Registry {
	return db.registry
}

// Codec returns the document codec.
func (db *Database) Codec() *document.Codec {
	return db.codec
}

// Import stores every document of a YAML stream and waits until they are
// committed. It returns the number of stored entities.
func (db *Database) Import(ctx context.Context, r io.Reader, opts ...badger.InsertOption) (int, error) {
	n := 0
	for entity, err := range db.codec.Stream(r) {
		if err != nil {
			return n, err
		}
		if err := db.registry.ValidateAgainst(entity); err != nil {
			return n, err
		}
		if err := db.engine.InsertOne(ctx, entity, opts...); err != nil {
			return n, err
		}
		n++
	}
	if err := db.engine.BlockUntilDone(); err != nil {
		return n, err
	}
	db.logger.Info("imported documents", "count", n)
	return n, nil
}

// Export writes every stored entity of typeName as a YAML stream.
func (db *Database) Export(ctx context.Context, w io.Writer, typeName string) (int, error) {
	var entities []*core.Entity
	for entity, err := range db.engine.Entities(ctx, typeName, "", 0) {
		if err != nil {
			return 0, err
		}
		entities = append(entities, entity)
	}
	data, err := db.codec.Marshal(entities...)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(data); err != nil {
		return 0, err
	}
	return len(entities), nil
}

// Resolve materializes the subgraph around one stored entity. The entity
// may live in its own sub-store or be embedded in another.
func (db *Database) Resolve(ctx context.Context, typeName, id string, opts graph.Options) (*graph.Resolved, error) {
	seeds, err := graph.LoadLocal(ctx, db.engine, typeName, graph.WithFilterID(id), graph.WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("%w: %s %s", storage.ErrNotFound, typeName, id)
	}
	return graph.ResolveSubgraph(ctx, db.engine, seeds, opts)
}

// CopyTo copies the given types, or every stored type when types is empty,
// with their index rows and the metadata store into target. Referenced
// types that are still missing in target are copied afterwards.
func (db *Database) CopyTo(ctx context.Context, target *Database, types ...string) error {
	if len(types) == 0 {
		var err error
		if types, err = db.engine.Tables(ctx, db.registry.Names()...); err != nil {
			return err
		}
	}
	if err := db.engine.CopyTables(ctx, target.engine, types, true, true); err != nil {
		return err
	}
	if _, err := graph.MissingClassUpdate(ctx, db.engine, target.engine); err != nil {
		return err
	}
	return target.engine.BlockUntilDone()
}
