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

// Package graph loads entities and materializes connected subgraphs on top
// of a storage.Reader, following embedding and referencing relations.
package graph

import (
	"context"
	"iter"

	"github.com/poiesic/transitstore/core"
	"github.com/poiesic/transitstore/storage"
)

// LoadReferencing iterates the relations from entities of typeName to the
// entities they reference, restricted to filterID when set.
func LoadReferencing(ctx context.Context, r storage.Reader, typeName, filterID string) iter.Seq2[storage.Relation, error] {
	return relations(ctx, r, storage.IndexReferencing, typeName, filterID)
}

// LoadReferencingInwards iterates the relations from entities of typeName to
// the entities referencing them, restricted to filterID when set.
func LoadReferencingInwards(ctx context.Context, r storage.Reader, typeName, filterID string) iter.Seq2[storage.Relation, error] {
	return relations(ctx, r, storage.IndexReferencingInwards, typeName, filterID)
}

func relations(ctx context.Context, r storage.Reader, index storage.Index, typeName, filterID string) iter.Seq2[storage.Relation, error] {
	return func(yield func(storage.Relation, error) bool) {
		for row, err := range r.Relations(ctx, index, typeName, filterID) {
			if !yield(row.Relation, err) || err != nil {
				return
			}
		}
	}
}

// LoadOption configures LoadGenerator and LoadLocal.
type LoadOption func(*loadOptions)

type loadOptions struct {
	filterID       string
	limit          int
	embedding      bool
	embeddedParent bool
}

// WithFilterID restricts loading to one id.
func WithFilterID(id string) LoadOption {
	return func(o *loadOptions) {
		o.filterID = id
	}
}

// WithLimit stops after n entities. Zero or less means no limit.
func WithLimit(n int) LoadOption {
	return func(o *loadOptions) {
		o.limit = n
	}
}

// WithoutEmbedding skips entities that are only stored embedded inside
// another entity.
func WithoutEmbedding() LoadOption {
	return func(o *loadOptions) {
		o.embedding = false
	}
}

// WithEmbeddedParent yields the containing entity instead of the embedded
// one for entities found through the embedding index.
func WithEmbeddedParent() LoadOption {
	return func(o *loadOptions) {
		o.embeddedParent = true
	}
}

// LoadGenerator iterates the entities of typeName: first those stored in
// their own sub-store, then, unless disabled, those embedded in others.
func LoadGenerator(ctx context.Context, r storage.Reader, typeName string, opts ...LoadOption) iter.Seq2[*core.Entity, error] {
	options := &loadOptions{embedding: true}
	for _, opt := range opts {
		opt(options)
	}
	return func(yield func(*core.Entity, error) bool) {
		n := 0
		for entity, err := range r.Entities(ctx, typeName, options.filterID, options.limit) {
			if !yield(entity, err) || err != nil {
				return
			}
			n++
		}
		if !options.embedding {
			return
		}
		limit := 0
		if options.limit > 0 {
			if n >= options.limit {
				return
			}
			limit = options.limit - n
		}
		for entity, err := range LoadEmbeddedTransparent(ctx, r, typeName, options.filterID, limit, options.embeddedParent) {
			if !yield(entity, err) || err != nil {
				return
			}
		}
	}
}

// LoadLocal collects LoadGenerator into a slice.
func LoadLocal(ctx context.Context, r storage.Reader, typeName string, opts ...LoadOption) ([]*core.Entity, error) {
	var entities []*core.Entity
	for entity, err := range LoadGenerator(ctx, r, typeName, opts...) {
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}
