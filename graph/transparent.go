package graph

import (
	"context"
	"fmt"
	"iter"

	"github.com/poiesic/transitstore/core"
	"github.com/poiesic/transitstore/storage"
)

// LoadEmbeddedTransparent iterates entities of typeName that are stored
// embedded inside another entity. Each hit of the embedding-inverse index
// loads the parent through the cache and yields either the parent or the
// nested entity found at the stored path. Rows whose parent is missing are
// skipped and do not count towards limit. With a filterID only the first
// hit is yielded.
func LoadEmbeddedTransparent(ctx context.Context, r storage.Reader, typeName, filterID string, limit int, parent bool) iter.Seq2[*core.Entity, error] {
	return func(yield func(*core.Entity, error) bool) {
		n := 0
		for row, err := range r.Relations(ctx, storage.IndexEmbeddingInverse, typeName, filterID) {
			if err != nil {
				yield(nil, err)
				return
			}
			owner, err := loadCached(ctx, r, row.Relation)
			if err != nil {
				yield(nil, err)
				return
			}
			if owner == nil {
				continue
			}

			result := owner
			if !parent {
				result, err = core.NavigateEntity(owner, row.Relation.Path)
				if err != nil {
					yield(nil, fmt.Errorf("embedded %s in %s %s: %w", typeName, owner.Type, owner.ID, err))
					return
				}
			}
			if !yield(result, nil) || filterID != "" {
				return
			}
			n++
			if limit > 0 && n >= limit {
				return
			}
		}
	}
}

// loadCached loads the entity a relation points at through the reader's
// cache. Missing entities return nil.
func loadCached(ctx context.Context, r storage.Reader, rel storage.Relation) (*core.Entity, error) {
	key := r.Serializer().EncodeKey(rel.ID, rel.Version, rel.Type, true)
	entity, _, err := r.Cache().Get(key, func() (*core.Entity, bool, error) {
		e, err := r.GetSingle(ctx, rel.Type, rel.ID, rel.Version)
		return e, e != nil, err
	})
	return entity, err
}
