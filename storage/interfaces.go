package storage

import (
	"context"
	"iter"
	"log/slog"

	"github.com/poiesic/transitstore/core"
)

// Index names a multi-value index sub-store.
type Index string

// The four relation indices and the metadata store. A leading underscore
// marks a sub-store that holds no entity type.
const (
	IndexEmbedding          Index = "_embedding"
	IndexEmbeddingInverse   Index = "_embedding_inverse"
	IndexReferencing        Index = "_referencing"
	IndexReferencingInwards Index = "_referencing_inwards"

	MetadataStore = "_metadata"
)

// Indexes lists the relation indices in the order they are maintained.
var Indexes = []Index{IndexEmbedding, IndexEmbeddingInverse, IndexReferencing, IndexReferencingInwards}

// IsReserved reports whether a sub-store name is an index or metadata store.
func IsReserved(name string) bool {
	return len(name) > 0 && name[0] == '_'
}

// IndexRow is one row of a relation index: the type-qualified key of the
// owning entity and the relation it points at.
type IndexRow struct {
	Key      []byte
	Relation Relation
}

// RawRow is an undecoded row of a sub-store.
type RawRow struct {
	Key   []byte
	Value []byte
}

// Reader provides the read operations that graph traversal is built on.
// Implementations must be safe for concurrent use.
type Reader interface {
	// Serializer returns the codec used for keys and stored entities.
	Serializer() *Serializer

	// Cache returns the entity cache shared by traversal passes.
	Cache() *EntityCache

	// Logger returns the logger for traversal warnings.
	Logger() *slog.Logger

	// GetSingle loads one entity. An empty version returns the first
	// stored version. Missing entities return nil without error.
	GetSingle(ctx context.Context, typeName, id, version string) (*core.Entity, error)

	// Entities iterates stored entities of a type in key order. A non-empty
	// filterID restricts to that id; limit <= 0 means no limit.
	Entities(ctx context.Context, typeName, filterID string, limit int) iter.Seq2[*core.Entity, error]

	// Relations iterates the rows of an index whose key belongs to typeName
	// and, when filterID is set, to that id.
	Relations(ctx context.Context, index Index, typeName, filterID string) iter.Seq2[IndexRow, error]
}

// Catalog lists what a store contains.
type Catalog interface {
	// Tables lists entity types with a sub-store, restricted to exclusively
	// or to the interesting types when exclusively is empty.
	Tables(ctx context.Context, exclusively ...string) ([]string, error)

	// Referencing lists target types found in the referencing index.
	Referencing(ctx context.Context, exclusively ...string) ([]string, error)

	// Embedded lists parent types found in the embedding-inverse index.
	Embedded(ctx context.Context, exclusively ...string) ([]string, error)
}

// RawWriter accepts undecoded rows for a named sub-store.
type RawWriter interface {
	InsertRaw(ctx context.Context, store string, rows ...RawRow) error
}

// Store is a complete storage engine as seen by higher layers.
type Store interface {
	Reader
	Catalog
	RawWriter

	// CopyTables streams the given type stores, and optionally their index
	// rows and the metadata store, into target.
	CopyTables(ctx context.Context, target RawWriter, types []string, embedding, metadata bool) error

	// BlockUntilDone waits until every queued write is committed.
	BlockUntilDone() error

	Close() error
}
