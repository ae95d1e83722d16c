package badger

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/poiesic/transitstore/core"
	"github.com/poiesic/transitstore/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexMaintenance(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.InsertOne(ctx, newLine("L1", "P1")))
	require.NoError(t, e.BlockUntilDone())

	embedding := indexRows(t, e, storage.IndexEmbedding, "Line", "L1")
	require.Len(t, embedding, 1)
	assert.Equal(t, []byte("LINE-L1-"), embedding[0].Key)
	assert.Equal(t, storage.Relation{Type: "Point", ID: "P1", Version: core.VersionAny, Path: core.Path{1, 0}}, embedding[0].Relation)

	inverse := indexRows(t, e, storage.IndexEmbeddingInverse, "Point", "P1")
	require.Len(t, inverse, 1)
	assert.Equal(t, []byte("POINT-P1-"), inverse[0].Key)
	assert.Equal(t, storage.Relation{Type: "Line", ID: "L1", Version: core.VersionAny, Path: core.Path{1, 0}}, inverse[0].Relation)

	// The data source reference is a default attribute and stays unindexed.
	referencing := indexRows(t, e, storage.IndexReferencing, "Line", "L1")
	require.Len(t, referencing, 1)
	assert.Equal(t, []byte("LINE-L1-"), referencing[0].Key)
	assert.Equal(t, storage.Relation{Type: "Operator", ID: "O1", Version: core.VersionAny, Path: core.Path{2}}, referencing[0].Relation)

	inwards := indexRows(t, e, storage.IndexReferencingInwards, "Operator", "O1")
	require.Len(t, inwards, 1)
	assert.Equal(t, []byte("OPERATOR-O1-"), inwards[0].Key)
	assert.Equal(t, storage.Relation{Type: "Line", ID: "L1", Version: core.VersionAny, Path: core.Path{2}}, inwards[0].Relation)
	assert.Empty(t, indexRows(t, e, storage.IndexReferencingInwards, "DataSource", "DS1"))

	t.Run("delete index rows empties all four indices", func(t *testing.T) {
		require.NoError(t, e.DeleteIndexRows(ctx, newLine("L1")))
		require.NoError(t, e.BlockUntilDone())

		assert.Empty(t, indexRows(t, e, storage.IndexEmbedding, "Line", "L1"))
		assert.Empty(t, indexRows(t, e, storage.IndexEmbeddingInverse, "Point", "P1"))
		assert.Empty(t, indexRows(t, e, storage.IndexReferencing, "Line", "L1"))
		assert.Empty(t, indexRows(t, e, storage.IndexReferencingInwards, "Operator", "O1"))

		got, err := e.GetSingle(ctx, "Line", "L1", "")
		require.NoError(t, err)
		assert.NotNil(t, got, "entity row is kept")
	})
}

func TestIndexMaintenance_CountsMatchNesting(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.InsertOne(ctx, newLine("L1", "P1", "P2", "P3")))
	require.NoError(t, e.BlockUntilDone())

	rows := indexRows(t, e, storage.IndexEmbedding, "Line", "L1")
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, core.Path{1, uint16(i)}, row.Relation.Path)
	}
	for _, p := range []string{"P1", "P2", "P3"} {
		assert.Len(t, indexRows(t, e, storage.IndexEmbeddingInverse, "Point", p), 1)
	}
}

func TestDeleteEmbedding_Idempotent(t *testing.T) {
	ctx := context.Background()

	t.Run("separate batches", func(t *testing.T) {
		e := newTestEngine(t)
		for range 2 {
			require.NoError(t, e.InsertOne(ctx, newLine("L1", "P1"), DeleteEmbedding()))
			require.NoError(t, e.BlockUntilDone())
		}
		assert.Len(t, indexRows(t, e, storage.IndexEmbedding, "Line", "L1"), 1)
		assert.Len(t, indexRows(t, e, storage.IndexEmbeddingInverse, "Point", "P1"), 1)
		assert.Len(t, indexRows(t, e, storage.IndexReferencing, "Line", "L1"), 1)
		assert.Len(t, indexRows(t, e, storage.IndexReferencingInwards, "Operator", "O1"), 1)
	})

	t.Run("same batch", func(t *testing.T) {
		e := newTestEngine(t, WithIdleTimeout(time.Second))
		require.NoError(t, e.InsertOne(ctx, newLine("L1", "P1"), DeleteEmbedding()))
		require.NoError(t, e.InsertOne(ctx, newLine("L1", "P1"), DeleteEmbedding()))
		require.NoError(t, e.BlockUntilDone())
		assert.Len(t, indexRows(t, e, storage.IndexEmbedding, "Line", "L1"), 1)
		assert.Len(t, indexRows(t, e, storage.IndexEmbeddingInverse, "Point", "P1"), 1)
	})

	t.Run("changed nesting supersedes old rows", func(t *testing.T) {
		e := newTestEngine(t)
		require.NoError(t, e.InsertOne(ctx, newLine("L1", "P1"), DeleteEmbedding()))
		require.NoError(t, e.BlockUntilDone())
		require.NoError(t, e.InsertOne(ctx, newLine("L1", "P2"), DeleteEmbedding()))
		require.NoError(t, e.BlockUntilDone())

		rows := indexRows(t, e, storage.IndexEmbedding, "Line", "L1")
		require.Len(t, rows, 1)
		assert.Equal(t, "P2", rows[0].Relation.ID)
		assert.Empty(t, indexRows(t, e, storage.IndexEmbeddingInverse, "Point", "P1"))
	})

	t.Run("changed nesting in one batch", func(t *testing.T) {
		e := newTestEngine(t, WithIdleTimeout(time.Second))
		require.NoError(t, e.InsertOne(ctx, newLine("L1", "P1"), DeleteEmbedding()))
		require.NoError(t, e.BlockUntilDone())

		require.NoError(t, e.InsertOne(ctx, newLine("L1", "P2"), DeleteEmbedding()))
		require.NoError(t, e.InsertOne(ctx, newLine("L1", "P3"), DeleteEmbedding()))
		require.NoError(t, e.BlockUntilDone())

		rows := indexRows(t, e, storage.IndexEmbedding, "Line", "L1")
		require.Len(t, rows, 1)
		assert.Equal(t, "P3", rows[0].Relation.ID)
		assert.Empty(t, indexRows(t, e, storage.IndexEmbeddingInverse, "Point", "P1"))
		assert.Empty(t, indexRows(t, e, storage.IndexEmbeddingInverse, "Point", "P2"))
		assert.Len(t, indexRows(t, e, storage.IndexEmbeddingInverse, "Point", "P3"), 1)
		assert.Len(t, indexRows(t, e, storage.IndexReferencing, "Line", "L1"), 1)
	})

	t.Run("without the option rows accumulate", func(t *testing.T) {
		e := newTestEngine(t)
		require.NoError(t, e.InsertOne(ctx, newLine("L1", "P1")))
		require.NoError(t, e.BlockUntilDone())
		require.NoError(t, e.InsertOne(ctx, newLine("L1", "P2")))
		require.NoError(t, e.BlockUntilDone())
		assert.Len(t, indexRows(t, e, storage.IndexEmbedding, "Line", "L1"), 2)
	})
}

func TestDeleteIndexRows_KeepsOtherParents(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.InsertOne(ctx, newLine("L1", "P1")))
	require.NoError(t, e.InsertOne(ctx, newLine("L2", "P1")))
	require.NoError(t, e.BlockUntilDone())
	require.Len(t, indexRows(t, e, storage.IndexEmbeddingInverse, "Point", "P1"), 2)

	require.NoError(t, e.DeleteIndexRows(ctx, newLine("L1")))
	require.NoError(t, e.BlockUntilDone())

	inverse := indexRows(t, e, storage.IndexEmbeddingInverse, "Point", "P1")
	require.Len(t, inverse, 1)
	assert.Equal(t, "L2", inverse[0].Relation.ID)

	inwards := indexRows(t, e, storage.IndexReferencingInwards, "Operator", "O1")
	require.Len(t, inwards, 1)
	assert.Equal(t, "L2", inwards[0].Relation.ID)
	assert.Len(t, indexRows(t, e, storage.IndexEmbedding, "Line", "L2"), 1)
}

func TestDeletePair(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.InsertOne(ctx, newLine("L1", "P1", "P2")))
	require.NoError(t, e.BlockUntilDone())

	rows := indexRows(t, e, storage.IndexEmbedding, "Line", "L1")
	require.Len(t, rows, 2)
	value, err := e.relations.Encode(rows[0].Relation)
	require.NoError(t, err)

	require.NoError(t, e.DeletePair(ctx, storage.IndexEmbedding, rows[0].Key, value))
	require.NoError(t, e.BlockUntilDone())

	left := indexRows(t, e, storage.IndexEmbedding, "Line", "L1")
	require.Len(t, left, 1)
	assert.Equal(t, rows[1].Relation, left[0].Relation)

	err = e.DeletePair(ctx, storage.IndexEmbedding, []byte{'A', 0}, value)
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestGetSingle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	v1 := newOperator("O1")
	v1.Version = "1"
	v2 := newOperator("O1")
	v2.Version = "2"
	v2.Fields[0] = core.String("renamed")
	require.NoError(t, e.InsertEntities(ctx, []*core.Entity{v1, v2, newOperator("O2")}))
	require.NoError(t, e.BlockUntilDone())

	t.Run("exact version", func(t *testing.T) {
		got, err := e.GetSingle(ctx, "Operator", "O1", "2")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "2", got.Version)
		assert.Equal(t, core.String("renamed"), got.Fields[0])
	})

	t.Run("first version without version", func(t *testing.T) {
		got, err := e.GetSingle(ctx, "Operator", "O1", "")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "1", got.Version)
	})

	t.Run("missing entity", func(t *testing.T) {
		got, err := e.GetSingle(ctx, "Operator", "O9", "")
		require.NoError(t, err)
		assert.Nil(t, got)
		got, err = e.GetSingle(ctx, "Operator", "O1", "3")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("missing store", func(t *testing.T) {
		got, err := e.GetSingle(ctx, "DataSource", "DS1", "")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("exists", func(t *testing.T) {
		ok, err := e.Exists(ctx, "Operator", "O2", "")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = e.Exists(ctx, "Operator", "O1", "3")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestEntities(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	for _, id := range []string{"O3", "O1", "O2"} {
		require.NoError(t, e.InsertOne(ctx, newOperator(id)))
	}
	require.NoError(t, e.BlockUntilDone())

	collect := func(filterID string, limit int) []string {
		var ids []string
		for entity, err := range e.Entities(ctx, "Operator", filterID, limit) {
			require.NoError(t, err)
			ids = append(ids, entity.ID)
		}
		return ids
	}

	assert.Equal(t, []string{"O1", "O2", "O3"}, collect("", 0))
	assert.Equal(t, []string{"O1", "O2"}, collect("", 2))
	assert.Equal(t, []string{"O2"}, collect("O2", 0))
	assert.Empty(t, collect("O9", 0))

	var ids []string
	for entity := range e.Entities(ctx, "Line", "", 0) {
		ids = append(ids, entity.ID)
	}
	assert.Empty(t, ids, "missing store iterates nothing")

	t.Run("early break", func(t *testing.T) {
		n := 0
		for range e.Entities(ctx, "Operator", "", 0) {
			n++
			break
		}
		assert.Equal(t, 1, n)
	})

	t.Run("random", func(t *testing.T) {
		got, err := e.GetRandom(ctx, "Operator")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Contains(t, []string{"O1", "O2", "O3"}, got.ID)

		none, err := e.GetRandom(ctx, "Line")
		require.NoError(t, err)
		assert.Nil(t, none)
	})
}

func TestInsertObjects_Errors(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	err := e.InsertObjects(ctx, "Nope", []any{newOperator("O1")})
	assert.ErrorIs(t, err, core.ErrUnknownType)

	err = e.InsertObjects(ctx, "Operator", []any{&core.Entity{Type: "Operator"}})
	assert.ErrorIs(t, err, core.ErrMissingIdentity)

	err = e.InsertObjects(ctx, "Operator", []any{map[string]any{"id": "O1"}})
	assert.ErrorIs(t, err, storage.ErrSerializationFailed)

	err = e.InsertObjects(ctx, "Line", []any{newOperator("O1")})
	assert.ErrorIs(t, err, storage.ErrTypeMismatch)

	bad := newLine("L1")
	bad.Fields[2] = &core.Reference{Type: "OperatorRef"}
	err = e.InsertOne(ctx, bad)
	assert.ErrorIs(t, err, core.ErrEmptyReference)
}

func TestClearAndDrop(t *testing.T) {
	e := newTestEngine(t, WithIdleTimeout(time.Second))
	ctx := context.Background()

	require.NoError(t, e.InsertOne(ctx, newLine("L1", "P1")))
	require.NoError(t, e.InsertOne(ctx, newOperator("O1")))
	require.NoError(t, e.BlockUntilDone())

	t.Run("empty clears before writing", func(t *testing.T) {
		require.NoError(t, e.InsertObjects(ctx, "Operator", []any{newOperator("O2")}, Empty()))
		require.NoError(t, e.BlockUntilDone())

		var ids []string
		for entity, err := range e.Entities(ctx, "Operator", "", 0) {
			require.NoError(t, err)
			ids = append(ids, entity.ID)
		}
		assert.Equal(t, []string{"O2"}, ids)
	})

	t.Run("clears run before puts of the same batch", func(t *testing.T) {
		require.NoError(t, e.InsertOne(ctx, newOperator("O3")))
		require.NoError(t, e.Clear(ctx, "Operator"))
		require.NoError(t, e.BlockUntilDone())

		ok, err := e.Exists(ctx, "Operator", "O3", "")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = e.Exists(ctx, "Operator", "O2", "")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("clear skips missing stores", func(t *testing.T) {
		assert.NoError(t, e.Clear(ctx, "DataSource"))
	})

	t.Run("drop removes store and indices", func(t *testing.T) {
		require.NoError(t, e.Drop(ctx, "Line"))
		require.NoError(t, e.BlockUntilDone())

		tables, err := e.Tables(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Operator"}, tables)

		got, err := e.GetSingle(ctx, "Line", "L1", "")
		require.NoError(t, err)
		assert.Nil(t, got)
		for _, idx := range storage.Indexes {
			assert.Empty(t, indexRows(t, e, idx, "Line", ""))
			assert.Empty(t, indexRows(t, e, idx, "Point", ""))
		}
	})

	t.Run("reserved stores cannot be dropped", func(t *testing.T) {
		assert.ErrorIs(t, e.Drop(ctx, string(storage.IndexEmbedding)), storage.ErrInvalidKey)
	})
}

func TestDeleteAfterPutInOneBatch(t *testing.T) {
	e := newTestEngine(t, WithIdleTimeout(time.Second))
	ctx := context.Background()

	require.NoError(t, e.InsertOne(ctx, newOperator("O1")))
	require.NoError(t, e.InsertOne(ctx, newOperator("O2")))
	require.NoError(t, e.DeleteByPrefix(ctx, "Operator", e.Serializer().EncodeKey("O1", "", "Operator", false)))
	require.NoError(t, e.InsertOne(ctx, newOperator("O3")))
	require.NoError(t, e.BlockUntilDone())

	for id, want := range map[string]bool{"O1": false, "O2": true, "O3": true} {
		ok, err := e.Exists(ctx, "Operator", id, "")
		require.NoError(t, err)
		assert.Equal(t, want, ok, id)
	}
}

func TestDeleteByPrefix(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	v1 := newOperator("O1")
	v1.Version = "1"
	v2 := newOperator("O1")
	v2.Version = "2"
	require.NoError(t, e.InsertEntities(ctx, []*core.Entity{v1, v2, newOperator("O10")}))
	require.NoError(t, e.BlockUntilDone())

	prefix := e.Serializer().EncodeKey("O1", "", "Operator", false)
	require.NoError(t, e.DeleteByPrefix(ctx, "Operator", prefix))
	require.NoError(t, e.BlockUntilDone())

	ok, err := e.Exists(ctx, "Operator", "O1", "")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = e.Exists(ctx, "Operator", "O10", "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCatalogListings(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.InsertOne(ctx, newLine("L1", "P1")))
	require.NoError(t, e.InsertOne(ctx, newOperator("O1")))
	require.NoError(t, e.BlockUntilDone())

	tables, err := e.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Line", "Operator"}, tables)

	tables, err = e.Tables(ctx, "Line")
	require.NoError(t, err)
	assert.Equal(t, []string{"Line"}, tables)

	referencing, err := e.Referencing(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Operator"}, referencing)

	embedded, err := e.Embedded(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Line"}, embedded)

	embedded, err = e.Embedded(ctx, "Operator")
	require.NoError(t, err)
	assert.Empty(t, embedded)
}

func TestMetadata(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	meta := newOperator("O1")
	meta.Version = "7"
	require.NoError(t, e.InsertMetadata(ctx, meta))
	require.NoError(t, e.BlockUntilDone())

	got, err := e.GetMetadata(ctx, "Operator", "O1", "7")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, meta.Fields, got.Fields)

	got, err = e.GetMetadata(ctx, "Operator", "O1", "")
	require.NoError(t, err)
	require.NotNil(t, got)

	missing, err := e.GetSingle(ctx, "Operator", "O1", "")
	require.NoError(t, err)
	assert.Nil(t, missing, "metadata is not an entity row")

	tables, err := e.Tables(ctx)
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestCopyTables(t *testing.T) {
	source := newTestEngine(t)
	target := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, source.InsertOne(ctx, newLine("L1", "P1")))
	require.NoError(t, source.InsertOne(ctx, newOperator("O1")))
	require.NoError(t, source.InsertMetadata(ctx, newOperator("META")))
	require.NoError(t, source.BlockUntilDone())

	require.NoError(t, source.CopyTables(ctx, target, []string{"Line", "Operator"}, true, true))
	require.NoError(t, target.BlockUntilDone())

	line, err := target.GetSingle(ctx, "Line", "L1", "")
	require.NoError(t, err)
	require.NotNil(t, line)
	assert.Equal(t, newLine("L1", "P1").Fields, line.Fields)

	assert.Len(t, indexRows(t, target, storage.IndexEmbedding, "Line", "L1"), 1)
	assert.Len(t, indexRows(t, target, storage.IndexReferencing, "Line", "L1"), 1)
	assert.Len(t, indexRows(t, target, storage.IndexReferencingInwards, "Operator", "O1"), 1)
	// Inverse rows are keyed by Point, which was not copied.
	assert.Empty(t, indexRows(t, target, storage.IndexEmbeddingInverse, "Point", "P1"))

	meta, err := target.GetMetadata(ctx, "Operator", "META", "")
	require.NoError(t, err)
	assert.NotNil(t, meta)

	t.Run("many rows are chunked", func(t *testing.T) {
		for i := range 2500 {
			require.NoError(t, source.InsertOne(ctx, newOperator("X"+strconv.Itoa(i))))
		}
		require.NoError(t, source.BlockUntilDone())
		require.NoError(t, source.CopyDB(ctx, target, "Operator"))
		require.NoError(t, target.BlockUntilDone())

		n := 0
		for _, err := range target.Entities(ctx, "Operator", "", 0) {
			require.NoError(t, err)
			n++
		}
		assert.Equal(t, 2501, n)
	})
}

func TestInsertRaw(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	rows := []storage.RawRow{
		{Key: []byte("A-"), Value: []byte("one")},
		{Key: []byte("B-"), Value: []byte("two")},
	}
	require.NoError(t, e.InsertRaw(ctx, "Operator", rows...))
	require.NoError(t, e.BlockUntilDone())

	var got []storage.RawRow
	err := e.ScanRaw(ctx, "Operator", nil, func(key, value []byte) error {
		got = append(got, storage.RawRow{Key: key, Value: value})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	err = e.InsertRaw(ctx, string(storage.IndexEmbedding), storage.RawRow{Key: []byte{'A', 0}, Value: []byte("x")})
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestVacuum(t *testing.T) {
	ctx := context.Background()

	t.Run("in memory", func(t *testing.T) {
		e := newTestEngine(t)
		require.NoError(t, e.InsertOne(ctx, newLine("L1", "P1")))
		require.NoError(t, e.BlockUntilDone())
		_, before := e.Usage()

		require.NoError(t, e.Vacuum(ctx))
		_, after := e.Usage()
		assert.Positive(t, after)
		assert.Equal(t, before, after)
	})

	t.Run("on disk", func(t *testing.T) {
		serializer, err := storage.NewSerializer(testRegistry())
		require.NoError(t, err)
		defer serializer.Close()

		e, err := Open(serializer, NewConfig(WithPath(t.TempDir())))
		require.NoError(t, err)
		defer e.Close()

		require.NoError(t, e.InsertOne(ctx, newLine("L1", "P1")))
		require.NoError(t, e.BlockUntilDone())
		require.NoError(t, e.Drop(ctx, "Line"))
		require.NoError(t, e.Vacuum(ctx))

		_, used := e.Usage()
		assert.Zero(t, used)
	})
}
