package transitstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poiesic/transitstore/core"
	"github.com/poiesic/transitstore/graph"
	"github.com/poiesic/transitstore/storage"
	"github.com/poiesic/transitstore/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
types:
  - name: Operator
    interesting: true
    fields:
      - {name: name}
  - name: Line
    interesting: true
    fields:
      - {name: name}
      - {name: operator_ref, kind: reference, type: OperatorRef}
`

const testDocuments = `
type: Operator
id: O1
name: Ruter
---
type: Line
id: L1
name: Airport Express
operator_ref: O1
---
type: Line
id: L2
name: Night Bus
operator_ref: {ref: O1, version: "3"}
`

func testRegistry(t *testing.T) *core.Registry {
	t.Helper()
	r, err := core.ParseSchema(strings.NewReader(testSchema))
	require.NoError(t, err)
	return r
}

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase("",
		WithRegistry(testRegistry(t)),
		WithEngineOptions(badger.WithInMemory()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func importTestDocuments(t *testing.T, db *Database) {
	t.Helper()
	n, err := db.Import(context.Background(), strings.NewReader(testDocuments))
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestNewDatabase(t *testing.T) {
	t.Run("create new database", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "test_db")
		db, err := NewDatabase(dir)
		require.NoError(t, err)
		require.NotNil(t, db)

		assert.NotNil(t, db.Engine())
		assert.NotNil(t, db.Codec())
		assert.True(t, db.Registry().IsInteresting("Line"), "built-in transit schema")
		assert.NoError(t, db.Close())
	})

	t.Run("error with invalid path", func(t *testing.T) {
		// A regular file where the directory should be
		tmpFile := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(tmpFile, []byte("test"), 0644))

		db, err := NewDatabase(tmpFile)
		assert.Error(t, err)
		assert.Nil(t, db)
	})

	t.Run("schema file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "schema.yaml")
		require.NoError(t, os.WriteFile(path, []byte(testSchema), 0644))

		db, err := NewDatabase("", WithSchema(path), WithEngineOptions(badger.WithInMemory()))
		require.NoError(t, err)
		defer db.Close()
		assert.Equal(t, []string{"Operator", "Line"}, db.Registry().Names())
	})

	t.Run("missing schema file", func(t *testing.T) {
		db, err := NewDatabase("", WithSchema(filepath.Join(t.TempDir(), "nope.yaml")),
			WithEngineOptions(badger.WithInMemory()))
		assert.Error(t, err)
		assert.Nil(t, db)
	})
}

func TestDatabase_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := NewDatabase(dir, WithRegistry(testRegistry(t)))
	require.NoError(t, err)
	importTestDocuments(t, db)
	require.NoError(t, db.Close())

	db, err = NewDatabase(dir, WithRegistry(testRegistry(t)), WithEngineOptions(badger.WithReadOnly()))
	require.NoError(t, err)
	defer db.Close()

	line, err := db.Engine().GetSingle(ctx, "Line", "L1", "")
	require.NoError(t, err)
	require.NotNil(t, line)
	assert.Equal(t, core.String("Airport Express"), line.Fields[0])
}

func TestDatabase_Import(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	importTestDocuments(t, db)

	tables, err := db.Engine().Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Line", "Operator"}, tables)

	referencing, err := db.Engine().Referencing(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Operator"}, referencing)

	// The versioned reference still finds the unversioned operator.
	l2, err := db.Engine().GetSingle(ctx, "Line", "L2", "")
	require.NoError(t, err)
	ref := l2.Fields[1].(*core.Reference)
	op, err := db.Engine().GetSingle(ctx, ref.TargetType(), ref.Ref, "")
	require.NoError(t, err)
	assert.Equal(t, "O1", op.ID)
}

func TestDatabase_ImportErrors(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	tests := map[string]string{
		"unknown type":   "type: Route\nid: R1\n",
		"unknown field":  "type: Line\nid: L1\ncolour: red\n",
		"missing id":     "type: Line\nname: x\n",
		"malformed yaml": "type: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			n, err := db.Import(ctx, strings.NewReader(doc))
			assert.Error(t, err)
			assert.Zero(t, n)
		})
	}

	n, err := db.Import(ctx, strings.NewReader("type: Operator\nid: O1\n---\ntype: Nope\nid: X\n"))
	assert.Error(t, err)
	assert.Equal(t, 1, n, "documents before the failure are stored")
}

func TestDatabase_Export(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	importTestDocuments(t, db)

	var buf bytes.Buffer
	n, err := db.Export(ctx, &buf, "Line")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, buf.String(), "id: L1")
	assert.Contains(t, buf.String(), "id: L2")
	assert.NotContains(t, buf.String(), "Ruter")

	// The export imports cleanly into a fresh store.
	other := newTestDatabase(t)
	imported, err := other.Import(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)

	buf.Reset()
	n, err = db.Export(ctx, &buf, "Operator")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDatabase_Resolve(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	importTestDocuments(t, db)

	resolved, err := db.Resolve(ctx, "Line", "L1", graph.Options{Outwards: true})
	require.NoError(t, err)
	assert.True(t, resolved.Contains("Line", "L1"))
	assert.True(t, resolved.Contains("Operator", "O1"))
	assert.False(t, resolved.Contains("Line", "L2"))

	resolved, err = db.Resolve(ctx, "Operator", "O1", graph.Options{
		Inwards:     true,
		FilterClass: []string{"Operator"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resolved.Len())

	_, err = db.Resolve(ctx, "Line", "L9", graph.DefaultOptions())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDatabase_CopyTo(t *testing.T) {
	source := newTestDatabase(t)
	ctx := context.Background()
	importTestDocuments(t, source)

	t.Run("referenced types follow", func(t *testing.T) {
		target := newTestDatabase(t)
		require.NoError(t, source.CopyTo(ctx, target, "Line"))

		tables, err := target.Engine().Tables(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Line", "Operator"}, tables)

		op, err := target.Engine().GetSingle(ctx, "Operator", "O1", "")
		require.NoError(t, err)
		assert.Equal(t, core.String("Ruter"), op.Fields[0])
	})

	t.Run("all types", func(t *testing.T) {
		target := newTestDatabase(t)
		require.NoError(t, source.CopyTo(ctx, target))

		var buf bytes.Buffer
		n, err := target.Export(ctx, &buf, "Line")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}
