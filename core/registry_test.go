package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRegistry models a Line embedding Stops, which embed an uninteresting
// Location, and referencing an Operator.
func testRegistry() *Registry {
	return MustRegistry(
		TypeDescriptor{Name: "Operator", Interesting: true, Fields: []FieldDescriptor{
			{Name: "name", Kind: KindScalar},
		}},
		TypeDescriptor{Name: "Location", Fields: []FieldDescriptor{
			{Name: "lat", Kind: KindScalar},
			{Name: "lon", Kind: KindScalar},
		}},
		TypeDescriptor{Name: "Stop", Interesting: true, Fields: []FieldDescriptor{
			{Name: "name", Kind: KindScalar},
			{Name: "location", Kind: KindEntity, Type: "Location"},
			{Name: "operator_ref", Kind: KindReference, Type: "OperatorRef"},
		}},
		TypeDescriptor{Name: "Line", Interesting: true, Fields: []FieldDescriptor{
			{Name: "name", Kind: KindScalar},
			{Name: "stops", Kind: KindList, Elem: KindEntity, Type: "Stop"},
			{Name: "operator_ref", Kind: KindReference, Type: "OperatorRef"},
			{Name: "data_source_ref_attribute", Kind: KindReference, Type: "DataSourceRef"},
		}},
	)
}

func TestNewRegistry(t *testing.T) {
	r := testRegistry()

	d, ok := r.Lookup("Stop")
	require.True(t, ok)
	assert.Equal(t, uint16(2), d.Tag)
	assert.Equal(t, []string{"name", "location", "operator_ref"}, d.FieldNames())

	byTag, ok := r.ByTag(2)
	require.True(t, ok)
	assert.Same(t, d, byTag)
	_, ok = r.ByTag(99)
	assert.False(t, ok)

	idx, ok := d.FieldIndex("operator_ref")
	assert.True(t, ok)
	assert.Equal(t, 2, idx)
	assert.Equal(t, 2, d.Fields[2].Ordinal)

	assert.True(t, r.Known("Location"))
	assert.False(t, r.IsInteresting("Location"))
	assert.True(t, r.IsInteresting("Line"))
	assert.False(t, r.Known("Nope"))

	assert.Equal(t, []string{"Operator", "Location", "Stop", "Line"}, r.Names())
	assert.Equal(t, []string{"Line", "Operator", "Stop"}, r.Interesting())
}

func TestNewRegistry_Errors(t *testing.T) {
	_, err := NewRegistry(TypeDescriptor{Name: "A"}, TypeDescriptor{Name: "A"})
	assert.ErrorIs(t, err, ErrDuplicateType)

	_, err = NewRegistry(TypeDescriptor{})
	assert.ErrorIs(t, err, ErrInvalidSchema)

	_, err = NewRegistry(TypeDescriptor{Name: "A", Fields: []FieldDescriptor{{Name: "x"}, {Name: "x"}}})
	assert.ErrorIs(t, err, ErrInvalidSchema)

	assert.Panics(t, func() {
		MustRegistry(TypeDescriptor{Name: "A"}, TypeDescriptor{Name: "A"})
	})
}

func TestExcludedFields(t *testing.T) {
	r := testRegistry()
	assert.True(t, r.IsExcluded("data_source_ref_attribute"))
	assert.True(t, r.IsExcluded("responsibility_set_ref_attribute"))
	assert.False(t, r.IsExcluded("operator_ref"))

	custom := r.WithExcludedFields("operator_ref")
	assert.True(t, custom.IsExcluded("operator_ref"))
	assert.False(t, custom.IsExcluded("data_source_ref_attribute"))
	assert.False(t, r.IsExcluded("operator_ref"), "original is unchanged")
}

func TestTypeDescriptor_GetSet(t *testing.T) {
	d, _ := testRegistry().Lookup("Line")
	e := d.New("L1", "2")
	assert.Equal(t, "Line", e.Type)
	assert.Equal(t, "2", e.Version)

	require.NoError(t, d.Set(e, "data_source_ref_attribute", &Reference{Type: "DataSourceRef", Ref: "DS"}))
	assert.Len(t, e.Fields, 4)
	assert.Nil(t, d.Get(e, "name"))
	assert.Equal(t, "DS", d.Get(e, "data_source_ref_attribute").(*Reference).Ref)
	assert.Nil(t, d.Get(e, "nope"))

	assert.ErrorIs(t, d.Set(e, "nope", String("x")), ErrUnknownField)
}

func TestParseFieldKind(t *testing.T) {
	for in, want := range map[string]FieldKind{
		"":          KindScalar,
		"scalar":    KindScalar,
		"Reference": KindReference,
		"ref":       KindReference,
		"entity":    KindEntity,
		"list":      KindList,
	} {
		got, err := ParseFieldKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFieldKind("map")
	assert.ErrorIs(t, err, ErrInvalidSchema)
	assert.Equal(t, "list", KindList.String())
}

func TestParseSchema(t *testing.T) {
	doc := `
excluded_fields: [hidden_ref]
types:
  - name: Operator
    interesting: true
    fields:
      - {name: name}
  - name: Line
    interesting: true
    fields:
      - {name: name, kind: scalar}
      - {name: operator_ref, kind: reference, type: OperatorRef}
      - {name: hidden_ref, kind: reference, type: OperatorRef}
      - {name: tags, kind: list, elem: scalar}
`
	r, err := ParseSchema(strings.NewReader(doc))
	require.NoError(t, err)

	d, ok := r.Lookup("Line")
	require.True(t, ok)
	assert.Equal(t, KindReference, d.Fields[1].Kind)
	assert.Equal(t, KindList, d.Fields[3].Kind)
	assert.Equal(t, KindScalar, d.Fields[3].Elem)
	assert.True(t, r.IsExcluded("hidden_ref"))
	assert.False(t, r.IsExcluded("data_source_ref_attribute"))
}

func TestParseSchema_Errors(t *testing.T) {
	tests := map[string]string{
		"unknown key":  "types: []\nextra: 1\n",
		"bad kind":     "types:\n  - name: A\n    fields:\n      - {name: x, kind: map}\n",
		"nested lists": "types:\n  - name: A\n    fields:\n      - {name: x, kind: list, elem: list}\n",
		"duplicate":    "types:\n  - name: A\n  - name: A\n",
		"not yaml":     "types: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSchema(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("types:\n  - name: A\n    interesting: true\n"), 0644))

	r, err := LoadSchema(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, r.Names())

	_, err = LoadSchema(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestTransitRegistry(t *testing.T) {
	r := TransitRegistry()

	for _, name := range []string{"Line", "Route", "StopPlace", "Quay", "ServiceJourney", "Operator", "DataSource"} {
		assert.True(t, r.IsInteresting(name), name)
	}
	assert.True(t, r.Known("Location"))
	assert.False(t, r.IsInteresting("Location"))
	assert.True(t, r.IsExcluded("data_source_ref_attribute"))

	line, ok := r.Lookup("Line")
	require.True(t, ok)
	idx, ok := line.FieldIndex("routes")
	require.True(t, ok)
	assert.Equal(t, KindList, line.Fields[idx].Kind)
	assert.Equal(t, "Route", line.Fields[idx].Type)
}
