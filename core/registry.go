package core

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// FieldKind classifies the values a field may hold.
type FieldKind int

const (
	// KindScalar holds String, Int, Float or Bool values.
	KindScalar FieldKind = iota + 1
	// KindReference holds a *Reference.
	KindReference
	// KindEntity holds a nested *Entity.
	KindEntity
	// KindList holds a List whose elements are of kind Elem.
	KindList
)

// String returns the schema spelling of the kind.
func (k FieldKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindReference:
		return "reference"
	case KindEntity:
		return "entity"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// ParseFieldKind parses the schema spelling of a kind.
func ParseFieldKind(s string) (FieldKind, error) {
	switch strings.ToLower(s) {
	case "scalar", "":
		return KindScalar, nil
	case "reference", "ref":
		return KindReference, nil
	case "entity":
		return KindEntity, nil
	case "list":
		return KindList, nil
	default:
		return 0, fmt.Errorf("%w: unknown field kind %q", ErrInvalidSchema, s)
	}
}

// FieldDescriptor describes one positional field of a type.
type FieldDescriptor struct {
	Name string
	Kind FieldKind
	// Elem is the element kind for list fields.
	Elem FieldKind
	// Type names the nested entity or reference type, if any.
	Type    string
	Ordinal int
}

// TypeDescriptor describes an entity type: its tag, its ordered fields, and
// whether nested occurrences of it are indexed as embeddings.
type TypeDescriptor struct {
	Name        string
	Tag         uint16
	Interesting bool
	Fields      []FieldDescriptor

	fieldIndex map[string]int
	fieldNames []string
}

// FieldNames returns the ordered field names. The slice is computed once per type.
func (d *TypeDescriptor) FieldNames() []string {
	return d.fieldNames
}

// FieldIndex returns the ordinal of the named field.
func (d *TypeDescriptor) FieldIndex(name string) (int, bool) {
	idx, ok := d.fieldIndex[name]
	return idx, ok
}

// New creates an empty entity of this type.
func (d *TypeDescriptor) New(id, version string) *Entity {
	return &Entity{
		Type:    d.Name,
		ID:      id,
		Version: version,
		Fields:  make([]Value, len(d.Fields)),
	}
}

// Get returns the named field of e, or nil when unset or undeclared.
func (d *TypeDescriptor) Get(e *Entity, name string) Value {
	idx, ok := d.fieldIndex[name]
	if !ok {
		return nil
	}
	return e.Field(idx)
}

// Set stores v in the named field of e.
func (d *TypeDescriptor) Set(e *Entity, name string, v Value) error {
	idx, ok := d.fieldIndex[name]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, d.Name, name)
	}
	e.SetField(idx, v)
	return nil
}

// DefaultExcludedFields are reference fields that apply frame defaults and
// are not written to the referencing indices.
var DefaultExcludedFields = []string{
	"data_source_ref_attribute",
	"responsibility_set_ref_attribute",
}

// Registry maps type names to descriptors and to the 16-bit tags used in
// relation encoding. It is immutable after construction.
type Registry struct {
	types    []*TypeDescriptor
	byName   map[string]*TypeDescriptor
	excluded map[string]struct{}
}

// NewRegistry builds a registry. Tags are assigned in the given order.
func NewRegistry(types ...TypeDescriptor) (*Registry, error) {
	if len(types) > math.MaxUint16+1 {
		return nil, ErrTooManyTypes
	}
	r := &Registry{
		types:    make([]*TypeDescriptor, 0, len(types)),
		byName:   make(map[string]*TypeDescriptor, len(types)),
		excluded: make(map[string]struct{}, len(DefaultExcludedFields)),
	}
	for _, name := range DefaultExcludedFields {
		r.excluded[name] = struct{}{}
	}

	for i := range types {
		d := types[i]
		if d.Name == "" {
			return nil, fmt.Errorf("%w: type without name", ErrInvalidSchema)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateType, d.Name)
		}
		d.Tag = uint16(i)
		d.Fields = slices.Clone(d.Fields)
		d.fieldIndex = make(map[string]int, len(d.Fields))
		d.fieldNames = make([]string, len(d.Fields))
		for j := range d.Fields {
			f := &d.Fields[j]
			if _, dup := d.fieldIndex[f.Name]; dup {
				return nil, fmt.Errorf("%w: duplicate field %s.%s", ErrInvalidSchema, d.Name, f.Name)
			}
			f.Ordinal = j
			d.fieldIndex[f.Name] = j
			d.fieldNames[j] = f.Name
		}
		r.types = append(r.types, &d)
		r.byName[d.Name] = &d
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on error.
func MustRegistry(types ...TypeDescriptor) *Registry {
	r, err := NewRegistry(types...)
	if err != nil {
		panic(err)
	}
	return r
}

// WithExcludedFields returns a copy of the registry whose excluded reference
// fields are replaced by names.
func (r *Registry) WithExcludedFields(names ...string) *Registry {
	cp := *r
	cp.excluded = make(map[string]struct{}, len(names))
	for _, name := range names {
		cp.excluded[name] = struct{}{}
	}
	return &cp
}

// Lookup returns the descriptor for a type name.
func (r *Registry) Lookup(name string) (*TypeDescriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// ByTag returns the descriptor for a relation tag.
func (r *Registry) ByTag(tag uint16) (*TypeDescriptor, bool) {
	if int(tag) >= len(r.types) {
		return nil, false
	}
	return r.types[tag], true
}

// Known reports whether name is a registered type.
func (r *Registry) Known(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// IsInteresting reports whether nested occurrences of the type are indexed.
func (r *Registry) IsInteresting(name string) bool {
	d, ok := r.byName[name]
	return ok && d.Interesting
}

// IsExcluded reports whether a reference held directly in the named field
// stays out of the referencing indices.
func (r *Registry) IsExcluded(field string) bool {
	_, ok := r.excluded[field]
	return ok
}

// Names returns all type names in tag order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.types))
	for i, d := range r.types {
		names[i] = d.Name
	}
	return names
}

// Interesting returns the names of all indexed types, sorted.
func (r *Registry) Interesting() []string {
	var names []string
	for _, d := range r.types {
		if d.Interesting {
			names = append(names, d.Name)
		}
	}
	slices.Sort(names)
	return names
}

// PathNames renders a numeric path inside e using field names, e.g. "stops.0".
func (r *Registry) PathNames(e *Entity, path Path) (string, error) {
	parts := make([]string, 0, len(path))
	var cur Value = e
	for _, idx := range path {
		switch v := cur.(type) {
		case *Entity:
			d, ok := r.Lookup(v.Type)
			if !ok {
				return "", fmt.Errorf("%w: %s", ErrUnknownType, v.Type)
			}
			if int(idx) >= len(d.fieldNames) {
				return "", fmt.Errorf("%w: field %d of %s", ErrInvalidPath, idx, v.Type)
			}
			parts = append(parts, d.fieldNames[idx])
			cur = v.Field(int(idx))
		case List:
			if int(idx) >= len(v) {
				return "", fmt.Errorf("%w: index %d out of range", ErrInvalidPath, idx)
			}
			parts = append(parts, fmt.Sprint(idx))
			cur = v[idx]
		default:
			return "", fmt.Errorf("%w: cannot descend into %T", ErrInvalidPath, cur)
		}
	}
	return strings.Join(parts, "."), nil
}
