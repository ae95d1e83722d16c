package core

import (
	"fmt"
	"iter"
	"math"
	"slices"
)

// Nested is a value discovered while walking an entity: exactly one of
// Entity or Reference is set. Field names the field that directly holds the
// value (the list field for list elements).
type Nested struct {
	Entity    *Entity
	Reference *Reference
	Path      Path
	Field     string
}

// IsReference reports whether the nested value is a reference.
func (n Nested) IsReference() bool {
	return n.Reference != nil
}

// Walk enumerates, depth first in field order, every nested entity and every
// reference reachable from e. Nested entities of unregistered types are
// neither reported nor descended into. Nested entities without an id are
// descended into but not reported. Walk stops at a field ordinal or list
// index that does not fit a path segment; Edges reports that as an error.
func (r *Registry) Walk(e *Entity) iter.Seq[Nested] {
	return func(yield func(Nested) bool) {
		r.walk(e, yield)
	}
}

type walker struct {
	r     *Registry
	yield func(Nested) bool
	err   error
}

func (r *Registry) walk(e *Entity, yield func(Nested) bool) error {
	w := &walker{r: r, yield: yield}
	w.entity(e, make(Path, 0, 8))
	return w.err
}

func (w *walker) entity(e *Entity, path Path) bool {
	var names []string
	if d, ok := w.r.Lookup(e.Type); ok {
		names = d.fieldNames
	}
	for idx, v := range e.Fields {
		if v == nil {
			continue
		}
		field := ""
		if idx < len(names) {
			field = names[idx]
		}
		if idx > math.MaxUint16 {
			w.err = fmt.Errorf("%w: field ordinal %d of %s", ErrPathTooLong, idx, e.Type)
			return false
		}
		fieldPath := append(path, uint16(idx))
		switch fv := v.(type) {
		case List:
			for j, x := range fv {
				if j > math.MaxUint16 {
					w.err = fmt.Errorf("%w: list index %d in %s.%s", ErrPathTooLong, j, e.Type, field)
					return false
				}
				if !w.value(x, field, append(fieldPath, uint16(j))) {
					return false
				}
			}
		default:
			if !w.value(fv, field, fieldPath) {
				return false
			}
		}
	}
	return true
}

func (w *walker) value(v Value, field string, path Path) bool {
	switch x := v.(type) {
	case *Reference:
		if x == nil {
			return true
		}
		return w.yield(Nested{Reference: x, Path: slices.Clone(path), Field: field})
	case *Entity:
		if x == nil || !w.r.Known(x.Type) {
			return true
		}
		if x.HasIdentity() {
			if !w.yield(Nested{Entity: x, Path: slices.Clone(path), Field: field}) {
				return false
			}
		}
		return w.entity(x, path)
	}
	return true
}

// Edge is one embedding or referencing relation derived from an entity.
type Edge struct {
	Embedding     bool
	ParentType    string
	ParentID      string
	ParentVersion string
	ChildType     string
	ChildID       string
	ChildVersion  string
	Path          Path
}

// Edges derives the embedding and referencing relations of e. References
// whose target type is not registered are skipped and their inferred type
// names returned in unknown so callers can report them.
func (r *Registry) Edges(e *Entity) (edges []Edge, unknown []string, err error) {
	if err := ValidateEntity(e); err != nil {
		return nil, nil, err
	}
	parentVersion := e.NormalizedVersion()

	var stop error
	walkErr := r.walk(e, func(n Nested) bool {
		if len(n.Path) > math.MaxUint8 {
			stop = fmt.Errorf("%w: %d segments", ErrPathTooLong, len(n.Path))
			return false
		}
		if n.Entity != nil {
			if !r.IsInteresting(n.Entity.Type) {
				return true
			}
			edges = append(edges, Edge{
				Embedding:     true,
				ParentType:    e.Type,
				ParentID:      e.ID,
				ParentVersion: parentVersion,
				ChildType:     n.Entity.Type,
				ChildID:       n.Entity.ID,
				ChildVersion:  n.Entity.NormalizedVersion(),
				Path:          n.Path,
			})
			return true
		}

		ref := n.Reference
		if ref.Ref == "" {
			stop = fmt.Errorf("%w: %s.%s", ErrEmptyReference, e.Type, n.Field)
			return false
		}
		if r.IsExcluded(n.Field) {
			return true
		}
		target := ref.TargetType()
		if !r.Known(target) {
			unknown = append(unknown, target)
			return true
		}
		edges = append(edges, Edge{
			ParentType:    e.Type,
			ParentID:      e.ID,
			ParentVersion: parentVersion,
			ChildType:     target,
			ChildID:       ref.Ref,
			ChildVersion:  NormalizeVersion(ref.Version),
			Path:          n.Path,
		})
		return true
	})
	if stop != nil {
		return nil, nil, stop
	}
	if walkErr != nil {
		return nil, nil, walkErr
	}
	return edges, unknown, nil
}
