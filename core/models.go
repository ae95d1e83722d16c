package core

import (
	"strconv"
	"strings"
)

// VersionAny is the version assigned to entities that carry no explicit version.
const VersionAny = "any"

// Value is a field value of an entity. It is one of String, Int, Float, Bool,
// List, *Reference or *Entity. A nil Value means the field is absent.
type Value interface {
	isValue()
}

// String is a scalar text value.
type String string

// Int is a scalar integer value.
type Int int64

// Float is a scalar floating point value.
type Float float64

// Bool is a scalar boolean value.
type Bool bool

// List is an ordered sequence of values.
type List []Value

func (String) isValue() {}
func (Int) isValue()    {}
func (Float) isValue()  {}
func (Bool) isValue()   {}
func (List) isValue()   {}

// Entity is a typed, identified, versioned record.
// Fields are positional and follow the ordering of the type's descriptor.
type Entity struct {
	Type    string
	ID      string
	Version string
	Fields  []Value
}

func (*Entity) isValue() {}

// HasIdentity reports whether the entity carries its own id.
func (e *Entity) HasIdentity() bool {
	return e != nil && e.ID != ""
}

// NormalizedVersion returns the entity version, or VersionAny when absent.
func (e *Entity) NormalizedVersion() string {
	return NormalizeVersion(e.Version)
}

// Field returns the value at ordinal idx, or nil when the field is unset.
func (e *Entity) Field(idx int) Value {
	if idx < 0 || idx >= len(e.Fields) {
		return nil
	}
	return e.Fields[idx]
}

// SetField stores v at ordinal idx, growing the field slice as needed.
func (e *Entity) SetField(idx int, v Value) {
	if idx >= len(e.Fields) {
		grown := make([]Value, idx+1)
		copy(grown, e.Fields)
		e.Fields = grown
	}
	e.Fields[idx] = v
}

// Identity returns the (type, id) pair used for cycle detection.
func (e *Entity) Identity() Identity {
	return Identity{Type: e.Type, ID: e.ID}
}

// Identity is the comparable (type, id) pair of an entity.
type Identity struct {
	Type string
	ID   string
}

// Reference is a lightweight pointer to another entity.
// Type is the reference's own type name (for example "OperatorRef");
// NameOfRefClass names the target type when it cannot be inferred from Type.
type Reference struct {
	Type           string
	Ref            string
	Version        string
	NameOfRefClass string
}

func (*Reference) isValue() {}

// RefKey is the hashable identity of a reference.
type RefKey struct {
	Ref     string
	Version string
}

// Key returns the (ref, version) pair used for hashing and equality.
func (r *Reference) Key() RefKey {
	return RefKey{Ref: r.Ref, Version: NormalizeVersion(r.Version)}
}

// Equal reports whether two references point at the same (ref, version).
func (r *Reference) Equal(other *Reference) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.Key() == other.Key()
}

// TargetType returns the name of the referenced type. The explicit
// NameOfRefClass wins; otherwise the conventional "RefStructure" or "Ref"
// suffix is stripped from the reference's own type name.
func (r *Reference) TargetType() string {
	if r.NameOfRefClass != "" {
		return r.NameOfRefClass
	}
	if name, ok := strings.CutSuffix(r.Type, "RefStructure"); ok {
		return name
	}
	if name, ok := strings.CutSuffix(r.Type, "Ref"); ok {
		return name
	}
	return ""
}

// NormalizeVersion maps an empty version to VersionAny.
func NormalizeVersion(version string) string {
	if version == "" {
		return VersionAny
	}
	return version
}

// Path locates a nested value by field ordinals and list indices.
type Path []uint16

// String renders the path as dotted indices, e.g. "1.0".
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, idx := range p {
		parts[i] = strconv.Itoa(int(idx))
	}
	return strings.Join(parts, ".")
}

// Equal reports whether both paths have the same segments.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// ParsePath parses a dotted numeric path as produced by Path.String.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return Path{}, nil
	}
	parts := strings.Split(s, ".")
	path := make(Path, len(parts))
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 16)
		if err != nil {
			return nil, ErrInvalidPath
		}
		path[i] = uint16(n)
	}
	return path, nil
}
