package core

import (
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed schema/transit.yaml
var transitSchema []byte

// Schema is the YAML form of a registry.
type Schema struct {
	// ExcludedFields overrides DefaultExcludedFields when non-empty.
	ExcludedFields []string     `yaml:"excluded_fields"`
	Types          []SchemaType `yaml:"types"`
}

// SchemaType is the YAML form of a TypeDescriptor.
type SchemaType struct {
	Name        string        `yaml:"name"`
	Interesting bool          `yaml:"interesting"`
	Fields      []SchemaField `yaml:"fields"`
}

// SchemaField is the YAML form of a FieldDescriptor.
type SchemaField struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
	Elem string `yaml:"elem"`
	Type string `yaml:"type"`
}

// Registry converts the schema into a Registry.
func (s *Schema) Registry() (*Registry, error) {
	types := make([]TypeDescriptor, 0, len(s.Types))
	for _, st := range s.Types {
		d := TypeDescriptor{
			Name:        st.Name,
			Interesting: st.Interesting,
			Fields:      make([]FieldDescriptor, 0, len(st.Fields)),
		}
		for _, sf := range st.Fields {
			kind, err := ParseFieldKind(sf.Kind)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", st.Name, sf.Name, err)
			}
			var elem FieldKind
			if kind == KindList {
				if elem, err = ParseFieldKind(sf.Elem); err != nil {
					return nil, fmt.Errorf("%s.%s: %w", st.Name, sf.Name, err)
				}
				if elem == KindList {
					return nil, fmt.Errorf("%w: %s.%s: nested lists are not supported", ErrInvalidSchema, st.Name, sf.Name)
				}
			}
			d.Fields = append(d.Fields, FieldDescriptor{
				Name: sf.Name,
				Kind: kind,
				Elem: elem,
				Type: sf.Type,
			})
		}
		types = append(types, d)
	}

	r, err := NewRegistry(types...)
	if err != nil {
		return nil, err
	}
	if len(s.ExcludedFields) > 0 {
		r = r.WithExcludedFields(s.ExcludedFields...)
	}
	return r, nil
}

// ParseSchema decodes a YAML schema document and builds its registry.
func ParseSchema(r io.Reader) (*Registry, error) {
	var s Schema
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return s.Registry()
}

// LoadSchema reads a YAML schema file.
func LoadSchema(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseSchema(f)
}

// TransitRegistry returns the registry of the built-in transit schema.
func TransitRegistry() *Registry {
	var s Schema
	if err := yaml.Unmarshal(transitSchema, &s); err != nil {
		panic(fmt.Sprintf("embedded transit schema: %v", err))
	}
	r, err := s.Registry()
	if err != nil {
		panic(fmt.Sprintf("embedded transit schema: %v", err))
	}
	return r
}
