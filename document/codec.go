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

// Package document converts exchange documents to entities and back.
//
// A document is a YAML (or JSON) mapping. The keys "type", "id" and
// "version" carry the identity; every other key names a field of the type.
// References are mappings with "ref", "version", "name_of_ref_class" and
// optionally "type", or a bare string holding the ref. Nested entities are
// mappings of their own; list fields are sequences.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"

	"github.com/poiesic/transitstore/core"
	"github.com/poiesic/transitstore/storage"
	"gopkg.in/yaml.v3"
)

// ErrInvalidDocument indicates a document that does not fit the registry.
var ErrInvalidDocument = errors.New("invalid document")

const (
	keyType           = "type"
	keyID             = "id"
	keyVersion        = "version"
	keyRef            = "ref"
	keyNameOfRefClass = "name_of_ref_class"
)

// Codec decodes documents into entities and encodes entities as documents.
type Codec struct {
	registry *core.Registry
}

var _ storage.ForeignDecoder = (*Codec)(nil)

// NewCodec creates a codec for the types of registry.
func NewCodec(registry *core.Registry) *Codec {
	return &Codec{registry: registry}
}

// Decode converts v into an entity of typeName. v may be a parsed mapping
// or the YAML/JSON bytes of one. An empty typeName takes the type from the
// document's "type" key.
func (c *Codec) Decode(v any, typeName string) (*core.Entity, error) {
	switch doc := v.(type) {
	case map[string]any:
		return c.decodeEntity(doc, typeName)
	case []byte:
		return c.decodeBytes(doc, typeName)
	case string:
		return c.decodeBytes([]byte(doc), typeName)
	default:
		return nil, fmt.Errorf("%w: unsupported input %T", ErrInvalidDocument, v)
	}
}

func (c *Codec) decodeBytes(data []byte, typeName string) (*core.Entity, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return c.decodeEntity(doc, typeName)
}

// Stream decodes a multi-document YAML stream. Every document must name its
// type.
func (c *Codec) Stream(r io.Reader) iter.Seq2[*core.Entity, error] {
	return func(yield func(*core.Entity, error) bool) {
		dec := yaml.NewDecoder(r)
		for {
			var doc map[string]any
			err := dec.Decode(&doc)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err))
				return
			}
			if doc == nil {
				continue
			}
			entity, err := c.decodeEntity(doc, "")
			if !yield(entity, err) || err != nil {
				return
			}
		}
	}
}

func (c *Codec) decodeEntity(doc map[string]any, typeName string) (*core.Entity, error) {
	if declared, ok := doc[keyType]; ok {
		name := fmt.Sprint(declared)
		if typeName != "" && name != typeName {
			return nil, fmt.Errorf("%w: %w: document of %s decoded as %s", ErrInvalidDocument, storage.ErrTypeMismatch, name, typeName)
		}
		typeName = name
	}
	if typeName == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, core.ErrMissingType)
	}
	d, ok := c.registry.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", ErrInvalidDocument, core.ErrUnknownType, typeName)
	}

	entity := d.New(scalarString(doc[keyID]), scalarString(doc[keyVersion]))
	for name, raw := range doc {
		if name == keyType || name == keyID || name == keyVersion || raw == nil {
			continue
		}
		idx, ok := d.FieldIndex(name)
		if !ok {
			return nil, fmt.Errorf("%w: %w: %s.%s", ErrInvalidDocument, core.ErrUnknownField, typeName, name)
		}
		f := d.Fields[idx]
		var (
			v   core.Value
			err error
		)
		if f.Kind == core.KindList {
			v, err = c.decodeList(raw, f)
		} else {
			v, err = c.decodeValue(raw, f.Kind, f.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", typeName, name, err)
		}
		entity.SetField(idx, v)
	}
	return entity, nil
}

func (c *Codec) decodeList(raw any, f core.FieldDescriptor) (core.Value, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected sequence, got %T", ErrInvalidDocument, raw)
	}
	list := make(core.List, 0, len(items))
	for _, item := range items {
		v, err := c.decodeValue(item, f.Elem, f.Type)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, nil
}

func (c *Codec) decodeValue(raw any, kind core.FieldKind, typeName string) (core.Value, error) {
	switch kind {
	case core.KindScalar:
		return decodeScalar(raw)
	case core.KindReference:
		return decodeReference(raw, typeName)
	case core.KindEntity:
		doc, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: expected mapping for %s, got %T", ErrInvalidDocument, typeName, raw)
		}
		return c.decodeEntity(doc, typeName)
	default:
		return nil, fmt.Errorf("%w: unsupported field kind %s", ErrInvalidDocument, kind)
	}
}

func decodeScalar(raw any) (core.Value, error) {
	switch x := raw.(type) {
	case string:
		return core.String(x), nil
	case bool:
		return core.Bool(x), nil
	case int:
		return core.Int(x), nil
	case int64:
		return core.Int(x), nil
	case uint64:
		return core.Int(int64(x)), nil
	case float64:
		return core.Float(x), nil
	default:
		return nil, fmt.Errorf("%w: expected scalar, got %T", ErrInvalidDocument, raw)
	}
}

func decodeReference(raw any, typeName string) (core.Value, error) {
	switch x := raw.(type) {
	case string:
		return &core.Reference{Type: typeName, Ref: x}, nil
	case map[string]any:
		ref := &core.Reference{
			Type:           typeName,
			Ref:            scalarString(x[keyRef]),
			Version:        scalarString(x[keyVersion]),
			NameOfRefClass: scalarString(x[keyNameOfRefClass]),
		}
		if t := scalarString(x[keyType]); t != "" {
			ref.Type = t
		}
		if ref.Ref == "" {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, core.ErrEmptyReference)
		}
		return ref, nil
	default:
		return nil, fmt.Errorf("%w: expected reference, got %T", ErrInvalidDocument, raw)
	}
}

// scalarString renders ids and versions, which YAML may parse as numbers.
func scalarString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Encode converts an entity into a document mapping.
func (c *Codec) Encode(e *core.Entity) (map[string]any, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil entity", ErrInvalidDocument)
	}
	d, ok := c.registry.Lookup(e.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", ErrInvalidDocument, core.ErrUnknownType, e.Type)
	}
	doc := map[string]any{keyType: e.Type}
	if e.ID != "" {
		doc[keyID] = e.ID
	}
	if e.Version != "" {
		doc[keyVersion] = e.Version
	}
	names := d.FieldNames()
	for idx, v := range e.Fields {
		if v == nil {
			continue
		}
		if idx >= len(names) {
			return nil, fmt.Errorf("%w: %s has no field %d", ErrInvalidDocument, e.Type, idx)
		}
		out, err := c.encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", e.Type, names[idx], err)
		}
		doc[names[idx]] = out
	}
	return doc, nil
}

func (c *Codec) encodeValue(v core.Value) (any, error) {
	switch x := v.(type) {
	case core.String:
		return string(x), nil
	case core.Int:
		return int64(x), nil
	case core.Float:
		return float64(x), nil
	case core.Bool:
		return bool(x), nil
	case core.List:
		items := make([]any, 0, len(x))
		for _, item := range x {
			out, err := c.encodeValue(item)
			if err != nil {
				return nil, err
			}
			items = append(items, out)
		}
		return items, nil
	case *core.Reference:
		ref := map[string]any{keyRef: x.Ref, keyType: x.Type}
		if x.Version != "" {
			ref[keyVersion] = x.Version
		}
		if x.NameOfRefClass != "" {
			ref[keyNameOfRefClass] = x.NameOfRefClass
		}
		return ref, nil
	case *core.Entity:
		return c.Encode(x)
	default:
		return nil, fmt.Errorf("%w: unsupported value %T", ErrInvalidDocument, v)
	}
}

// Marshal encodes entities as a multi-document YAML stream.
func (c *Codec) Marshal(entities ...*core.Entity) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	for _, e := range entities {
		doc, err := c.Encode(e)
		if err != nil {
			return nil, err
		}
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Types returns the distinct types of entities in first-seen order.
func Types(entities []*core.Entity) []string {
	var types []string
	for _, e := range entities {
		if !slices.Contains(types, e.Type) {
			types = append(types, e.Type)
		}
	}
	return types
}
