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

package storage

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/poiesic/transitstore/core"
)

// ForeignDecoder converts a value that is not a native entity, such as a
// parsed exchange-format document, into an entity of the named type.
type ForeignDecoder interface {
	Decode(v any, typeName string) (*core.Entity, error)
}

// Serializer turns entities into stored bytes and back. It also carries the
// key codec so every component encodes keys the same way.
type Serializer struct {
	*KeyCodec

	registry    *core.Registry
	compression bool
	foreign     ForeignDecoder
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
}

// SerializerOption configures a Serializer.
type SerializerOption func(*Serializer)

// WithCompression enables zstd frame compression of stored entities.
// Readers must use the same setting as the writer.
func WithCompression(enabled bool) SerializerOption {
	return func(s *Serializer) {
		s.compression = enabled
	}
}

// WithForeignDecoder sets the decoder used for non-native inputs to Marshal.
func WithForeignDecoder(d ForeignDecoder) SerializerOption {
	return func(s *Serializer) {
		s.foreign = d
	}
}

// NewSerializer creates a Serializer for the given registry.
// Compression is enabled by default.
func NewSerializer(registry *core.Registry, opts ...SerializerOption) (*Serializer, error) {
	s := &Serializer{
		KeyCodec:    NewKeyCodec(registry),
		registry:    registry,
		compression: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.compression {
		var err error
		if s.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest)); err != nil {
			return nil, err
		}
		if s.decoder, err = zstd.NewReader(nil); err != nil {
			s.encoder.Close()
			return nil, err
		}
	}
	return s, nil
}

// Registry returns the type registry.
func (s *Serializer) Registry() *core.Registry {
	return s.registry
}

// Compressed reports whether stored entities are compressed.
func (s *Serializer) Compressed() bool {
	return s.compression
}

// Close releases the compression codecs.
func (s *Serializer) Close() error {
	if s.decoder != nil {
		s.decoder.Close()
	}
	if s.encoder != nil {
		return s.encoder.Close()
	}
	return nil
}

// Native converts v into an entity, using the foreign decoder for anything
// that is not already a *core.Entity or core.Entity.
func (s *Serializer) Native(v any, typeName string) (*core.Entity, error) {
	switch e := v.(type) {
	case *core.Entity:
		return e, nil
	case core.Entity:
		return &e, nil
	}
	if s.foreign == nil {
		return nil, fmt.Errorf("%w: cannot convert %T to %s", ErrSerializationFailed, v, typeName)
	}
	e, err := s.foreign.Decode(v, typeName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return e, nil
}

// Marshal serializes v as an entity of typeName.
func (s *Serializer) Marshal(v any, typeName string) ([]byte, error) {
	e, err := s.Native(v, typeName)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: nil entity", ErrSerializationFailed)
	}
	if typeName != "" && e.Type != typeName {
		return nil, fmt.Errorf("%w: %s stored as %s", ErrTypeMismatch, e.Type, typeName)
	}
	buf := make([]byte, core.EntityMUS.Size(*e))
	core.EntityMUS.Marshal(*e, buf)
	if s.compression {
		return s.encoder.EncodeAll(buf, nil), nil
	}
	return buf, nil
}

// Unmarshal deserializes stored bytes into an entity of typeName.
// An empty typeName accepts any type.
func (s *Serializer) Unmarshal(data []byte, typeName string) (*core.Entity, error) {
	if s.compression {
		raw, err := s.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
		}
		data = raw
	}
	e, n, err := core.EntityMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrSerializationFailed, len(data)-n)
	}
	if typeName != "" && e.Type != typeName {
		return nil, fmt.Errorf("%w: stored %s, expected %s", ErrTypeMismatch, e.Type, typeName)
	}
	return &e, nil
}
