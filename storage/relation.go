package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/poiesic/transitstore/core"
)

// Relation is one index value: the entity on the other side of an
// embedding or referencing edge and the path of the edge inside the parent.
type Relation struct {
	Type    string
	ID      string
	Version string
	Path    core.Path
}

// SerializeRelation writes the fixed big-endian layout: u16 type tag,
// u16 length + id, u16 length + version, u8 path count, u16 per segment.
// Oversized fields are caller bugs and panic.
func SerializeRelation(tag uint16, id, version string, path core.Path) []byte {
	if len(id) > math.MaxUint16 || len(version) > math.MaxUint16 {
		panic(fmt.Sprintf("storage: relation id/version too long (%d/%d bytes)", len(id), len(version)))
	}
	if len(path) > math.MaxUint8 {
		panic(fmt.Sprintf("storage: relation path has %d segments", len(path)))
	}
	buf := make([]byte, 0, 2+2+len(id)+2+len(version)+1+2*len(path))
	buf = binary.BigEndian.AppendUint16(buf, tag)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(id)))
	buf = append(buf, id...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(version)))
	buf = append(buf, version...)
	buf = append(buf, byte(len(path)))
	for _, seg := range path {
		buf = binary.BigEndian.AppendUint16(buf, seg)
	}
	return buf
}

// DeserializeRelation reads back the layout written by SerializeRelation.
func DeserializeRelation(data []byte) (tag uint16, id, version string, path core.Path, err error) {
	r := relationReader{data: data}
	tag = r.readUint16()
	id = r.readString()
	version = r.readString()
	n := r.readByte()
	path = make(core.Path, n)
	for i := range path {
		path[i] = r.readUint16()
	}
	if r.err != nil {
		return 0, "", "", nil, r.err
	}
	if r.off != len(data) {
		return 0, "", "", nil, fmt.Errorf("%w: %d trailing bytes in relation", ErrSerializationFailed, len(data)-r.off)
	}
	if !utf8.ValidString(id) || !utf8.ValidString(version) {
		return 0, "", "", nil, fmt.Errorf("%w: relation is not valid UTF-8", ErrSerializationFailed)
	}
	return tag, id, version, path, nil
}

type relationReader struct {
	data []byte
	off  int
	err  error
}

func (r *relationReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if len(r.data)-r.off < n {
		r.err = fmt.Errorf("%w: relation needs %d bytes at offset %d", ErrTruncatedData, n, r.off)
		return false
	}
	return true
}

func (r *relationReader) readByte() byte {
	if !r.need(1) {
		return 0
	}
	b := r.data[r.off]
	r.off++
	return b
}

func (r *relationReader) readUint16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

func (r *relationReader) readString() string {
	n := int(r.readUint16())
	if !r.need(n) {
		return ""
	}
	s := string(r.data[r.off : r.off+n])
	r.off += n
	return s
}

// RelationCodec maps relations to bytes using the registry's type tags.
type RelationCodec struct {
	registry *core.Registry
}

// NewRelationCodec creates a codec over registry.
func NewRelationCodec(registry *core.Registry) *RelationCodec {
	return &RelationCodec{registry: registry}
}

// Encode serializes rel.
func (c *RelationCodec) Encode(rel Relation) ([]byte, error) {
	d, ok := c.registry.Lookup(rel.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRelationType, rel.Type)
	}
	return SerializeRelation(d.Tag, rel.ID, rel.Version, rel.Path), nil
}

// Decode deserializes a relation and resolves its type tag.
func (c *RelationCodec) Decode(data []byte) (Relation, error) {
	tag, id, version, path, err := DeserializeRelation(data)
	if err != nil {
		return Relation{}, err
	}
	d, ok := c.registry.ByTag(tag)
	if !ok {
		return Relation{}, fmt.Errorf("%w: tag %d", ErrUnknownRelationType, tag)
	}
	return Relation{Type: d.Name, ID: id, Version: version, Path: path}, nil
}
