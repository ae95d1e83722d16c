package core

import (
	"errors"
	"fmt"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// ErrCorruptValue indicates serialized value bytes that do not decode.
var ErrCorruptValue = errors.New("corrupt serialized value")

const (
	tagNil = iota
	tagString
	tagInt
	tagFloat
	tagBool
	tagList
	tagReference
	tagEntity
)

// EntityMUS serializes entities with the MUS format. The Value tree is
// recursive and tagged, so it is written by hand rather than generated.
var EntityMUS = entityMUS{}

// ValueMUS serializes a single Value, including nil.
var ValueMUS = valueMUS{}

type entityMUS struct{}

func (entityMUS) Marshal(e Entity, bs []byte) (n int) {
	n = ord.String.Marshal(e.Type, bs)
	n += ord.String.Marshal(e.ID, bs[n:])
	n += ord.String.Marshal(e.Version, bs[n:])
	n += varint.Int.Marshal(len(e.Fields), bs[n:])
	for _, f := range e.Fields {
		n += ValueMUS.Marshal(f, bs[n:])
	}
	return n
}

func (entityMUS) Unmarshal(bs []byte) (e Entity, n int, err error) {
	var n1 int
	if e.Type, n1, err = ord.String.Unmarshal(bs); err != nil {
		return
	}
	n += n1
	if e.ID, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if e.Version, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	var count int
	if count, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if count < 0 || count > len(bs)-n {
		err = fmt.Errorf("%w: field count %d", ErrCorruptValue, count)
		return
	}
	if count > 0 {
		e.Fields = make([]Value, count)
	}
	for i := 0; i < count; i++ {
		if e.Fields[i], n1, err = ValueMUS.Unmarshal(bs[n:]); err != nil {
			return
		}
		n += n1
	}
	return
}

func (entityMUS) Size(e Entity) (size int) {
	size = ord.String.Size(e.Type)
	size += ord.String.Size(e.ID)
	size += ord.String.Size(e.Version)
	size += varint.Int.Size(len(e.Fields))
	for _, f := range e.Fields {
		size += ValueMUS.Size(f)
	}
	return size
}

func (s entityMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

type valueMUS struct{}

func (valueMUS) Marshal(v Value, bs []byte) (n int) {
	switch x := v.(type) {
	case nil:
		return varint.Int.Marshal(tagNil, bs)
	case String:
		n = varint.Int.Marshal(tagString, bs)
		return n + ord.String.Marshal(string(x), bs[n:])
	case Int:
		n = varint.Int.Marshal(tagInt, bs)
		return n + varint.Int64.Marshal(int64(x), bs[n:])
	case Float:
		n = varint.Int.Marshal(tagFloat, bs)
		return n + raw.Float64.Marshal(float64(x), bs[n:])
	case Bool:
		n = varint.Int.Marshal(tagBool, bs)
		return n + ord.Bool.Marshal(bool(x), bs[n:])
	case List:
		n = varint.Int.Marshal(tagList, bs)
		n += varint.Int.Marshal(len(x), bs[n:])
		for _, item := range x {
			n += ValueMUS.Marshal(item, bs[n:])
		}
		return n
	case *Reference:
		if x == nil {
			return varint.Int.Marshal(tagNil, bs)
		}
		n = varint.Int.Marshal(tagReference, bs)
		n += ord.String.Marshal(x.Type, bs[n:])
		n += ord.String.Marshal(x.Ref, bs[n:])
		n += ord.String.Marshal(x.Version, bs[n:])
		return n + ord.String.Marshal(x.NameOfRefClass, bs[n:])
	case *Entity:
		if x == nil {
			return varint.Int.Marshal(tagNil, bs)
		}
		n = varint.Int.Marshal(tagEntity, bs)
		return n + EntityMUS.Marshal(*x, bs[n:])
	default:
		panic(fmt.Sprintf("core: cannot serialize value of type %T", v))
	}
}

func (valueMUS) Unmarshal(bs []byte) (v Value, n int, err error) {
	tag, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	var n1 int
	switch tag {
	case tagNil:
		return nil, n, nil
	case tagString:
		var s string
		s, n1, err = ord.String.Unmarshal(bs[n:])
		return String(s), n + n1, err
	case tagInt:
		var i int64
		i, n1, err = varint.Int64.Unmarshal(bs[n:])
		return Int(i), n + n1, err
	case tagFloat:
		var f float64
		f, n1, err = raw.Float64.Unmarshal(bs[n:])
		return Float(f), n + n1, err
	case tagBool:
		var b bool
		b, n1, err = ord.Bool.Unmarshal(bs[n:])
		return Bool(b), n + n1, err
	case tagList:
		var count int
		if count, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
			return nil, n + n1, err
		}
		n += n1
		if count < 0 || count > len(bs)-n {
			return nil, n, fmt.Errorf("%w: list length %d", ErrCorruptValue, count)
		}
		list := make(List, count)
		for i := 0; i < count; i++ {
			if list[i], n1, err = ValueMUS.Unmarshal(bs[n:]); err != nil {
				return nil, n + n1, err
			}
			n += n1
		}
		return list, n, nil
	case tagReference:
		ref := &Reference{}
		for _, dst := range []*string{&ref.Type, &ref.Ref, &ref.Version, &ref.NameOfRefClass} {
			if *dst, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
				return nil, n + n1, err
			}
			n += n1
		}
		return ref, n, nil
	case tagEntity:
		var e Entity
		e, n1, err = EntityMUS.Unmarshal(bs[n:])
		if err != nil {
			return nil, n + n1, err
		}
		return &e, n + n1, nil
	default:
		return nil, n, fmt.Errorf("%w: unknown value tag %d", ErrCorruptValue, tag)
	}
}

func (valueMUS) Size(v Value) (size int) {
	switch x := v.(type) {
	case nil:
		return varint.Int.Size(tagNil)
	case String:
		return varint.Int.Size(tagString) + ord.String.Size(string(x))
	case Int:
		return varint.Int.Size(tagInt) + varint.Int64.Size(int64(x))
	case Float:
		return varint.Int.Size(tagFloat) + raw.Float64.Size(float64(x))
	case Bool:
		return varint.Int.Size(tagBool) + ord.Bool.Size(bool(x))
	case List:
		size = varint.Int.Size(tagList) + varint.Int.Size(len(x))
		for _, item := range x {
			size += ValueMUS.Size(item)
		}
		return size
	case *Reference:
		if x == nil {
			return varint.Int.Size(tagNil)
		}
		return varint.Int.Size(tagReference) +
			ord.String.Size(x.Type) +
			ord.String.Size(x.Ref) +
			ord.String.Size(x.Version) +
			ord.String.Size(x.NameOfRefClass)
	case *Entity:
		if x == nil {
			return varint.Int.Size(tagNil)
		}
		return varint.Int.Size(tagEntity) + EntityMUS.Size(*x)
	default:
		panic(fmt.Sprintf("core: cannot size value of type %T", v))
	}
}

func (s valueMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}
