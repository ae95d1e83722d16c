package core

import (
	"fmt"
	"math"
)

// Navigate follows path from root through entity fields and list indices.
func Navigate(root Value, path Path) (Value, error) {
	cur := root
	for depth, idx := range path {
		switch v := cur.(type) {
		case *Entity:
			if v == nil {
				return nil, fmt.Errorf("%w: nil entity at depth %d", ErrInvalidPath, depth)
			}
			cur = v.Field(int(idx))
		case List:
			if int(idx) >= len(v) {
				return nil, fmt.Errorf("%w: index %d out of range at depth %d", ErrInvalidPath, idx, depth)
			}
			cur = v[idx]
		default:
			return nil, fmt.Errorf("%w: cannot navigate into %T at depth %d", ErrInvalidPath, cur, depth)
		}
	}
	return cur, nil
}

// NavigateEntity is Navigate for paths that must end at an entity.
func NavigateEntity(root *Entity, path Path) (*Entity, error) {
	v, err := Navigate(root, path)
	if err != nil {
		return nil, err
	}
	e, ok := v.(*Entity)
	if !ok || e == nil {
		return nil, fmt.Errorf("%w: %s does not lead to an entity", ErrInvalidPath, path)
	}
	return e, nil
}

// NumericPath searches root depth first, fields before list elements, for
// the exact target pointer and returns the path leading to it. Values behind
// an index that does not fit a path segment are not found.
func NumericPath(root Value, target Value) (Path, bool) {
	return numericPath(root, target, Path{})
}

func numericPath(v Value, target Value, path Path) (Path, bool) {
	if same(v, target) {
		return path, true
	}
	switch x := v.(type) {
	case *Entity:
		if x == nil {
			return nil, false
		}
		for idx, f := range x.Fields {
			if f == nil {
				continue
			}
			next, ok := appendPath(path, idx)
			if !ok {
				break
			}
			if p, ok := numericPath(f, target, next); ok {
				return p, true
			}
		}
	case List:
		for idx, item := range x {
			next, ok := appendPath(path, idx)
			if !ok {
				break
			}
			if p, ok := numericPath(item, target, next); ok {
				return p, true
			}
		}
	}
	return nil, false
}

func same(a, b Value) bool {
	switch x := a.(type) {
	case *Entity:
		y, ok := b.(*Entity)
		return ok && x == y
	case *Reference:
		y, ok := b.(*Reference)
		return ok && x == y
	}
	return false
}

// appendPath returns a copy of path extended by idx, or false when idx does
// not fit a segment.
func appendPath(path Path, idx int) (Path, bool) {
	if idx > math.MaxUint16 {
		return nil, false
	}
	p := make(Path, len(path), len(path)+1)
	copy(p, path)
	return append(p, uint16(idx)), true
}
