package predicate

import (
	"strconv"
	"strings"

	"github.com/reactivedb/reactivedb/internal/value"
)

// pathSegment is either a field name (object) or an index (array).
type pathSegment struct {
	field string
	index int
	isIdx bool
}

// parsePath splits a "$.a.b[2].c" style path into segments, ignoring the
// leading "$" root marker.
func parsePath(path string) []pathSegment {
	path = strings.TrimPrefix(path, "$")
	var segs []pathSegment
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			segs = append(segs, pathSegment{field: cur.String()})
			cur.Reset()
		}
	}
	i := 0
	for i < len(path) {
		switch path[i] {
		case '.':
			flush()
			i++
		case '[':
			flush()
			j := strings.IndexByte(path[i:], ']')
			if j < 0 {
				return segs
			}
			idx, err := strconv.Atoi(path[i+1 : i+j])
			if err == nil {
				segs = append(segs, pathSegment{index: idx, isIdx: true})
			}
			i += j + 1
		default:
			cur.WriteByte(path[i])
			i++
		}
	}
	flush()
	return segs
}

// lookupPathJsonb resolves path against root, returning the Jsonb node (if
// any) found there.
func lookupPathJsonb(root *value.Jsonb, path string) (*value.Jsonb, bool) {
	node := root
	for _, seg := range parsePath(path) {
		if node == nil {
			return nil, false
		}
		if seg.isIdx {
			if node.JKind != value.JsonArray || seg.index < 0 || seg.index >= len(node.Arr) {
				return nil, false
			}
			elem := node.Arr[seg.index]
			if ej, ok := elem.AsJsonb(); ok {
				node = ej
			} else {
				node = leafAsJsonb(elem)
			}
			continue
		}
		if node.JKind != value.JsonObjectKind || node.Obj == nil {
			return nil, false
		}
		v, found := node.Obj.Get(seg.field)
		if !found {
			return nil, false
		}
		if vj, ok := v.AsJsonb(); ok {
			node = vj
		} else {
			node = leafAsJsonb(v)
		}
	}
	return node, true
}

// leafAsJsonb wraps a scalar value.Value as a one-off Jsonb leaf node, for
// path segments that bottom out on an array element or object value that
// was stored as a plain scalar Value rather than a nested Jsonb.
func leafAsJsonb(v value.Value) *value.Jsonb {
	switch v.Kind() {
	case value.KindString:
		s, _ := v.AsString()
		return &value.Jsonb{JKind: value.JsonString, S: s}
	case value.KindBoolean:
		b, _ := v.AsBool()
		return &value.Jsonb{JKind: value.JsonBool, B: b}
	case value.KindFloat64:
		f, _ := v.AsFloat64()
		return &value.Jsonb{JKind: value.JsonNumber, N: f}
	case value.KindInt32:
		i, _ := v.AsInt32()
		return &value.Jsonb{JKind: value.JsonNumber, N: float64(i)}
	case value.KindInt64:
		i, _ := v.AsInt64()
		return &value.Jsonb{JKind: value.JsonNumber, N: float64(i)}
	case value.KindNull:
		return &value.Jsonb{JKind: value.JsonNull}
	default:
		return nil
	}
}

// lookupPath resolves path against root, returning the leaf as a
// value.Value (scalars only; resolving to a nested object/array yields
// ok=false since JsonbEq only ever compares against a leaf).
func lookupPath(root *value.Jsonb, path string) (value.Value, bool) {
	node, found := lookupPathJsonb(root, path)
	if !found || node == nil {
		return value.Value{}, false
	}
	switch node.JKind {
	case value.JsonNull:
		return value.Null(), true
	case value.JsonBool:
		return value.Bool(node.B), true
	case value.JsonNumber:
		return value.Float64(node.N), true
	case value.JsonString:
		return value.String(node.S), true
	default:
		return value.Value{}, false
	}
}
