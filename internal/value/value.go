// Package value defines the tagged scalar type shared by the row store,
// indexes, predicates, and the binary result codec.
package value

import (
	"encoding/json"
	"fmt"
	"math"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBoolean
	KindInt32
	KindInt64
	KindFloat64
	KindDateTime
	KindString
	KindBytes
	KindJsonb
)

// String returns the lower-case name of the kind, used in error messages.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindDateTime:
		return "datetime"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindJsonb:
		return "jsonb"
	default:
		return "unknown"
	}
}

// Jsonb is a parsed JSON tree. Exactly one of the typed fields is
// meaningful, selected by JKind.
type Jsonb struct {
	JKind JsonKind
	B     bool
	N     float64
	S     string
	Arr   []Value
	Obj   *JsonObject
}

// JsonKind identifies the shape of a Jsonb value.
type JsonKind int

const (
	JsonNull JsonKind = iota
	JsonBool
	JsonNumber
	JsonString
	JsonArray
	JsonObjectKind
)

// JsonObject is an ordered mapping from string key to Value, preserving
// insertion order so re-encoding is deterministic.
type JsonObject struct {
	keys   []string
	values map[string]Value
}

// NewJsonObject returns an empty ordered object.
func NewJsonObject() *JsonObject {
	return &JsonObject{values: make(map[string]Value)}
}

// Set inserts or replaces a key, preserving first-insertion order.
func (o *JsonObject) Set(key string, v Value) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Get returns the value for key and whether it was present.
func (o *JsonObject) Get(key string) (Value, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Keys returns keys in insertion order.
func (o *JsonObject) Keys() []string { return o.keys }

// Len returns the number of entries.
func (o *JsonObject) Len() int { return len(o.keys) }

// Value is a tagged scalar. The zero Value is Null.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	bytes []byte
	jsonb *Jsonb
}

func (v Value) Kind() Kind { return v.kind }

func Null() Value                   { return Value{kind: KindNull} }
func Bool(b bool) Value             { return Value{kind: KindBoolean, b: b} }
func Int32(i int32) Value           { return Value{kind: KindInt32, i: int64(i)} }
func Int64(i int64) Value           { return Value{kind: KindInt64, i: i} }
func Float64(f float64) Value       { return Value{kind: KindFloat64, f: f} }
func DateTime(epochMs int64) Value  { return Value{kind: KindDateTime, i: epochMs} }
func String(s string) Value         { return Value{kind: KindString, s: s} }
func Bytes(b []byte) Value          { return Value{kind: KindBytes, bytes: append([]byte(nil), b...)} }
func JsonbValue(j *Jsonb) Value     { return Value{kind: KindJsonb, jsonb: j} }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)       { return v.b, v.kind == KindBoolean }
func (v Value) AsInt32() (int32, bool)     { return int32(v.i), v.kind == KindInt32 }
func (v Value) AsInt64() (int64, bool)     { return v.i, v.kind == KindInt64 }
func (v Value) AsFloat64() (float64, bool) { return v.f, v.kind == KindFloat64 }
func (v Value) AsDateTime() (int64, bool)  { return v.i, v.kind == KindDateTime }
func (v Value) AsString() (string, bool)   { return v.s, v.kind == KindString }
func (v Value) AsBytes() ([]byte, bool)    { return v.bytes, v.kind == KindBytes }
func (v Value) AsJsonb() (*Jsonb, bool)    { return v.jsonb, v.kind == KindJsonb }

// AsNumeric coerces Int32/Int64/Float64/DateTime into a float64 for
// aggregate arithmetic. Returns ok=false for any other kind.
func (v Value) AsNumeric() (float64, bool) {
	switch v.kind {
	case KindInt32, KindInt64, KindDateTime:
		return float64(v.i), true
	case KindFloat64:
		return v.f, true
	default:
		return 0, false
	}
}

// Equal reports structural equality. Float64 NaN never equals itself,
// consistent with the total order defined below excluding NaN.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBoolean:
		return a.b == b.b
	case KindInt32, KindInt64, KindDateTime:
		return a.i == b.i
	case KindFloat64:
		if math.IsNaN(a.f) || math.IsNaN(b.f) {
			return false
		}
		return a.f == b.f
	case KindString:
		return a.s == b.s
	case KindBytes:
		return string(a.bytes) == string(b.bytes)
	case KindJsonb:
		return jsonbEqual(a.jsonb, b.jsonb)
	default:
		return false
	}
}

func jsonbEqual(a, b *Jsonb) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.JKind != b.JKind {
		return false
	}
	switch a.JKind {
	case JsonNull:
		return true
	case JsonBool:
		return a.B == b.B
	case JsonNumber:
		return a.N == b.N
	case JsonString:
		return a.S == b.S
	case JsonArray:
		if len(a.Arr) != len(b.Arr) {
			return false
		}
		for i := range a.Arr {
			if !Equal(a.Arr[i], b.Arr[i]) {
				return false
			}
		}
		return true
	case JsonObjectKind:
		if a.Obj == nil || b.Obj == nil {
			return a.Obj == b.Obj
		}
		if a.Obj.Len() != b.Obj.Len() {
			return false
		}
		for _, k := range a.Obj.Keys() {
			av, _ := a.Obj.Get(k)
			bv, ok := b.Obj.Get(k)
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two values of the same kind. ok is false when the kinds
// differ (an undefined comparison rather than an error) or when either
// Float64 operand is NaN.
func Compare(a, b Value) (cmp int, ok bool) {
	if a.kind != b.kind {
		return 0, false
	}
	switch a.kind {
	case KindBoolean:
		return boolCmp(a.b, b.b), true
	case KindInt32, KindInt64, KindDateTime:
		switch {
		case a.i < b.i:
			return -1, true
		case a.i > b.i:
			return 1, true
		default:
			return 0, true
		}
	case KindFloat64:
		if math.IsNaN(a.f) || math.IsNaN(b.f) {
			return 0, false
		}
		switch {
		case a.f < b.f:
			return -1, true
		case a.f > b.f:
			return 1, true
		default:
			return 0, true
		}
	case KindString:
		switch {
		case a.s < b.s:
			return -1, true
		case a.s > b.s:
			return 1, true
		default:
			return 0, true
		}
	case KindBytes:
		return bytesCmp(a.bytes, b.bytes), true
	default:
		return 0, false
	}
}

func boolCmp(a, b bool) int {
	if a == b {
		return 0
	}
	if !a && b {
		return -1
	}
	return 1
}

func bytesCmp(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// String renders a Value for debugging and error messages.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindBoolean:
		return fmt.Sprintf("%t", v.b)
	case KindInt32, KindInt64, KindDateTime:
		return fmt.Sprintf("%d", v.i)
	case KindFloat64:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return v.s
	case KindBytes:
		return fmt.Sprintf("0x%x", v.bytes)
	case KindJsonb:
		b, _ := json.Marshal(jsonbToAny(v.jsonb))
		return string(b)
	default:
		return "?"
	}
}

func jsonbToAny(j *Jsonb) any {
	if j == nil {
		return nil
	}
	switch j.JKind {
	case JsonNull:
		return nil
	case JsonBool:
		return j.B
	case JsonNumber:
		return j.N
	case JsonString:
		return j.S
	case JsonArray:
		out := make([]any, len(j.Arr))
		for i, v := range j.Arr {
			out[i] = jsonbAnyOf(v)
		}
		return out
	case JsonObjectKind:
		out := make(map[string]any, j.Obj.Len())
		for _, k := range j.Obj.Keys() {
			v, _ := j.Obj.Get(k)
			out[k] = jsonbAnyOf(v)
		}
		return out
	}
	return nil
}

func jsonbAnyOf(v Value) any {
	if v.kind == KindJsonb {
		return jsonbToAny(v.jsonb)
	}
	return v.String()
}
