package value

import "fmt"

// Coerce adjusts v to fit the declared column kind, following the widening
// rules a caller expects from an insert/update: an Int32 widens into an
// Int64 column, but an Int64 that overflows int32 range fails rather than
// truncating. Null is returned unchanged; the caller is responsible for
// nullability checks. Any other kind mismatch is an error.
func Coerce(v Value, target Kind) (Value, error) {
	if v.kind == KindNull {
		return v, nil
	}
	if v.kind == target {
		return v, nil
	}
	switch target {
	case KindInt64:
		if v.kind == KindInt32 {
			return Int64(v.i), nil
		}
	case KindInt32:
		if v.kind == KindInt64 {
			if v.i < -2147483648 || v.i > 2147483647 {
				return Value{}, fmt.Errorf("integer overflow: %d does not fit in int32", v.i)
			}
			return Int32(int32(v.i)), nil
		}
	case KindFloat64:
		if v.kind == KindInt32 || v.kind == KindInt64 {
			return Float64(float64(v.i)), nil
		}
	}
	return Value{}, fmt.Errorf("type mismatch: cannot use %s value where %s is expected", v.kind, target)
}
