package record

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cast"
)

// FloatTolerance is the relative tolerance used by ApproxEqual for
// float/double values.
const FloatTolerance = 1e-4

// Value is a tagged column value. The zero Value is invalid; build values
// with the typed constructors below.
type Value struct {
	typ  ColumnType
	null bool
	i    int64   // signed ints, timestamp, bool
	u    uint64  // unsigned ints
	f    float64 // float, double
	s    []byte  // binary, nchar
}

func Timestamp(ms int64) Value { return Value{typ: ColTimestamp, i: ms} }
func TinyInt(v int8) Value     { return Value{typ: ColTinyInt, i: int64(v)} }
func SmallInt(v int16) Value   { return Value{typ: ColSmallInt, i: int64(v)} }
func Int(v int32) Value        { return Value{typ: ColInt, i: int64(v)} }
func BigInt(v int64) Value     { return Value{typ: ColBigInt, i: v} }
func UTinyInt(v uint8) Value   { return Value{typ: ColUTinyInt, u: uint64(v)} }
func USmallInt(v uint16) Value { return Value{typ: ColUSmallInt, u: uint64(v)} }
func UInt(v uint32) Value      { return Value{typ: ColUInt, u: uint64(v)} }
func UBigInt(v uint64) Value   { return Value{typ: ColUBigInt, u: v} }
func Float(v float32) Value    { return Value{typ: ColFloat, f: float64(v)} }
func Double(v float64) Value   { return Value{typ: ColDouble, f: v} }
func Binary(v []byte) Value    { return Value{typ: ColBinary, s: bytes.Clone(v)} }
func NChar(v string) Value     { return Value{typ: ColNChar, s: []byte(v)} }
func Null(t ColumnType) Value  { return Value{typ: t, null: true} }

func Bool(v bool) Value {
	if v {
		return Value{typ: ColBool, i: 1}
	}
	return Value{typ: ColBool}
}

func (v Value) Type() ColumnType { return v.typ }
func (v Value) IsNull() bool     { return v.null }

// Int64 returns signed integers, timestamps and bools (0/1).
func (v Value) Int64() int64     { return v.i }
func (v Value) Uint64() uint64   { return v.u }
func (v Value) Float64() float64 { return v.f }
func (v Value) Bool() bool       { return v.i != 0 }
func (v Value) Bytes() []byte    { return v.s }
func (v Value) Str() string      { return string(v.s) }

func (v Value) isSigned() bool {
	switch v.typ {
	case ColTimestamp, ColTinyInt, ColSmallInt, ColInt, ColBigInt, ColBool:
		return true
	}
	return false
}

func (v Value) isUnsigned() bool {
	switch v.typ {
	case ColUTinyInt, ColUSmallInt, ColUInt, ColUBigInt:
		return true
	}
	return false
}

// Interface returns the natural Go representation: int8..int64, uint8..uint64,
// bool, float32, float64, []byte for binary and string for nchar. NULL is nil.
func (v Value) Interface() any {
	if v.null {
		return nil
	}
	switch v.typ {
	case ColTimestamp, ColBigInt:
		return v.i
	case ColTinyInt:
		return int8(v.i)
	case ColSmallInt:
		return int16(v.i)
	case ColInt:
		return int32(v.i)
	case ColUTinyInt:
		return uint8(v.u)
	case ColUSmallInt:
		return uint16(v.u)
	case ColUInt:
		return uint32(v.u)
	case ColUBigInt:
		return v.u
	case ColBool:
		return v.i != 0
	case ColFloat:
		return float32(v.f)
	case ColDouble:
		return v.f
	case ColBinary:
		return bytes.Clone(v.s)
	case ColNChar:
		return string(v.s)
	}
	return nil
}

func (v Value) String() string {
	if v.null {
		return "NULL"
	}
	switch v.typ {
	case ColBinary, ColNChar:
		return fmt.Sprintf("%q", v.s)
	case 0:
		return "<invalid>"
	}
	return fmt.Sprint(v.Interface())
}

// Compare orders two values of the same type. NULL sorts before any non-NULL.
func (v Value) Compare(o Value) (int, error) {
	if v.typ != o.typ {
		return 0, fmt.Errorf("%w: compare %v with %v", ErrTypeMismatch, v.typ, o.typ)
	}
	switch {
	case v.null && o.null:
		return 0, nil
	case v.null:
		return -1, nil
	case o.null:
		return 1, nil
	}
	switch {
	case v.isSigned():
		return cmp.Compare(v.i, o.i), nil
	case v.isUnsigned():
		return cmp.Compare(v.u, o.u), nil
	case v.typ == ColFloat || v.typ == ColDouble:
		return cmp.Compare(v.f, o.f), nil
	default:
		return bytes.Compare(v.s, o.s), nil
	}
}

// Equal is exact equality, including the type tag.
func (v Value) Equal(o Value) bool {
	c, err := v.Compare(o)
	return err == nil && c == 0
}

// ApproxEqual behaves like Equal except that float/double values compare with
// FloatTolerance relative tolerance.
func (v Value) ApproxEqual(o Value) bool {
	if v.typ != o.typ || v.null != o.null {
		return false
	}
	if v.null || (v.typ != ColFloat && v.typ != ColDouble) {
		return v.Equal(o)
	}
	if v.f == o.f {
		return true
	}
	diff := math.Abs(v.f - o.f)
	scale := math.Max(math.Abs(v.f), math.Abs(o.f))
	return diff <= FloatTolerance*scale
}

// Check validates v against the column definition.
func (c Column) Check(v Value) error {
	if v.typ != c.Type {
		return fmt.Errorf("%w: column %q is %v, got %v", ErrTypeMismatch, c.Name, c.Type, v.typ)
	}
	if v.null {
		if !c.Nullable {
			return fmt.Errorf("%w: column %q is NOT NULL", ErrTypeMismatch, c.Name)
		}
		return nil
	}
	switch c.Type {
	case ColBinary:
		if len(v.s) > c.Length {
			return fmt.Errorf("%w: column %q binary(%d) got %d bytes", ErrValueTooLong, c.Name, c.Length, len(v.s))
		}
	case ColNChar:
		if !utf8.Valid(v.s) {
			return fmt.Errorf("%w: column %q expects UTF-8 text", ErrTypeMismatch, c.Name)
		}
		if n := utf8.RuneCount(v.s); n > c.Length {
			return fmt.Errorf("%w: column %q nchar(%d) got %d chars", ErrValueTooLong, c.Name, c.Length, n)
		}
	}
	return nil
}

// FromAny converts a loosely typed input (JSON numbers, strings, native Go
// values) into a Value of type t, rejecting out-of-range numbers.
func FromAny(t ColumnType, in any) (Value, error) {
	if in == nil {
		return Null(t), nil
	}
	if n, ok := in.(json.Number); ok {
		in = n.String()
	}
	if v, ok := in.(Value); ok {
		if v.typ != t {
			return Value{}, fmt.Errorf("%w: want %v, got %v", ErrTypeMismatch, t, v.typ)
		}
		return v, nil
	}
	mismatch := func(err error) error {
		return fmt.Errorf("%w: %v from %T: %v", ErrTypeMismatch, t, in, err)
	}
	switch t {
	case ColTimestamp, ColTinyInt, ColSmallInt, ColInt, ColBigInt:
		if _, isBool := in.(bool); isBool {
			return Value{}, mismatch(fmt.Errorf("bool is not a number"))
		}
		if f, isFloat := asFloat(in); isFloat {
			if err := checkIntegral(f, -0x1p63, 0x1p63); err != nil {
				return Value{}, mismatch(err)
			}
		}
		n, err := cast.ToInt64E(in)
		if err != nil {
			return Value{}, mismatch(err)
		}
		lo, hi := signedRange(t)
		if n < lo || n > hi {
			return Value{}, mismatch(fmt.Errorf("%d out of range", n))
		}
		return Value{typ: t, i: n}, nil
	case ColUTinyInt, ColUSmallInt, ColUInt, ColUBigInt:
		if _, isBool := in.(bool); isBool {
			return Value{}, mismatch(fmt.Errorf("bool is not a number"))
		}
		if f, isFloat := asFloat(in); isFloat {
			if err := checkIntegral(f, 0, 0x1p64); err != nil {
				return Value{}, mismatch(err)
			}
		}
		n, err := toUint64(in)
		if err != nil {
			return Value{}, mismatch(err)
		}
		if n > unsignedMax(t) {
			return Value{}, mismatch(fmt.Errorf("%d out of range", n))
		}
		return Value{typ: t, u: n}, nil
	case ColBool:
		b, err := cast.ToBoolE(in)
		if err != nil {
			return Value{}, mismatch(err)
		}
		return Bool(b), nil
	case ColFloat:
		f, err := cast.ToFloat64E(in)
		if err != nil {
			return Value{}, mismatch(err)
		}
		if !math.IsInf(f, 0) && math.Abs(f) > math.MaxFloat32 {
			return Value{}, mismatch(fmt.Errorf("%v overflows float", f))
		}
		return Float(float32(f)), nil
	case ColDouble:
		f, err := cast.ToFloat64E(in)
		if err != nil {
			return Value{}, mismatch(err)
		}
		return Double(f), nil
	case ColBinary:
		if b, ok := in.([]byte); ok {
			return Binary(b), nil
		}
		s, err := cast.ToStringE(in)
		if err != nil {
			return Value{}, mismatch(err)
		}
		return Binary([]byte(s)), nil
	case ColNChar:
		s, err := cast.ToStringE(in)
		if err != nil {
			return Value{}, mismatch(err)
		}
		return NChar(s), nil
	}
	return Value{}, fmt.Errorf("%w: %v", ErrUnsupportedType, t)
}

func asFloat(in any) (float64, bool) {
	switch f := in.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	}
	return 0, false
}

// checkIntegral accepts whole numbers in [lo, hi).
func checkIntegral(f, lo, hi float64) error {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return fmt.Errorf("fractional value %v", f)
	}
	if f < lo || f >= hi {
		return fmt.Errorf("%v out of range", f)
	}
	return nil
}

// toUint64 parses decimal strings itself so the full uint64 range survives
// JSON numbers.
func toUint64(in any) (uint64, error) {
	if s, ok := in.(string); ok {
		if n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64); err == nil {
			return n, nil
		}
	}
	return cast.ToUint64E(in)
}

func signedRange(t ColumnType) (int64, int64) {
	switch t {
	case ColTinyInt:
		return math.MinInt8, math.MaxInt8
	case ColSmallInt:
		return math.MinInt16, math.MaxInt16
	case ColInt:
		return math.MinInt32, math.MaxInt32
	}
	return math.MinInt64, math.MaxInt64
}

func unsignedMax(t ColumnType) uint64 {
	switch t {
	case ColUTinyInt:
		return math.MaxUint8
	case ColUSmallInt:
		return math.MaxUint16
	case ColUInt:
		return math.MaxUint32
	}
	return math.MaxUint64
}
