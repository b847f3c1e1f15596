package record

import (
	"errors"
	"fmt"
	"math"

	"github.com/tuannm99/novats/internal/alias/bx"
)

// Value layout (little-endian):
//
//	tinyint/utinyint/bool: 1 byte
//	smallint/usmallint:    2 bytes
//	int/uint/float:        4 bytes (float is IEEE-754 binary32)
//	bigint/ubigint/double/timestamp: 8 bytes
//	binary/nchar:          u16 length + bytes
//
// NULL has no value encoding; rows and segment columns carry a null bitmap.

// EncodeValue returns the stored form of a non-NULL value.
func EncodeValue(v Value) ([]byte, error) {
	return AppendValue(nil, v)
}

// AppendValue appends the stored form of v to dst.
func AppendValue(dst []byte, v Value) ([]byte, error) {
	if v.null {
		return dst, fmt.Errorf("%w: NULL has no value encoding", ErrTypeMismatch)
	}
	switch v.typ {
	case ColTinyInt, ColBool:
		return bx.AppendU8(dst, uint8(v.i)), nil
	case ColUTinyInt:
		return bx.AppendU8(dst, uint8(v.u)), nil
	case ColSmallInt:
		return bx.AppendU16(dst, uint16(v.i)), nil
	case ColUSmallInt:
		return bx.AppendU16(dst, uint16(v.u)), nil
	case ColInt:
		return bx.AppendU32(dst, uint32(v.i)), nil
	case ColUInt:
		return bx.AppendU32(dst, uint32(v.u)), nil
	case ColBigInt, ColTimestamp:
		return bx.AppendI64(dst, v.i), nil
	case ColUBigInt:
		return bx.AppendU64(dst, v.u), nil
	case ColFloat:
		return bx.AppendF32(dst, float32(v.f)), nil
	case ColDouble:
		return bx.AppendF64(dst, v.f), nil
	case ColBinary, ColNChar:
		if len(v.s) > math.MaxUint16 {
			return dst, ErrValueTooLong
		}
		return bx.AppendBytes16(dst, v.s), nil
	}
	return dst, fmt.Errorf("%w: %v", ErrUnsupportedType, v.typ)
}

// DecodeValue is the inverse of EncodeValue; b must hold exactly one value.
func DecodeValue(b []byte, t ColumnType) (Value, error) {
	r := bx.NewReader(b)
	v, err := ReadValue(r, t)
	if err != nil {
		return Value{}, err
	}
	if r.Remaining() != 0 {
		return Value{}, fmt.Errorf("%w: %d trailing bytes after %v", ErrCorruption, r.Remaining(), t)
	}
	return v, nil
}

// ReadValue decodes one value of type t from r.
func ReadValue(r *bx.Reader, t ColumnType) (Value, error) {
	var v Value
	switch t {
	case ColTinyInt:
		v = TinyInt(int8(r.U8()))
	case ColUTinyInt:
		v = UTinyInt(r.U8())
	case ColBool:
		v = Bool(r.U8() != 0)
	case ColSmallInt:
		v = SmallInt(int16(r.U16()))
	case ColUSmallInt:
		v = USmallInt(r.U16())
	case ColInt:
		v = Int(int32(r.U32()))
	case ColUInt:
		v = UInt(r.U32())
	case ColBigInt:
		v = BigInt(r.I64())
	case ColTimestamp:
		v = Timestamp(r.I64())
	case ColUBigInt:
		v = UBigInt(r.U64())
	case ColFloat:
		v = Float(r.F32())
	case ColDouble:
		v = Double(r.F64())
	case ColBinary:
		v = Value{typ: ColBinary, s: r.Bytes16()}
	case ColNChar:
		v = Value{typ: ColNChar, s: r.Bytes16()}
	default:
		return Value{}, fmt.Errorf("%w: %v", ErrUnsupportedType, t)
	}
	if err := r.Err(); err != nil {
		if errors.Is(err, bx.ErrShort) {
			return Value{}, fmt.Errorf("%w: %v: %v", ErrCorruption, t, err)
		}
		return Value{}, err
	}
	if t.IsVarLen() && v.s == nil {
		v.s = []byte{}
	}
	return v, nil
}
