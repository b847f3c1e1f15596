package record

import "errors"

var (
	// ErrTypeMismatch is returned when a value's tag does not match the
	// declared column type, or a non-nullable column receives NULL.
	ErrTypeMismatch = errors.New("record: type mismatch")
	// ErrValueTooLong is returned when a binary/nchar value exceeds the
	// declared column length.
	ErrValueTooLong = errors.New("record: value exceeds column length")
	// ErrCorruption is returned when stored bytes cannot be decoded.
	ErrCorruption = errors.New("record: corrupted value bytes")
	// ErrBadSchema is returned for schemas that cannot describe a table.
	ErrBadSchema = errors.New("record: invalid schema")
	// ErrUnsupportedType is returned for unknown column type tags.
	ErrUnsupportedType = errors.New("record: unsupported type")
)
