package record

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ColumnType is the closed set of column types a table may declare.
type ColumnType uint8

const (
	ColTimestamp ColumnType = iota + 1
	ColTinyInt
	ColSmallInt
	ColInt
	ColBigInt
	ColUTinyInt
	ColUSmallInt
	ColUInt
	ColUBigInt
	ColBool
	ColFloat
	ColDouble
	ColBinary // raw bytes, length counted in bytes
	ColNChar  // UTF-8 text, length counted in characters
)

const (
	MaxBinaryLen = math.MaxUint16
	// 4 bytes per rune worst case must still fit the u16 length prefix.
	MaxNCharLen = math.MaxUint16 / 4
)

var typeNames = map[ColumnType]string{
	ColTimestamp: "timestamp",
	ColTinyInt:   "tinyint",
	ColSmallInt:  "smallint",
	ColInt:       "int",
	ColBigInt:    "bigint",
	ColUTinyInt:  "tinyint unsigned",
	ColUSmallInt: "smallint unsigned",
	ColUInt:      "int unsigned",
	ColUBigInt:   "bigint unsigned",
	ColBool:      "bool",
	ColFloat:     "float",
	ColDouble:    "double",
	ColBinary:    "binary",
	ColNChar:     "nchar",
}

func (t ColumnType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

func (t ColumnType) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// IsVarLen reports whether values carry a length prefix.
func (t ColumnType) IsVarLen() bool { return t == ColBinary || t == ColNChar }

// FixedWidth returns the encoded width for fixed-width types and 0 otherwise.
func (t ColumnType) FixedWidth() int {
	switch t {
	case ColTinyInt, ColUTinyInt, ColBool:
		return 1
	case ColSmallInt, ColUSmallInt:
		return 2
	case ColInt, ColUInt, ColFloat:
		return 4
	case ColBigInt, ColUBigInt, ColDouble, ColTimestamp:
		return 8
	default:
		return 0
	}
}

// ParseColumnType accepts the names produced by String plus a "(n)" length
// suffix for binary/nchar, e.g. "binary(20)" or "int unsigned".
func ParseColumnType(s string) (ColumnType, int, error) {
	name := strings.ToLower(strings.Join(strings.Fields(s), " "))
	length := 0
	if open := strings.IndexByte(name, '('); open >= 0 {
		if !strings.HasSuffix(name, ")") {
			return 0, 0, fmt.Errorf("%w: %q", ErrUnsupportedType, s)
		}
		n, err := strconv.Atoi(strings.TrimSpace(name[open+1 : len(name)-1]))
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("%w: bad length in %q", ErrUnsupportedType, s)
		}
		length = n
		name = strings.TrimSpace(name[:open])
	}
	if name == "varchar" {
		name = "binary"
	}
	for t, tn := range typeNames {
		if tn != name {
			continue
		}
		if t.IsVarLen() != (length > 0) {
			return 0, 0, fmt.Errorf("%w: %q needs a length only for binary/nchar", ErrUnsupportedType, s)
		}
		return t, length, nil
	}
	return 0, 0, fmt.Errorf("%w: %q", ErrUnsupportedType, s)
}

type Column struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Length   int        `json:"length,omitempty"` // binary: bytes, nchar: characters
	Nullable bool       `json:"nullable"`
}

func (c Column) String() string {
	if c.Type.IsVarLen() {
		return fmt.Sprintf("%s %s(%d)", c.Name, c.Type, c.Length)
	}
	return fmt.Sprintf("%s %s", c.Name, c.Type)
}

// Schema lists the table columns; Cols[0] is always the timestamp key.
type Schema struct {
	Cols []Column `json:"cols"`
}

func (s Schema) NumCols() int { return len(s.Cols) }

// TsName is the name of the leading timestamp column.
func (s Schema) TsName() string {
	if len(s.Cols) == 0 {
		return ""
	}
	return s.Cols[0].Name
}

// ColIndex returns the position of name in Cols or -1.
func (s Schema) ColIndex(name string) int {
	for i := range s.Cols {
		if strings.EqualFold(s.Cols[i].Name, name) {
			return i
		}
	}
	return -1
}

func (s Schema) Validate() error {
	if len(s.Cols) < 2 {
		return fmt.Errorf("%w: need a timestamp column and at least one value column", ErrBadSchema)
	}
	if s.Cols[0].Type != ColTimestamp {
		return fmt.Errorf("%w: first column %q must be a timestamp", ErrBadSchema, s.Cols[0].Name)
	}
	if s.Cols[0].Nullable {
		return fmt.Errorf("%w: timestamp key %q cannot be nullable", ErrBadSchema, s.Cols[0].Name)
	}
	seen := make(map[string]struct{}, len(s.Cols))
	for _, c := range s.Cols {
		if c.Name == "" {
			return fmt.Errorf("%w: empty column name", ErrBadSchema)
		}
		key := strings.ToLower(c.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate column %q", ErrBadSchema, c.Name)
		}
		seen[key] = struct{}{}
		if !c.Type.Valid() {
			return fmt.Errorf("%w: column %q: %v", ErrBadSchema, c.Name, c.Type)
		}
		switch c.Type {
		case ColBinary:
			if c.Length <= 0 || c.Length > MaxBinaryLen {
				return fmt.Errorf("%w: column %q binary length %d", ErrBadSchema, c.Name, c.Length)
			}
		case ColNChar:
			if c.Length <= 0 || c.Length > MaxNCharLen {
				return fmt.Errorf("%w: column %q nchar length %d", ErrBadSchema, c.Name, c.Length)
			}
		}
	}
	return nil
}
