package record

import (
	"fmt"

	"github.com/tuannm99/novats/internal/alias/bx"
)

// Row is one table row. Values follow Schema.Cols[1:]; the timestamp key
// lives in Ts.
type Row struct {
	Ts     int64
	Values []Value
}

// Entry is a row stamped with the sequence number of the write that produced
// it.
type Entry struct {
	Row Row
	Seq uint64
}

// Clone returns a row that shares no backing arrays with r.
func (r Row) Clone() Row {
	vals := make([]Value, len(r.Values))
	copy(vals, r.Values)
	return Row{Ts: r.Ts, Values: vals}
}

// CheckRow validates values against the non-timestamp columns.
func (s Schema) CheckRow(row Row) error {
	if len(row.Values) != len(s.Cols)-1 {
		return fmt.Errorf("%w: got %d values for %d columns", ErrTypeMismatch, len(row.Values), len(s.Cols)-1)
	}
	for i, v := range row.Values {
		if err := s.Cols[i+1].Check(v); err != nil {
			return err
		}
	}
	return nil
}

// EncodeRow format:
// [ts: i64] [nullmap: ceil(N/8) bytes, bit=1 => NULL] [field0 data?] [field1 data?] ...
// N counts the non-timestamp columns.
func EncodeRow(s Schema, row Row) ([]byte, error) {
	if err := s.CheckRow(row); err != nil {
		return nil, err
	}
	nc := len(row.Values)
	out := bx.AppendI64(nil, row.Ts)
	nullAt := len(out)
	out = append(out, make([]byte, (nc+7)/8)...)

	var err error
	for i, v := range row.Values {
		if v.null {
			out[nullAt+i/8] |= 1 << (uint(i) & 7)
			continue
		}
		if out, err = AppendValue(out, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DecodeRow is the inverse of EncodeRow.
func DecodeRow(s Schema, buf []byte) (Row, error) {
	if len(s.Cols) == 0 {
		return Row{}, ErrBadSchema
	}
	nc := len(s.Cols) - 1
	r := bx.NewReader(buf)
	ts := r.I64()
	nullmap := r.Raw((nc + 7) / 8)
	if r.Err() != nil {
		return Row{}, fmt.Errorf("%w: row header: %v", ErrCorruption, r.Err())
	}

	out := Row{Ts: ts, Values: make([]Value, nc)}
	for i := 0; i < nc; i++ {
		col := s.Cols[i+1]
		if (nullmap[i/8]>>(uint(i)&7))&1 == 1 {
			out.Values[i] = Null(col.Type)
			continue
		}
		v, err := ReadValue(r, col.Type)
		if err != nil {
			return Row{}, fmt.Errorf("column %q: %w", col.Name, err)
		}
		out.Values[i] = v
	}
	return out, nil
}
