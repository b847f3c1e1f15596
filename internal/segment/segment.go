// Package segment stores flushed rows in immutable columnar files.
//
// File format (little-endian):
//
//	header:  magic u32 | version u16 | ncols u16 | col types [ncols]u8 |
//	         rows u32 | minTs i64 | maxTs i64 | minSeq u64 | maxSeq u64
//	body:    ts [rows]i64 | seq [rows]u64 |
//	         per value column: null bitmap ceil(rows/8) | non-NULL values
//	footer:  crc32 of header+body u32 | magic u32
package segment

import (
	"errors"
	"fmt"
	"hash/crc32"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/tuannm99/novats/internal/alias/bx"
	"github.com/tuannm99/novats/internal/record"
)

const (
	magicU32   uint32 = 0x4753544E // "NTSG"
	versionU16 uint16 = 1
	footerLen         = 8
	fileSuffix        = ".seg"
)

var ErrEmpty = errors.New("segment: no rows")

// Meta describes one segment file. It is stored in the manifest so a table
// can prune segments without opening them.
type Meta struct {
	ID     string `cbor:"1,keyasint"`
	Rows   uint32 `cbor:"2,keyasint"`
	MinTs  int64  `cbor:"3,keyasint"`
	MaxTs  int64  `cbor:"4,keyasint"`
	MinSeq uint64 `cbor:"5,keyasint"`
	MaxSeq uint64 `cbor:"6,keyasint"`
}

// Overlaps reports whether the segment may hold a timestamp in [lo, hi].
func (m Meta) Overlaps(lo, hi int64) bool { return m.MinTs <= hi && lo <= m.MaxTs }

func Path(dir, id string) string { return filepath.Join(dir, "seg-"+id+fileSuffix) }

// Write stores entries, which must be sorted by timestamp with no duplicates,
// in a new file under dir and returns its Meta.
func Write(fs afero.Fs, dir string, schema record.Schema, entries []record.Entry) (Meta, error) {
	if len(entries) == 0 {
		return Meta{}, ErrEmpty
	}
	meta := Meta{
		ID:     uuid.NewString(),
		Rows:   uint32(len(entries)),
		MinTs:  entries[0].Row.Ts,
		MaxTs:  entries[len(entries)-1].Row.Ts,
		MinSeq: entries[0].Seq,
		MaxSeq: entries[0].Seq,
	}
	for i, e := range entries {
		if i > 0 && e.Row.Ts <= entries[i-1].Row.Ts {
			return Meta{}, fmt.Errorf("segment: rows out of order at %d", e.Row.Ts)
		}
		meta.MinSeq = min(meta.MinSeq, e.Seq)
		meta.MaxSeq = max(meta.MaxSeq, e.Seq)
	}

	buf, err := encode(schema, meta, entries)
	if err != nil {
		return Meta{}, err
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return Meta{}, err
	}
	path := Path(dir, meta.ID)
	f, err := fs.Create(path)
	if err != nil {
		return Meta{}, err
	}
	if _, err := f.Write(buf); err != nil {
		_ = f.Close()
		_ = fs.Remove(path)
		return Meta{}, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = fs.Remove(path)
		return Meta{}, err
	}
	if err := f.Close(); err != nil {
		_ = fs.Remove(path)
		return Meta{}, err
	}
	return meta, nil
}

func encode(schema record.Schema, meta Meta, entries []record.Entry) ([]byte, error) {
	nc := len(schema.Cols) - 1
	buf := make([]byte, 0, 64+len(entries)*16*len(schema.Cols))
	buf = bx.AppendU32(buf, magicU32)
	buf = bx.AppendU16(buf, versionU16)
	buf = bx.AppendU16(buf, uint16(len(schema.Cols)))
	for _, c := range schema.Cols {
		buf = bx.AppendU8(buf, uint8(c.Type))
	}
	buf = bx.AppendU32(buf, meta.Rows)
	buf = bx.AppendI64(buf, meta.MinTs)
	buf = bx.AppendI64(buf, meta.MaxTs)
	buf = bx.AppendU64(buf, meta.MinSeq)
	buf = bx.AppendU64(buf, meta.MaxSeq)

	for _, e := range entries {
		buf = bx.AppendI64(buf, e.Row.Ts)
	}
	for _, e := range entries {
		buf = bx.AppendU64(buf, e.Seq)
	}

	var err error
	for c := 0; c < nc; c++ {
		nulls := make([]byte, (len(entries)+7)/8)
		for i, e := range entries {
			if e.Row.Values[c].IsNull() {
				nulls[i/8] |= 1 << (uint(i) & 7)
			}
		}
		buf = append(buf, nulls...)
		for _, e := range entries {
			v := e.Row.Values[c]
			if v.IsNull() {
				continue
			}
			if v.Type() != schema.Cols[c+1].Type {
				return nil, fmt.Errorf("%w: column %q holds %v", record.ErrTypeMismatch, schema.Cols[c+1].Name, v.Type())
			}
			if buf, err = record.AppendValue(buf, v); err != nil {
				return nil, err
			}
		}
	}

	buf = bx.AppendU32(buf, crc32.ChecksumIEEE(buf))
	buf = bx.AppendU32(buf, magicU32)
	return buf, nil
}

// Read loads every row of the segment. Any structural damage is reported as
// record.ErrCorruption.
func Read(fs afero.Fs, dir string, schema record.Schema, meta Meta) ([]record.Entry, error) {
	data, err := afero.ReadFile(fs, Path(dir, meta.ID))
	if err != nil {
		return nil, err
	}
	entries, err := decode(schema, data)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", meta.ID, err)
	}
	return entries, nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", record.ErrCorruption, fmt.Sprintf(format, args...))
}

func decode(schema record.Schema, data []byte) ([]record.Entry, error) {
	if len(data) < footerLen {
		return nil, corrupt("file too short")
	}
	body, footer := data[:len(data)-footerLen], data[len(data)-footerLen:]
	if bx.U32(footer[4:]) != magicU32 {
		return nil, corrupt("bad footer magic")
	}
	if crc32.ChecksumIEEE(body) != bx.U32(footer[:4]) {
		return nil, corrupt("checksum mismatch")
	}

	r := bx.NewReader(body)
	if r.U32() != magicU32 || r.U16() != versionU16 {
		return nil, corrupt("bad header")
	}
	ncols := int(r.U16())
	if r.Err() == nil && ncols != len(schema.Cols) {
		return nil, corrupt("segment has %d columns, table has %d", ncols, len(schema.Cols))
	}
	for i := 0; i < ncols && r.Err() == nil; i++ {
		if t := record.ColumnType(r.U8()); r.Err() == nil && t != schema.Cols[i].Type {
			return nil, corrupt("column %d is %v, table declares %v", i, t, schema.Cols[i].Type)
		}
	}
	rows := int(r.U32())
	_ = r.Raw(8 * 4) // min/max ts and seq live in the manifest too
	if r.Err() != nil {
		return nil, corrupt("header: %v", r.Err())
	}
	if rows*16 > r.Remaining() {
		return nil, corrupt("row count %d exceeds file size", rows)
	}

	out := make([]record.Entry, rows)
	nc := ncols - 1
	for i := range out {
		out[i].Row.Ts = r.I64()
		out[i].Row.Values = make([]record.Value, nc)
	}
	for i := range out {
		out[i].Seq = r.U64()
	}
	for c := 0; c < nc; c++ {
		typ := schema.Cols[c+1].Type
		nulls := r.Raw((rows + 7) / 8)
		if r.Err() != nil {
			return nil, corrupt("null bitmap of %q: %v", schema.Cols[c+1].Name, r.Err())
		}
		for i := range out {
			if (nulls[i/8]>>(uint(i)&7))&1 == 1 {
				out[i].Row.Values[c] = record.Null(typ)
				continue
			}
			v, err := record.ReadValue(r, typ)
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", schema.Cols[c+1].Name, i, err)
			}
			out[i].Row.Values[c] = v
		}
	}
	if r.Remaining() != 0 {
		return nil, corrupt("%d trailing bytes", r.Remaining())
	}
	return out, nil
}

// Remove deletes the segment file.
func Remove(fs afero.Fs, dir, id string) error {
	return fs.Remove(Path(dir, id))
}
