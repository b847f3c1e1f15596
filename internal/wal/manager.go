package wal

import (
	"bufio"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/tuannm99/novats/internal/alias/bx"
	"github.com/tuannm99/novats/internal/tombstone"
)

var (
	ErrBadMagic  = errors.New("wal: bad magic")
	ErrBadCRC    = errors.New("wal: bad crc")
	ErrBadRecord = errors.New("wal: bad record")
	ErrShortRead = errors.New("wal: short read")
	ErrClosed    = errors.New("wal: closed")
)

const (
	magicU32   uint32 = 0x5354574E // "NWTS"
	versionU16        = 1

	// magic(4) ver(2) typ(1) rsv(1) totalLen(4) crc(4)
	headerLen = 4 + 2 + 1 + 1 + 4 + 4
	// seq(8) follows the header and is covered by the crc
	minRecordLen = headerLen + 8

	filePrefix = "wal-"
	fileSuffix = ".log"
)

type RecordType uint8

const (
	RecInsert    RecordType = 1
	RecTombstone RecordType = 2
)

// Record is one decoded log entry.
type Record struct {
	Type    RecordType
	Seq     uint64
	Payload []byte
}

// Tombstone decodes a RecTombstone payload.
func (r Record) Tombstone() (tombstone.Tombstone, error) {
	var t tombstone.Tombstone
	if r.Type != RecTombstone {
		return t, fmt.Errorf("%w: type %d is not a tombstone", ErrBadRecord, r.Type)
	}
	if err := cbor.Unmarshal(r.Payload, &t); err != nil {
		return t, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	return t, nil
}

// Manager owns the log files of one table. Each Open and each Rotate starts a
// new generation file, so appends never land behind a torn tail.
type Manager struct {
	mu   sync.Mutex
	fs   afero.Fs
	dir  string
	sync bool
	gen  uint64
	f    afero.File
	size int64 // bytes accepted into f
}

// Open prepares dir for appending. Existing generations are left in place for
// Replay.
func Open(fs afero.Fs, dir string, syncEach bool) (*Manager, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	gens, err := listGens(fs, dir)
	if err != nil {
		return nil, err
	}
	m := &Manager{fs: fs, dir: dir, sync: syncEach}
	if len(gens) > 0 {
		m.gen = gens[len(gens)-1]
	}
	if err := m.startGen(m.gen + 1); err != nil {
		return nil, err
	}
	return m, nil
}

func fileName(gen uint64) string {
	return fmt.Sprintf("%s%016d%s", filePrefix, gen, fileSuffix)
}

func listGens(fs afero.Fs, dir string) ([]uint64, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var gens []uint64
	for _, fi := range infos {
		name := fi.Name()
		if fi.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		g, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 64)
		if err != nil {
			continue
		}
		gens = append(gens, g)
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

func (m *Manager) openGen(gen uint64) (afero.File, error) {
	return m.fs.OpenFile(filepath.Join(m.dir, fileName(gen)), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
}

func (m *Manager) startGen(gen uint64) error {
	f, err := m.openGen(gen)
	if err != nil {
		return err
	}
	m.f = f
	m.gen = gen
	m.size = 0
	return nil
}

func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f = nil
	return err
}

func (m *Manager) AppendInsert(seq uint64, row []byte) error {
	return m.write(appendRecord(nil, RecInsert, seq, row))
}

// AppendTombstones logs ts with a single write. A failed call logs none of
// them.
func (m *Manager) AppendTombstones(ts ...tombstone.Tombstone) error {
	var buf []byte
	for _, t := range ts {
		payload, err := cbor.Marshal(t)
		if err != nil {
			return err
		}
		buf = appendRecord(buf, RecTombstone, t.Seq, payload)
	}
	return m.write(buf)
}

func appendRecord(buf []byte, typ RecordType, seq uint64, payload []byte) []byte {
	start := len(buf)
	totalLen := minRecordLen + len(payload)
	buf = bx.AppendU32(buf, magicU32)
	buf = bx.AppendU16(buf, versionU16)
	buf = bx.AppendU8(buf, uint8(typ))
	buf = bx.AppendU8(buf, 0)
	buf = bx.AppendU32(buf, uint32(totalLen))
	crcOff := len(buf)
	buf = bx.AppendU32(buf, 0) // placeholder
	buf = bx.AppendU64(buf, seq)
	buf = append(buf, payload...)
	bx.PutU32(buf[crcOff:crcOff+4], crc32.ChecksumIEEE(buf[start+headerLen:]))
	return buf
}

func (m *Manager) write(buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return ErrClosed
	}
	if _, err := m.f.Write(buf); err != nil {
		m.dropPartial()
		return err
	}
	if m.sync {
		if err := m.f.Sync(); err != nil {
			m.dropPartial()
			return err
		}
	}
	m.size += int64(len(buf))
	return nil
}

// dropPartial cuts a failed write off the live file. If that is impossible
// the manager moves on to a fresh generation, leaving the torn tail where
// Replay already stops.
func (m *Manager) dropPartial() {
	if err := m.f.Truncate(m.size); err == nil {
		if _, err := m.f.Seek(m.size, io.SeekStart); err == nil {
			return
		}
	}
	next, err := m.openGen(m.gen + 1)
	if err != nil {
		return
	}
	_ = m.f.Close()
	m.f, m.gen, m.size = next, m.gen+1, 0
}

// Rotate seals the current generation and starts the next one. It returns
// the sealed generation. On error the current generation stays the append
// target, so the log remains usable.
func (m *Manager) Rotate() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return 0, ErrClosed
	}
	if err := m.f.Sync(); err != nil {
		return 0, err
	}
	next, err := m.openGen(m.gen + 1)
	if err != nil {
		return 0, err
	}
	old, sealed := m.f, m.gen
	m.f, m.gen, m.size = next, sealed+1, 0
	// already synced; a failed close cannot lose records
	_ = old.Close()
	return sealed, nil
}

// RemoveThrough deletes every sealed generation <= gen.
func (m *Manager) RemoveThrough(gen uint64) error {
	m.mu.Lock()
	cur := m.gen
	m.mu.Unlock()

	gens, err := listGens(m.fs, m.dir)
	if err != nil {
		return err
	}
	var errs error
	for _, g := range gens {
		if g > gen || g >= cur {
			break
		}
		errs = multierr.Append(errs, m.fs.Remove(filepath.Join(m.dir, fileName(g))))
	}
	return errs
}

// Replay feeds every record of every sealed or current generation to fn in
// log order. A torn record at the end of a file ends that file.
func (m *Manager) Replay(fn func(Record) error) error {
	gens, err := listGens(m.fs, m.dir)
	if err != nil {
		return err
	}
	for _, g := range gens {
		if err := m.replayFile(filepath.Join(m.dir, fileName(g)), fn); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) replayFile(path string, fn func(Record) error) error {
	f, err := m.fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 1<<16)
	for {
		rec, err := readOne(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrShortRead) {
				return nil
			}
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func readOne(r *bufio.Reader) (Record, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Record{}, err
	}
	br := bx.NewReader(hdr[:])
	if br.U32() != magicU32 {
		return Record{}, ErrBadMagic
	}
	if br.U16() != versionU16 {
		return Record{}, ErrBadRecord
	}
	typ := RecordType(br.U8())
	_ = br.U8() // reserved
	totalLen := br.U32()
	wantCRC := br.U32()
	if totalLen < minRecordLen {
		return Record{}, ErrBadRecord
	}

	rest := make([]byte, int(totalLen)-headerLen)
	if _, err := io.ReadFull(r, rest); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, ErrShortRead
		}
		return Record{}, err
	}
	if crc32.ChecksumIEEE(rest) != wantCRC {
		return Record{}, ErrBadCRC
	}
	if typ != RecInsert && typ != RecTombstone {
		return Record{}, fmt.Errorf("%w: unknown type %d", ErrBadRecord, typ)
	}
	return Record{Type: typ, Seq: bx.U64(rest[:8]), Payload: rest[8:]}, nil
}
