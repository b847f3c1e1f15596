package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/tuannm99/novats/internal/memtable"
	"github.com/tuannm99/novats/internal/predicate"
	"github.com/tuannm99/novats/internal/record"
	"github.com/tuannm99/novats/internal/segment"
	"github.com/tuannm99/novats/internal/tombstone"
	"github.com/tuannm99/novats/internal/wal"
)

// Table owns the write buffer, tombstone log, WAL and segment set of one
// table.
//
// Lock order: flushMu, then mu. Readers take mu.RLock only to copy a
// snapshot and pin its segments; segment files are read without any lock
// held.
type Table struct {
	name   string
	dir    string
	schema record.Schema
	fs     afero.Fs
	log    *zap.Logger
	opts   Options

	flushMu sync.Mutex
	refs    *segmentRefs

	mu       sync.RWMutex
	active   *memtable.Buffer
	frozen   *memtable.Buffer // non-nil while a flush is writing it out
	tombs    *tombstone.Log
	manifest segment.Manifest // replaced wholesale, never mutated
	wal      *wal.Manager
	seq      uint64
	version  uint64
	// incarnation distinguishes a recreated table from a dropped one in
	// cache keys.
	incarnation string
	dropped     bool
}

func (t *Table) Name() string          { return t.name }
func (t *Table) Schema() record.Schema { return t.schema }
func (t *Table) segmentDir() string    { return filepath.Join(t.dir, "segments") }
func (t *Table) walDir() string        { return filepath.Join(t.dir, "wal") }
func (t *Table) versionKeyLocked() string {
	return t.incarnation + "/" + strconv.FormatUint(t.version, 10)
}

// openTable loads a table from dir: meta, manifest, then WAL replay.
func openTable(dir string, meta *TableMeta, opts Options) (*Table, error) {
	t := &Table{
		name:        meta.Name,
		dir:         dir,
		schema:      meta.Schema,
		fs:          opts.Fs,
		log:         opts.Logger.With(zap.String("table", meta.Name)),
		opts:        opts,
		active:      memtable.New(),
		tombs:       tombstone.NewLog(),
		refs:        newSegmentRefs(),
		incarnation: uuid.NewString(),
	}
	if err := t.schema.Validate(); err != nil {
		return nil, fmt.Errorf("table %q: %w", meta.Name, err)
	}

	m, err := segment.LoadManifest(t.fs, t.dir)
	if err != nil {
		return nil, fmt.Errorf("table %q: %w", meta.Name, err)
	}
	t.manifest = m
	t.seq = m.FlushedSeq
	t.removeOrphans()

	w, err := wal.Open(t.fs, t.walDir(), opts.WALSync)
	if err != nil {
		return nil, fmt.Errorf("table %q: open wal: %w", meta.Name, err)
	}
	t.wal = w
	if err := t.replay(); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("table %q: replay wal: %w", meta.Name, err)
	}
	return t, nil
}

// removeOrphans deletes segment files a crashed flush wrote but never
// committed.
func (t *Table) removeOrphans() {
	orphans, err := segment.Orphans(t.fs, t.segmentDir(), t.manifest)
	if err != nil {
		t.log.Warn("list orphan segments", zap.Error(err))
		return
	}
	for _, p := range orphans {
		if err := t.fs.Remove(p); err != nil {
			t.log.Warn("remove orphan segment", zap.String("path", p), zap.Error(err))
		}
	}
}

func (t *Table) replay() error {
	var inserts, tombs int
	err := t.wal.Replay(func(rec wal.Record) error {
		if rec.Seq <= t.manifest.FlushedSeq {
			return nil
		}
		switch rec.Type {
		case wal.RecInsert:
			row, err := record.DecodeRow(t.schema, rec.Payload)
			if err != nil {
				return err
			}
			t.active.Put(row, rec.Seq)
			inserts++
		case wal.RecTombstone:
			ts, err := rec.Tombstone()
			if err != nil {
				return err
			}
			t.tombs.Append(ts.Pred, ts.Seq)
			t.active.DeleteRange(ts.Pred)
			tombs++
		}
		t.seq = max(t.seq, rec.Seq)
		return nil
	})
	if err != nil {
		return err
	}
	if inserts+tombs > 0 {
		t.log.Info("wal replayed",
			zap.Int("inserts", inserts),
			zap.Int("tombstones", tombs),
			zap.Uint64("seq", t.seq))
	}
	return nil
}

func (t *Table) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropped = true
	return t.wal.Close()
}

func (t *Table) insert(row record.Row) error {
	payload, err := record.EncodeRow(t.schema, row)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dropped {
		return ErrTableNotFound
	}
	seq := t.seq + 1
	if err := t.wal.AppendInsert(seq, payload); err != nil {
		return fmt.Errorf("wal append: %w", err)
	}
	t.seq = seq
	t.active.Put(row, seq)
	t.version++
	return nil
}

// delete records one tombstone per predicate and excises matching rows from
// the active buffer. It returns how many visible rows the tombstones hid.
func (t *Table) delete(ctx context.Context, preds []predicate.TimePredicate) (int, error) {
	if len(preds) == 0 {
		return 0, nil
	}
	bounds := preds[0]
	for _, p := range preds[1:] {
		bounds = predicate.Between(min(bounds.Lo, p.Lo), max(bounds.Hi, p.Hi))
	}

	t.mu.Lock()
	if t.dropped {
		t.mu.Unlock()
		return 0, ErrTableNotFound
	}
	// a != delete yields two tombstones; they are logged together or not at all
	tombs := make([]tombstone.Tombstone, len(preds))
	for i, p := range preds {
		tombs[i] = tombstone.Tombstone{Pred: p, Seq: t.seq + uint64(i) + 1}
	}
	if err := t.wal.AppendTombstones(tombs...); err != nil {
		t.mu.Unlock()
		return 0, fmt.Errorf("wal append: %w", err)
	}
	before, release := t.snapshotLocked(bounds)
	defer release()
	for _, ts := range tombs {
		t.seq = ts.Seq
		t.tombs.Append(ts.Pred, ts.Seq)
		t.active.DeleteRange(ts.Pred)
	}
	t.version++
	t.mu.Unlock()

	rows, err := t.collect(ctx, before, bounds)
	if err != nil {
		// the delete itself is durable; only the count is unavailable
		t.log.Warn("count deleted rows", zap.Error(err))
		return 0, nil
	}
	n := 0
	for _, e := range rows {
		for _, p := range preds {
			if p.Matches(e.Row.Ts) {
				n++
				break
			}
		}
	}
	return n, nil
}

// TableStats is a point-in-time view of a table's storage.
type TableStats struct {
	Name           string
	ActiveRows     int
	FrozenRows     int
	Tombstones     int
	Segments       int
	SegmentRows    int
	Generation     uint64
	FlushedSeq     uint64
	LastSeq        uint64
	FlushInProcess bool
	// RetiredSegments are obsolete files kept until their readers finish.
	RetiredSegments int
}

func (t *Table) stats() TableStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := TableStats{
		Name:           t.name,
		ActiveRows:     t.active.Len(),
		Tombstones:     t.tombs.Len(),
		Segments:       len(t.manifest.Segments),
		SegmentRows:    t.manifest.Rows(),
		Generation:     t.manifest.Generation,
		FlushedSeq:     t.manifest.FlushedSeq,
		LastSeq:        t.seq,
		FlushInProcess: t.frozen != nil,

		RetiredSegments: t.refs.pending(),
	}
	if t.frozen != nil {
		st.FrozenRows = t.frozen.Len()
	}
	return st
}
