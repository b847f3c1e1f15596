package engine

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tuannm99/novats/internal/memtable"
	"github.com/tuannm99/novats/internal/record"
	"github.com/tuannm99/novats/internal/segment"
	"github.com/tuannm99/novats/internal/tombstone"
)

// FlushStats describes what one flush did.
type FlushStats struct {
	Table        string
	Noop         bool
	Compacted    bool
	FlushedSeq   uint64
	RowsWritten  int
	RowsDropped  int
	SegmentsNew  int
	SegmentsGone int
	Segments     int
}

type flushPlan struct {
	seq      uint64
	sealed   uint64
	frozen   *memtable.Buffer
	tombs    tombstone.Set
	base     segment.Manifest
	compact  bool
	maxSegs  int
	newSegs  []segment.Meta
	keep     []segment.Meta
	obsolete []segment.Meta
}

// flush writes the active buffer and pending tombstones into a new segment
// set. Only the rename of MANIFEST commits; any earlier failure restores the
// table and returns ErrFlushAbort.
func (t *Table) flush(ctx context.Context, compact bool) (FlushStats, error) {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	plan, st, err := t.freeze(compact)
	if err != nil || st.Noop {
		return st, err
	}

	if err := t.writeSegments(ctx, plan, &st); err != nil {
		t.abort(plan, err)
		return st, fmt.Errorf("%w: table %q: %w", ErrFlushAbort, t.name, err)
	}

	next := segment.Manifest{
		Generation: plan.base.Generation + 1,
		FlushedSeq: plan.seq,
		Segments:   append(append([]segment.Meta{}, plan.keep...), plan.newSegs...),
	}
	if err := ctx.Err(); err != nil {
		t.abort(plan, err)
		return st, fmt.Errorf("%w: table %q: %w", ErrFlushAbort, t.name, err)
	}
	if err := segment.SaveManifest(t.fs, t.dir, next); err != nil {
		t.abort(plan, err)
		return st, fmt.Errorf("%w: table %q: %w", ErrFlushAbort, t.name, err)
	}

	t.mu.Lock()
	t.manifest = next
	t.frozen = nil
	t.tombs.ClearThrough(plan.seq)
	t.version++
	t.mu.Unlock()

	t.cleanup(plan)

	st.Segments = len(next.Segments)
	st.SegmentsGone = len(plan.obsolete)
	t.log.Info("table flushed",
		zap.Uint64("seq", plan.seq),
		zap.Uint64("generation", next.Generation),
		zap.Int("rows_written", st.RowsWritten),
		zap.Int("rows_dropped", st.RowsDropped),
		zap.Int("segments", st.Segments),
		zap.Bool("compacted", st.Compacted))
	return st, nil
}

// freeze is step one, under the table lock: swap in an empty active buffer,
// snapshot the tombstones the flush will apply and seal the WAL.
func (t *Table) freeze(compact bool) (*flushPlan, FlushStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := FlushStats{Table: t.name, FlushedSeq: t.manifest.FlushedSeq}
	if t.dropped {
		return nil, st, ErrTableNotFound
	}
	if t.active.Len() == 0 && t.tombs.Len() == 0 && !(compact && len(t.manifest.Segments) > 1) {
		st.Noop = true
		st.Segments = len(t.manifest.Segments)
		return nil, st, nil
	}

	sealed, err := t.wal.Rotate()
	if err != nil {
		return nil, st, fmt.Errorf("%w: table %q: rotate wal: %w", ErrFlushAbort, t.name, err)
	}
	plan := &flushPlan{
		seq:     t.seq,
		sealed:  sealed,
		frozen:  t.active,
		tombs:   t.tombs.Through(t.seq),
		base:    t.manifest,
		compact: compact,
		maxSegs: t.opts.MaxSegments,
	}
	t.frozen = t.active
	t.active = memtable.New()
	st.FlushedSeq = plan.seq
	return plan, st, nil
}

// writeSegments is step two, without the table lock: apply the tombstone
// snapshot to the frozen rows and to every affected segment, then write the
// survivors out as new segments.
func (t *Table) writeSegments(ctx context.Context, plan *flushPlan, st *FlushStats) error {
	frozen := plan.frozen.Entries()
	shadow := make(map[int64]struct{}, len(frozen))
	var fresh []record.Entry
	for _, e := range frozen {
		shadow[e.Row.Ts] = struct{}{}
		if plan.tombs.Hides(e.Row.Ts, e.Seq) {
			st.RowsDropped++
			continue
		}
		fresh = append(fresh, e)
	}
	hide := func(e record.Entry) bool {
		if _, ok := shadow[e.Row.Ts]; ok {
			return true
		}
		return plan.tombs.Hides(e.Row.Ts, e.Seq)
	}

	var rewrites [][]record.Entry
	var untouched []segment.Meta
	for _, meta := range plan.base.Segments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if plan.tombs.Drops(meta.MinTs, meta.MaxTs, meta.MaxSeq) {
			// every row is deleted; no need to read the file
			st.RowsDropped += int(meta.Rows)
			plan.obsolete = append(plan.obsolete, meta)
			continue
		}
		if !plan.compact && !plan.tombs.Overlaps(meta.MinTs, meta.MaxTs, meta.MinSeq) && !plan.frozen.Overlaps(meta.MinTs, meta.MaxTs) {
			untouched = append(untouched, meta)
			continue
		}
		entries, err := segment.Read(t.fs, t.segmentDir(), t.schema, meta)
		if err != nil {
			return err
		}
		deleted := segment.Deleted(entries, hide)
		st.RowsDropped += int(deleted.GetCardinality())
		if deleted.IsEmpty() && !plan.compact {
			untouched = append(untouched, meta)
			continue
		}
		plan.obsolete = append(plan.obsolete, meta)
		if survivors := segment.Survivors(entries, deleted); len(survivors) > 0 {
			rewrites = append(rewrites, survivors)
		}
	}

	total := len(untouched) + len(rewrites)
	if len(fresh) > 0 {
		total++
	}
	if !plan.compact && total > plan.maxSegs {
		// too many segments: fold the untouched ones in as well
		plan.compact = true
		for _, meta := range untouched {
			entries, err := segment.Read(t.fs, t.segmentDir(), t.schema, meta)
			if err != nil {
				return err
			}
			rewrites = append(rewrites, entries)
			plan.obsolete = append(plan.obsolete, meta)
		}
		untouched = nil
	}

	batches := rewrites
	if len(fresh) > 0 {
		batches = append(batches, fresh)
	}
	if plan.compact && len(batches) > 1 {
		var all []record.Entry
		for _, b := range batches {
			all = append(all, b...)
		}
		sortByTs(all)
		batches = [][]record.Entry{all}
	}
	st.Compacted = plan.compact

	plan.keep = untouched
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		meta, err := segment.Write(t.fs, t.segmentDir(), t.schema, b)
		if err != nil {
			return err
		}
		plan.newSegs = append(plan.newSegs, meta)
		st.RowsWritten += len(b)
	}
	st.SegmentsNew = len(plan.newSegs)
	return nil
}

// abort undoes a flush that never reached its commit point. Frozen rows go
// back into the active buffer unless a newer write already took their
// timestamp; tombstones were never cleared.
func (t *Table) abort(plan *flushPlan, cause error) {
	var rmErr error
	for _, meta := range plan.newSegs {
		rmErr = multierr.Append(rmErr, segment.Remove(t.fs, t.segmentDir(), meta.ID))
	}

	t.mu.Lock()
	for _, e := range plan.frozen.Entries() {
		t.active.PutIfAbsent(e)
	}
	t.frozen = nil
	t.version++
	t.mu.Unlock()

	t.log.Warn("flush aborted", zap.Uint64("seq", plan.seq), zap.Error(cause))
	if rmErr != nil {
		t.log.Warn("remove segments of aborted flush", zap.Error(rmErr))
	}
}

// cleanup drops WAL generations and segment files the committed manifest no
// longer needs. Failures leave garbage behind but never affect correctness.
func (t *Table) cleanup(plan *flushPlan) {
	if err := t.wal.RemoveThrough(plan.sealed); err != nil {
		t.log.Warn("remove flushed wal files", zap.Uint64("gen", plan.sealed), zap.Error(err))
	}
	// segments still pinned by a reader go when the last one releases them
	t.removeSegments(t.refs.retire(plan.obsolete))
}
