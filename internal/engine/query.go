package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tuannm99/novats/internal/predicate"
	"github.com/tuannm99/novats/internal/record"
	"github.com/tuannm99/novats/internal/segment"
	"github.com/tuannm99/novats/internal/tombstone"
)

// Result is a query answer. It may be shared through the result cache and
// must not be modified.
type Result struct {
	Columns []record.Column
	Rows    [][]record.Value
}

func (r *Result) Len() int { return len(r.Rows) }

// snapshot is everything a reader needs, copied under the table read lock.
type snapshot struct {
	version  string
	manifest segment.Manifest
	frozen   []record.Entry
	active   []record.Entry
	tombs    tombstone.Set
}

// snapshotLocked copies the table state for a reader and pins its segment
// files. The caller holds t.mu and must call release once the segment files
// are no longer needed.
func (t *Table) snapshotLocked(bounds predicate.TimePredicate) (snapshot, func()) {
	s := snapshot{
		version:  t.versionKeyLocked(),
		manifest: t.manifest,
		active:   t.active.Scan(bounds),
		tombs:    t.tombs.Active(),
	}
	if t.frozen != nil {
		s.frozen = t.frozen.Scan(bounds)
	}
	return s, t.pinLocked()
}

func (t *Table) snapshot(bounds predicate.TimePredicate) (snapshot, func(), error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.dropped {
		return snapshot{}, nil, ErrTableNotFound
	}
	s, release := t.snapshotLocked(bounds)
	return s, release, nil
}

// collect merges segments, the frozen buffer and the active buffer of s into
// the visible rows inside bounds, ascending by timestamp. A timestamp present
// in several sources resolves to active, then frozen, then segment. Active
// tombstones apply to every source.
func (t *Table) collect(ctx context.Context, s snapshot, bounds predicate.TimePredicate) ([]record.Entry, error) {
	merged := make(map[int64]record.Entry)
	for _, meta := range s.manifest.Segments {
		if !meta.Overlaps(bounds.Lo, bounds.Hi) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := segment.Read(t.fs, t.segmentDir(), t.schema, meta)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !bounds.Matches(e.Row.Ts) {
				continue
			}
			if prev, ok := merged[e.Row.Ts]; ok && prev.Seq > e.Seq {
				continue
			}
			merged[e.Row.Ts] = e
		}
	}
	for _, e := range s.frozen {
		merged[e.Row.Ts] = e
	}
	for _, e := range s.active {
		merged[e.Row.Ts] = e
	}

	out := make([]record.Entry, 0, len(merged))
	for _, e := range merged {
		if !s.tombs.Hides(e.Row.Ts, e.Seq) {
			out = append(out, e)
		}
	}
	sortByTs(out)
	return out, nil
}

// projection resolves the selected columns; empty or "*" selects all.
func projection(schema record.Schema, columns []string) ([]int, error) {
	if len(columns) == 0 || (len(columns) == 1 && columns[0] == "*") {
		idx := make([]int, len(schema.Cols))
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}
	idx := make([]int, 0, len(columns))
	for _, c := range columns {
		i := schema.ColIndex(strings.TrimSpace(c))
		if i < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, c)
		}
		idx = append(idx, i)
	}
	return idx, nil
}

func (t *Table) query(ctx context.Context, proj []int, filter *predicate.Filter, s snapshot) (*Result, error) {
	rows, err := t.collect(ctx, s, filter.Bounds())
	if err != nil {
		return nil, err
	}
	res := &Result{Columns: make([]record.Column, len(proj))}
	for i, c := range proj {
		res.Columns[i] = t.schema.Cols[c]
	}
	for _, e := range rows {
		if !filter.Match(e.Row) {
			continue
		}
		out := make([]record.Value, len(proj))
		for i, c := range proj {
			if c == 0 {
				out[i] = record.Timestamp(e.Row.Ts)
			} else {
				out[i] = e.Row.Values[c-1]
			}
		}
		res.Rows = append(res.Rows, out)
	}
	return res, nil
}

func sortByTs(entries []record.Entry) {
	slices.SortFunc(entries, func(a, b record.Entry) int { return cmp.Compare(a.Row.Ts, b.Row.Ts) })
}

func queryKey(proj []int, expr predicate.Expr) string {
	var b strings.Builder
	for i, c := range proj {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", c)
	}
	b.WriteString("|")
	if expr != nil {
		b.WriteString(expr.String())
	}
	return b.String()
}
