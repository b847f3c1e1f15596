// Package tombstone records pending deletes until a flush applies them to
// durable storage.
package tombstone

import (
	"sync"

	"github.com/tuannm99/novats/internal/predicate"
)

// Tombstone hides rows written before it whose timestamp matches Pred.
type Tombstone struct {
	Pred predicate.TimePredicate `cbor:"1,keyasint"`
	Seq  uint64                  `cbor:"2,keyasint"`
}

// Hides reports whether a row at ts written with rowSeq is deleted by t.
// Rows written after the tombstone stay visible.
func (t Tombstone) Hides(ts int64, rowSeq uint64) bool {
	return rowSeq < t.Seq && t.Pred.Matches(ts)
}

// Log is the ordered set of tombstones not yet folded into segments.
type Log struct {
	mu    sync.RWMutex
	items []Tombstone
}

func NewLog() *Log { return &Log{} }

// Append adds a tombstone. seq must be greater than every sequence number
// already stamped on rows it is meant to hide.
func (l *Log) Append(p predicate.TimePredicate, seq uint64) Tombstone {
	t := Tombstone{Pred: p, Seq: seq}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, t)
	return t
}

// Active returns a copy of the log ordered by sequence number.
func (l *Log) Active() []Tombstone {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Tombstone, len(l.items))
	copy(out, l.items)
	return out
}

// Through returns the tombstones with Seq <= seq.
func (l *Log) Through(seq uint64) []Tombstone {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Tombstone
	for _, t := range l.items {
		if t.Seq > seq {
			break
		}
		out = append(out, t)
	}
	return out
}

// ClearThrough drops every tombstone with Seq <= seq. Only a committed flush
// may call it.
func (l *Log) ClearThrough(seq uint64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := 0
	for i < len(l.items) && l.items[i].Seq <= seq {
		i++
	}
	l.items = append([]Tombstone(nil), l.items[i:]...)
	return i
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Set is an immutable snapshot used by readers and the flush coordinator.
type Set []Tombstone

// Hides reports whether any tombstone in s deletes the row.
func (s Set) Hides(ts int64, rowSeq uint64) bool {
	for _, t := range s {
		if t.Hides(ts, rowSeq) {
			return true
		}
	}
	return false
}

// Overlaps reports whether any tombstone might hide a row with a timestamp in
// [minTs, maxTs] and a sequence number of at least minSeq.
func (s Set) Overlaps(minTs, maxTs int64, minSeq uint64) bool {
	for _, t := range s {
		if minSeq < t.Seq && t.Pred.Overlaps(minTs, maxTs) {
			return true
		}
	}
	return false
}

// Drops reports whether one tombstone hides every row of a segment spanning
// [minTs, maxTs] whose newest row has sequence number maxSeq.
func (s Set) Drops(minTs, maxTs int64, maxSeq uint64) bool {
	for _, t := range s {
		if maxSeq < t.Seq && t.Pred.Covers(minTs, maxTs) {
			return true
		}
	}
	return false
}
