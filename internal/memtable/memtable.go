// Package memtable holds rows that have not been flushed yet.
package memtable

import (
	"sync"

	"github.com/tuannm99/novats/internal/predicate"
	"github.com/tuannm99/novats/internal/record"
)

// Buffer is the in-memory write buffer of one table. Every method is atomic
// with respect to the others.
type Buffer struct {
	mu   sync.RWMutex
	list *skiplist
}

func New() *Buffer {
	return &Buffer{list: newSkiplist()}
}

// Put stores row, replacing any row already buffered at the same timestamp.
func (b *Buffer) Put(row record.Row, seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.list.put(Entry{Row: row.Clone(), Seq: seq})
}

// PutIfAbsent stores e unless a row already exists at its timestamp. It is
// used to merge rows back after an aborted flush without clobbering newer
// writes.
func (b *Buffer) PutIfAbsent(e Entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.list.get(e.Row.Ts); ok {
		return false
	}
	b.list.put(e)
	return true
}

// DeleteRange removes every buffered row whose timestamp matches p.
func (b *Buffer) DeleteRange(p predicate.TimePredicate) int {
	if p.Empty() {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.list.removeRange(p.Lo, p.Hi)
}

// Scan returns copies of the rows inside bounds in ascending timestamp order.
func (b *Buffer) Scan(bounds predicate.TimePredicate) []Entry {
	if bounds.Empty() {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Entry
	for n := b.list.seek(bounds.Lo); n != nil && n.entry.Row.Ts <= bounds.Hi; n = n.forward[0] {
		e := n.entry
		e.Row = e.Row.Clone()
		out = append(out, e)
	}
	return out
}

// Overlaps reports whether any buffered row has lo <= ts <= hi.
func (b *Buffer) Overlaps(lo, hi int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := b.list.seek(lo)
	return n != nil && n.entry.Row.Ts <= hi
}

// Entries returns every buffered row in ascending timestamp order.
func (b *Buffer) Entries() []Entry { return b.Scan(predicate.All()) }

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.list.count
}
