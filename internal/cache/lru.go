// Package cache keeps recent query results.
package cache

import (
	"container/list"
	"sync"
)

// Key identifies one cached result. Version is the table's data version at
// the time the result was computed, so a mutation can never produce a stale
// hit even before the entry is invalidated.
type Key struct {
	Table   string
	Version string
	Query   string
}

type entry[V any] struct {
	key Key
	val V
}

// LRU is a fixed-capacity result cache with per-table invalidation.
type LRU[V any] struct {
	mu       sync.Mutex
	capacity int
	lruList  *list.List
	items    map[Key]*list.Element
	byTable  map[string]map[Key]struct{}

	hits, misses uint64
}

// NewLRU returns a cache holding at most capacity results. A capacity <= 0
// disables caching.
func NewLRU[V any](capacity int) *LRU[V] {
	return &LRU[V]{
		capacity: capacity,
		lruList:  list.New(),
		items:    make(map[Key]*list.Element),
		byTable:  make(map[string]map[Key]struct{}),
	}
}

func (l *LRU[V]) Get(k Key) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if elem, ok := l.items[k]; ok {
		l.lruList.MoveToFront(elem)
		l.hits++
		return elem.Value.(*entry[V]).val, true
	}
	l.misses++
	var zero V
	return zero, false
}

func (l *LRU[V]) Put(k Key, v V) {
	if l.capacity <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if elem, ok := l.items[k]; ok {
		elem.Value.(*entry[V]).val = v
		l.lruList.MoveToFront(elem)
		return
	}
	l.items[k] = l.lruList.PushFront(&entry[V]{key: k, val: v})
	keys := l.byTable[k.Table]
	if keys == nil {
		keys = make(map[Key]struct{})
		l.byTable[k.Table] = keys
	}
	keys[k] = struct{}{}

	for l.lruList.Len() > l.capacity {
		l.removeElem(l.lruList.Back())
	}
}

func (l *LRU[V]) removeElem(elem *list.Element) {
	e := elem.Value.(*entry[V])
	l.lruList.Remove(elem)
	delete(l.items, e.key)
	if keys := l.byTable[e.key.Table]; keys != nil {
		delete(keys, e.key)
		if len(keys) == 0 {
			delete(l.byTable, e.key.Table)
		}
	}
}

// InvalidateTable drops every result computed for table.
func (l *LRU[V]) InvalidateTable(table string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := l.byTable[table]
	n := 0
	for k := range keys {
		if elem, ok := l.items[k]; ok {
			l.removeElem(elem)
			n++
		}
	}
	delete(l.byTable, table)
	return n
}

// Purge drops everything.
func (l *LRU[V]) Purge() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.lruList.Len()
	l.lruList.Init()
	l.items = make(map[Key]*list.Element)
	l.byTable = make(map[string]map[Key]struct{})
	return n
}

func (l *LRU[V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lruList.Len()
}

// Stats returns hit and miss counters since creation.
func (l *LRU[V]) Stats() (hits, misses uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hits, l.misses
}
