package memtable

import "github.com/tuannm99/novats/internal/record"

const maxLevel = 16

type Entry = record.Entry

type node struct {
	entry   Entry
	forward []*node
}

// skiplist is ordered by Row.Ts with at most one node per timestamp. It is
// not safe for concurrent use; Buffer serializes access.
type skiplist struct {
	head  *node
	level int
	count int
	rng   uint64
}

func newSkiplist() *skiplist {
	return &skiplist{
		head: &node{forward: make([]*node, maxLevel)},
		rng:  0x9e3779b97f4a7c15,
	}
}

// xorshift64; a quarter of nodes climb each level.
func (s *skiplist) randomLevel() int {
	lvl := 0
	for lvl < maxLevel-1 {
		s.rng ^= s.rng << 13
		s.rng ^= s.rng >> 7
		s.rng ^= s.rng << 17
		if s.rng&0xFFFF >= 0xFFFF/4 {
			break
		}
		lvl++
	}
	return lvl
}

// findPrev fills update with the rightmost node before ts on every level.
func (s *skiplist) findPrev(ts int64, update []*node) *node {
	cur := s.head
	for i := s.level; i >= 0; i-- {
		for cur.forward[i] != nil && cur.forward[i].entry.Row.Ts < ts {
			cur = cur.forward[i]
		}
		if update != nil {
			update[i] = cur
		}
	}
	return cur.forward[0]
}

// put inserts or replaces; it reports whether a node was added.
func (s *skiplist) put(e Entry) bool {
	update := make([]*node, maxLevel)
	next := s.findPrev(e.Row.Ts, update)
	if next != nil && next.entry.Row.Ts == e.Row.Ts {
		next.entry = e
		return false
	}

	lvl := s.randomLevel()
	if lvl > s.level {
		for i := s.level + 1; i <= lvl; i++ {
			update[i] = s.head
		}
		s.level = lvl
	}
	n := &node{entry: e, forward: make([]*node, lvl+1)}
	for i := 0; i <= lvl; i++ {
		n.forward[i] = update[i].forward[i]
		update[i].forward[i] = n
	}
	s.count++
	return true
}

func (s *skiplist) get(ts int64) (Entry, bool) {
	n := s.findPrev(ts, nil)
	if n != nil && n.entry.Row.Ts == ts {
		return n.entry, true
	}
	return Entry{}, false
}

// removeRange unlinks every node with lo <= ts <= hi and returns how many
// were removed.
func (s *skiplist) removeRange(lo, hi int64) int {
	update := make([]*node, maxLevel)
	first := s.findPrev(lo, update)
	removed := 0
	for n := first; n != nil && n.entry.Row.Ts <= hi; n = n.forward[0] {
		for i := 0; i < len(n.forward); i++ {
			if update[i].forward[i] == n {
				update[i].forward[i] = n.forward[i]
			}
		}
		removed++
	}
	for s.level > 0 && s.head.forward[s.level] == nil {
		s.level--
	}
	s.count -= removed
	return removed
}

// seek returns the first node with ts >= lo.
func (s *skiplist) seek(lo int64) *node { return s.findPrev(lo, nil) }
