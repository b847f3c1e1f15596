package engine

import (
	"sync"

	"go.uber.org/zap"

	"github.com/tuannm99/novats/internal/segment"
)

// segmentRefs counts the snapshots still reading each segment file. A file
// retired by a flush is removed by whoever drops the last reference, so
// flushes never wait for readers.
type segmentRefs struct {
	mu      sync.Mutex
	refs    map[string]int
	retired map[string]struct{}
}

func newSegmentRefs() *segmentRefs {
	return &segmentRefs{refs: make(map[string]int), retired: make(map[string]struct{})}
}

func (r *segmentRefs) acquire(segs []segment.Meta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range segs {
		r.refs[m.ID]++
	}
}

// release drops one reference per segment and returns the retired ids that
// are now unreferenced.
func (r *segmentRefs) release(segs []segment.Meta) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var free []string
	for _, m := range segs {
		n := r.refs[m.ID] - 1
		if n > 0 {
			r.refs[m.ID] = n
			continue
		}
		delete(r.refs, m.ID)
		if _, ok := r.retired[m.ID]; ok {
			delete(r.retired, m.ID)
			free = append(free, m.ID)
		}
	}
	return free
}

// retire marks segs obsolete and returns those nobody references.
func (r *segmentRefs) retire(segs []segment.Meta) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var free []string
	for _, m := range segs {
		if r.refs[m.ID] > 0 {
			r.retired[m.ID] = struct{}{}
			continue
		}
		free = append(free, m.ID)
	}
	return free
}

// pending is the number of retired segments still held by readers.
func (r *segmentRefs) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.retired)
}

// pinLocked references the current segment set for a reader. Call it with
// t.mu held so the set cannot be swapped and retired in between.
func (t *Table) pinLocked() func() {
	segs := t.manifest.Segments
	t.refs.acquire(segs)
	var once sync.Once
	return func() {
		once.Do(func() { t.removeSegments(t.refs.release(segs)) })
	}
}

func (t *Table) removeSegments(ids []string) {
	for _, id := range ids {
		if err := segment.Remove(t.fs, t.segmentDir(), id); err != nil {
			t.log.Warn("remove obsolete segment", zap.String("segment", id), zap.Error(err))
		}
	}
}
