package segment

import (
	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/tuannm99/novats/internal/record"
)

// Deleted marks the positions of entries for which hide returns true.
func Deleted(entries []record.Entry, hide func(record.Entry) bool) *roaring64.Bitmap {
	bm := roaring64.New()
	for i, e := range entries {
		if hide(e) {
			bm.Add(uint64(i))
		}
	}
	return bm
}

// Survivors returns the entries whose positions are not in deleted.
func Survivors(entries []record.Entry, deleted *roaring64.Bitmap) []record.Entry {
	if deleted == nil || deleted.IsEmpty() {
		return entries
	}
	out := make([]record.Entry, 0, len(entries)-int(deleted.GetCardinality()))
	for i, e := range entries {
		if !deleted.Contains(uint64(i)) {
			out = append(out, e)
		}
	}
	return out
}
