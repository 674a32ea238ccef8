package block

import "sort"

// FreeList tracks extents available for reuse, coalescing adjacent
// extents on Free the way a real block manager must to avoid unbounded
// fragmentation. Grounded on tinySQL's pager/freelist.go FreeManager,
// generalized from fixed page IDs to variable-size extents.
type FreeList struct {
	extents []Extent // sorted by Offset, pairwise disjoint
}

// NewFreeList returns an empty free list.
func NewFreeList() *FreeList { return &FreeList{} }

// Alloc removes and returns the smallest extent with size >= need,
// splitting it if it is larger than needed. Returns false if nothing fits.
func (fl *FreeList) Alloc(need uint64) (Extent, bool) {
	bestIdx := -1
	for i, e := range fl.extents {
		if e.Size >= need && (bestIdx == -1 || e.Size < fl.extents[bestIdx].Size) {
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return Extent{}, false
	}
	e := fl.extents[bestIdx]
	if e.Size == need {
		fl.extents = append(fl.extents[:bestIdx], fl.extents[bestIdx+1:]...)
		return e, true
	}
	fl.extents[bestIdx] = Extent{Offset: e.Offset + need, Size: e.Size - need}
	return Extent{Offset: e.Offset, Size: need}, true
}

// Free returns an extent to the list, merging it with any adjacent
// neighbors.
func (fl *FreeList) Free(e Extent) {
	fl.extents = append(fl.extents, e)
	sort.Slice(fl.extents, func(i, j int) bool { return fl.extents[i].Offset < fl.extents[j].Offset })

	merged := fl.extents[:0]
	for _, cur := range fl.extents {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if last.Offset+last.Size == cur.Offset {
				last.Size += cur.Size
				continue
			}
		}
		merged = append(merged, cur)
	}
	fl.extents = merged
}

// All returns a snapshot of the free extent list, sorted by offset.
func (fl *FreeList) All() []Extent {
	out := make([]Extent, len(fl.extents))
	copy(out, fl.extents)
	return out
}

// LoadFrom replaces the free list contents (used at open, from the
// description page's recorded list, and after a checkpoint load).
func (fl *FreeList) LoadFrom(extents []Extent) {
	fl.extents = append([]Extent(nil), extents...)
	sort.Slice(fl.extents, func(i, j int) bool { return fl.extents[i].Offset < fl.extents[j].Offset })
}

// TotalFree returns the sum of all free extent sizes.
func (fl *FreeList) TotalFree() uint64 {
	var n uint64
	for _, e := range fl.extents {
		n += e.Size
	}
	return n
}
