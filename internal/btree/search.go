package btree

import (
	"bytes"
	"fmt"
	"sort"
)

// SearchResult reports where a key landed relative to the nearest
// on-page entry: Compare==0 for an exact match, negative if the query
// key sorts before the nearest slot, positive if after.
type SearchResult struct {
	Slot    int
	Compare int
	Insert  *InsertRecord // set if the tighter match came from the insert skiplist
}

// SearchInternalRow performs the row-store internal-page descent: binary
// search over on-page separator keys, descending to the child whose
// range contains key. Ties resolve to the right-most equal entry; the
// 0th key is the magic smallest key so descent never falls off the left.
func SearchInternalRow(p *Page, key []byte) (childIdx int, err error) {
	n := len(p.Cells)
	if n == 0 {
		return 0, fmt.Errorf("btree: empty internal page")
	}
	idx := sort.Search(n, func(i int) bool {
		if i == 0 {
			return false // the 0th separator is always the smallest possible key
		}
		return bytes.Compare(p.Cells[i].Key, key) > 0
	})
	return idx - 1, nil
}

// SearchLeafRow performs the row-store leaf search: binary-search
// on-page entries for the nearest key, then linear-search the page's
// insert skiplist between that slot and its successor for a tighter
// match.
func SearchLeafRow(p *Page, key []byte) SearchResult {
	n := len(p.Cells)
	idx := sort.Search(n, func(i int) bool { return bytes.Compare(p.Cells[i].Key, key) >= 0 })

	result := SearchResult{Slot: idx, Compare: 1}
	if idx < n {
		result.Compare = bytes.Compare(key, p.Cells[idx].Key)
	}
	if result.Compare == 0 {
		return result
	}

	if m := p.modify.Load(); m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, ins := range m.inserts.All() {
			if bytes.Equal(ins.Key, key) {
				result.Insert = ins
				result.Compare = 0
				return result
			}
		}
	}
	return result
}

// SearchColumnVariable binary-searches the RLE index by starting record
// number, returning the slot whose run contains recno.
func SearchColumnVariable(p *Page, recno uint64) (slot int, found bool) {
	idx := sort.Search(len(p.rleIndex), func(i int) bool {
		return p.rleIndex[i].startRec+uint64(p.rleIndex[i].count) > recno
	})
	if idx >= len(p.rleIndex) {
		return 0, false
	}
	rs := p.rleIndex[idx]
	if recno < rs.startRec {
		return 0, false
	}
	return rs.slot, true
}

// SearchColumnFixed computes the bit-slab offset for recno by simple
// arithmetic indexing: (recno - page_start) * bits_per_value.
func SearchColumnFixed(p *Page, recno uint64) (bitOffset uint64, ok bool) {
	if recno < p.recnoStart {
		return 0, false
	}
	return (recno - p.recnoStart) * uint64(p.bitsPerValue), true
}
