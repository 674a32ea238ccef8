package btree

import (
	"bytes"
	"sync/atomic"

	"github.com/bitbased/archengine-sub001/internal/page"
)

// splitGeneration is a process-wide counter: a reader records its value
// before dereferencing a PageIndex, and a page freed because of a split
// is not actually reclaimed until every live session's recorded
// generation has advanced past the value observed at the moment of the
// swap. This package exposes it as package-level state because the
// generation must be comparable across every tree sharing one cache, the
// same way tinySQL's page pool is shared process-wide rather than
// per-tree.
var splitGeneration atomic.Uint64

// CurrentSplitGeneration returns the generation counter's current value,
// for a reader about to dereference a PageIndex to record as its own.
func CurrentSplitGeneration() uint64 {
	return splitGeneration.Load()
}

func bumpGen() uint64 {
	return splitGeneration.Add(1)
}

// SplitLeaf fans a large leaf's insert list plus its on-page cells out
// into newSlots smaller leaves under a widened parent index. visible
// resolves each entry's update chain to the value every future reader
// will see, so an existing key updated (or removed) since the page was
// last reconciled carries its current value (or is dropped) into the new
// sub-leaf rather than its stale on-page bytes. It returns the new Refs
// and the separator keys a caller should install into the parent's own
// directory.
func SplitLeaf(p *Page, newSlots int, visible Visible) (refs []*Ref, separators [][]byte) {
	all := materializedKV(p, visible)
	if len(all) == 0 || newSlots < 2 {
		return nil, nil
	}

	chunk := (len(all) + newSlots - 1) / newSlots
	refs = make([]*Ref, 0, newSlots)
	for start := 0; start < len(all); start += chunk {
		end := start + chunk
		if end > len(all) {
			end = len(all)
		}
		sub := buildLeafFromRange(p.Type, all[start:end])
		refs = append(refs, NewMemRef(sub))
		separators = append(separators, all[start].key)
	}

	p.home.state.Store(int32(StateSplit))
	bumpGen()
	return refs, separators
}

// ReverseSplit collapses a parent whose refs are mostly DELETED: it is
// triggered by the caller when more than 10% of a parent's refs are
// DELETED and more than one entry remains, matching §4.2.5's threshold.
func ReverseSplit(idx *PageIndex) (collapsed bool) {
	refs := idx.Snapshot()
	if len(refs) <= 1 {
		return false
	}
	deleted := 0
	for _, r := range refs {
		if r.State() == StateDeleted {
			deleted++
		}
	}
	if deleted*10 <= len(refs) {
		return false
	}
	live := make([]*Ref, 0, len(refs)-deleted)
	for _, r := range refs {
		if r.State() != StateDeleted {
			live = append(live, r)
		}
	}
	idx.Swap(live)
	return true
}

type kv struct {
	key   []byte
	value []byte
}

func materializedKV(p *Page, visible Visible) []kv {
	var out []kv
	m := p.modify.Load()
	for i, c := range p.Cells {
		var head *UpdateRecord
		if m != nil {
			m.mu.Lock()
			head = m.updateHeads[i]
			m.mu.Unlock()
		}
		if head == nil {
			out = append(out, kv{key: c.Key, value: c.Value})
			continue
		}
		if val, ok, tomb := VisibleValue(head, visible); ok {
			if !tomb {
				out = append(out, kv{key: c.Key, value: val})
			}
			continue
		}
		// No version of the update chain is visible yet (only in-flight
		// writers can see it): fall back to the base on-page value.
		out = append(out, kv{key: c.Key, value: c.Value})
	}
	if m != nil {
		m.mu.Lock()
		inserts := m.inserts.All()
		m.mu.Unlock()
		for _, ins := range inserts {
			if val, ok, tomb := VisibleValue(ins.UpdateHead, visible); ok && !tomb {
				out = append(out, kv{key: ins.Key, value: val})
			}
		}
	}
	sortKV(out)
	return out
}

func sortKV(all []kv) {
	// Small insertion sort: split runs over at most a few thousand
	// entries per leaf, and this avoids pulling in sort.Slice's
	// reflection overhead on the split hot path.
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && bytes.Compare(all[j-1].key, all[j].key) > 0; j-- {
			all[j-1], all[j] = all[j], all[j-1]
		}
	}
}

func buildLeafFromRange(typ page.Type, rows []kv) *Page {
	cells := make([]page.Cell, len(rows))
	for i, row := range rows {
		cells[i] = page.Cell{Kind: page.CellValue, Key: row.key, Value: row.value}
	}
	return &Page{Type: typ, Cells: cells}
}
