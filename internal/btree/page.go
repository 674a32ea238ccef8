package btree

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/bitbased/archengine-sub001/internal/block"
	"github.com/bitbased/archengine-sub001/internal/page"
)

// rleSlot is one entry of a column-variable leaf's RLE index: the slot
// holding a run, its starting record number, and how many records the
// run covers.
type rleSlot struct {
	slot     int
	startRec uint64
	count    uint32
}

// modifyState is the per-page structure holding not-yet-reconciled
// writes: an update-list head per on-page slot, and a skiplist of keys
// or record numbers with no on-page slot at all. It is installed lazily
// the first time a page is written to, via an atomic compare-and-swap,
// matching the "ensure a modify sub-structure exists" first step of
// Modify.
type modifyState struct {
	mu          sync.Mutex
	updateHeads map[int]*UpdateRecord
	inserts     InsertSkipList
}

// Page is the in-memory, built representation of one page image: the
// decoded cells plus whatever not-yet-reconciled writes Modify has
// installed on top of them. Built once per DISK→MEM transition by
// BuildPage and then mutated in place until Reconcile writes it back out.
type Page struct {
	Type page.Type
	home *Ref

	// Row/column leaf cells, decoded once at build time. page.Decode
	// copies every key and value out of the page image, so no cell
	// aliases the original buffer.
	Cells []page.Cell

	// Row/column internal pages: one child Ref per cell, same length and
	// order as Cells.
	Children []*Ref

	// Column-variable leaves only: sorted RLE index for O(log n) lookup
	// by starting record number.
	rleIndex []rleSlot

	// Column-fixed leaves only.
	bitSlab      []byte
	bitsPerValue int
	recnoStart   uint64

	modify atomic.Pointer[modifyState]
	dirty  atomic.Bool

	mu sync.RWMutex
}

// ensureModify installs a fresh modifyState if none exists yet, via CAS
// so concurrent first-writers do not clobber each other's install.
func (p *Page) ensureModify() *modifyState {
	if m := p.modify.Load(); m != nil {
		return m
	}
	fresh := &modifyState{updateHeads: make(map[int]*UpdateRecord)}
	if p.modify.CompareAndSwap(nil, fresh) {
		return fresh
	}
	return p.modify.Load()
}

// BuildPage constructs the in-memory representation of a page from its
// decoded image, performing the structural verification and one-pass
// entry counting the page-build step requires before any search or
// modify touches the page.
func BuildPage(img *page.Image, typ page.Type) (*Page, error) {
	p := &Page{Type: typ}

	switch typ {
	case page.TypeColFixedLeaf:
		p.bitSlab = append([]byte(nil), img.Buf...)
		return p, nil
	}

	n := img.SlotCount()
	p.Cells = make([]page.Cell, 0, n)
	if typ == page.TypeRowInternal || typ == page.TypeColInternal {
		p.Children = make([]*Ref, 0, n)
	}

	var lastKey []byte
	var rleStartRec uint64 = 1 // recno 0 is reserved; the first record is 1
	for i := 0; i < n; i++ {
		raw := img.Cell(i)
		if raw == nil {
			continue
		}
		c, err := page.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("btree: corrupt cell %d: %w", i, err)
		}
		if !page.LegalForPageType(c.Kind, typ) {
			return nil, fmt.Errorf("btree: cell kind %v illegal on %v page", c.Kind, typ)
		}

		if typ == page.TypeRowLeaf || typ == page.TypeRowInternal {
			if i > 0 && bytes.Compare(c.Key, lastKey) <= 0 {
				return nil, fmt.Errorf("btree: keys not strictly increasing at slot %d", i)
			}
			lastKey = c.Key
		}

		p.Cells = append(p.Cells, c)

		if typ == page.TypeRowInternal || typ == page.TypeColInternal {
			p.Children = append(p.Children, NewDiskRef(block.Cookie{}))
		}

		if typ == page.TypeColVariableLeaf {
			run := c.RLECount
			if run == 0 {
				run = 1
			}
			p.rleIndex = append(p.rleIndex, rleSlot{slot: i, startRec: rleStartRec, count: run})
			rleStartRec += uint64(run)
		}
	}

	sort.Slice(p.rleIndex, func(i, j int) bool { return p.rleIndex[i].startRec < p.rleIndex[j].startRec })

	return p, nil
}

// UpdateHead returns the update-list head installed over on-page cell
// slot i, or nil if that slot has no not-yet-reconciled write.
func (p *Page) UpdateHead(slot int) *UpdateRecord {
	m := p.modify.Load()
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateHeads[slot]
}

// InsertedEntries returns every not-yet-reconciled new key this page
// holds, in key order.
func (p *Page) InsertedEntries() []*InsertRecord {
	m := p.modify.Load()
	if m == nil {
		return nil
	}
	return m.inserts.All()
}

// Dirty reports whether this page has writes not yet reflected on disk.
func (p *Page) Dirty() bool { return p.dirty.Load() }

// MarkDirty records that the page carries unreconciled writes.
func (p *Page) MarkDirty() { p.dirty.Store(true) }

// HasVisibleOnlyUpdates reports whether any installed update is not
// visible to every possible reader (used by the VisibilityErr
// reconciliation mode's assertion that nothing be skipped on close).
func (p *Page) HasVisibleOnlyUpdates(allVisible func(txnID uint64) bool) bool {
	m := p.modify.Load()
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, head := range m.updateHeads {
		for u := head; u != nil; u = u.Next {
			if !allVisible(u.TxnID) {
				return true
			}
		}
	}
	for _, ins := range m.inserts.All() {
		for u := ins.UpdateHead; u != nil; u = u.Next {
			if !allVisible(u.TxnID) {
				return true
			}
		}
	}
	return false
}
