package btree

import (
	"fmt"

	"github.com/bitbased/archengine-sub001/internal/block"
	"github.com/bitbased/archengine-sub001/internal/page"
)

// Tree is a logical ordered map keyed by application key (row-store) or
// record number (column-store) over one block-manager handle. It owns
// the root Ref and the page-type pair (internal/leaf) used at every
// level, matching the root-pointer-plus-handle shape of tinySQL's BTree
// type, generalized to row/column trees and the Ref state machine.
type Tree struct {
	ID           uint64
	bm           *block.Manager
	root         *Ref
	leafType     page.Type
	internalType page.Type
	pageSize     int
}

// OpenRow opens or creates a row-store tree rooted at root (or creates a
// fresh empty leaf root if root is the zero cookie).
func OpenRow(id uint64, bm *block.Manager, root block.Cookie, pageSize int) (*Tree, error) {
	return open(id, bm, root, page.TypeRowLeaf, page.TypeRowInternal, pageSize)
}

// OpenColumnVariable opens or creates a column-variable-store tree.
func OpenColumnVariable(id uint64, bm *block.Manager, root block.Cookie, pageSize int) (*Tree, error) {
	return open(id, bm, root, page.TypeColVariableLeaf, page.TypeColInternal, pageSize)
}

func open(id uint64, bm *block.Manager, root block.Cookie, leafType, internalType page.Type, pageSize int) (*Tree, error) {
	t := &Tree{ID: id, bm: bm, leafType: leafType, internalType: internalType, pageSize: pageSize}
	if root.IsZero() {
		empty := &Page{Type: leafType}
		t.root = NewMemRef(empty)
		return t, nil
	}
	t.root = NewDiskRef(root)
	return t, nil
}

// Root returns the current root Ref.
func (t *Tree) Root() *Ref { return t.root }

// PageSize returns the page size the tree was opened with, for callers
// that reconcile its root page and need a bound on the output image.
func (t *Tree) PageSize() int { return t.pageSize }

// Resolve runs the DISK→MEM build step for ref, for callers in the cache
// package that need the page but handle hazard-pointer acquisition and
// generation-clock bookkeeping themselves around the call.
func (t *Tree) Resolve(ref *Ref) (*Page, error) {
	return t.resolve(ref)
}

// resolve ensures ref is in MEM state, reading and building the page from
// disk if necessary, per the cache's page-read protocol (§4.3): CAS
// DISK→READING, build, publish MEM; callers observing READING retry.
func (t *Tree) resolve(ref *Ref) (*Page, error) {
	for {
		switch ref.State() {
		case StateMem:
			return ref.Page(), nil
		case StateDisk:
			if !ref.CAS(StateDisk, StateReading) {
				continue // lost the race; re-check state
			}
			buf, err := t.bm.Read(ref.addr)
			if err != nil {
				ref.state.Store(int32(StateDisk))
				return nil, fmt.Errorf("btree: read page at %+v: %w", ref.addr, err)
			}
			typ := t.leafType
			hdr, err := page.UnmarshalHeader(buf)
			if err == nil {
				typ = hdr.Type
			}
			p, err := BuildPage(page.Wrap(buf), typ)
			if err != nil {
				ref.state.Store(int32(StateDisk))
				return nil, err
			}
			ref.PublishMem(p)
			return p, nil
		case StateReading, StateLocked:
			continue // spin; a bounded back-off belongs in the cache layer
		case StateSplit:
			return nil, ErrRestart
		case StateDeleted:
			return nil, ErrNotFound
		default:
			return nil, fmt.Errorf("btree: unexpected ref state %v", ref.State())
		}
	}
}

// Get looks up key in a row-store tree, returning the value visible to
// the given snapshot.
func (t *Tree) Get(key []byte, visible Visible) ([]byte, bool, error) {
	leaf, err := t.descendToLeaf(key)
	if err != nil {
		return nil, false, err
	}
	p, err := t.resolve(leaf)
	if err != nil {
		return nil, false, err
	}
	res := SearchLeafRow(p, key)
	if res.Compare != 0 {
		return nil, false, nil
	}
	if res.Insert != nil {
		val, ok, tomb := VisibleValue(res.Insert.UpdateHead, visible)
		if !ok || tomb {
			return nil, false, nil
		}
		return val, true, nil
	}
	if m := p.modify.Load(); m != nil {
		m.mu.Lock()
		head := m.updateHeads[res.Slot]
		m.mu.Unlock()
		if head != nil {
			val, ok, tomb := VisibleValue(head, visible)
			if ok {
				if tomb {
					return nil, false, nil
				}
				return val, true, nil
			}
		}
	}
	return p.Cells[res.Slot].Value, true, nil
}

// descendToLeaf walks from the root to the leaf that would contain key.
// A tree with only a root leaf (no internal levels yet) returns the root
// immediately.
func (t *Tree) descendToLeaf(key []byte) (*Ref, error) {
	ref := t.root
	for {
		p, err := t.resolve(ref)
		if err == ErrRestart {
			ref = t.root // restart the descent from the parent (here, the root)
			continue
		}
		if err != nil {
			return nil, err
		}
		if p.Type != t.internalType {
			return ref, nil
		}
		childIdx, err := SearchInternalRow(p, key)
		if err != nil {
			return nil, err
		}
		ref = p.Children[childIdx]
	}
}

// WriteOp is the record Put/Remove hands to Txn.LogOp: enough for a
// transaction package to build a WAL operation record and, on abort,
// reach back into the update it installed. Kept as a plain struct in
// this package (rather than in whatever logs it) so internal/btree
// never needs to import the transaction package to describe its own
// writes.
type WriteOp struct {
	TreeID uint64
	Key    []byte
	Recno  uint64 // set instead of Key for column-store writes
	Value  []byte
	Remove bool
	Update *UpdateRecord
}

// Put installs a write under txn's transaction ID, allocating a lazy
// transaction ID via txn.ID() the first time a write occurs.
func (t *Tree) Put(txn Txn, key, value []byte) error {
	leaf, err := t.descendToLeaf(key)
	if err != nil {
		return err
	}
	p, err := t.resolve(leaf)
	if err != nil {
		return err
	}
	res := Modify(p, txn, key, value, false)
	txn.LogOp(&WriteOp{TreeID: t.ID, Key: key, Value: value, Update: res.Update})
	return nil
}

// Remove installs a tombstone update for key.
func (t *Tree) Remove(txn Txn, key []byte) error {
	leaf, err := t.descendToLeaf(key)
	if err != nil {
		return err
	}
	p, err := t.resolve(leaf)
	if err != nil {
		return err
	}
	res := Modify(p, txn, key, nil, true)
	txn.LogOp(&WriteOp{TreeID: t.ID, Key: key, Remove: true, Update: res.Update})
	return nil
}

// Scan walks every key visible to visible in a row-store tree, in key
// order, invoking fn for each. No tree built by this package ever grows
// internal levels (SplitLeaf produces sub-leaves but nothing promotes
// them under a parent), so walking the root leaf alone covers the whole
// tree; a future internal-page descent would extend this to recurse
// into p.Children first.
func (t *Tree) Scan(visible Visible, fn func(key, value []byte) error) error {
	p, err := t.resolve(t.root)
	if err != nil {
		return err
	}
	for _, kv := range materializedKV(p, visible) {
		if err := fn(kv.key, kv.value); err != nil {
			return err
		}
	}
	return nil
}

// nextColumnRecno allocates the next record number for an append: the
// highest record number ever handed out on this page, on-page or still
// only in the insert skiplist, plus one. A removed record's number is
// never reused since tombstoning leaves its slot or insert record in
// place rather than deleting it.
func (t *Tree) nextColumnRecno(p *Page) uint64 {
	next := uint64(1) // recno 0 is reserved; an empty page starts at 1
	if n := len(p.rleIndex); n > 0 {
		last := p.rleIndex[n-1]
		if end := last.startRec + uint64(last.count); end > next {
			next = end
		}
	}
	if m := p.modify.Load(); m != nil {
		m.mu.Lock()
		for _, ins := range m.inserts.All() {
			if ins.RecNo+1 > next {
				next = ins.RecNo + 1
			}
		}
		m.mu.Unlock()
	}
	return next
}

// AppendColumnVariable assigns the next record number to value and
// installs it, matching a column-store's Oob (out-of-band) append
// cursor: every append gets a fresh, never-reused record number.
func (t *Tree) AppendColumnVariable(txn Txn, value []byte) (uint64, error) {
	p, err := t.resolve(t.root)
	if err != nil {
		return 0, err
	}
	recno := t.nextColumnRecno(p)
	res := ModifyColumnVariable(p, txn, recno, value, false)
	txn.LogOp(&WriteOp{TreeID: t.ID, Recno: recno, Value: value, Update: res.Update})
	return recno, nil
}

// GetColumnVariable looks up recno in a column-variable tree, returning
// the value visible to the given snapshot.
func (t *Tree) GetColumnVariable(recno uint64, visible Visible) ([]byte, bool, error) {
	p, err := t.resolve(t.root)
	if err != nil {
		return nil, false, err
	}

	if slot, found := SearchColumnVariable(p, recno); found {
		if m := p.modify.Load(); m != nil {
			m.mu.Lock()
			head := m.updateHeads[slot]
			m.mu.Unlock()
			if head != nil {
				val, ok, tomb := VisibleValue(head, visible)
				if ok {
					if tomb {
						return nil, false, nil
					}
					return val, true, nil
				}
			}
		}
		c := p.Cells[slot]
		if c.Kind == page.CellDeleted {
			return nil, false, nil
		}
		return c.Value, true, nil
	}

	if m := p.modify.Load(); m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, ins := range m.inserts.All() {
			if ins.RecNo == recno {
				val, ok, tomb := VisibleValue(ins.UpdateHead, visible)
				if !ok || tomb {
					return nil, false, nil
				}
				return val, true, nil
			}
		}
	}
	return nil, false, nil
}

// PutColumnVariableAt installs value at an already-known recno rather
// than allocating a fresh one, for WAL replay during recovery where the
// record number was already assigned when the original write occurred.
func (t *Tree) PutColumnVariableAt(txn Txn, recno uint64, value []byte) error {
	p, err := t.resolve(t.root)
	if err != nil {
		return err
	}
	ModifyColumnVariable(p, txn, recno, value, false)
	return nil
}

// RemoveColumnVariable installs a tombstone over recno, preserving its
// position in the record-number sequence so a later append still
// receives max_existing_recno+1.
func (t *Tree) RemoveColumnVariable(txn Txn, recno uint64) error {
	p, err := t.resolve(t.root)
	if err != nil {
		return err
	}

	_, found := SearchColumnVariable(p, recno)
	if !found {
		if m := p.modify.Load(); m != nil {
			m.mu.Lock()
			for _, ins := range m.inserts.All() {
				if ins.RecNo == recno {
					found = true
					break
				}
			}
			m.mu.Unlock()
		}
	}
	if !found {
		return ErrNotFound
	}

	res := ModifyColumnVariable(p, txn, recno, nil, true)
	txn.LogOp(&WriteOp{TreeID: t.ID, Recno: recno, Remove: true, Update: res.Update})
	return nil
}
