package btree

import (
	"fmt"

	"github.com/bitbased/archengine-sub001/internal/block"
	pg "github.com/bitbased/archengine-sub001/internal/page"
)

// ReconcileMode is a bitmask of how Reconcile should treat
// not-globally-visible updates it encounters.
type ReconcileMode uint8

const (
	// Evicting marks that the in-memory page must be discarded on success.
	Evicting ReconcileMode = 1 << iota
	// UpdateRestore leaves entries with no visible update at their base
	// on-page value in the written image; Reconcile builds no in-memory
	// sub-pages for the skipped updates, which stay only on p's update
	// lists.
	UpdateRestore
	// LookasideTable serializes non-visible updates to the lookaside
	// table, keyed by (tree_id, address_cookie, counter, txn_id), and
	// writes the page clean.
	LookasideTable
	// VisibilityErr asserts no non-visible updates exist; used when
	// closing a tree, where leaving work behind would be a bug.
	VisibilityErr
)

// ResultKind is the outcome of reconciling one in-memory page.
type ResultKind int

const (
	ResultReplace ResultKind = iota
	ResultEmpty
	ResultMultiBlock
)

// LookasideWriter is the narrow interface Reconcile needs from the
// cache's lookaside table to serialize skipped updates.
type LookasideWriter interface {
	PutLookaside(treeID uint64, addr block.Cookie, counter uint64, txnID uint64, value []byte, tombstone bool) error
}

// Result is what Reconcile produces for one page.
type Result struct {
	Kind     ResultKind
	Cookie   block.Cookie   // valid when Kind == ResultReplace
	SubPages []*Page        // valid when Kind == ResultMultiBlock
	Skipped  int            // count of entries (slots or inserts) whose update chain held a non-visible update
}

// Visible reports, given an oldest-running transaction ID, whether txnID
// is visible to every possible future reader (i.e. definitely committed
// and older than anything currently running).
type Visible func(txnID uint64) bool

// Reconcile transforms p's update lists into one or more on-disk page
// images, choosing among Empty/Replace/MultiBlock the way §4.2.4
// describes. maxPageSize bounds how large a single output image may grow
// before Reconcile instead produces a MultiBlock split.
func Reconcile(p *Page, bm *block.Manager, treeID uint64, mode ReconcileMode, visible Visible, la LookasideWriter, maxPageSize int) (Result, error) {
	var addr block.Cookie
	if p.home != nil {
		addr = p.home.Addr()
	}
	cells, skipped, err := materialize(p, mode, visible, treeID, addr, la)
	if err != nil {
		return Result{}, err
	}

	if len(cells) == 0 {
		return Result{Kind: ResultEmpty, Skipped: skipped}, nil
	}

	images, err := packCells(p.Type, cells, maxPageSize)
	if err != nil {
		return Result{}, err
	}
	if len(images) == 1 {
		cookie, err := writeImage(bm, images[0])
		if err != nil {
			return Result{}, err
		}
		return Result{Kind: ResultReplace, Cookie: cookie, Skipped: skipped}, nil
	}

	subPages := make([]*Page, 0, len(images))
	for _, img := range images {
		sub, err := BuildPage(pg.Wrap(img), p.Type)
		if err != nil {
			return Result{}, fmt.Errorf("btree: rebuild split sub-page: %w", err)
		}
		subPages = append(subPages, sub)
	}
	return Result{Kind: ResultMultiBlock, SubPages: subPages, Skipped: skipped}, nil
}

// materialize walks the page's on-page cells plus its update/insert
// lists, producing the final cell list to write and handling any update
// not yet visible to every reader according to mode.
func materialize(p *Page, mode ReconcileMode, visible Visible, treeID uint64, addr block.Cookie, la LookasideWriter) ([]pg.Cell, int, error) {
	m := p.modify.Load()

	var out []pg.Cell
	skipped := 0
	var lookasideCounter uint64

	emit := func(key []byte, value []byte, tombstone bool) {
		if tombstone {
			// Row-store keys carry their own identity, so a removed key can
			// simply be omitted. A column-variable leaf's record number is
			// purely positional, so dropping the cell would shift every
			// later record's recno; emit a same-width deleted placeholder
			// instead to hold its slot.
			if p.Type == pg.TypeColVariableLeaf {
				out = append(out, pg.Cell{Kind: pg.CellDeleted, RLECount: 1})
			}
			return
		}
		out = append(out, pg.Cell{Kind: pg.CellValue, Key: key, Value: value})
	}

	for i, c := range p.Cells {
		var head *UpdateRecord
		if m != nil {
			m.mu.Lock()
			head = m.updateHeads[i]
			m.mu.Unlock()
		}
		if head == nil {
			out = append(out, c)
			continue
		}
		val, ok, tomb := VisibleValue(head, visible)
		if ok {
			emit(c.Key, val, tomb)
		} else {
			// Nothing visible: keep the base on-page value.
			out = append(out, c)
		}
		// Newer non-visible updates can sit above a visible one, so the
		// chain is accounted for per mode in both cases.
		if containsNonVisible(head, visible) {
			if err := handleSkipped(mode, treeID, addr, &lookasideCounter, head, la); err != nil {
				return nil, 0, err
			}
			skipped++
		}
	}

	if m != nil {
		for _, ins := range m.inserts.All() {
			val, ok, tomb := VisibleValue(ins.UpdateHead, visible)
			if ok {
				emit(ins.Key, val, tomb)
			}
			if containsNonVisible(ins.UpdateHead, visible) {
				if err := handleSkipped(mode, treeID, addr, &lookasideCounter, ins.UpdateHead, la); err != nil {
					return nil, 0, err
				}
				skipped++
			}
		}
	}

	if skipped > 0 && mode&VisibilityErr != 0 {
		return nil, 0, fmt.Errorf("btree: %d non-visible updates remain at close", skipped)
	}

	return out, skipped, nil
}

func containsNonVisible(head *UpdateRecord, visible Visible) bool {
	for u := head; u != nil; u = u.Next {
		if !visible(u.TxnID) {
			return true
		}
	}
	return false
}

func handleSkipped(mode ReconcileMode, treeID uint64, addr block.Cookie, counter *uint64, head *UpdateRecord, la LookasideWriter) error {
	if mode&LookasideTable == 0 {
		return nil // UpdateRestore keeps these in memory; nothing to serialize here
	}
	if la == nil {
		return fmt.Errorf("btree: LookasideTable mode requires a lookaside writer")
	}
	for u := head; u != nil; u = u.Next {
		*counter++
		if err := la.PutLookaside(treeID, addr, *counter, u.TxnID, u.Value, u.Tombstone); err != nil {
			return fmt.Errorf("btree: lookaside write: %w", err)
		}
	}
	return nil
}

// packCells lays cells out into one or more page images no larger than
// maxPageSize, splitting into multiple images (MultiBlock) only when a
// single image cannot hold everything.
func packCells(typ pg.Type, cells []pg.Cell, maxPageSize int) ([][]byte, error) {
	var images [][]byte
	buf := make([]byte, maxPageSize)
	img := pg.New(buf, typ)

	for _, c := range cells {
		encoded := pg.Encode(c)
		if _, err := img.Append(encoded); err != nil {
			images = append(images, buf)
			buf = make([]byte, maxPageSize)
			img = pg.New(buf, typ)
			// This layer only splits at cell boundaries and has no
			// overflow path: a cell that does not fit even an empty image
			// is an error rather than being dropped.
			if _, err := img.Append(encoded); err != nil {
				return nil, fmt.Errorf("btree: %d-byte cell does not fit a %d-byte page: %w", len(encoded), maxPageSize, err)
			}
		}
	}
	images = append(images, buf)
	return images, nil
}

func writeImage(bm *block.Manager, buf []byte) (block.Cookie, error) {
	pg.SetChecksum(buf)
	return bm.Write(buf, true)
}
