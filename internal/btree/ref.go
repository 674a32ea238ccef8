// Package btree implements the B-tree engine: the in-memory Ref state
// machine over block-manager addresses, page search and modification,
// reconciliation of in-memory pages back to disk images, and leaf split.
//
// Grounded on tinySQL's pager/btree.go and pager/btree_page.go, which
// implement a direct PageID-addressed B+Tree with page-level locking via
// plain mutexes; this package generalizes that shape to the cookie-
// addressed, multi-page-type, MVCC-aware tree the engine needs, while
// keeping tinySQL's preference for ordinary mutexes over lock-free
// CAS loops for page-level synchronization.
package btree

import (
	"sync"
	"sync/atomic"

	"github.com/bitbased/archengine-sub001/internal/block"
)

// RefState is the state of one Ref in the page index's state machine.
type RefState int32

const (
	StateDisk RefState = iota
	StateReading
	StateMem
	StateLocked
	StateDeleted
	StateSplit
)

func (s RefState) String() string {
	switch s {
	case StateDisk:
		return "disk"
	case StateReading:
		return "reading"
	case StateMem:
		return "mem"
	case StateLocked:
		return "locked"
	case StateDeleted:
		return "deleted"
	case StateSplit:
		return "split"
	default:
		return "unknown"
	}
}

// Ref is one slot in a parent's page index: either an on-disk address, an
// in-memory Page, or a transitional/terminal state. Transitions happen by
// atomic compare-and-swap on state so that exactly one goroutine wins the
// DISK→READING or MEM→LOCKED race; losers observe the new state and
// either wait or retry, per the cache's page-read protocol.
type Ref struct {
	state      atomic.Int32
	addr       block.Cookie
	page       atomic.Pointer[Page]
	home       *PageIndex // back-reference to the parent slot array holding this Ref
	readGen    atomic.Uint64
	forceEvict atomic.Bool
}

// NewDiskRef returns a Ref pointing at an on-disk address, not yet read in.
func NewDiskRef(addr block.Cookie) *Ref {
	r := &Ref{addr: addr}
	r.state.Store(int32(StateDisk))
	return r
}

// NewMemRef returns a Ref already resolved to an in-memory page (used for
// freshly created pages that have never been written to disk).
func NewMemRef(p *Page) *Ref {
	r := &Ref{}
	r.page.Store(p)
	r.state.Store(int32(StateMem))
	return r
}

func (r *Ref) State() RefState { return RefState(r.state.Load()) }

func (r *Ref) Addr() block.Cookie { return r.addr }

func (r *Ref) Page() *Page { return r.page.Load() }

// CAS attempts to move the ref from `from` to `to`, returning whether it
// won the race.
func (r *Ref) CAS(from, to RefState) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

// PublishMem installs p as the in-memory page and moves the ref to MEM.
// Called by the winner of a DISK→READING transition after it finishes
// building the page from disk.
func (r *Ref) PublishMem(p *Page) {
	p.home = r
	r.page.Store(p)
	r.state.Store(int32(StateMem))
}

// PublishDisk discards the in-memory page and points the ref at addr,
// the image an evictor just wrote out. Called after a clean Reconcile.
func (r *Ref) PublishDisk(addr block.Cookie) {
	r.addr = addr
	r.page.Store(nil)
	r.state.Store(int32(StateDisk))
}

// MarkDeleted moves the ref to the terminal DELETED state, used when
// Reconcile reports the page's contents are now empty.
func (r *Ref) MarkDeleted() {
	r.page.Store(nil)
	r.state.Store(int32(StateDeleted))
}

// ReadGen returns the ref's current generation-clock value, used by the
// cache's LRU eviction candidate selection.
func (r *Ref) ReadGen() uint64 { return r.readGen.Load() }

// SetReadGen stores a new generation-clock value.
func (r *Ref) SetReadGen(gen uint64) { r.readGen.Store(gen) }

// MarkForceEvict flags the ref as a forced-eviction target: the next
// Touch leaves its read_gen alone rather than bumping it, so the
// evictor's lowest-read_gen scan keeps finding it.
func (r *Ref) MarkForceEvict() { r.forceEvict.Store(true) }

// ForceEvict reports whether MarkForceEvict was called and not yet
// cleared by ClearForceEvict.
func (r *Ref) ForceEvict() bool { return r.forceEvict.Load() }

// ClearForceEvict clears a forced-eviction flag, e.g. after the evictor
// has processed the ref (successfully or not).
func (r *Ref) ClearForceEvict() { r.forceEvict.Store(false) }

// PageIndex is the ordered array of child Refs on an internal page, or
// the ordered array of slot pointers a split replaces wholesale. It also
// carries the split-generation counter split safety depends on: a reader
// snapshots the index's generation before dereferencing the index, and a freer of a
// stale index waits until every live session's recorded generation has
// advanced past the generation recorded at swap time.
type PageIndex struct {
	mu   sync.RWMutex
	refs []*Ref
	gen  uint64
}

// NewPageIndex wraps refs as a fresh index at generation 0.
func NewPageIndex(refs []*Ref) *PageIndex {
	pi := &PageIndex{refs: refs}
	for _, r := range refs {
		r.home = pi
	}
	return pi
}

func (pi *PageIndex) Len() int {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return len(pi.refs)
}

func (pi *PageIndex) At(i int) *Ref {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return pi.refs[i]
}

func (pi *PageIndex) Generation() uint64 {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return pi.gen
}

// Swap atomically replaces the slot array (used by split, reverse split,
// and reconciliation's MultiBlock path) and bumps the generation.
func (pi *PageIndex) Swap(refs []*Ref) uint64 {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.refs = refs
	for _, r := range refs {
		r.home = pi
	}
	pi.gen++
	return pi.gen
}

func (pi *PageIndex) Snapshot() []*Ref {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	out := make([]*Ref, len(pi.refs))
	copy(out, pi.refs)
	return out
}
