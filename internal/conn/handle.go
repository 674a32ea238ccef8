package conn

import (
	"sync"
	"sync/atomic"

	"github.com/bitbased/archengine-sub001/internal/block"
	"github.com/bitbased/archengine-sub001/internal/btree"
	"github.com/bitbased/archengine-sub001/internal/cache"
	"github.com/bitbased/archengine-sub001/internal/lsm"
)

// DataHandle is one open file cached per-connection: the spec's "data
// handles are cached per-connection; shared-exclusive access controlled
// by a per-handle RW-lock plus an exclusive session field for re-entrant
// exclusive use." Exactly one of Tree or LSM is set, depending on
// whether the uri names a plain B-tree file or an LSM-backed one.
//
// Grounded on SimonWaldherr-tinySQL's pager/backend.go PageBackend,
// generalized from one fixed database file to a per-uri cached handle
// set so a connection can hold many open tables at once.
type DataHandle struct {
	URI string
	ID  uint64

	Tree *btree.Tree
	LSM  *lsm.Tree
	BM   *block.Manager

	evictor *cache.Evictor

	mu             sync.Mutex
	sharedCount    int
	exclusive      *Session // non-nil while an exclusive session holds this handle
	exclusiveDepth int      // re-entrant exclusive-hold count for exclusive
	refCount       atomic.Int32
}

// newTreeHandle wraps a row-store B-tree file as a DataHandle.
func newTreeHandle(uri string, id uint64, tr *btree.Tree, bm *block.Manager, ev *cache.Evictor) *DataHandle {
	return &DataHandle{URI: uri, ID: id, Tree: tr, BM: bm, evictor: ev}
}

// newLSMHandle wraps an LSM tree as a DataHandle.
func newLSMHandle(uri string, id uint64, t *lsm.Tree) *DataHandle {
	return &DataHandle{URI: uri, ID: id, LSM: t}
}

// AcquireShared takes a shared (reader) hold on h, failing with ErrBusy
// if an exclusive session other than s currently owns it. Unlike a plain
// RWMutex this never blocks: per the spec, Busy means "caller may
// retry", not "caller waits".
func (h *DataHandle) AcquireShared(s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exclusive != nil && h.exclusive != s {
		return ErrBusy
	}
	h.sharedCount++
	h.refCount.Add(1)
	return nil
}

// ReleaseShared releases a hold taken by AcquireShared.
func (h *DataHandle) ReleaseShared() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sharedCount--
	h.refCount.Add(-1)
}

// AcquireExclusive takes exclusive ownership of h for s, failing with
// ErrBusy if another session holds it exclusively or any session, s
// included, holds it shared. Calling
// it again for the same session nests rather than blocking, matching
// the spec's "exclusive session field for re-entrant exclusive use"
// (e.g. a schema operation that both drops and recreates a table under
// one exclusive hold).
func (h *DataHandle) AcquireExclusive(s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exclusive == s {
		h.exclusiveDepth++
		return nil
	}
	if h.exclusive != nil || h.sharedCount > 0 {
		return ErrBusy
	}
	h.exclusive = s
	h.exclusiveDepth = 1
	return nil
}

// ReleaseExclusive releases one nesting level taken by AcquireExclusive,
// clearing ownership once the outermost hold is released.
func (h *DataHandle) ReleaseExclusive(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exclusive != s {
		return
	}
	h.exclusiveDepth--
	if h.exclusiveDepth == 0 {
		h.exclusive = nil
	}
}

// Close shuts down any background worker this handle owns.
func (h *DataHandle) Close() {
	if h.evictor != nil {
		h.evictor.Stop()
	}
	if h.BM != nil {
		h.BM.Close()
	}
}

// RefCount reports how many sessions currently hold a shared lock,
// consulted before a drop decides whether a handle can be closed.
func (h *DataHandle) RefCount() int32 { return h.refCount.Load() }
