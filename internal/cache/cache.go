package cache

import (
	"sync"
	"sync/atomic"

	"github.com/bitbased/archengine-sub001/internal/btree"
)

// readGenStep is the "small increment above current" a touched page's
// read_gen is bumped to, keeping recently accessed pages well clear of
// the eviction candidate pool without needing a precise LRU ordering.
const readGenStep = 100

// Config configures a Cache.
type Config struct {
	MaxPageSize int // forced-eviction threshold; 0 means page.DefaultPageSize
}

// Cache tracks every session's hazard set, the generation clock driving
// LRU candidate selection, and a split-generation tracker for safe
// physical reclaim of pages a split has made unreachable.
type Cache struct {
	mu          sync.RWMutex
	hazardSets  map[*HazardSet]struct{}
	readGenCur  atomic.Uint64
	maxPageSize int
	gens        *GenerationTracker
}

// New returns a Cache ready to register sessions and track pages.
func New(cfg Config) *Cache {
	return &Cache{
		hazardSets:  make(map[*HazardSet]struct{}),
		maxPageSize: cfg.MaxPageSize,
		gens:        NewGenerationTracker(),
	}
}

// NewSession registers a fresh hazard set for a new session.
func (c *Cache) NewSession() *HazardSet {
	h := NewHazardSet()
	c.mu.Lock()
	c.hazardSets[h] = struct{}{}
	c.mu.Unlock()
	return h
}

// CloseSession unregisters a session's hazard set, releasing every pin it
// still held.
func (c *Cache) CloseSession(h *HazardSet) {
	h.ReleaseAll()
	c.mu.Lock()
	delete(c.hazardSets, h)
	c.mu.Unlock()
}

// IsHazarded reports whether any registered session currently pins ref.
func (c *Cache) IsHazarded(ref *btree.Ref) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for h := range c.hazardSets {
		if h.Holds(ref) {
			return true
		}
	}
	return false
}

// Touch bumps ref's read_gen to keep pace with the global clock, unless
// the ref has been flagged for forced eviction (in which case leaving its
// read_gen low keeps it near the front of the evictor's candidate scan).
func (c *Cache) Touch(ref *btree.Ref) {
	if ref.ForceEvict() {
		return
	}
	cur := c.readGenCur.Load()
	if ref.ReadGen() < cur {
		ref.SetReadGen(cur + readGenStep)
	}
}

// AdvanceGlobalGen bumps the global read_gen clock, called periodically
// by a background sweep so accumulated touches keep separating hot pages
// from cold ones.
func (c *Cache) AdvanceGlobalGen() uint64 {
	return c.readGenCur.Add(1)
}

// GlobalGen returns the current global read_gen clock value.
func (c *Cache) GlobalGen() uint64 { return c.readGenCur.Load() }

// Generations exposes the split-generation tracker readers record against
// before dereferencing a PageIndex.
func (c *Cache) Generations() *GenerationTracker { return c.gens }

// Vacuum discards lookaside entries no active reader generation can still
// need: anything written by a transaction older than oldestTxnID. It
// returns the number of entries reclaimed. Grounded on the teacher's
// reachability-based VACUUM (storage/gc.go), generalized from a full mark
// pass over the row heap to a single bound check against the lookaside
// table's txn-keyed entries, since this engine's only form of a
// reachable-but-superseded value is a lookaside record.
func (c *Cache) Vacuum(la *LookasideTable, oldestTxnID uint64) int {
	return la.DiscardBefore(oldestTxnID)
}

// Acquire implements the cache-facing half of the page read protocol: it
// asks tr to resolve ref to MEM (the DISK→READING→MEM state machine lives
// in internal/btree), then pins the result with a hazard pointer before
// handing it back, bumping the page's read_gen on success. The caller
// must Release the hazard set's pin once done with the page.
func Acquire(tr *btree.Tree, h *HazardSet, c *Cache, ref *btree.Ref) (*btree.Page, error) {
	p, err := tr.Resolve(ref)
	if err != nil {
		return nil, err
	}
	if err := h.TryAcquire(ref); err != nil {
		return nil, err
	}
	c.Touch(ref)
	return p, nil
}
