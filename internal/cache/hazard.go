// Package cache implements the page cache: hazard pointers that protect a
// resident page from eviction while a session is using it, the
// generation-based LRU clock, the eviction worker pool, and the lookaside
// table evicted dirty pages spill their not-yet-visible updates into.
//
// Grounded on tinySQL's pager/pager.go PageBufferPool, which plays the
// equivalent role with a simple pin-count instead of a hazard-pointer
// array; this package generalizes pin counting to the Ref state machine
// internal/btree defines, and on storage/bufferpool.go's MemoryPolicy for
// the shape of the eviction-policy configuration.
package cache

import (
	"errors"
	"sync"

	"github.com/bitbased/archengine-sub001/internal/btree"
)

// MaxHazardPointers bounds how many pages one session may pin
// simultaneously; the hazard set is deliberately small.
const MaxHazardPointers = 8

// ErrHazardSetFull is returned when a session tries to acquire more
// hazard pointers than MaxHazardPointers allows.
var ErrHazardSetFull = errors.New("cache: hazard set full")

// HazardSet is one session's small fixed-size array of pinned pages. A
// Ref held here cannot be selected as an eviction candidate.
type HazardSet struct {
	mu   sync.Mutex
	refs [MaxHazardPointers]*btree.Ref
}

// NewHazardSet returns an empty hazard set for one session.
func NewHazardSet() *HazardSet { return &HazardSet{} }

// TryAcquire pins ref in the first free slot, or reports ErrHazardSetFull
// if every slot is already in use.
func (h *HazardSet) TryAcquire(ref *btree.Ref) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, r := range h.refs {
		if r == nil {
			h.refs[i] = ref
			return nil
		}
	}
	return ErrHazardSetFull
}

// Release unpins ref. It is a no-op if ref was not held.
func (h *HazardSet) Release(ref *btree.Ref) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, r := range h.refs {
		if r == ref {
			h.refs[i] = nil
			return
		}
	}
}

// ReleaseAll drops every pin, used when a session closes.
func (h *HazardSet) ReleaseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.refs {
		h.refs[i] = nil
	}
}

// Holds reports whether ref is currently pinned by this set.
func (h *HazardSet) Holds(ref *btree.Ref) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.refs {
		if r == ref {
			return true
		}
	}
	return false
}
