package cache

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// GenerationTracker tracks which split-generation values are currently
// being dereferenced by a reader, so a split's stale PageIndex is only
// physically reclaimed once every reader that might still hold a pointer
// into it has moved past that generation. The live set is sparse over a
// monotonically growing counter, exactly the shape a Roaring bitmap is
// built for, so it backs this with one instead of a map[uint64]struct{}.
type GenerationTracker struct {
	mu  sync.Mutex
	set *roaring.Bitmap
}

// NewGenerationTracker returns an empty tracker.
func NewGenerationTracker() *GenerationTracker {
	return &GenerationTracker{set: roaring.New()}
}

// Enter records that the caller is about to dereference a PageIndex
// captured at gen. Call Leave with the same value once done.
func (g *GenerationTracker) Enter(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.set.Add(uint32(gen))
}

// Leave releases a generation recorded by Enter.
func (g *GenerationTracker) Leave(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.set.Remove(uint32(gen))
}

// SafeToReclaim reports whether a PageIndex replaced at generation gen can
// be physically freed: true once no reader is still recorded at or below
// gen.
func (g *GenerationTracker) SafeToReclaim(gen uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.set.IsEmpty() {
		return true
	}
	return uint64(g.set.Minimum()) > gen
}
