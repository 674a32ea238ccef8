package lsm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bitbased/archengine-sub001/internal/block"
	"github.com/bitbased/archengine-sub001/internal/btree"
)

// Txn is the minimal view Tree needs of a transaction: enough to drive
// btree.Put/Remove and to stamp a closing chunk's switch_txn_id.
type Txn interface {
	ID() uint64
	LogOp(op any)
}

// Config bounds a Tree's chunk-switch and merge behavior, named the way
// the spec's merge_min/merge_max/chunk_max/max_gap parameters are.
type Config struct {
	ChunkMaxBytes uint64 // a chunk switches once it grows past this
	MergeMin      int    // fewest chunks a merge will fold together
	MergeMax      int    // most chunks a merge will fold together
	MaxGap        int    // largest size-ratio gap a merge window may span
	PageSize      int
}

// DefaultConfig matches the spec's suggested starting points.
func DefaultConfig() Config {
	return Config{ChunkMaxBytes: 16 << 20, MergeMin: 4, MergeMax: 15, MaxGap: 8, PageSize: 8192}
}

// Tree is the ordered key space an application table is built over: an
// append-only array of chunks (newest last), each a self-contained
// internal/btree tree, plus the retired chunks waiting for their
// readers to drain before their backing files are dropped. Grounded on
// dd0wney-graphdb's LSMStorage, generalized from its fixed
// memTable/immutableTable/levels shape to the spec's single flat chunk
// array ordered by switch time.
type Tree struct {
	ID  uint64
	bm  *block.Manager
	cfg Config

	mu      sync.RWMutex
	chunks  []*Chunk
	retired []*Chunk

	nextChunkID atomic.Uint64
	needSwitch  atomic.Bool
}

// NewTree opens a brand-new LSM tree with a single empty generation-0
// chunk.
func NewTree(id uint64, bm *block.Manager, cfg Config) (*Tree, error) {
	t := &Tree{ID: id, bm: bm, cfg: cfg}
	first, err := t.newChunk()
	if err != nil {
		return nil, err
	}
	t.chunks = append(t.chunks, first)
	return t, nil
}

func (t *Tree) newChunk() (*Chunk, error) {
	id := t.nextChunkID.Add(1)
	uri := fmt.Sprintf("chunk-%d-%d.arch", t.ID, id)
	tr, err := btree.OpenRow(id, t.bm, block.Cookie{}, t.cfg.PageSize)
	if err != nil {
		return nil, fmt.Errorf("lsm: open chunk %d: %w", id, err)
	}
	c := NewChunk(id, uri, tr)
	c.Generation = 0
	return c, nil
}

// Put installs a write into the current (newest, still-open) chunk.
func (t *Tree) Put(txn Txn, key, value []byte) error {
	c := t.current()
	if err := c.Tree.Put(txn, key, value); err != nil {
		return err
	}
	c.Count.Add(1)
	c.Size.Add(uint64(len(key) + len(value)))
	if c.Size.Load() > t.cfg.ChunkMaxBytes {
		t.needSwitch.Store(true)
	}
	return nil
}

// Remove installs a tombstone into the current chunk.
func (t *Tree) Remove(txn Txn, key []byte) error {
	c := t.current()
	if err := c.Tree.Remove(txn, key); err != nil {
		return err
	}
	c.Count.Add(1)
	return nil
}

func (t *Tree) current() *Chunk {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chunks[len(t.chunks)-1]
}

// NeedSwitch reports whether the current chunk has grown past
// chunk_max and the switch work queue should act.
func (t *Tree) NeedSwitch() bool { return t.needSwitch.Load() }

// Switch closes the current chunk for new writes under switchTxnID and
// opens a fresh one to receive them, the spec's chunk-switch protocol:
// allocate a new chunk id, append it to the array, stamp the old
// chunk's switch_txn_id, clear the need-switch flag. Takes the tree's
// write lock for the whole operation since the chunk array itself
// (not any one chunk) is what's mutating.
func (t *Tree) Switch(switchTxnID uint64) (*Chunk, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.chunks[len(t.chunks)-1]
	fresh, err := t.newChunk()
	if err != nil {
		return nil, err
	}
	t.chunks = append(t.chunks, fresh)
	old.SwitchTxnID.Store(switchTxnID)
	t.needSwitch.Store(false)
	return old, nil
}

// Get looks up key across every chunk from newest to oldest, stopping
// at the first chunk whose tree holds a visible version (including a
// visible tombstone, which ends the search with a "not found" result).
// A chunk that has switched but whose switch_txn_id is not yet visible
// to this reader is skipped entirely, per the spec's chunk-visibility
// rule.
func (t *Tree) Get(key []byte, visible btree.Visible, txnVisible func(uint64) bool) ([]byte, bool, error) {
	chunks := t.snapshotChunks()
	for i := len(chunks) - 1; i >= 0; i-- {
		c := chunks[i]
		if !c.VisibleToReader(txnVisible) {
			continue
		}
		if c.Bloom != nil && !c.Bloom.MayContain(key) {
			continue
		}
		val, ok, err := c.Tree.Get(key, visible)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return val, true, nil
		}
	}
	return nil, false, nil
}

func (t *Tree) snapshotChunks() []*Chunk {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Chunk, len(t.chunks))
	copy(out, t.chunks)
	return out
}

// Chunks returns every active (not yet retired) chunk, oldest first.
// This is the candidate set for merge-window selection and for a
// reader's Get scan.
func (t *Tree) Chunks() []*Chunk {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Chunk, len(t.chunks))
	copy(out, t.chunks)
	return out
}

// RetiredChunks returns every chunk waiting to be dropped once its
// readers drain.
func (t *Tree) RetiredChunks() []*Chunk {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Chunk, len(t.retired))
	copy(out, t.retired)
	return out
}

// RetireWindow atomically removes every chunk in window from the
// active array, appends merged in its place, and moves window's
// chunks onto the retired list where they wait for Droppable before
// DropRetired can remove them. Folding the whole window into one
// locked step (rather than one Retire call per chunk) keeps a
// concurrent Switch's append from racing with the merge's view of
// "current active chunks".
func (t *Tree) RetireWindow(window []*Chunk, merged *Chunk) {
	t.mu.Lock()
	defer t.mu.Unlock()
	drop := make(map[uint64]bool, len(window))
	for _, c := range window {
		drop[c.ID] = true
	}
	kept := make([]*Chunk, 0, len(t.chunks)-len(window)+1)
	for _, c := range t.chunks {
		if !drop[c.ID] {
			kept = append(kept, c)
		}
	}
	kept = append(kept, merged)
	t.chunks = kept
	t.retired = append(t.retired, window...)
}

// DropRetired removes every retired chunk with no active reader
// (Droppable) from the retired list, returning the ones actually
// dropped so the caller can delete their backing blocks.
func (t *Tree) DropRetired() []*Chunk {
	t.mu.Lock()
	defer t.mu.Unlock()
	var dropped []*Chunk
	kept := t.retired[:0]
	for _, c := range t.retired {
		if c.Droppable() {
			dropped = append(dropped, c)
			continue
		}
		kept = append(kept, c)
	}
	t.retired = kept
	return dropped
}
