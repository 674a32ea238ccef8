package lsm

import (
	"sync/atomic"
	"time"

	"github.com/bitbased/archengine-sub001/internal/btree"
)

// ChunkFlags records a chunk's lifecycle and bloom-filter state.
type ChunkFlags uint8

const (
	ChunkOnDisk ChunkFlags = 1 << iota
	ChunkMerging
	ChunkStable
	ChunkBloomPresent
)

// Chunk is one generation of the LSM tree's ordered key space: its
// own internal/btree tree plus the bookkeeping the tree array and
// merge/flush workers need. Grounded on the spec's LSM chunk record,
// laid out the way dd0wney-graphdb's SSTable/MemTable pair carries
// size/count/path metadata alongside the data structure itself.
type Chunk struct {
	ID              uint64
	URI             string
	Generation      uint64
	Size            atomic.Uint64 // bytes, best-effort estimate
	Count           atomic.Uint64 // records
	CreateTimestamp time.Time
	SwitchTxnID     atomic.Uint64 // txn.ID that closed this chunk for new writes; txn.None while open
	BloomURI        string
	Flags           atomic.Uint32 // ChunkFlags bitmask
	Refcnt          atomic.Int32
	BloomBusy       atomic.Bool
	Bloom           *BloomFilter

	Tree *btree.Tree
}

// NewChunk wraps tr as a fresh, open (not yet switched) generation-0
// chunk.
func NewChunk(id uint64, uri string, tr *btree.Tree) *Chunk {
	return &Chunk{ID: id, URI: uri, CreateTimestamp: time.Now(), Tree: tr}
}

// HasFlag reports whether every bit in want is set.
func (c *Chunk) HasFlag(want ChunkFlags) bool {
	return ChunkFlags(c.Flags.Load())&want == want
}

// SetFlag ORs want into the chunk's flag bitmask.
func (c *Chunk) SetFlag(want ChunkFlags) {
	for {
		cur := c.Flags.Load()
		if !c.Flags.CompareAndSwap(cur, cur|uint32(want)) {
			continue
		}
		return
	}
}

// ClearFlag ANDs want out of the chunk's flag bitmask.
func (c *Chunk) ClearFlag(want ChunkFlags) {
	for {
		cur := c.Flags.Load()
		if !c.Flags.CompareAndSwap(cur, cur&^uint32(want)) {
			continue
		}
		return
	}
}

// Open reports whether the chunk is still accepting new writes: no
// switch transaction has closed it yet.
func (c *Chunk) Open() bool { return c.SwitchTxnID.Load() == 0 }

// VisibleToReader reports whether a cursor with the given visibility
// function should consider this chunk: an open chunk is always
// live, a switched chunk is live only once its switch transaction is
// visible to the reader (the spec's "ignore updates in a chunk whose
// switch_txn_id is not visible to the reader").
func (c *Chunk) VisibleToReader(visible func(uint64) bool) bool {
	txnID := c.SwitchTxnID.Load()
	return txnID == 0 || visible(txnID)
}

// Pin/Unpin bound the window during which a chunk's backing file may
// not be physically dropped: a cursor or merge reader holding a
// reference increments Refcnt for the duration of its scan.
func (c *Chunk) Pin()   { c.Refcnt.Add(1) }
func (c *Chunk) Unpin() { c.Refcnt.Add(-1) }

// Droppable reports whether a retired chunk has no active reader and
// may be physically removed.
func (c *Chunk) Droppable() bool { return c.Refcnt.Load() == 0 }
