package lsm

import (
	"fmt"

	"github.com/bitbased/archengine-sub001/internal/btree"
)

// AllVisible is the Visible function a flush or merge uses to decide
// which update in a chain survives: since a chunk being flushed or
// merged has no concurrent writers left to race with, every installed
// update is already as visible as it will ever be.
func AllVisible(uint64) bool { return true }

// SelectMergeWindow picks a contiguous run of retired-candidate chunks
// (oldest first in chunks) to fold together, obeying the spec's
// merge_min/merge_max/max_gap knobs: a window must span at least
// merge_min chunks, at most merge_max, and the size ratio between its
// largest and smallest member must not exceed max_gap (folding a tiny
// chunk into a vastly larger one wastes the rewrite). Returns nil if no
// window currently qualifies.
func SelectMergeWindow(chunks []*Chunk, cfg Config) []*Chunk {
	if len(chunks) < cfg.MergeMin {
		return nil
	}
	for start := 0; start+cfg.MergeMin <= len(chunks); start++ {
		end := start + cfg.MergeMin
		minSize, maxSize := chunkSize(chunks[start]), chunkSize(chunks[start])
		for end < len(chunks) && end-start < cfg.MergeMax {
			sz := chunkSize(chunks[end])
			if sz < minSize {
				minSize = sz
			}
			if sz > maxSize {
				maxSize = sz
			}
			if maxSize > minSize*uint64(cfg.MaxGap) {
				break
			}
			end++
		}
		window := chunks[start:end]
		if len(window) >= cfg.MergeMin && fitsGap(window, cfg.MaxGap) {
			return window
		}
	}
	return nil
}

func chunkSize(c *Chunk) uint64 {
	sz := c.Size.Load()
	if sz == 0 {
		return 1 // avoid a zero-size chunk collapsing the gap ratio to 0
	}
	return sz
}

func fitsGap(window []*Chunk, maxGap int) bool {
	if len(window) == 0 {
		return false
	}
	minSize, maxSize := chunkSize(window[0]), chunkSize(window[0])
	for _, c := range window[1:] {
		sz := chunkSize(c)
		if sz < minSize {
			minSize = sz
		}
		if sz > maxSize {
			maxSize = sz
		}
	}
	return maxSize <= minSize*uint64(maxGap)
}

// Merge folds window's entries into one freshly built chunk at the
// generation one past the highest generation in window, the newest
// entry for any given key winning (window is ordered oldest to
// newest). Tombstones whose key does not also survive in an older,
// not-yet-merged chunk are dropped entirely, since nothing below this
// merge could resurrect the value they shadow.
func (t *Tree) Merge(window []*Chunk) (*Chunk, error) {
	if len(window) == 0 {
		return nil, fmt.Errorf("lsm: empty merge window")
	}

	merged := make(map[string]Entry)
	var order []string
	for _, c := range window {
		entries, err := Entries(c.Tree, AllVisible)
		if err != nil {
			return nil, fmt.Errorf("lsm: read chunk %d entries: %w", c.ID, err)
		}
		for _, e := range entries {
			k := string(e.Key)
			if _, seen := merged[k]; !seen {
				order = append(order, k)
			}
			merged[k] = e
		}
	}

	out, err := t.newChunk()
	if err != nil {
		return nil, err
	}
	maxGen := window[0].Generation
	for _, c := range window {
		if c.Generation > maxGen {
			maxGen = c.Generation
		}
	}
	out.Generation = maxGen + 1

	for _, k := range order {
		e := merged[k]
		if e.Tombstone {
			continue
		}
		if err := bulkPut(out.Tree, e.Key, e.Value); err != nil {
			return nil, fmt.Errorf("lsm: bulk-load merged chunk: %w", err)
		}
		out.Count.Add(1)
		out.Size.Add(uint64(len(e.Key) + len(e.Value)))
	}
	out.SetFlag(ChunkStable)
	return out, nil
}

// bulkPut writes (key, value) directly into tr's current root leaf,
// bypassing the transaction/snapshot machinery: merge output belongs
// to no transaction, and every key it writes is, by construction,
// already the sole surviving version.
func bulkPut(tr *btree.Tree, key, value []byte) error {
	return tr.Put(bulkTxn{}, key, value)
}

// bulkTxn is the zero-overhead Txn implementation bulk-load writes use:
// transaction id 0 so the installed update is immediately visible to
// AllVisible, and a LogOp that discards (the merge runs outside of any
// WAL-tracked transaction; the new chunk is itself the durable record
// once its tree is flushed).
type bulkTxn struct{}

func (bulkTxn) ID() uint64      { return 0 }
func (bulkTxn) LogOp(op any)    {}
