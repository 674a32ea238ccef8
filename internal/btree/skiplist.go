package btree

import (
	"math"
	"math/rand"
)

// AbortedTxnID is spliced onto an update's TxnID when its owning
// transaction rolls back. Equal to txn.Aborted; duplicated here so
// internal/btree has no dependency on internal/txn.
const AbortedTxnID = math.MaxUint64

// maxSkipDepth bounds the randomized insert-skiplist depth.
const maxSkipDepth = 16

// UpdateRecord is one entry in a page cell's update list: the newest
// write first, walked by a reader until a version visible to its
// transaction snapshot is found.
type UpdateRecord struct {
	Next      *UpdateRecord
	TxnID     uint64
	Size      uint32
	Value     []byte
	Tombstone bool
}

// MarkAborted flips the update's writer to the reserved aborted id so
// no snapshot will ever again consider it visible.
func (u *UpdateRecord) MarkAborted() { u.TxnID = AbortedTxnID }

// InsertRecord is a not-yet-reconciled new key (row-store) or record
// number (column-store), linked into a per-page skiplist of randomized
// depth. Modify splices inserts in under the page's modify mutex.
type InsertRecord struct {
	Key        []byte
	RecNo      uint64
	Next       []*InsertRecord // skiplist_next[depth]
	UpdateHead *UpdateRecord
}

// randomDepth returns an exponentially-distributed depth in [1, maxSkipDepth],
// matching the classic skiplist coin-flip construction.
func randomDepth() int {
	depth := 1
	for depth < maxSkipDepth && rand.Int31()&1 == 0 {
		depth++
	}
	return depth
}

// InsertSkipList is one page's chain of not-yet-reconciled inserts,
// ordered by the tree's comparator. It is intentionally a simple
// mutex-guarded structure rather than a lock-free skiplist: tinySQL
// itself never reaches for lock-free data structures, guarding all of
// its page mutations with a single mutex per page.
type InsertSkipList struct {
	head [maxSkipDepth]*InsertRecord
}

// Search returns the record immediately before the insertion point for
// key (or recno, for column trees), at every level, so callers performing
// a splice can link in a new record without a second traversal.
func (sl *InsertSkipList) Search(less func(a, b *InsertRecord) bool, probe *InsertRecord) (prev [maxSkipDepth]*InsertRecord) {
	var cur *InsertRecord
	for level := maxSkipDepth - 1; level >= 0; level-- {
		if cur == nil {
			cur = sl.head[level]
		}
		for cur != nil && less(cur, probe) {
			nxt := nextAt(cur, level)
			if nxt == nil {
				break
			}
			cur = nxt
		}
		prev[level] = cur
		if cur != nil {
			cur = nil // restart descent from the head at the next level down
		}
	}
	return prev
}

func nextAt(r *InsertRecord, level int) *InsertRecord {
	if level >= len(r.Next) {
		return nil
	}
	return r.Next[level]
}

// Insert splices rec into the skiplist at its randomized depth.
func (sl *InsertSkipList) Insert(less func(a, b *InsertRecord) bool, rec *InsertRecord) {
	depth := randomDepth()
	rec.Next = make([]*InsertRecord, depth)

	for level := 0; level < depth; level++ {
		var prev *InsertRecord
		cur := sl.head[level]
		for cur != nil && less(cur, rec) {
			prev = cur
			cur = nextAt(cur, level)
		}
		if prev == nil {
			rec.Next[level] = sl.head[level]
			sl.head[level] = rec
		} else {
			rec.Next[level] = nextAt(prev, level)
			prev.Next[level] = rec
		}
	}
}

// All returns every insert record in order (level 0 is the full chain).
func (sl *InsertSkipList) All() []*InsertRecord {
	var out []*InsertRecord
	for r := sl.head[0]; r != nil; r = nextAt(r, 0) {
		out = append(out, r)
	}
	return out
}

// VisibleValue walks an update list returning the first version visible
// to the given snapshot, or (nil, false, false) if none is and the
// on-page value should be used instead. The third return reports whether
// a visible update is a tombstone (logical delete).
func VisibleValue(head *UpdateRecord, visible func(txnID uint64) bool) ([]byte, bool, bool) {
	for u := head; u != nil; u = u.Next {
		if visible(u.TxnID) {
			return u.Value, true, u.Tombstone
		}
	}
	return nil, false, false
}
