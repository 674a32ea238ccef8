package cache

import (
	"bytes"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/bitbased/archengine-sub001/internal/block"
)

// LookasideEntry is one record evicted dirty pages spill their
// not-yet-globally-visible updates into, keyed by
// (tree_id, address_cookie, counter, txn_id).
type LookasideEntry struct {
	TreeID    uint64
	Addr      block.Cookie
	Counter   uint64
	TxnID     uint64
	Value     []byte
	Tombstone bool
}

func lookasidePrefix(treeID uint64, addr block.Cookie) []byte {
	enc := addr.Encode()
	buf := make([]byte, 0, 9+len(enc))
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], treeID)
	buf = append(buf, tmp[:]...)
	buf = append(buf, byte(len(enc)))
	buf = append(buf, enc...)
	return buf
}

func lookasideKey(treeID uint64, addr block.Cookie, counter, txnID uint64) []byte {
	buf := lookasidePrefix(treeID, addr)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], counter)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint64(tmp[:], txnID)
	buf = append(buf, tmp[:]...)
	return buf
}

// LookasideTable is the dedicated store for updates skipped during
// reconciliation because no reader could yet see them. It implements
// btree.LookasideWriter.
//
// Kept as a single mutex guarding a key-sorted slice rather than a full
// internal/btree.Tree: the only access pattern the cache layer needs is
// point-write-by-key plus a (tree_id, address_cookie) prefix scan, and
// internal/btree.Tree has no cursor/iteration support yet to serve a
// prefix scan efficiently. This mirrors tinySQL's own PageBufferPool,
// which is itself a plain mutex-guarded map rather than a tree.
type LookasideTable struct {
	mu      sync.RWMutex
	keys    [][]byte
	entries []LookasideEntry
}

// NewLookasideTable returns an empty lookaside table.
func NewLookasideTable() *LookasideTable {
	return &LookasideTable{}
}

// PutLookaside implements btree.LookasideWriter.
func (l *LookasideTable) PutLookaside(treeID uint64, addr block.Cookie, counter uint64, txnID uint64, value []byte, tombstone bool) error {
	key := lookasideKey(treeID, addr, counter, txnID)
	entry := LookasideEntry{
		TreeID: treeID, Addr: addr, Counter: counter, TxnID: txnID,
		Value: append([]byte(nil), value...), Tombstone: tombstone,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	idx := sort.Search(len(l.keys), func(i int) bool { return bytes.Compare(l.keys[i], key) >= 0 })
	if idx < len(l.keys) && bytes.Equal(l.keys[idx], key) {
		l.entries[idx] = entry
		return nil
	}
	l.keys = append(l.keys, nil)
	copy(l.keys[idx+1:], l.keys[idx:])
	l.keys[idx] = key
	l.entries = append(l.entries, LookasideEntry{})
	copy(l.entries[idx+1:], l.entries[idx:])
	l.entries[idx] = entry
	return nil
}

// PrefixScan returns every entry recorded for (treeID, addr) in counter
// order, the re-instantiation path a page read follows when its
// HasLookaside flag is set.
func (l *LookasideTable) PrefixScan(treeID uint64, addr block.Cookie) []LookasideEntry {
	prefix := lookasidePrefix(treeID, addr)

	l.mu.RLock()
	defer l.mu.RUnlock()
	start := sort.Search(len(l.keys), func(i int) bool { return bytes.Compare(l.keys[i], prefix) >= 0 })
	var out []LookasideEntry
	for i := start; i < len(l.keys) && bytes.HasPrefix(l.keys[i], prefix); i++ {
		out = append(out, l.entries[i])
	}
	return out
}

// DiscardBefore removes every entry whose txn_id is older than oldestID,
// the oldest-ID-driven reclaim of obsolete lookaside records.
func (l *LookasideTable) DiscardBefore(oldestID uint64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	keptKeys := l.keys[:0]
	keptEntries := l.entries[:0]
	discarded := 0
	for i, e := range l.entries {
		if e.TxnID < oldestID {
			discarded++
			continue
		}
		keptKeys = append(keptKeys, l.keys[i])
		keptEntries = append(keptEntries, e)
	}
	l.keys = keptKeys
	l.entries = keptEntries
	return discarded
}

// Len returns the number of entries currently held.
func (l *LookasideTable) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
