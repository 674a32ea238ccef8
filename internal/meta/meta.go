// Package meta implements the reserved metadata B-tree (uri ->
// configuration-string), numeric file-id allocation, the turtle-file
// bootstrap record, and a schema-change undo tracker. Grounded on
// tinySQL's pager/catalog.go Catalog (a B+Tree-backed tenant/table ->
// JSON map with PutEntry/GetEntry/DeleteEntry/ListTables), generalized
// from a 2-level tenant/table key to the spec's flat URI key and from
// a JSON value to the spec's tagged-record configuration string.
package meta

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bitbased/archengine-sub001/internal/block"
	"github.com/bitbased/archengine-sub001/internal/btree"
	"github.com/bitbased/archengine-sub001/internal/config"
)

// Txn is the minimal view Store needs of a transaction.
type Txn interface {
	ID() uint64
	LogOp(op any)
}

// Store is the metadata file: one row-store B-tree keyed by URI
// ("table:orders", "file:orders-3.lsm", "lsm:events", ...) holding
// each object's configuration string, plus the numeric file-id
// allocator every data handle's on-disk name derives from.
type Store struct {
	mu         sync.RWMutex
	tree       *btree.Tree
	nextFileID atomic.Uint64
}

// Open opens or creates the metadata tree at root (the zero cookie for
// a brand-new database).
func Open(bm *block.Manager, root block.Cookie, pageSize int) (*Store, error) {
	tr, err := btree.OpenRow(0, bm, root, pageSize)
	if err != nil {
		return nil, fmt.Errorf("meta: open metadata tree: %w", err)
	}
	return &Store{tree: tr}, nil
}

// Root returns the metadata tree's root Ref, for a connection that needs
// to reconcile and checkpoint it directly.
func (s *Store) Root() *btree.Ref { return s.tree.Root() }

// PageSize returns the page size the metadata tree was opened with.
func (s *Store) PageSize() int { return s.tree.PageSize() }

// Put upserts uri's configuration string under txn.
func (s *Store) Put(txn Txn, uri, configString string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Put(txn, []byte(uri), []byte(configString))
}

// Get retrieves uri's configuration string visible to visible.
func (s *Store) Get(uri string, visible btree.Visible) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok, err := s.tree.Get([]byte(uri), visible)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(val), true, nil
}

// Drop removes uri's entry (a tombstone update visible per normal
// snapshot rules, the same as any other row delete).
func (s *Store) Drop(txn Txn, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Remove(txn, []byte(uri))
}

// Rename moves uri's configuration entry to newURI, used by schema
// rename operations; the caller is responsible for wrapping this with
// a SchemaTracker undo entry before committing.
func (s *Store) Rename(txn Txn, uri, newURI string) error {
	val, ok, err := s.Get(uri, btree.Visible(func(uint64) bool { return true }))
	if err != nil {
		return fmt.Errorf("meta: rename %s: read old entry: %w", uri, err)
	}
	if !ok {
		return fmt.Errorf("meta: rename %s: entry not found", uri)
	}
	if err := s.Put(txn, newURI, val); err != nil {
		return fmt.Errorf("meta: rename %s to %s: %w", uri, newURI, err)
	}
	return s.Drop(txn, uri)
}

// All returns every uri -> configuration string entry visible to
// visible, used by recovery to resolve a WAL record's numeric file id
// back to the handle it belongs to.
func (s *Store) All(visible btree.Visible) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string)
	err := s.tree.Scan(visible, func(key, value []byte) error {
		out[string(key)] = string(value)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("meta: scan: %w", err)
	}
	return out, nil
}

// AllocFileID returns the next numeric file id, assigned monotonically
// and never reused even across drops (matching the spec's "files are
// referenced by numeric id assigned at create").
func (s *Store) AllocFileID() uint64 {
	return s.nextFileID.Add(1)
}

// RestoreFileIDWatermark advances the file-id counter to at least n,
// used when reopening a database so newly allocated ids never collide
// with ids recorded in the metadata entries read back from disk.
func (s *Store) RestoreFileIDWatermark(n uint64) {
	for {
		cur := s.nextFileID.Load()
		if n <= cur || s.nextFileID.CompareAndSwap(cur, n) {
			return
		}
	}
}

// FileConfig is the decoded record the spec requires per file: its
// numeric id, allocation size, format strings, checkpoint list, and
// feature bits, encoded as a configuration string and stored as the
// value of the file's own "file:<name>" URI entry.
type FileConfig struct {
	ID            uint64
	AllocSize     uint32
	BlockFormat   string
	Checkpoints   []string
	FeatureBits   uint64
}

// Encode renders a FileConfig as a tagged-record configuration string.
func (f FileConfig) Encode() string {
	s := fmt.Sprintf("id=%d,allocation_size=%d,block_format=%s,feature_bits=%d",
		f.ID, f.AllocSize, f.BlockFormat, f.FeatureBits)
	for _, c := range f.Checkpoints {
		s += fmt.Sprintf(",checkpoint=(%s)", c)
	}
	return s
}

// DecodeFileConfig parses a configuration string previously produced
// by Encode. Checkpoints is not decoded and is always nil in the result.
func DecodeFileConfig(s string) (FileConfig, error) {
	cfg, err := config.Parse(s)
	if err != nil {
		return FileConfig{}, fmt.Errorf("meta: decode file config: %w", err)
	}
	id, err := cfg.Int("id", 0)
	if err != nil {
		return FileConfig{}, err
	}
	allocSize, err := cfg.Int("allocation_size", 0)
	if err != nil {
		return FileConfig{}, err
	}
	featureBits, err := cfg.Int("feature_bits", 0)
	if err != nil {
		return FileConfig{}, err
	}
	return FileConfig{
		ID:          uint64(id),
		AllocSize:   uint32(allocSize),
		BlockFormat: cfg.String("block_format", ""),
		FeatureBits: uint64(featureBits),
	}, nil
}
