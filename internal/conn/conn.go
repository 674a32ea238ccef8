// Package conn implements the process-singleton Connection (one per
// database directory, file-lock protected) and the thread-bound Session
// every API call enters through. Grounded on SimonWaldherr-tinySQL's
// pager/backend.go PageBackend, generalized from one fixed .db file to a
// directory of cached data handles plus the metadata/turtle/log/cache
// subsystems this module splits into their own packages.
package conn

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/bitbased/archengine-sub001/internal/block"
	"github.com/bitbased/archengine-sub001/internal/btree"
	"github.com/bitbased/archengine-sub001/internal/cache"
	"github.com/bitbased/archengine-sub001/internal/config"
	"github.com/bitbased/archengine-sub001/internal/lsm"
	"github.com/bitbased/archengine-sub001/internal/meta"
	"github.com/bitbased/archengine-sub001/internal/txn"
)

const (
	lockFileName   = "ArchEngine.lock"
	markerFileName = "ArchEngine"
	metaFileName   = "ArchEngine.wt"
	turtleFileName = "ArchEngine.turtle"
	logFilePrefix  = "ArchEngineLog."

	metaFileID = 0 // internal/txn/wal.go's MetadataFileID
)

// Config configures Open. DefaultConfig covers every field a caller
// doesn't set explicitly.
type Config struct {
	PageSize      uint32 // block allocation size; 0 means block.DefaultAllocSize
	CacheMaxPages int    // 0 means page.DefaultPageSize-sized default
	EvictorWorkers int
	Logger        *slog.Logger
	Extra         string // extra tagged-record configuration, ARCHENGINE_CONFIG-style
}

// Connection is the process-singleton handle on one database directory:
// it owns the block managers, cache, log manager, transaction manager,
// metadata store, data-handle cache, and extension registry. Per the
// spec, it is protected by a file lock so only one process can hold it
// open at a time.
type Connection struct {
	dir      string
	lockFile *os.File
	log      *slog.Logger

	cfgString string
	cfg       config.Config

	metaBM *block.Manager
	meta   *meta.Store
	turtle *meta.Turtle

	txnMgr *txn.Manager
	wal    *txn.LogManager

	cache *cache.Cache

	handleMu sync.RWMutex // handle-list lock
	handles  map[string]*DataHandle

	schemaMu sync.Mutex // schema lock serializing metadata mutations

	extensions *ExtensionRegistry

	evictorWorkers int

	metrics *metrics

	sessionMu sync.Mutex
	sessions  map[*Session]struct{}

	closed bool
}

// Open acquires the directory lock, bootstraps or loads the metadata
// file via its turtle record, and wires up the cache, log manager, and
// transaction manager. Per the spec's locking order (connection →
// schema → handle-list → dhandle → tree → page), callers never need to
// take any of these locks directly; every exported method on Connection
// and Session acquires them in order internally.
func Open(dir string, cfg Config) (*Connection, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("conn: create database directory: %w", err)
	}

	lf, err := os.OpenFile(filepath.Join(dir, lockFileName), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("conn: open lock file: %w", err)
	}
	if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lf.Close()
		return nil, fmt.Errorf("%w: database directory %s is already open by another process", ErrBusy, dir)
	}
	if err := os.WriteFile(filepath.Join(dir, markerFileName), []byte("ArchEngine\n"), 0644); err != nil {
		lf.Close()
		return nil, fmt.Errorf("conn: write marker file: %w", err)
	}

	parsed, err := config.Parse(cfg.Extra)
	if err != nil {
		lf.Close()
		return nil, fmt.Errorf("conn: parse configuration: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	evictorWorkers := cfg.EvictorWorkers
	if evictorWorkers <= 0 {
		evictorWorkers = 1
	}

	c := &Connection{
		dir:            dir,
		lockFile:       lf,
		log:            logger,
		cfgString:      cfg.Extra,
		cfg:            parsed,
		handles:        make(map[string]*DataHandle),
		extensions:     newExtensionRegistry(),
		metrics:        newMetrics(),
		sessions:       make(map[*Session]struct{}),
		evictorWorkers: evictorWorkers,
	}

	allocSize := uint32(block.DefaultAllocSize)
	if cfg.PageSize != 0 {
		allocSize = cfg.PageSize
	}

	c.turtle = meta.OpenTurtle(filepath.Join(dir, turtleFileName))
	turtleEntries, err := c.turtle.Read()
	if err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("conn: read turtle file: %w", err)
	}

	metaPath := filepath.Join(dir, metaFileName)
	metaBM, err := block.Open(metaPath, block.Config{AllocSize: allocSize})
	if err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("conn: open metadata file: %w", err)
	}
	c.metaBM = metaBM

	var metaRoot block.Cookie
	if raw, ok := turtleEntries["file:"+metaFileName]; ok {
		if _, err := meta.DecodeFileConfig(raw); err != nil {
			c.closeLocked()
			return nil, fmt.Errorf("conn: decode metadata turtle record: %w", err)
		}
		metaRoot, err = loadRoot(metaBM)
		if err != nil {
			c.closeLocked()
			return nil, fmt.Errorf("conn: load metadata checkpoint: %w", err)
		}
	}

	store, err := meta.Open(metaBM, metaRoot, int(allocSize))
	if err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("conn: open metadata store: %w", err)
	}
	c.meta = store

	if _, ok := turtleEntries["file:"+metaFileName]; !ok {
		fc := meta.FileConfig{ID: metaFileID, AllocSize: allocSize, BlockFormat: "btree"}
		if err := c.turtle.Write(map[string]string{"file:" + metaFileName: fc.Encode()}); err != nil {
			c.closeLocked()
			return nil, fmt.Errorf("conn: write bootstrap turtle record: %w", err)
		}
	}

	walPath := filepath.Join(dir, logFilePrefix+"0000000001")
	wal, err := txn.OpenLogManager(walPath)
	if err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("conn: open log manager: %w", err)
	}
	c.wal = wal

	c.txnMgr = txn.NewManager()
	c.txnMgr.AttachLog(wal)

	cacheMaxPages := cfg.CacheMaxPages
	c.cache = cache.New(cache.Config{MaxPageSize: cacheMaxPages})

	if _, err := txn.Recover(walPath, &recoveryApplier{c: c}); err != nil {
		c.closeHandlesLocked()
		c.closeLocked()
		return nil, fmt.Errorf("conn: recover: %w", err)
	}
	if err := c.restoreFileIDWatermark(); err != nil {
		c.closeHandlesLocked()
		c.closeLocked()
		return nil, err
	}

	return c, nil
}

// loadRoot reads a file's checkpointed root cookie, treating "no
// checkpoint yet" (a brand-new file) as a zero cookie rather than an
// error.
func loadRoot(bm *block.Manager) (block.Cookie, error) {
	root, err := bm.CheckpointLoad()
	if errors.Is(err, block.ErrNotFound) {
		return block.Cookie{}, nil
	}
	return root, err
}

// getHandle returns the cached DataHandle for uri, opening it from the
// metadata store if this is the first reference this connection has
// made to it.
func (c *Connection) getHandle(uri string) (*DataHandle, error) {
	c.handleMu.RLock()
	h, ok := c.handles[uri]
	c.handleMu.RUnlock()
	if ok {
		return h, nil
	}

	c.handleMu.Lock()
	defer c.handleMu.Unlock()
	if h, ok := c.handles[uri]; ok {
		return h, nil
	}

	raw, ok, err := c.meta.Get(uri, btree.Visible(func(uint64) bool { return true }))
	if err != nil {
		return nil, fmt.Errorf("conn: look up %s: %w", uri, err)
	}
	if !ok {
		return nil, fmt.Errorf("conn: %s: %w", uri, btree.ErrNotFound)
	}
	fc, err := meta.DecodeFileConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("conn: decode configuration for %s: %w", uri, err)
	}

	h, err = c.openHandleLocked(uri, fc)
	if err != nil {
		return nil, err
	}
	c.handles[uri] = h
	c.metrics.handlesOpen.Set(float64(len(c.handles)))
	return h, nil
}

func (c *Connection) openHandleLocked(uri string, fc meta.FileConfig) (*DataHandle, error) {
	allocSize := fc.AllocSize
	if allocSize == 0 {
		allocSize = uint32(block.DefaultAllocSize)
	}
	fileName := fmt.Sprintf("%s-%d.wt", uri, fc.ID)
	bm, err := block.Open(filepath.Join(c.dir, fileName), block.Config{AllocSize: allocSize})
	if err != nil {
		return nil, fmt.Errorf("conn: open data file for %s: %w", uri, err)
	}
	root, err := loadRoot(bm)
	if err != nil {
		bm.Close()
		return nil, fmt.Errorf("conn: load checkpoint for %s: %w", uri, err)
	}
	tr, err := btree.OpenRow(fc.ID, bm, root, int(allocSize))
	if err != nil {
		bm.Close()
		return nil, fmt.Errorf("conn: open tree for %s: %w", uri, err)
	}
	ev := cache.NewEvictor(c.cache, bm, cache.EvictorConfig{
		Workers: c.evictorWorkers,
		Visible: btree.Visible(func(uint64) bool { return true }),
		Logger:  c.log,
	})
	ev.Start()
	return newTreeHandle(uri, fc.ID, tr, bm, ev), nil
}

// CreateTable registers a new row-store table at uri with the given
// tagged-record configuration string, under the schema lock.
func (c *Connection) CreateTable(txn Txn, uri, configString string) error {
	c.schemaMu.Lock()
	defer c.schemaMu.Unlock()

	id := c.meta.AllocFileID()
	parsed, err := config.Parse(configString)
	if err != nil {
		return fmt.Errorf("conn: parse table configuration: %w", err)
	}
	allocSize, err := parsed.Int("allocation_size", int(block.DefaultAllocSize))
	if err != nil {
		return fmt.Errorf("conn: table configuration: %w", err)
	}
	fc := meta.FileConfig{ID: id, AllocSize: uint32(allocSize), BlockFormat: "btree"}
	return c.meta.Put(txn, uri, fc.Encode())
}

// Txn is the minimal view the schema operations need of a transaction.
type Txn = meta.Txn

// CreateLSMTree registers a new LSM-backed tree at uri, backed by its
// own chunk file ("<uri>-<id>.lsm" per the spec's file layout) distinct
// from the metadata file.
func (c *Connection) CreateLSMTree(txn Txn, uri string, cfg lsm.Config) (*lsm.Tree, error) {
	c.schemaMu.Lock()
	defer c.schemaMu.Unlock()

	id := c.meta.AllocFileID()
	fc := meta.FileConfig{ID: id, AllocSize: uint32(cfg.PageSize), BlockFormat: "lsm"}
	if err := c.meta.Put(txn, uri, fc.Encode()); err != nil {
		return nil, err
	}

	bm, err := block.Open(filepath.Join(c.dir, fmt.Sprintf("%s-%d.lsm", uri, id)), block.Config{AllocSize: uint32(cfg.PageSize)})
	if err != nil {
		return nil, fmt.Errorf("conn: open lsm file for %s: %w", uri, err)
	}
	t, err := lsm.NewTree(id, bm, cfg)
	if err != nil {
		bm.Close()
		return nil, err
	}
	c.handleMu.Lock()
	h := newLSMHandle(uri, id, t)
	h.BM = bm
	c.handles[uri] = h
	c.metrics.handlesOpen.Set(float64(len(c.handles)))
	c.handleMu.Unlock()
	return t, nil
}

// NewSession opens a new Session bound to this connection.
func (c *Connection) NewSession() *Session {
	s := newSession(c)
	c.sessionMu.Lock()
	c.sessions[s] = struct{}{}
	c.sessionMu.Unlock()
	c.metrics.sessionsOpen.Set(float64(len(c.sessions)))
	return s
}

func (c *Connection) forgetSession(s *Session) {
	c.sessionMu.Lock()
	delete(c.sessions, s)
	n := len(c.sessions)
	c.sessionMu.Unlock()
	c.metrics.sessionsOpen.Set(float64(n))
}

// Close releases every open session and data handle, closes the log and
// metadata files, and releases the directory lock.
func (c *Connection) Close() error {
	c.sessionMu.Lock()
	open := make([]*Session, 0, len(c.sessions))
	for s := range c.sessions {
		open = append(open, s)
	}
	c.sessionMu.Unlock()
	for _, s := range open {
		s.Close() // locks c.sessionMu itself via forgetSession
	}

	c.handleMu.Lock()
	for _, h := range c.handles {
		if h.Tree != nil {
			if err := c.checkpointTree(h); err != nil {
				c.log.Error("conn: checkpoint failed", "uri", h.URI, "err", err)
			}
		}
	}
	c.closeHandlesLocked()
	c.handleMu.Unlock()

	if c.meta != nil && c.metaBM != nil {
		if err := c.checkpointMeta(); err != nil {
			c.log.Error("conn: metadata checkpoint failed", "err", err)
		}
	}

	c.closeLocked()
	return nil
}

// closeHandlesLocked closes every cached data handle's background worker
// and block manager. Callers hold handleMu (or are on the single-threaded
// Open error path, where no other goroutine can see the handles yet).
func (c *Connection) closeHandlesLocked() {
	for _, h := range c.handles {
		h.Close()
	}
}

func (c *Connection) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	if c.wal != nil {
		c.wal.Close()
	}
	if c.metaBM != nil {
		c.metaBM.Close()
	}
	if c.lockFile != nil {
		syscall.Flock(int(c.lockFile.Fd()), syscall.LOCK_UN)
		c.lockFile.Close()
	}
}

// Dir returns the database directory this connection holds open.
func (c *Connection) Dir() string { return c.dir }

// Extensions returns the connection's extension registry.
func (c *Connection) Extensions() *ExtensionRegistry { return c.extensions }
