package cache

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bitbased/archengine-sub001/internal/block"
	"github.com/bitbased/archengine-sub001/internal/btree"
)

// EvictCandidate is one page an eviction worker should try to reconcile
// and discard.
type EvictCandidate struct {
	Ref    *btree.Ref
	TreeID uint64
	Mode   btree.ReconcileMode
}

// EvictorConfig configures an Evictor.
type EvictorConfig struct {
	Workers     int
	QueueSize   int
	MaxPageSize int
	Visible     btree.Visible
	Lookaside   btree.LookasideWriter
	Logger      *slog.Logger
}

// Evictor is the background worker pool walking eviction candidates,
// acquiring each Ref exclusively, reconciling it under the mode the
// caller chose, and on success discarding the in-memory page.
//
// Grounded on tinySQL's concurrency.go/scheduler.go background-goroutine
// shape (channel of work items, bounded worker count, stop channel), with
// slog structured logging per the ambient logging convention for this
// codebase's worker pools.
type Evictor struct {
	cache  *Cache
	bm     *block.Manager
	cfg    EvictorConfig
	queue  chan EvictCandidate
	wg     sync.WaitGroup
	stop   chan struct{}
	logger *slog.Logger
}

// NewEvictor returns an Evictor bound to bm for writing reconciled pages.
func NewEvictor(c *Cache, bm *block.Manager, cfg EvictorConfig) *Evictor {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Evictor{
		cache:  c,
		bm:     bm,
		cfg:    cfg,
		queue:  make(chan EvictCandidate, cfg.QueueSize),
		stop:   make(chan struct{}),
		logger: logger,
	}
}

// Start launches the worker goroutines.
func (e *Evictor) Start() {
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
}

// Stop signals every worker to exit and waits for them to drain.
func (e *Evictor) Stop() {
	close(e.stop)
	e.wg.Wait()
}

// Submit enqueues a candidate, returning false if the queue is full (the
// "stall on EBUSY" case forced eviction's caller must handle by backing
// off and retrying).
func (e *Evictor) Submit(cand EvictCandidate) bool {
	select {
	case e.queue <- cand:
		return true
	default:
		return false
	}
}

func (e *Evictor) worker(id int) {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case cand := <-e.queue:
			e.evictOne(id, cand)
		}
	}
}

func (e *Evictor) evictOne(workerID int, cand EvictCandidate) {
	ref := cand.Ref
	if !ref.CAS(btree.StateMem, btree.StateLocked) {
		return // lost the race, or the ref moved on to a terminal state
	}

	if e.cache.IsHazarded(ref) {
		ref.CAS(btree.StateLocked, btree.StateMem)
		return
	}

	page := ref.Page()
	maxPageSize := e.cfg.MaxPageSize
	if maxPageSize == 0 {
		maxPageSize = 8192
	}
	res, err := btree.Reconcile(page, e.bm, cand.TreeID, cand.Mode, e.cfg.Visible, e.cfg.Lookaside, maxPageSize)
	if err != nil {
		e.logger.Error("evict: reconcile failed", "worker", workerID, "tree_id", cand.TreeID, "err", err)
		ref.CAS(btree.StateLocked, btree.StateMem)
		return
	}

	switch res.Kind {
	case btree.ResultEmpty:
		ref.MarkDeleted()
	case btree.ResultReplace:
		ref.PublishDisk(res.Cookie)
	case btree.ResultMultiBlock:
		// Installing the new sub-pages into the parent's PageIndex is a
		// tree-level operation (it needs the parent and this ref's slot),
		// which the eviction worker does not have here; leave the page
		// resident and let a future higher-level pass drive the split.
		e.logger.Warn("evict: multi-block result needs tree-level split, leaving page resident",
			"worker", workerID, "tree_id", cand.TreeID)
		ref.CAS(btree.StateLocked, btree.StateMem)
	}
}

// RunSweep walks candidates (e.g. from a page-list scan the caller drives)
// and submits each one until ctx is done or the candidate channel closes.
func (e *Evictor) RunSweep(ctx context.Context, candidates <-chan EvictCandidate) {
	for {
		select {
		case <-ctx.Done():
			return
		case cand, ok := <-candidates:
			if !ok {
				return
			}
			e.Submit(cand)
		}
	}
}
