package lsm

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Priority is one of the three work queues the spec names: switches
// must happen promptly so writers are never blocked long on a full
// chunk, application work (flush, merge) can wait behind switches, and
// manager work (deciding what to enqueue next) runs last and least
// often.
type Priority int

const (
	PrioritySwitch Priority = iota
	PriorityApplication
	PriorityManager
	priorityCount
)

// WorkFunc is one unit of background work a queue holds.
type WorkFunc func(ctx context.Context) error

// WorkQueue is the three-priority work queue a Manager's worker pool
// drains: switch work first, then application (flush/merge) work, then
// manager bookkeeping. Grounded on dd0wney-graphdb's flushChan/
// compactionChan pair, generalized from two fixed channels to three
// priority-ordered lists so one worker pool can serve all of them
// instead of needing one goroutine per channel.
type WorkQueue struct {
	mu    sync.Mutex
	lists [priorityCount]*list.List
	cond  *sync.Cond
	stop  bool
}

// NewWorkQueue returns an empty queue.
func NewWorkQueue() *WorkQueue {
	q := &WorkQueue{}
	for i := range q.lists {
		q.lists[i] = list.New()
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues fn at the given priority and wakes one waiting worker.
func (q *WorkQueue) Push(p Priority, fn WorkFunc) {
	q.mu.Lock()
	q.lists[p].PushBack(fn)
	q.mu.Unlock()
	q.cond.Signal()
}

// pop blocks until work is available (highest priority first) or the
// queue is stopped, in which case ok is false.
func (q *WorkQueue) pop() (fn WorkFunc, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		for p := 0; p < int(priorityCount); p++ {
			if el := q.lists[p].Front(); el != nil {
				q.lists[p].Remove(el)
				return el.Value.(WorkFunc), true
			}
		}
		if q.stop {
			return nil, false
		}
		q.cond.Wait()
	}
}

// Len reports the number of items queued at priority p, used by the
// manager thread to size throttles and decide what to inject next.
func (q *WorkQueue) Len(p Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lists[p].Len()
}

// Stop wakes every blocked worker so it can observe the stop flag and
// return.
func (q *WorkQueue) Stop() {
	q.mu.Lock()
	q.stop = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Pool runs a fixed number of workers draining a WorkQueue, joined with
// an errgroup. A work item that returns an error is logged and its
// worker moves on to the next item, so Run returns nil once the queue
// stops.
type Pool struct {
	q       *WorkQueue
	workers int
	log     *slog.Logger
}

// NewPool returns a pool of workers workers draining q.
func NewPool(q *WorkQueue, workers int, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{q: q, workers: workers, log: log}
}

// Run drains q with p.workers goroutines until ctx is canceled or
// q.Stop is called, then returns nil; work-item errors are logged, not
// returned. Canceling ctx stops the queue so blocked workers wake up; q.Stop
// called directly (with ctx left running) stops them just the same,
// since pop is what every worker actually blocks on.
func (p *Pool) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	go func() {
		<-gctx.Done()
		p.q.Stop()
	}()

	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for {
				fn, ok := p.q.pop()
				if !ok {
					return nil
				}
				if err := fn(gctx); err != nil {
					p.log.Error("lsm work item failed", "error", err)
				}
			}
		})
	}
	return g.Wait()
}

// Manager drives the three-queue worker pool against one Tree: on every
// ticker interval it pushes a switch when the tree reports NeedSwitch
// (the switch item then queues a flush of the switched-out chunk),
// recomputes the throttles from the active chunk count, pushes a merge
// when SelectMergeWindow finds a window, and drops retired chunks that
// are Droppable. It does not look at queue depth or at the time since
// the last push. This generalizes dd0wney-graphdb's manager-less
// flushWorker/compactionWorker pair into one explicit decision loop.
type Manager struct {
	tree      *Tree
	queue     *WorkQueue
	throttle  *Throttle
	interval  time.Duration
	onFlush   func(*Chunk) error
	onMerge   func([]*Chunk, *Chunk) error
	nextTxnID func() uint64
}

// NewManager wires a Manager for tree, calling onFlush when a switched
// chunk should be checkpointed and onMerge when a merge window has
// been folded into a replacement chunk. nextTxnID allocates the
// transaction id a chunk switch stamps as its switch_txn_id — normally
// backed by an internal/txn.Session's Begin(...).ID(), since a switch
// must close the old chunk under a real transaction id for the global
// snapshot machinery to eventually make it visible to readers.
func NewManager(tree *Tree, queue *WorkQueue, interval time.Duration, nextTxnID func() uint64, onFlush func(*Chunk) error, onMerge func([]*Chunk, *Chunk) error) *Manager {
	return &Manager{tree: tree, queue: queue, throttle: &Throttle{}, interval: interval, nextTxnID: nextTxnID, onFlush: onFlush, onMerge: onMerge}
}

// Run injects manager-priority work every interval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Manager) tick() {
	if m.tree.NeedSwitch() {
		m.queue.Push(PrioritySwitch, func(ctx context.Context) error {
			old, err := m.tree.Switch(m.nextTxnID())
			if err != nil {
				return err
			}
			m.queue.Push(PriorityApplication, func(ctx context.Context) error {
				if m.onFlush == nil {
					return nil
				}
				return m.onFlush(old)
			})
			return nil
		})
	}

	chunks := m.tree.Chunks()
	m.throttle.UpdateCheckpoint(len(chunks), m.tree.cfg.MergeMin, time.Microsecond)
	m.throttle.UpdateMerge(len(chunks), m.tree.cfg)

	if window := SelectMergeWindow(chunks, m.tree.cfg); window != nil {
		w := append([]*Chunk(nil), window...)
		m.queue.Push(PriorityApplication, func(ctx context.Context) error {
			merged, err := m.tree.Merge(w)
			if err != nil {
				return err
			}
			m.tree.RetireWindow(w, merged)
			if m.onMerge != nil {
				return m.onMerge(w, merged)
			}
			return nil
		})
	}

	for _, dropped := range m.tree.DropRetired() {
		m.markDropped(dropped)
	}
}

func (m *Manager) markDropped(c *Chunk) {
	c.SetFlag(ChunkOnDisk)
}

