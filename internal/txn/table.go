package txn

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrScanBusy is returned when a snapshot scan or oldest-id advance
// collides with the other kind of exclusive scan in progress.
var ErrScanBusy = errors.New("txn: scan count busy")

// slot is one session's publication in the global transaction table:
// the transaction it is currently running, if any, and the snap_min
// it last observed. A scanner reads every slot's current_id to build
// a snapshot without needing per-session locks, the same way
// tinySQL's MVCCManager.activeTxs map is read under its own RWMutex
// rather than one lock per transaction.
type slot struct {
	currentID atomic.Uint64
	snapMin   atomic.Uint64
}

// Manager owns the global transaction table: id allocation, the
// per-session slot array snapshots are built from, and the
// oldest-id watermark reconciliation and lookaside rely on.
type Manager struct {
	mu        sync.Mutex
	slots     []*slot
	nextID    atomic.Uint64
	oldestID  atomic.Uint64
	scanCount atomic.Int64
	log       *LogManager
}

// NewManager creates a transaction table with no log attached. Wire a
// LogManager with AttachLog before committing any logged transaction.
func NewManager() *Manager {
	m := &Manager{}
	m.nextID.Store(1)
	return m
}

// AttachLog wires a LogManager so Commit can emit records.
func (m *Manager) AttachLog(l *LogManager) { m.log = l }

// NewSession allocates a fresh slot in the global transaction table.
func (m *Manager) NewSession() *Session {
	m.mu.Lock()
	s := &slot{}
	m.slots = append(m.slots, s)
	m.mu.Unlock()
	return &Session{mgr: m, slot: s}
}

func (m *Manager) allocateID() ID {
	return ID(m.nextID.Add(1) - 1)
}

// beginScan increments the scan-count guard, refusing if a negative
// (exclusive oldest-id) scan is in progress.
func (m *Manager) beginScan() error {
	for {
		cur := m.scanCount.Load()
		if cur < 0 {
			return ErrScanBusy
		}
		if m.scanCount.CompareAndSwap(cur, cur+1) {
			return nil
		}
	}
}

func (m *Manager) endScan() { m.scanCount.Add(-1) }

// beginExclusiveScan takes the scan-count guard's exclusive (-1)
// value, used by oldest-id advancement, refusing while any reader
// snapshot scan is in flight.
func (m *Manager) beginExclusiveScan() error {
	if !m.scanCount.CompareAndSwap(0, -1) {
		return ErrScanBusy
	}
	return nil
}

func (m *Manager) endExclusiveScan() { m.scanCount.Store(0) }

// newSnapshot scans every live slot's current_id under the scan-count
// guard and builds a Snapshot for owner.
func (m *Manager) newSnapshot(owner ID) Snapshot {
	for m.beginScan() != nil {
		// A background oldest-id advance is mid-flight; it releases
		// quickly, so spin rather than surface ErrScanBusy to callers
		// that never asked to handle it.
		runtime.Gosched()
	}
	defer m.endScan()

	m.mu.Lock()
	slots := m.slots
	m.mu.Unlock()

	snapMax := ID(m.nextID.Load() - 1)
	ids := make([]ID, 0, len(slots))
	for _, s := range slots {
		id := ID(s.currentID.Load())
		if id != None {
			ids = append(ids, id)
		}
	}
	snapMin := snapMax
	for _, id := range ids {
		if id < snapMin {
			snapMin = id
		}
	}
	sortIDs(ids)
	return Snapshot{OwnerID: owner, Min: snapMin, Max: snapMax, IDs: ids}
}

// AdvanceOldest recomputes the oldest-id watermark: the smallest id
// referenced by any live snapshot, i.e. the smallest current_id
// published across all slots, or the next allocation point if none
// are running.
func (m *Manager) AdvanceOldest() (ID, error) {
	if err := m.beginExclusiveScan(); err != nil {
		return 0, err
	}
	defer m.endExclusiveScan()

	m.mu.Lock()
	slots := m.slots
	m.mu.Unlock()

	oldest := ID(m.nextID.Load())
	for _, s := range slots {
		id := ID(s.currentID.Load())
		if id != None && id < oldest {
			oldest = id
		}
	}
	m.oldestID.Store(uint64(oldest))
	return oldest, nil
}

// OldestID returns the last-computed oldest-id watermark.
func (m *Manager) OldestID() ID { return ID(m.oldestID.Load()) }

func sortIDs(ids []ID) {
	// small slices in practice (one per active session); insertion
	// sort avoids pulling in sort.Slice's reflection-based closure
	// overhead for the common few-entry case.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// Session is a thread-bound handle on the global transaction table:
// it publishes the currently-running transaction's id so concurrent
// snapshot scans can see it.
type Session struct {
	mgr  *Manager
	slot *slot
	txn  *Transaction
}

// Begin starts a new transaction bound to this session.
func (s *Session) Begin(isolation Isolation, sync SyncMode) *Transaction {
	t := &Transaction{isolation: isolation, sync: sync, mgr: s.mgr, session: s}
	s.txn = t
	if isolation != ReadUncommitted {
		t.refreshSnapshot()
	}
	return t
}

// publish makes t's id visible to concurrent snapshot scans. Called
// lazily the first time t performs a write, from Transaction.ID via
// the Manager, mirroring the spec's lazy-allocation rule.
func (s *Session) publish(t *Transaction) {
	s.slot.currentID.Store(uint64(t.id))
	s.slot.snapMin.Store(uint64(t.snapMin))
}

// Close clears the session's slot so it stops holding back the
// oldest-id watermark.
func (s *Session) Close() {
	s.slot.currentID.Store(uint64(None))
}
