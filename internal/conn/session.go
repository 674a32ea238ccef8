package conn

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bitbased/archengine-sub001/internal/cache"
	"github.com/bitbased/archengine-sub001/internal/txn"
)

// Session is a thread-bounded handle into a Connection: it owns a
// cursor list, scratch buffers, a hazard-pointer array, and the current
// transaction. Every API call enters through a session, per the spec's
// "all API calls enter through a session, which checks state and
// advances generation counters used for page-index safety."
//
// Grounded on SimonWaldherr-tinySQL's pager/backend.go PageBackend call
// pattern (every load/store path takes the shared pb.mu before touching
// the catalog), generalized into a dedicated per-thread handle so many
// sessions can share one Connection's cache and data handles safely.
type Session struct {
	ID      uuid.UUID // stable identity for log correlation across a session's lifetime
	conn    *Connection
	hazards *cache.HazardSet
	txnSess *txn.Session
	txn     *txn.Transaction

	cursors []*Cursor
	scratch [][]byte

	generation uint64
	closed     atomic.Bool
}

// Cursor is a positioned handle over one open table, the unit every
// read/write/scan API call operates through.
type Cursor struct {
	Handle *DataHandle
	Key    []byte
}

func newSession(c *Connection) *Session {
	return &Session{
		ID:      uuid.New(),
		conn:    c,
		hazards: cache.NewHazardSet(),
		txnSess: c.txnMgr.NewSession(),
	}
}

// Begin starts a new transaction on this session. Only one transaction
// may be active per session at a time.
func (s *Session) Begin(isolation txn.Isolation, sync txn.SyncMode) (*txn.Transaction, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if s.txn != nil {
		return nil, fmt.Errorf("conn: session already has an active transaction")
	}
	s.txn = s.txnSess.Begin(isolation, sync)
	s.generation = s.conn.cache.AdvanceGlobalGen()
	s.conn.cache.Generations().Enter(s.generation)
	return s.txn, nil
}

// Commit commits the session's active transaction.
func (s *Session) Commit() error {
	if s.txn == nil {
		return fmt.Errorf("conn: session has no active transaction")
	}
	err := s.txn.Commit()
	s.endTxn()
	if err == nil {
		s.conn.metrics.txnsCommitted.Inc()
	}
	return err
}

// Abort aborts the session's active transaction.
func (s *Session) Abort() {
	if s.txn == nil {
		return
	}
	s.txn.Abort()
	s.endTxn()
	s.conn.metrics.txnsAborted.Inc()
}

func (s *Session) endTxn() {
	s.conn.cache.Generations().Leave(s.generation)
	s.txn = nil
}

// OpenCursor opens a cursor over uri through this session, acquiring a
// shared hold on the underlying data handle.
func (s *Session) OpenCursor(uri string) (*Cursor, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	h, err := s.conn.getHandle(uri)
	if err != nil {
		return nil, err
	}
	if err := h.AcquireShared(s); err != nil {
		return nil, err
	}
	c := &Cursor{Handle: h}
	s.cursors = append(s.cursors, c)
	s.conn.metrics.cursorsOpened.Inc()
	return c, nil
}

// CloseCursor releases a cursor opened by OpenCursor.
func (s *Session) CloseCursor(c *Cursor) {
	c.Handle.ReleaseShared()
	for i, cur := range s.cursors {
		if cur == c {
			s.cursors = append(s.cursors[:i], s.cursors[i+1:]...)
			return
		}
	}
}

// Scratch returns a reusable byte buffer of at least size n, growing and
// caching it on the session the way a cursor's key/value staging buffer
// is reused across calls to avoid an allocation per operation.
func (s *Session) Scratch(n int) []byte {
	for i, buf := range s.scratch {
		if cap(buf) >= n {
			s.scratch[i] = buf[:n]
			return s.scratch[i]
		}
	}
	buf := make([]byte, n, n*2)
	s.scratch = append(s.scratch, buf)
	return buf
}

// Close releases every cursor still open on this session and closes it.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.Abort()
	for _, c := range append([]*Cursor(nil), s.cursors...) {
		s.CloseCursor(c)
	}
	s.txnSess.Close()
	s.conn.forgetSession(s)
}
