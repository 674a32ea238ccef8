// Package txn implements snapshot-isolation transactions, the global
// transaction table, write-ahead logging, and crash recovery.
//
// The visibility machinery is grounded on tinySQL's storage/mvcc.go
// (TxID/Timestamp/TxContext/IsVisible), generalized from tinySQL's
// commit-log-lookup model to a single sorted snapshot array so a
// reader never needs to consult a shared commit-log map to decide
// visibility. The WAL wire format and recovery loop are grounded on
// storage/wal_advanced.go's AdvancedWAL (LSN ordering, before/after
// images, checksum-guarded records, two-pass-style replay), adapted
// to the op-kind vocabulary a key-value engine needs instead of a
// row-oriented one.
package txn

import (
	"math"

	"github.com/bitbased/archengine-sub001/internal/btree"
)

// ID is a transaction identifier: a monotonically increasing 64-bit
// integer allocated lazily on a transaction's first write.
type ID uint64

const (
	// None marks "no transaction" — the owner of values written
	// outside any transaction, or a Ref/update with no writer yet.
	None ID = 0
	// Aborted is spliced onto an update's txn_id when its owning
	// transaction rolls back, so concurrent readers stop treating it
	// as live without needing to consult the transaction table.
	Aborted ID = math.MaxUint64
)

// Isolation selects how aggressively a transaction's snapshot is
// refreshed.
type Isolation uint8

const (
	// ReadUncommitted sees any update whose txn_id is not Aborted,
	// regardless of snapshot membership.
	ReadUncommitted Isolation = iota
	// ReadCommitted refreshes the transaction's snapshot before every
	// operation rather than pinning one at Begin.
	ReadCommitted
	// IsolationSnapshot pins one snapshot at Begin and uses it for
	// the life of the transaction.
	IsolationSnapshot
)

// SyncMode controls how aggressively Commit durably persists its log
// record before returning.
type SyncMode uint8

const (
	// SyncNone returns as soon as the record is copied into the
	// shared log buffer; durability depends entirely on the slot
	// coalescing worker later flushing it.
	SyncNone SyncMode = iota
	// SyncBackground registers the slot for the next background
	// fsync batch and returns immediately.
	SyncBackground
	// SyncDsync writes the record from the shared log buffer to the
	// log file before Commit returns. OpenLogManager does not open the
	// file for write-through I/O and no fsync is issued, so the record
	// can still sit in the operating system's cache.
	SyncDsync
	// SyncFsync synchronously fsyncs the log file before Commit
	// returns.
	SyncFsync
)

// OpKind enumerates the write operations an op log or WAL commit
// record can carry.
type OpKind uint8

const (
	OpRowPut OpKind = iota + 1
	OpRowRemove
	OpRowTruncate
	OpColPut
	OpColRemove
	OpColTruncate
)

// OpRecord is one entry in a transaction's in-memory op log: enough
// to drive WAL emission on commit and to identify, on abort, which
// update to flip to Aborted.
type OpRecord struct {
	Kind    OpKind
	FileID  uint64
	Payload any // *btree.UpdateRecord or *btree.InsertRecord, set by the caller that performed the write
	Keys    []byte
	Recno   uint64 // set instead of Keys for column-store ops
	Value   []byte
}

// Flags records per-transaction behavior bits independent of
// isolation level.
type Flags uint8

const (
	FlagReadOnly Flags = 1 << iota
	FlagLogDisabled
)

// Transaction is a single unit of work against the engine. It
// satisfies btree.Txn so Modify can log directly against it.
type Transaction struct {
	id         ID
	owner      *Transaction
	snapMin    ID
	snapMax    ID
	snapshot   []ID // sorted, excludes None
	isolation  Isolation
	sync       SyncMode
	flags      Flags
	ops        []OpRecord
	notify     func(committed bool)
	mgr        *Manager
	session    *Session
	committed  bool
	rolledBack bool
}

// ID returns the transaction's id, allocating it lazily on first
// write via the owning Manager and publishing it to the global
// transaction table so concurrent snapshot scans observe it.
func (t *Transaction) ID() uint64 {
	if t.id == None {
		t.id = t.mgr.allocateID()
		if t.session != nil {
			t.session.publish(t)
		}
	}
	return uint64(t.id)
}

// LogOp appends an operation to the transaction's in-memory op log.
// Put/Remove hand it a *btree.WriteOp; it is accepted as `any` so
// internal/btree's Txn interface need not import internal/txn.
func (t *Transaction) LogOp(op any) {
	if w, ok := op.(*btree.WriteOp); ok {
		if w.Recno != 0 {
			// Column-store write: recno 0 is reserved, so a non-zero
			// Recno unambiguously distinguishes it from a row write.
			kind := OpColPut
			if w.Remove {
				kind = OpColRemove
			}
			t.ops = append(t.ops, OpRecord{Kind: kind, FileID: w.TreeID, Recno: w.Recno, Value: w.Value, Payload: w.Update})
			return
		}
		kind := OpRowPut
		if w.Remove {
			kind = OpRowRemove
		}
		t.ops = append(t.ops, OpRecord{Kind: kind, FileID: w.TreeID, Keys: w.Key, Value: w.Value, Payload: w.Update})
		return
	}
	t.ops = append(t.ops, OpRecord{Payload: op})
}

// Isolation reports the transaction's isolation level.
func (t *Transaction) Isolation() Isolation { return t.isolation }

// Snapshot returns the visibility snapshot currently in effect. Under
// ReadCommitted this refreshes the snapshot first.
func (t *Transaction) Snapshot() Snapshot {
	if t.isolation == ReadCommitted {
		t.refreshSnapshot()
	}
	return Snapshot{OwnerID: t.id, Min: t.snapMin, Max: t.snapMax, IDs: t.snapshot, ReadUncommitted: t.isolation == ReadUncommitted}
}

// Visible returns a btree.Visible-compatible closure bound to this
// transaction's current snapshot.
func (t *Transaction) Visible() func(uint64) bool {
	snap := t.Snapshot()
	return func(writer uint64) bool { return snap.Visible(ID(writer)) }
}

func (t *Transaction) refreshSnapshot() {
	s := t.mgr.newSnapshot(t.id)
	t.snapMin, t.snapMax, t.snapshot = s.Min, s.Max, s.IDs
}

// SetNotify installs a callback invoked once Commit or Abort has
// resolved the transaction.
func (t *Transaction) SetNotify(fn func(committed bool)) { t.notify = fn }
