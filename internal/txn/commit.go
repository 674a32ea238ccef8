package txn

import "fmt"

// Commit durably records the transaction's op log (if logging is
// enabled and at least one write occurred) and releases its
// published snapshot slot. Grounded on storage/wal_advanced.go's
// AdvancedWAL.LogCommit, which likewise appends a commit marker and,
// depending on durability needs, flushes before returning.
func (t *Transaction) Commit() error {
	if t.committed || t.rolledBack {
		return fmt.Errorf("txn: transaction %d already resolved", t.id)
	}
	if t.id != None && t.flags&FlagLogDisabled == 0 && len(t.ops) > 0 && t.mgr.log != nil {
		if err := t.mgr.log.AppendCommit(uint64(t.id), t.ops, t.sync); err != nil {
			t.rollback()
			return fmt.Errorf("txn: commit log write: %w", err)
		}
	}
	t.committed = true
	t.release()
	if t.notify != nil {
		t.notify(true)
	}
	return nil
}

// Abort flips every logged update's txn_id to Aborted, in reverse
// order, and releases the transaction's slot without writing a
// commit record.
func (t *Transaction) Abort() {
	if t.committed || t.rolledBack {
		return
	}
	t.rollback()
	if t.notify != nil {
		t.notify(false)
	}
}

func (t *Transaction) rollback() {
	t.rolledBack = true
	for i := len(t.ops) - 1; i >= 0; i-- {
		markAborted(t.ops[i].Payload)
	}
	t.release()
}

// aborter is implemented by the btree update/insert records LogOp is
// handed, so Abort can flip them without internal/txn importing
// internal/btree.
type aborter interface {
	MarkAborted()
}

func markAborted(payload any) {
	if a, ok := payload.(aborter); ok {
		a.MarkAborted()
	}
}

func (t *Transaction) release() {
	if t.session != nil {
		t.session.slot.currentID.Store(uint64(None))
	}
}
