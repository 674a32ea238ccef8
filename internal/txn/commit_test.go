package txn

import (
	"testing"

	"github.com/bitbased/archengine-sub001/internal/block"
	"github.com/bitbased/archengine-sub001/internal/btree"
)

func TestTransaction_AbortMarksInstalledUpdatesAborted(t *testing.T) {
	tr, err := btree.OpenRow(1, nil, block.Cookie{}, 8192)
	if err != nil {
		t.Fatalf("OpenRow: %v", err)
	}
	m := NewManager()
	s := m.NewSession()
	tx := s.Begin(IsolationSnapshot, SyncNone)

	if err := tr.Put(tx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(tx.ops) != 1 {
		t.Fatalf("expected 1 logged op, got %d", len(tx.ops))
	}

	tx.Abort()

	upd, ok := tx.ops[0].Payload.(*btree.UpdateRecord)
	if !ok {
		t.Fatalf("expected the logged op's payload to be an *btree.UpdateRecord, got %T", tx.ops[0].Payload)
	}
	if upd.TxnID != btree.AbortedTxnID {
		t.Fatalf("expected Abort to flip the installed update's txn id, got %d", upd.TxnID)
	}
}

func TestTransaction_CommitWithoutLogManagerStillReleasesSlot(t *testing.T) {
	m := NewManager()
	s := m.NewSession()
	tx := s.Begin(IsolationSnapshot, SyncNone)
	id := tx.ID()
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	oldest, err := m.AdvanceOldest()
	if err != nil {
		t.Fatalf("AdvanceOldest: %v", err)
	}
	if oldest == ID(id) {
		t.Fatal("expected a committed transaction's released slot to stop pinning the oldest-id watermark")
	}
}

func TestTransaction_DoubleCommitErrors(t *testing.T) {
	m := NewManager()
	s := m.NewSession()
	tx := s.Begin(IsolationSnapshot, SyncNone)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := tx.Commit(); err == nil {
		t.Fatal("expected a second Commit on an already-resolved transaction to error")
	}
}
