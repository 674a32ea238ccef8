package meta

import "testing"

func TestSchemaTracker_RollbackUndoesCreate(t *testing.T) {
	s := newTestStore(t)
	tr := NewSchemaTracker(s)

	if err := s.Put(fakeTxn{1}, "table:orders", "id=1"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	tr.TrackCreate("table:orders")

	if err := tr.Rollback(fakeTxn{2}); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, ok, _ := s.Get("table:orders", alwaysVisible); ok {
		t.Fatal("expected created entry to be removed by rollback")
	}
}

func TestSchemaTracker_RollbackUndoesDrop(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(fakeTxn{1}, "table:orders", "id=1"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	tr := NewSchemaTracker(s)
	tr.TrackDrop("table:orders", "id=1")
	if err := s.Drop(fakeTxn{2}, "table:orders"); err != nil {
		t.Fatalf("Drop: %v", err)
	}

	if err := tr.Rollback(fakeTxn{3}); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	got, ok, err := s.Get("table:orders", alwaysVisible)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got != "id=1" {
		t.Fatalf("expected dropped entry restored as id=1, got %q ok=%v", got, ok)
	}
}

func TestSchemaTracker_RollbackUndoesRename(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(fakeTxn{1}, "table:orders", "id=1"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	tr := NewSchemaTracker(s)
	if err := s.Rename(fakeTxn{2}, "table:orders", "table:orders_v2"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	tr.TrackRename("table:orders", "table:orders_v2")

	if err := tr.Rollback(fakeTxn{3}); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, ok, _ := s.Get("table:orders_v2", alwaysVisible); ok {
		t.Fatal("expected renamed uri to be gone after rollback")
	}
	got, ok, err := s.Get("table:orders", alwaysVisible)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got != "id=1" {
		t.Fatalf("expected original uri restored as id=1, got %q ok=%v", got, ok)
	}
}

func TestSchemaTracker_RollbackRunsInReverseOrder(t *testing.T) {
	s := newTestStore(t)
	tr := NewSchemaTracker(s)

	// Simulate a multi-step rename chain: orders -> orders_v2 -> orders_v3.
	if err := s.Put(fakeTxn{1}, "table:orders", "id=1"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Rename(fakeTxn{2}, "table:orders", "table:orders_v2"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	tr.TrackRename("table:orders", "table:orders_v2")
	if err := s.Rename(fakeTxn{3}, "table:orders_v2", "table:orders_v3"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	tr.TrackRename("table:orders_v2", "table:orders_v3")

	if err := tr.Rollback(fakeTxn{4}); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	got, ok, err := s.Get("table:orders", alwaysVisible)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got != "id=1" {
		t.Fatalf("expected the chain fully unwound back to table:orders, got %q ok=%v", got, ok)
	}
}

func TestSchemaTracker_ResetClearsSteps(t *testing.T) {
	s := newTestStore(t)
	tr := NewSchemaTracker(s)
	if err := s.Put(fakeTxn{1}, "table:orders", "id=1"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	tr.TrackCreate("table:orders")
	tr.Reset()

	if err := tr.Rollback(fakeTxn{2}); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	got, ok, err := s.Get("table:orders", alwaysVisible)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got != "id=1" {
		t.Fatalf("expected Reset to make Rollback a no-op, got %q ok=%v", got, ok)
	}
}

func TestSchemaTracker_TrackPutRestoresPrevious(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(fakeTxn{1}, "table:orders", "id=1,count=10"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	tr := NewSchemaTracker(s)
	tr.TrackPut("table:orders", true, "id=1,count=10")
	if err := s.Put(fakeTxn{2}, "table:orders", "id=1,count=0"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := tr.Rollback(fakeTxn{3}); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	got, ok, err := s.Get("table:orders", alwaysVisible)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got != "id=1,count=10" {
		t.Fatalf("expected pre-truncate value restored, got %q ok=%v", got, ok)
	}
}
