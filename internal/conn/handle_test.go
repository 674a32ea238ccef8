package conn

import "testing"

func TestDataHandle_SharedThenExclusiveIsBusy(t *testing.T) {
	h := &DataHandle{URI: "table:t"}
	s1, s2 := &Session{}, &Session{}

	if err := h.AcquireShared(s1); err != nil {
		t.Fatalf("AcquireShared: %v", err)
	}
	if err := h.AcquireExclusive(s2); err == nil {
		t.Fatal("expected exclusive acquire to fail while a shared hold is active")
	}
	h.ReleaseShared()
	if err := h.AcquireExclusive(s2); err != nil {
		t.Fatalf("AcquireExclusive after release: %v", err)
	}
	h.ReleaseExclusive(s2)
}

func TestDataHandle_ExclusiveIsReentrantForSameSession(t *testing.T) {
	h := &DataHandle{URI: "table:t"}
	s := &Session{}

	if err := h.AcquireExclusive(s); err != nil {
		t.Fatalf("AcquireExclusive: %v", err)
	}
	if err := h.AcquireExclusive(s); err != nil {
		t.Fatalf("re-entrant AcquireExclusive: %v", err)
	}
	h.ReleaseExclusive(s)
	// Still held once more (depth 2 -> 1); a second session must still be denied.
	other := &Session{}
	if err := h.AcquireShared(other); err == nil {
		t.Fatal("expected shared acquire to be denied while exclusive depth > 0")
	}
	h.ReleaseExclusive(s)
	if err := h.AcquireShared(other); err != nil {
		t.Fatalf("AcquireShared after full release: %v", err)
	}
}

func TestDataHandle_ExclusiveDeniedWhileSharedByOtherSession(t *testing.T) {
	h := &DataHandle{URI: "table:t"}
	reader := &Session{}
	writer := &Session{}

	if err := h.AcquireShared(reader); err != nil {
		t.Fatalf("AcquireShared: %v", err)
	}
	// Any shared hold refuses an exclusive acquire; here the exclusive
	// request comes from a different session than the reader.
	if err := h.AcquireExclusive(writer); err == nil {
		t.Fatal("expected exclusive acquire from a different session to be denied")
	}
}

func TestDataHandle_RefCountTracksSharedHolds(t *testing.T) {
	h := &DataHandle{URI: "table:t"}
	s1, s2 := &Session{}, &Session{}

	h.AcquireShared(s1)
	h.AcquireShared(s2)
	if h.RefCount() != 2 {
		t.Fatalf("expected refcount 2, got %d", h.RefCount())
	}
	h.ReleaseShared()
	if h.RefCount() != 1 {
		t.Fatalf("expected refcount 1, got %d", h.RefCount())
	}
}
