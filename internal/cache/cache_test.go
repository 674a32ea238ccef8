package cache

import (
	"testing"

	"github.com/bitbased/archengine-sub001/internal/block"
	"github.com/bitbased/archengine-sub001/internal/btree"
)

func TestCache_IsHazardedReflectsRegisteredSessions(t *testing.T) {
	c := New(Config{})
	h := c.NewSession()
	ref := btree.NewMemRef(nil)

	if c.IsHazarded(ref) {
		t.Fatal("expected ref to be unhazarded before acquisition")
	}
	if err := h.TryAcquire(ref); err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if !c.IsHazarded(ref) {
		t.Fatal("expected ref to be hazarded once pinned")
	}

	h.Release(ref)
	if c.IsHazarded(ref) {
		t.Fatal("expected ref to be unhazarded after release")
	}
}

func TestCache_VacuumDiscardsOnlyOlderLookasideEntries(t *testing.T) {
	c := New(Config{})
	la := NewLookasideTable()
	addr := block.Cookie{Offset: 1, Size: 8}

	la.PutLookaside(1, addr, 1, 5, []byte("stale"), false)
	la.PutLookaside(1, addr, 2, 50, []byte("fresh"), false)

	discarded := c.Vacuum(la, 10)
	if discarded != 1 {
		t.Fatalf("expected 1 entry reclaimed, got %d", discarded)
	}
	if la.Len() != 1 {
		t.Fatalf("expected 1 entry remaining, got %d", la.Len())
	}
}

func TestCache_CloseSessionForgetsItsHazards(t *testing.T) {
	c := New(Config{})
	h := c.NewSession()
	ref := btree.NewMemRef(nil)
	h.TryAcquire(ref)

	c.CloseSession(h)
	if c.IsHazarded(ref) {
		t.Fatal("expected CloseSession to drop the session's hazards")
	}
}

func TestCache_TouchBumpsReadGenAboveCurrent(t *testing.T) {
	c := New(Config{})
	for i := 0; i < 5; i++ {
		c.AdvanceGlobalGen()
	}
	ref := btree.NewMemRef(nil)
	c.Touch(ref)
	if ref.ReadGen() <= c.GlobalGen() {
		t.Fatalf("expected read_gen above global gen %d, got %d", c.GlobalGen(), ref.ReadGen())
	}
}

func TestCache_TouchSkipsForceEvictRef(t *testing.T) {
	c := New(Config{})
	for i := 0; i < 5; i++ {
		c.AdvanceGlobalGen()
	}
	ref := btree.NewMemRef(nil)
	ref.MarkForceEvict()
	c.Touch(ref)
	if ref.ReadGen() != 0 {
		t.Fatalf("expected force-evict ref's read_gen to stay untouched, got %d", ref.ReadGen())
	}
}

func TestAcquire_ResolvesPinsAndTouches(t *testing.T) {
	tr, err := btree.OpenRow(1, nil, block.Cookie{}, 8192)
	if err != nil {
		t.Fatalf("OpenRow: %v", err)
	}
	c := New(Config{})
	h := c.NewSession()

	p, err := Acquire(tr, h, c, tr.Root())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if p == nil {
		t.Fatal("expected a resolved page")
	}
	if !h.Holds(tr.Root()) {
		t.Fatal("expected Acquire to pin the root ref")
	}
}
