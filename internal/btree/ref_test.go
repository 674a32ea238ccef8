package btree

import (
	"testing"

	"github.com/bitbased/archengine-sub001/internal/block"
)

func TestRef_NewDiskRefStartsInDiskState(t *testing.T) {
	r := NewDiskRef(block.Cookie{Offset: 4096, Size: 512})
	if r.State() != StateDisk {
		t.Fatalf("expected StateDisk, got %v", r.State())
	}
	if r.Addr().Offset != 4096 {
		t.Fatalf("unexpected address: %+v", r.Addr())
	}
}

func TestRef_NewMemRefStartsInMemState(t *testing.T) {
	p := &Page{Type: 0}
	r := NewMemRef(p)
	if r.State() != StateMem {
		t.Fatalf("expected StateMem, got %v", r.State())
	}
	if r.Page() != p {
		t.Fatal("Page() did not return the installed page")
	}
}

func TestRef_CASTransitionsOnlyOnMatch(t *testing.T) {
	r := NewDiskRef(block.Cookie{})
	if !r.CAS(StateDisk, StateReading) {
		t.Fatal("expected CAS from StateDisk to succeed")
	}
	if r.CAS(StateDisk, StateMem) {
		t.Fatal("expected CAS from stale state to fail")
	}
	if r.State() != StateReading {
		t.Fatalf("expected StateReading after failed CAS, got %v", r.State())
	}
}

func TestRef_PublishMemSetsHomeAndState(t *testing.T) {
	r := NewDiskRef(block.Cookie{})
	r.CAS(StateDisk, StateReading)
	p := &Page{}
	r.PublishMem(p)
	if r.State() != StateMem {
		t.Fatalf("expected StateMem, got %v", r.State())
	}
	if p.home != r {
		t.Fatal("PublishMem did not set page.home back to the ref")
	}
}

func TestPageIndex_SwapBumpsGeneration(t *testing.T) {
	r1 := NewMemRef(&Page{})
	idx := NewPageIndex([]*Ref{r1})
	if idx.Generation() != 0 {
		t.Fatalf("expected generation 0, got %d", idx.Generation())
	}
	r2 := NewMemRef(&Page{})
	gen := idx.Swap([]*Ref{r2})
	if gen != 1 {
		t.Fatalf("expected generation 1 after swap, got %d", gen)
	}
	if idx.Len() != 1 || idx.At(0) != r2 {
		t.Fatal("Swap did not install the new ref slice")
	}
	if r2.home != idx {
		t.Fatal("Swap did not set the new ref's home")
	}
}

func TestPageIndex_SnapshotIsIndependentOfLiveArray(t *testing.T) {
	r1 := NewMemRef(&Page{})
	idx := NewPageIndex([]*Ref{r1})
	snap := idx.Snapshot()
	idx.Swap([]*Ref{NewMemRef(&Page{})})
	if len(snap) != 1 || snap[0] != r1 {
		t.Fatal("snapshot should be unaffected by a later Swap")
	}
}
