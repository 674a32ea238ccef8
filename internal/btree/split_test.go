package btree

import (
	"testing"

	pg "github.com/bitbased/archengine-sub001/internal/page"
)

func TestSplitLeaf_FansOutSortedAcrossSubLeaves(t *testing.T) {
	p := buildRowLeaf(t, "banana", "date", "kiwi", "mango", "peach", "quince")
	p.home = NewMemRef(p) // a page only ever reaches Reconcile/split once resolved into a ref
	before := CurrentSplitGeneration()

	refs, seps := SplitLeaf(p, 3, alwaysVisible)
	if len(refs) != 3 {
		t.Fatalf("expected 3 sub-leaves, got %d", len(refs))
	}
	if len(seps) != 3 {
		t.Fatalf("expected 3 separators, got %d", len(seps))
	}
	if p.home.State() != StateSplit {
		t.Fatalf("expected the original page's ref to move to StateSplit, got %v", p.home.State())
	}
	if CurrentSplitGeneration() != before+1 {
		t.Fatalf("expected the split generation to advance by 1")
	}

	total := 0
	for _, r := range refs {
		if r.State() != StateMem {
			t.Fatalf("expected sub-leaf refs to be StateMem, got %v", r.State())
		}
		total += len(r.Page().Cells)
	}
	if total != 6 {
		t.Fatalf("expected all 6 entries distributed across sub-leaves, got %d", total)
	}
}

func TestSplitLeaf_EmptyPageReturnsNothing(t *testing.T) {
	p := &Page{Type: pg.TypeRowLeaf}
	refs, seps := SplitLeaf(p, 3, alwaysVisible)
	if refs != nil || seps != nil {
		t.Fatalf("expected no split output for an empty page, got refs=%v seps=%v", refs, seps)
	}
}

func TestSplitLeaf_CarriesForwardUpdateListValueNotStaleOnPageBytes(t *testing.T) {
	p := buildRowLeaf(t, "banana", "date", "kiwi", "mango", "peach", "quince")
	p.home = NewMemRef(p)

	slot := SearchLeafRow(p, []byte("kiwi")).Slot
	m := p.ensureModify()
	m.mu.Lock()
	m.updateHeads[slot] = &UpdateRecord{TxnID: 1, Value: []byte("kiwi-updated")}
	m.mu.Unlock()

	refs, _ := SplitLeaf(p, 3, alwaysVisible)
	found := false
	for _, r := range refs {
		for _, c := range r.Page().Cells {
			if string(c.Key) == "kiwi" {
				found = true
				if string(c.Value) != "kiwi-updated" {
					t.Fatalf("expected split to carry forward the updated value, got %q", c.Value)
				}
			}
		}
	}
	if !found {
		t.Fatal("expected to find the kiwi key in a sub-leaf")
	}
}

func TestReverseSplit_CollapsesWhenMostlyDeleted(t *testing.T) {
	refs := []*Ref{
		NewMemRef(&Page{}),
		NewMemRef(&Page{}),
		NewMemRef(&Page{}),
	}
	refs[0].state.Store(int32(StateDeleted))
	idx := NewPageIndex(refs)

	collapsed := ReverseSplit(idx)
	if !collapsed {
		t.Fatal("expected a collapse with 1 of 3 refs deleted")
	}
	if idx.Len() != 2 {
		t.Fatalf("expected 2 live refs after collapse, got %d", idx.Len())
	}
}

func TestReverseSplit_NoOpBelowThreshold(t *testing.T) {
	refs := make([]*Ref, 20)
	for i := range refs {
		refs[i] = NewMemRef(&Page{})
	}
	refs[0].state.Store(int32(StateDeleted)) // 1/20 = 5%, below the 10% threshold
	idx := NewPageIndex(refs)

	if ReverseSplit(idx) {
		t.Fatal("expected no collapse below the 10% deleted threshold")
	}
	if idx.Len() != 20 {
		t.Fatalf("expected the index to remain unchanged, got %d refs", idx.Len())
	}
}

func TestReverseSplit_NoOpWithSingleRef(t *testing.T) {
	idx := NewPageIndex([]*Ref{NewMemRef(&Page{})})
	if ReverseSplit(idx) {
		t.Fatal("expected no collapse with only one ref")
	}
}
