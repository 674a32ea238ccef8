package cache

import (
	"bytes"
	"testing"

	"github.com/bitbased/archengine-sub001/internal/block"
)

func TestLookasideTable_PrefixScanReturnsOnlyMatchingAddress(t *testing.T) {
	l := NewLookasideTable()
	addrA := block.Cookie{Offset: 100, Size: 512}
	addrB := block.Cookie{Offset: 200, Size: 512}

	if err := l.PutLookaside(1, addrA, 1, 10, []byte("v1"), false); err != nil {
		t.Fatalf("PutLookaside: %v", err)
	}
	if err := l.PutLookaside(1, addrA, 2, 11, []byte("v2"), false); err != nil {
		t.Fatalf("PutLookaside: %v", err)
	}
	if err := l.PutLookaside(1, addrB, 1, 12, []byte("other"), false); err != nil {
		t.Fatalf("PutLookaside: %v", err)
	}

	got := l.PrefixScan(1, addrA)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for addrA, got %d", len(got))
	}
	for _, e := range got {
		if e.Addr != addrA {
			t.Fatalf("unexpected entry address: %+v", e.Addr)
		}
	}
}

func TestLookasideTable_PutOverwritesSameKey(t *testing.T) {
	l := NewLookasideTable()
	addr := block.Cookie{Offset: 1, Size: 8}
	l.PutLookaside(1, addr, 1, 5, []byte("first"), false)
	l.PutLookaside(1, addr, 1, 5, []byte("second"), false)

	got := l.PrefixScan(1, addr)
	if len(got) != 1 {
		t.Fatalf("expected overwrite to keep one entry, got %d", len(got))
	}
	if !bytes.Equal(got[0].Value, []byte("second")) {
		t.Fatalf("expected the overwritten value, got %q", got[0].Value)
	}
}

func TestLookasideTable_DiscardBeforeRemovesOldEntries(t *testing.T) {
	l := NewLookasideTable()
	addr := block.Cookie{Offset: 1, Size: 8}
	l.PutLookaside(1, addr, 1, 5, []byte("old"), false)
	l.PutLookaside(1, addr, 2, 50, []byte("new"), false)

	discarded := l.DiscardBefore(10)
	if discarded != 1 {
		t.Fatalf("expected 1 discarded entry, got %d", discarded)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", l.Len())
	}
	remaining := l.PrefixScan(1, addr)
	if len(remaining) != 1 || remaining[0].TxnID != 50 {
		t.Fatalf("expected only the newer entry to remain, got %+v", remaining)
	}
}

func TestLookasideTable_PrefixScanEmptyWhenNothingMatches(t *testing.T) {
	l := NewLookasideTable()
	got := l.PrefixScan(99, block.Cookie{Offset: 1})
	if len(got) != 0 {
		t.Fatalf("expected no matches, got %d", len(got))
	}
}
