package meta

import (
	"testing"

	"github.com/bitbased/archengine-sub001/internal/block"
)

type fakeTxn struct{ id uint64 }

func (f fakeTxn) ID() uint64     { return f.id }
func (f fakeTxn) LogOp(op any)   {}

func alwaysVisible(uint64) bool { return true }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(nil, block.Cookie{}, 8192)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestStore_PutGet(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(fakeTxn{1}, "table:orders", "id=3,allocation_size=4096"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := s.Get("table:orders", alwaysVisible)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected entry to be found")
	}
	if got != "id=3,allocation_size=4096" {
		t.Fatalf("unexpected value %q", got)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get("table:missing", alwaysVisible)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected entry to be absent")
	}
}

func TestStore_Drop(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(fakeTxn{1}, "table:orders", "id=3"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Drop(fakeTxn{2}, "table:orders"); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	_, ok, err := s.Get("table:orders", alwaysVisible)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected entry to be dropped")
	}
}

func TestStore_Rename(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(fakeTxn{1}, "table:orders", "id=3"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Rename(fakeTxn{2}, "table:orders", "table:orders_v2"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, ok, _ := s.Get("table:orders", alwaysVisible); ok {
		t.Fatal("expected old uri to be gone")
	}
	got, ok, err := s.Get("table:orders_v2", alwaysVisible)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got != "id=3" {
		t.Fatalf("expected renamed entry id=3, got %q ok=%v", got, ok)
	}
}

func TestStore_RenameMissingErrors(t *testing.T) {
	s := newTestStore(t)
	if err := s.Rename(fakeTxn{1}, "table:missing", "table:new"); err == nil {
		t.Fatal("expected an error renaming a missing uri")
	}
}

func TestStore_AllocFileID(t *testing.T) {
	s := newTestStore(t)
	a := s.AllocFileID()
	b := s.AllocFileID()
	if b != a+1 {
		t.Fatalf("expected monotonic ids, got %d then %d", a, b)
	}
}

func TestStore_RestoreFileIDWatermark(t *testing.T) {
	s := newTestStore(t)
	s.AllocFileID() // 1
	s.RestoreFileIDWatermark(100)
	next := s.AllocFileID()
	if next != 101 {
		t.Fatalf("expected watermark to advance allocation to 101, got %d", next)
	}
	// A lower watermark must never move the counter backwards.
	s.RestoreFileIDWatermark(5)
	next2 := s.AllocFileID()
	if next2 != 102 {
		t.Fatalf("expected watermark restore to be a no-op when lower, got %d", next2)
	}
}

func TestFileConfig_EncodeDecodeRoundTrip(t *testing.T) {
	fc := FileConfig{ID: 7, AllocSize: 4096, BlockFormat: "btree", FeatureBits: 3}
	encoded := fc.Encode()
	decoded, err := DecodeFileConfig(encoded)
	if err != nil {
		t.Fatalf("DecodeFileConfig: %v", err)
	}
	if decoded.ID != fc.ID || decoded.AllocSize != fc.AllocSize || decoded.BlockFormat != fc.BlockFormat || decoded.FeatureBits != fc.FeatureBits {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, fc)
	}
}

func TestFileConfig_EncodeWithCheckpoints(t *testing.T) {
	fc := FileConfig{ID: 1, Checkpoints: []string{"ckpt-1", "ckpt-2"}}
	encoded := fc.Encode()
	if encoded == "" {
		t.Fatal("expected non-empty encoding")
	}
	decoded, err := DecodeFileConfig(encoded)
	if err != nil {
		t.Fatalf("DecodeFileConfig: %v", err)
	}
	if decoded.ID != 1 {
		t.Fatalf("expected id 1, got %d", decoded.ID)
	}
}
