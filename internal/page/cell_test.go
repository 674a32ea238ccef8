package page

import (
	"bytes"
	"testing"
)

func TestCell_KeyRoundTrip(t *testing.T) {
	c := Cell{Kind: CellKey, Key: []byte("my-key")}
	buf := Encode(c)
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != c.Kind || !bytes.Equal(got.Key, c.Key) {
		t.Fatalf("roundtrip mismatch: %+v vs %+v", got, c)
	}
}

func TestCell_ValueWithRLERoundTrip(t *testing.T) {
	c := Cell{Kind: CellValue, Value: []byte("run-value"), RLECount: 12}
	buf := Encode(c)
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RLECount != 12 || !bytes.Equal(got.Value, c.Value) {
		t.Fatalf("roundtrip mismatch: %+v vs %+v", got, c)
	}
}

func TestCell_PrefixKeyRoundTrip(t *testing.T) {
	c := Cell{Kind: CellPrefixKey, Key: []byte("suffix"), PrefixLen: 4}
	buf := Encode(c)
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PrefixLen != 4 || !bytes.Equal(got.Key, c.Key) {
		t.Fatalf("roundtrip mismatch: %+v vs %+v", got, c)
	}
}

func TestCell_AddressLeafRoundTrip(t *testing.T) {
	c := Cell{Kind: CellAddressLeaf, Key: []byte("sep"), OverflowPageNo: 99}
	buf := Encode(c)
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.OverflowPageNo != 99 || !bytes.Equal(got.Key, c.Key) {
		t.Fatalf("roundtrip mismatch: %+v vs %+v", got, c)
	}
}

func TestCell_DeletedHasNoPayload(t *testing.T) {
	c := Cell{Kind: CellDeleted}
	buf := Encode(c)
	if len(buf) != 1 {
		t.Fatalf("expected 1-byte tombstone cell, got %d bytes", len(buf))
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != CellDeleted {
		t.Fatalf("expected CellDeleted, got %v", got.Kind)
	}
}

func TestDecode_EmptyBufferFails(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatal("expected error decoding empty buffer")
	}
}

func TestLegalForPageType(t *testing.T) {
	cases := []struct {
		kind CellKind
		typ  Type
		want bool
	}{
		{CellKey, TypeRowInternal, true},
		{CellValue, TypeRowInternal, false},
		{CellValue, TypeRowLeaf, true},
		{CellAddressInternal, TypeColInternal, true},
		{CellKey, TypeColFixedLeaf, false},
		{CellValue, TypeColVariableLeaf, true},
	}
	for _, c := range cases {
		if got := LegalForPageType(c.kind, c.typ); got != c.want {
			t.Errorf("LegalForPageType(%v, %v) = %v, want %v", c.kind, c.typ, got, c.want)
		}
	}
}

func TestCellKind_String(t *testing.T) {
	if CellKey.String() != "key" {
		t.Fatalf("unexpected String(): %q", CellKey.String())
	}
}
