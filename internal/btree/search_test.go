package btree

import (
	"testing"

	pg "github.com/bitbased/archengine-sub001/internal/page"
)

func buildRowLeaf(t *testing.T, keys ...string) *Page {
	t.Helper()
	cells := make([]pg.Cell, len(keys))
	for i, k := range keys {
		cells[i] = pg.Cell{Kind: pg.CellKey, Key: []byte(k)}
	}
	img := buildImage(t, pg.TypeRowLeaf, cells)
	p, err := BuildPage(img, pg.TypeRowLeaf)
	if err != nil {
		t.Fatalf("BuildPage: %v", err)
	}
	return p
}

func buildRowInternal(t *testing.T, keys ...string) *Page {
	t.Helper()
	cells := make([]pg.Cell, len(keys))
	for i, k := range keys {
		cells[i] = pg.Cell{Kind: pg.CellKey, Key: []byte(k)}
	}
	img := buildImage(t, pg.TypeRowInternal, cells)
	p, err := BuildPage(img, pg.TypeRowInternal)
	if err != nil {
		t.Fatalf("BuildPage: %v", err)
	}
	return p
}

func TestSearchInternalRow_DescendsToCorrectChild(t *testing.T) {
	p := buildRowInternal(t, "", "m", "t")
	cases := []struct {
		key  string
		want int
	}{
		{"a", 0},
		{"m", 1},
		{"n", 1},
		{"t", 2},
		{"zz", 2},
	}
	for _, c := range cases {
		idx, err := SearchInternalRow(p, []byte(c.key))
		if err != nil {
			t.Fatalf("SearchInternalRow(%q): %v", c.key, err)
		}
		if idx != c.want {
			t.Errorf("SearchInternalRow(%q) = %d, want %d", c.key, idx, c.want)
		}
	}
}

func TestSearchInternalRow_EmptyPageErrors(t *testing.T) {
	p := &Page{Type: pg.TypeRowInternal}
	if _, err := SearchInternalRow(p, []byte("x")); err == nil {
		t.Fatal("expected error on empty internal page")
	}
}

func TestSearchLeafRow_ExactMatch(t *testing.T) {
	p := buildRowLeaf(t, "apple", "mango", "zebra")
	res := SearchLeafRow(p, []byte("mango"))
	if res.Compare != 0 || res.Slot != 1 {
		t.Fatalf("expected exact match at slot 1, got %+v", res)
	}
}

func TestSearchLeafRow_NoMatchReportsInsertionPoint(t *testing.T) {
	p := buildRowLeaf(t, "apple", "mango", "zebra")
	res := SearchLeafRow(p, []byte("carrot"))
	if res.Compare == 0 {
		t.Fatal("expected no exact match")
	}
	if res.Slot != 1 {
		t.Fatalf("expected insertion point at slot 1, got %d", res.Slot)
	}
}

func TestSearchLeafRow_FindsKeyInInsertList(t *testing.T) {
	p := buildRowLeaf(t, "apple", "zebra")
	ins := &InsertRecord{Key: []byte("mango"), UpdateHead: &UpdateRecord{TxnID: 1, Value: []byte("v")}}
	m := p.ensureModify()
	m.inserts.Insert(func(a, b *InsertRecord) bool { return string(a.Key) < string(b.Key) }, ins)

	res := SearchLeafRow(p, []byte("mango"))
	if res.Compare != 0 || res.Insert == nil {
		t.Fatalf("expected exact match via insert list, got %+v", res)
	}
}

func TestSearchColumnVariable_FindsRunContainingRecno(t *testing.T) {
	img := buildImage(t, pg.TypeColVariableLeaf, []pg.Cell{
		{Kind: pg.CellValue, Value: []byte("a"), RLECount: 5},
		{Kind: pg.CellValue, Value: []byte("b"), RLECount: 3},
	})
	p, err := BuildPage(img, pg.TypeColVariableLeaf)
	if err != nil {
		t.Fatalf("BuildPage: %v", err)
	}
	slot, ok := SearchColumnVariable(p, 7)
	if !ok || slot != 1 {
		t.Fatalf("expected slot 1 for recno 7, got slot=%d ok=%v", slot, ok)
	}
	if _, ok := SearchColumnVariable(p, 100); ok {
		t.Fatal("expected no match past the end of all runs")
	}
	if _, ok := SearchColumnVariable(p, 0); ok {
		t.Fatal("expected no match for reserved recno 0")
	}
}

func TestSearchColumnFixed_ComputesOffset(t *testing.T) {
	p := &Page{recnoStart: 10, bitsPerValue: 4}
	off, ok := SearchColumnFixed(p, 12)
	if !ok || off != 8 {
		t.Fatalf("expected offset 8, got off=%d ok=%v", off, ok)
	}
	if _, ok := SearchColumnFixed(p, 5); ok {
		t.Fatal("expected no match before recnoStart")
	}
}
