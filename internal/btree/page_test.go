package btree

import (
	"testing"

	pg "github.com/bitbased/archengine-sub001/internal/page"
)

func buildImage(t *testing.T, typ pg.Type, cells []pg.Cell) *pg.Image {
	t.Helper()
	buf := make([]byte, pg.DefaultPageSize)
	img := pg.New(buf, typ)
	for _, c := range cells {
		if _, err := img.Append(pg.Encode(c)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	return img
}

func TestBuildPage_RowInternalAcceptsIncreasingKeys(t *testing.T) {
	img := buildImage(t, pg.TypeRowInternal, []pg.Cell{
		{Kind: pg.CellKey, Key: []byte("")},
		{Kind: pg.CellKey, Key: []byte("m")},
		{Kind: pg.CellKey, Key: []byte("z")},
	})
	p, err := BuildPage(img, pg.TypeRowInternal)
	if err != nil {
		t.Fatalf("BuildPage: %v", err)
	}
	if len(p.Cells) != 3 {
		t.Fatalf("expected 3 cells, got %d", len(p.Cells))
	}
	if len(p.Children) != 3 {
		t.Fatalf("expected 3 children refs, got %d", len(p.Children))
	}
	for _, c := range p.Children {
		if c.State() != StateDisk {
			t.Fatalf("expected freshly built children to be StateDisk, got %v", c.State())
		}
	}
}

func TestBuildPage_RejectsNonIncreasingKeys(t *testing.T) {
	img := buildImage(t, pg.TypeRowInternal, []pg.Cell{
		{Kind: pg.CellKey, Key: []byte("m")},
		{Kind: pg.CellKey, Key: []byte("a")},
	})
	if _, err := BuildPage(img, pg.TypeRowInternal); err == nil {
		t.Fatal("expected error for non-increasing keys")
	}
}

func TestBuildPage_RejectsIllegalCellKind(t *testing.T) {
	img := buildImage(t, pg.TypeRowInternal, []pg.Cell{
		{Kind: pg.CellValue, Value: []byte("nope")},
	})
	if _, err := BuildPage(img, pg.TypeRowInternal); err == nil {
		t.Fatal("expected error for a value cell on an internal page")
	}
}

func TestBuildPage_ColumnFixedLeafCopiesRawSlab(t *testing.T) {
	buf := make([]byte, pg.DefaultPageSize)
	for i := range buf {
		buf[i] = byte(i)
	}
	img := pg.Wrap(buf)
	p, err := BuildPage(img, pg.TypeColFixedLeaf)
	if err != nil {
		t.Fatalf("BuildPage: %v", err)
	}
	if len(p.bitSlab) != len(buf) {
		t.Fatalf("expected full-buffer bit slab, got %d bytes", len(p.bitSlab))
	}
}

func TestBuildPage_ColumnVariableBuildsRLEIndex(t *testing.T) {
	img := buildImage(t, pg.TypeColVariableLeaf, []pg.Cell{
		{Kind: pg.CellValue, Value: []byte("run-a"), RLECount: 5},
		{Kind: pg.CellValue, Value: []byte("run-b"), RLECount: 3},
	})
	p, err := BuildPage(img, pg.TypeColVariableLeaf)
	if err != nil {
		t.Fatalf("BuildPage: %v", err)
	}
	if len(p.rleIndex) != 2 {
		t.Fatalf("expected 2 RLE index entries, got %d", len(p.rleIndex))
	}
	if p.rleIndex[0].startRec != 1 || p.rleIndex[1].startRec != 6 {
		t.Fatalf("unexpected RLE start records: %+v", p.rleIndex)
	}
}

func TestPage_EnsureModifyInstallsOnce(t *testing.T) {
	p := &Page{Type: pg.TypeRowLeaf}
	m1 := p.ensureModify()
	m2 := p.ensureModify()
	if m1 != m2 {
		t.Fatal("ensureModify installed a second modifyState")
	}
}

func TestPage_MarkDirtyAndDirty(t *testing.T) {
	p := &Page{}
	if p.Dirty() {
		t.Fatal("expected a fresh page to be clean")
	}
	p.MarkDirty()
	if !p.Dirty() {
		t.Fatal("expected MarkDirty to mark the page dirty")
	}
}
