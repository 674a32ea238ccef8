package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/bitbased/archengine-sub001/internal/block"
	"github.com/bitbased/archengine-sub001/internal/btree"
	pg "github.com/bitbased/archengine-sub001/internal/page"
)

func openTestBlockManager(t *testing.T) *block.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evict.arch")
	m, err := block.Open(path, block.Config{AllocSize: 512})
	if err != nil {
		t.Fatalf("block.Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func alwaysVisible(uint64) bool { return true }

func buildLeafWithRef(t *testing.T, keys ...string) *btree.Ref {
	t.Helper()
	buf := make([]byte, pg.DefaultPageSize)
	img := pg.New(buf, pg.TypeRowLeaf)
	for _, k := range keys {
		if _, err := img.Append(pg.Encode(pg.Cell{Kind: pg.CellKey, Key: []byte(k)})); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	p, err := btree.BuildPage(img, pg.TypeRowLeaf)
	if err != nil {
		t.Fatalf("BuildPage: %v", err)
	}
	return btree.NewMemRef(p)
}

func TestEvictor_ReplacesCleanPageAndPublishesDisk(t *testing.T) {
	bm := openTestBlockManager(t)
	c := New(Config{})
	ref := buildLeafWithRef(t, "apple", "mango")

	ev := NewEvictor(c, bm, EvictorConfig{Workers: 1, Visible: alwaysVisible})
	ev.Start()
	defer ev.Stop()

	if !ev.Submit(EvictCandidate{Ref: ref, TreeID: 1, Mode: btree.Evicting}) {
		t.Fatal("expected Submit to accept the candidate")
	}

	waitForState(t, ref, btree.StateDisk)
	if ref.Page() != nil {
		t.Fatal("expected the in-memory page to be discarded after eviction")
	}
}

func TestEvictor_SkipsHazardedPage(t *testing.T) {
	bm := openTestBlockManager(t)
	c := New(Config{})
	ref := buildLeafWithRef(t, "apple")

	h := c.NewSession()
	if err := h.TryAcquire(ref); err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	ev := NewEvictor(c, bm, EvictorConfig{Workers: 1, Visible: alwaysVisible})
	ev.Start()
	defer ev.Stop()

	ev.Submit(EvictCandidate{Ref: ref, TreeID: 1, Mode: btree.Evicting})
	time.Sleep(20 * time.Millisecond)

	if ref.State() != btree.StateMem {
		t.Fatalf("expected a hazarded page to stay resident, got %v", ref.State())
	}
}

func TestEvictor_EmptyPageMarksDeleted(t *testing.T) {
	bm := openTestBlockManager(t)
	c := New(Config{})
	ref := btree.NewMemRef(&btree.Page{Type: pg.TypeRowLeaf})

	ev := NewEvictor(c, bm, EvictorConfig{Workers: 1, Visible: alwaysVisible})
	ev.Start()
	defer ev.Stop()

	ev.Submit(EvictCandidate{Ref: ref, TreeID: 1, Mode: btree.Evicting})
	waitForState(t, ref, btree.StateDeleted)
}

func waitForState(t *testing.T, ref *btree.Ref, want btree.RefState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ref.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, got %v", want, ref.State())
}
