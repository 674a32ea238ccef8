package meta

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTurtle_ReadMissingIsEmpty(t *testing.T) {
	tr := OpenTurtle(filepath.Join(t.TempDir(), "ArchEngine.turtle"))
	entries, err := tr.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %v", entries)
	}
}

func TestTurtle_WriteReadRoundTrip(t *testing.T) {
	tr := OpenTurtle(filepath.Join(t.TempDir(), "ArchEngine.turtle"))
	want := map[string]string{
		"file:ArchEngine.wt": "id=0,allocation_size=4096,checkpoint=(addr=abcd)",
	}
	if err := tr.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := tr.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got["file:ArchEngine.wt"] != want["file:ArchEngine.wt"] {
		t.Fatalf("round trip mismatch: got %v, want %v", got, want)
	}
}

func TestTurtle_WriteOverwritesPreviousContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ArchEngine.turtle")
	tr := OpenTurtle(path)
	if err := tr.Write(map[string]string{"file:a": "id=1"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tr.Write(map[string]string{"file:b": "id=2"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := tr.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, ok := got["file:a"]; ok {
		t.Fatal("expected first write's entry to be fully replaced")
	}
	if got["file:b"] != "id=2" {
		t.Fatalf("expected second write's entry, got %v", got)
	}
}

func TestTurtle_WriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ArchEngine.turtle")
	tr := OpenTurtle(path)
	if err := tr.Write(map[string]string{"file:a": "id=1"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(path + ".set"); !os.IsNotExist(err) {
		t.Fatalf("expected no %q temp file after Write, stat err = %v", path+".set", err)
	}
	if tr.Dir() != dir {
		t.Fatalf("expected Dir() = %q, got %q", dir, tr.Dir())
	}
}
