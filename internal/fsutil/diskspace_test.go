package fsutil

import (
	"path/filepath"
	"testing"
)

func TestMemoryFileSystem_Glob(t *testing.T) {
	mfs := NewMemoryFileSystem()

	files := []string{"/scan/a.dada", "/scan/b.dada", "/scan/notes.txt", "/other/c.dada"}
	for _, f := range files {
		if err := mfs.WriteFile(f, []byte("x"), 0644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	matches, err := mfs.Glob("/scan/*.dada")
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}

	want := []string{"/scan/a.dada", "/scan/b.dada"}
	if len(matches) != len(want) {
		t.Fatalf("expected %d matches, got %d: %v", len(want), len(matches), matches)
	}
	for i := range want {
		if matches[i] != want[i] {
			t.Errorf("matches[%d] = %q, want %q", i, matches[i], want[i])
		}
	}

	if _, err := mfs.Glob("[bad"); err == nil {
		t.Error("expected error for malformed pattern")
	}
}

func TestOSFileSystem_Glob(t *testing.T) {
	fs := OSFileSystem{}
	tmpDir := t.TempDir()

	for _, name := range []string{"b.dada", "a.dada", "c.txt"} {
		if err := fs.WriteFile(filepath.Join(tmpDir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	matches, err := fs.Glob(filepath.Join(tmpDir, "*.dada"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}

	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d: %v", len(matches), matches)
	}

	if filepath.Base(matches[0]) != "a.dada" || filepath.Base(matches[1]) != "b.dada" {
		t.Errorf("expected sorted matches, got %v", matches)
	}
}

func TestCurrentDiskUsage(t *testing.T) {
	usage, err := CurrentDiskUsage(t.TempDir())
	if err != nil {
		t.Fatalf("CurrentDiskUsage failed: %v", err)
	}

	if usage.Total == 0 {
		t.Error("expected non-zero total")
	}

	if usage.Used > usage.Total {
		t.Errorf("used (%d) exceeds total (%d)", usage.Used, usage.Total)
	}
}

func TestCurrentDiskUsage_BadPath(t *testing.T) {
	if _, err := CurrentDiskUsage("/nonexistent/path/xyz"); err == nil {
		t.Error("expected error for non-existent path")
	}
}

func TestFiller_FillAndCleanup(t *testing.T) {
	mfs := NewMemoryFileSystem()
	filler := NewFiller(mfs, "/mnt/dsp")

	// 1500 bytes rounds up to two 1 KiB blocks.
	if err := filler.Fill(1500); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}

	info, err := mfs.Stat("/mnt/dsp/zero_00.txt")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 2048 {
		t.Errorf("expected 2048 bytes, got %d", info.Size())
	}

	// A second fill gets its own file.
	if err := filler.Fill(100); err != nil {
		t.Fatalf("second Fill failed: %v", err)
	}
	if !mfs.Exists("/mnt/dsp/zero_01.txt") {
		t.Error("expected second fill file to exist")
	}

	filler.Cleanup()

	if mfs.Exists("/mnt/dsp/zero_00.txt") || mfs.Exists("/mnt/dsp/zero_01.txt") {
		t.Error("expected fill files to be removed")
	}

	// Cleanup with nothing to do is fine.
	filler.Cleanup()
}
