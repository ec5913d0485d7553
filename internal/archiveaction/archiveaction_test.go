package archiveaction

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/archivarius/archivarius/internal/catalogue"
)

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestRunArchivesFreshTree(t *testing.T) {
	root := t.TempDir()
	archivePath := t.TempDir()

	mustWriteFile(t, filepath.Join(root, "a.txt"), "hello")
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	mustWriteFile(t, filepath.Join(root, "sub", "b.txt"), "world")

	opts := Options{ArchivePath: archivePath, Root: root}
	if err := Run(opts); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	cat, err := catalogue.Open(archivePath, nil, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer cat.Close()

	if cat.NumStates() != 1 {
		t.Fatalf("NumStates() = %d, want 1", cat.NumStates())
	}
	st, err := cat.FsState(0)
	if err != nil {
		t.Fatalf("FsState(0) error = %v", err)
	}
	if st.NumFiles() != 3 {
		t.Errorf("NumFiles() = %d, want 3 (a.txt, sub, sub/b.txt)", st.NumFiles())
	}
}

func TestRunRefusesEmptySnapshot(t *testing.T) {
	root := t.TempDir()
	archivePath := t.TempDir()

	opts := Options{ArchivePath: archivePath, Root: root}
	if err := Run(opts); err == nil {
		t.Fatalf("Run() on an empty tree succeeded, want InconsistentState")
	}
}

func TestRunDedupsUnchangedFiles(t *testing.T) {
	root := t.TempDir()
	archivePath := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.txt"), "hello")

	opts := Options{ArchivePath: archivePath, Root: root}
	if err := Run(opts); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if err := Run(opts); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	cat, err := catalogue.Open(archivePath, nil, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer cat.Close()

	if cat.Refs().Len() != 1 {
		t.Fatalf("Refs().Len() = %d, want 1 (second run should dedup, not add new content)", cat.Refs().Len())
	}
	ref, ok := cat.Refs().Get(cat.Refs().Sorted()[0].KeyOf())
	if !ok {
		t.Fatalf("missing ref")
	}
	if ref.RefCount != 2 {
		t.Errorf("RefCount = %d, want 2 (referenced by both snapshots)", ref.RefCount)
	}
}

func TestRunPrunesAgedSnapshots(t *testing.T) {
	root := t.TempDir()
	archivePath := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.txt"), "hello")

	opts := Options{ArchivePath: archivePath, Root: root, HasMaxStorageTime: true, MaxStorageTimeSeconds: 0}
	if err := Run(opts); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	mustWriteFile(t, filepath.Join(root, "a.txt"), "hello again")
	if err := Run(opts); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	cat, err := catalogue.Open(archivePath, nil, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer cat.Close()

	if cat.NumStates() != 1 {
		t.Errorf("NumStates() = %d, want 1 (max-storage-time=0 prunes everything older than the new snapshot)", cat.NumStates())
	}
}

func TestRunWarnsOnMissingExplicitPath(t *testing.T) {
	root := t.TempDir()
	archivePath := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.txt"), "hello")

	var warnings []string
	opts := Options{
		ArchivePath:    archivePath,
		Root:           root,
		FilesToArchive: []string{"a.txt", "missing.txt"},
		OnWarning:      func(msg string) { warnings = append(warnings, msg) },
	}
	if err := Run(opts); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(warnings) == 0 {
		t.Errorf("expected a warning about the missing explicit path")
	}
}
