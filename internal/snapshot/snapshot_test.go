package snapshot

import (
	"testing"

	"github.com/archivarius/archivarius/internal/contentref"
)

func TestStateAddAndGetRefIfExist(t *testing.T) {
	dir := t.TempDir()
	st, err := NewEmpty(dir, Filters{Compressed: true})
	if err != nil {
		t.Fatalf("NewEmpty() error = %v", err)
	}

	ref := &contentref.Ref{ContentFileName: "c1", From: 0, To: 10}
	st.Add(File{
		Path:         "a/b.txt",
		Type:         TypeFile,
		HasModTime:   true,
		ModTimeNanos: 1000,
		ContentRef:   ref,
	})

	got, ok := st.GetRefIfExist("a/b.txt", 1000)
	if !ok || got != ref {
		t.Fatalf("GetRefIfExist() = %v, %v, want %v, true", got, ok, ref)
	}

	if _, ok := st.GetRefIfExist("a/b.txt", 1001); ok {
		t.Errorf("GetRefIfExist() with mismatched mtime returned ok=true")
	}
	if _, ok := st.GetRefIfExist("missing", 1000); ok {
		t.Errorf("GetRefIfExist() for missing path returned ok=true")
	}
}

func TestStateAddOverwritesByPath(t *testing.T) {
	dir := t.TempDir()
	st, err := NewEmpty(dir, Filters{Compressed: true})
	if err != nil {
		t.Fatalf("NewEmpty() error = %v", err)
	}

	st.Add(File{Path: "a", Type: TypeFile, HasModTime: true, ModTimeNanos: 1})
	st.Add(File{Path: "a", Type: TypeFile, HasModTime: true, ModTimeNanos: 2})

	files := st.Files()
	if len(files) != 1 {
		t.Fatalf("Files() len = %d, want 1", len(files))
	}
	if files[0].ModTimeNanos != 2 {
		t.Errorf("ModTimeNanos = %d, want 2", files[0].ModTimeNanos)
	}
}

func TestStateCommitAndLoad(t *testing.T) {
	dir := t.TempDir()
	st, err := NewEmpty(dir, Filters{Compressed: true})
	if err != nil {
		t.Fatalf("NewEmpty() error = %v", err)
	}

	ref := contentref.Ref{ContentFileName: "c1", From: 42, To: 100}
	st.Add(File{Path: "dir", Type: TypeDir, HasPermissions: true, UnixPermissions: 0o755})
	st.Add(File{
		Path:            "dir/file.bin",
		Type:            TypeFile,
		HasModTime:      true,
		ModTimeNanos:    123456789,
		HasPermissions:  true,
		UnixPermissions: 0o644,
		ContentRef:      &ref,
	})
	st.Add(File{Path: "dir/link", Type: TypeSymlink, SymlinkTarget: "file.bin"})

	if err := st.Commit(dir); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	resolveCalls := 0
	resolve := func(fname string, from uint64) (*contentref.Ref, error) {
		resolveCalls++
		if fname != "c1" || from != 42 {
			t.Fatalf("resolve called with (%q, %d), want (c1, 42)", fname, from)
		}
		return &ref, nil
	}

	loaded, err := Load(dir, st.FileName(), st.TimeCreatedNanos(), st.Filters(), resolve)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.NumFiles() != 3 {
		t.Fatalf("NumFiles() = %d, want 3", loaded.NumFiles())
	}
	if resolveCalls != 1 {
		t.Errorf("resolve called %d times, want 1", resolveCalls)
	}

	got, ok := loaded.GetRefIfExist("dir/file.bin", 123456789)
	if !ok {
		t.Fatalf("GetRefIfExist() after Load() returned ok=false")
	}
	if got.ContentFileName != "c1" || got.From != 42 {
		t.Errorf("loaded ref = %+v, want ContentFileName=c1 From=42", got)
	}
}

func TestStateCommitRefusesExistingFile(t *testing.T) {
	dir := t.TempDir()
	st, err := NewEmpty(dir, Filters{Compressed: true})
	if err != nil {
		t.Fatalf("NewEmpty() error = %v", err)
	}
	if err := st.Commit(dir); err != nil {
		t.Fatalf("first Commit() error = %v", err)
	}
	if err := st.Commit(dir); err == nil {
		t.Fatalf("second Commit() to the same name succeeded, want error")
	}
}

func TestSortedByPath(t *testing.T) {
	files := []File{{Path: "b"}, {Path: "a"}, {Path: "c"}}
	sorted := SortedByPath(files)
	if sorted[0].Path != "a" || sorted[1].Path != "b" || sorted[2].Path != "c" {
		t.Errorf("SortedByPath() = %v, want a, b, c order", sorted)
	}
	if files[0].Path != "b" {
		t.Errorf("SortedByPath() mutated its input")
	}
}
