package catalogue

import (
	"os"
	"testing"

	"github.com/archivarius/archivarius/internal/contentref"
	"github.com/archivarius/archivarius/internal/snapshot"
)

func openTest(t *testing.T, dir string, password []byte) *Catalogue {
	t.Helper()
	c, err := Open(dir, password, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestOpenEmptyArchiveIsEmpty(t *testing.T) {
	dir := t.TempDir()
	c := openTest(t, dir, nil)

	if c.NumStates() != 0 {
		t.Errorf("NumStates() = %d, want 0", c.NumStates())
	}
	if c.Encrypted() {
		t.Errorf("Encrypted() = true for a non-password archive")
	}
}

func TestOpenRefusesSecondLock(t *testing.T) {
	dir := t.TempDir()
	c := openTest(t, dir, nil)

	if _, err := Open(dir, nil, nil); err == nil {
		t.Fatalf("second Open() on a locked archive succeeded, want error")
	}
	_ = c
}

func TestAddSnapshotBumpsRefCounts(t *testing.T) {
	dir := t.TempDir()
	c := openTest(t, dir, nil)

	st, err := c.EmptyFsState()
	if err != nil {
		t.Fatalf("EmptyFsState() error = %v", err)
	}
	ref := &contentref.Ref{ContentFileName: "c1", From: 0, To: 5, SpaceTaken: 5}
	st.Add(snapshot.File{Path: "a.txt", Type: snapshot.TypeFile, HasModTime: true, ModTimeNanos: 1, ContentRef: ref})
	if err := st.Commit(dir); err != nil {
		t.Fatalf("st.Commit() error = %v", err)
	}
	c.AddSnapshot(st)

	if c.NumStates() != 1 {
		t.Fatalf("NumStates() = %d, want 1", c.NumStates())
	}
	got, ok := c.Refs().Get(contentref.Key{ContentFileName: "c1", From: 0})
	if !ok {
		t.Fatalf("ref not found after AddSnapshot")
	}
	if got.RefCount != 1 {
		t.Errorf("RefCount = %d, want 1", got.RefCount)
	}

	// Adding a second snapshot reusing the same ref bumps the count again.
	st2, err := c.EmptyFsState()
	if err != nil {
		t.Fatalf("EmptyFsState() error = %v", err)
	}
	st2.Add(snapshot.File{Path: "a.txt", Type: snapshot.TypeFile, HasModTime: true, ModTimeNanos: 1, ContentRef: ref})
	if err := st2.Commit(dir); err != nil {
		t.Fatalf("st2.Commit() error = %v", err)
	}
	c.AddSnapshot(st2)

	got, _ = c.Refs().Get(contentref.Key{ContentFileName: "c1", From: 0})
	if got.RefCount != 2 {
		t.Errorf("RefCount after second AddSnapshot = %d, want 2", got.RefCount)
	}
	if c.NumStates() != 2 {
		t.Fatalf("NumStates() = %d, want 2", c.NumStates())
	}
	// Index 0 must be the most recently added snapshot.
	if c.Snapshots()[0].Name != st2.FileName() {
		t.Errorf("Snapshots()[0] = %q, want newest %q", c.Snapshots()[0].Name, st2.FileName())
	}
}

func TestRemoveSnapshotMustBeOldest(t *testing.T) {
	dir := t.TempDir()
	c := openTest(t, dir, nil)

	for i := 0; i < 2; i++ {
		st, err := c.EmptyFsState()
		if err != nil {
			t.Fatalf("EmptyFsState() error = %v", err)
		}
		if err := st.Commit(dir); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
		c.AddSnapshot(st)
	}

	if err := c.RemoveSnapshot(0); err == nil {
		t.Fatalf("RemoveSnapshot(0) on a 2-snapshot archive succeeded, want InconsistentState")
	}
	if err := c.RemoveSnapshot(1); err != nil {
		t.Fatalf("RemoveSnapshot(1) (the oldest) error = %v", err)
	}
	if c.NumStates() != 1 {
		t.Errorf("NumStates() after removal = %d, want 1", c.NumStates())
	}
}

func TestCommitAndReopenRoundTrips(t *testing.T) {
	dir := t.TempDir()
	c := openTest(t, dir, nil)

	st, err := c.EmptyFsState()
	if err != nil {
		t.Fatalf("EmptyFsState() error = %v", err)
	}
	ref := &contentref.Ref{ContentFileName: "c1", From: 0, To: 5, SpaceTaken: 5}
	st.Add(snapshot.File{Path: "a.txt", Type: snapshot.TypeFile, HasModTime: true, ModTimeNanos: 1, ContentRef: ref})
	if err := st.Commit(dir); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	c.AddSnapshot(st)

	if err := c.Commit(); err != nil {
		t.Fatalf("catalogue Commit() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(dir, nil, nil)
	if err != nil {
		t.Fatalf("reopen Open() error = %v", err)
	}
	defer reopened.Close()

	if reopened.NumStates() != 1 {
		t.Fatalf("reopened NumStates() = %d, want 1", reopened.NumStates())
	}
	rref, ok := reopened.Refs().Get(contentref.Key{ContentFileName: "c1", From: 0})
	if !ok {
		t.Fatalf("reopened catalogue missing content ref")
	}
	if rref.RefCount != 1 || rref.To != 5 || rref.SpaceTaken != 5 {
		t.Errorf("reopened ref = %+v, want RefCount=1 To=5 SpaceTaken=5", rref)
	}
}

func TestCommitRejectsZeroRefCount(t *testing.T) {
	dir := t.TempDir()
	c := openTest(t, dir, nil)
	c.refs.Insert(contentref.Ref{ContentFileName: "c1", From: 0, To: 1, SpaceTaken: 1, RefCount: 0})

	if err := c.Commit(); err == nil {
		t.Fatalf("Commit() with a zero-RefCount ref succeeded, want InconsistentState")
	}
}

func TestCleanUpRemovesUnreferencedFiles(t *testing.T) {
	dir := t.TempDir()
	c := openTest(t, dir, nil)

	stray := dir + "/strayfile"
	if err := writeFileFsync(stray, []byte("x")); err != nil {
		t.Fatalf("writeFileFsync() error = %v", err)
	}
	c.CleanUp()

	if _, err := os.Stat(stray); err == nil {
		t.Errorf("stray file still exists after CleanUp()")
	}
}
