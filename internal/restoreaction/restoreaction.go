// Package restoreaction implements the Restore and Test Actions
// (spec.md §4.7): reading a snapshot back out to disk, and verifying
// an archive's internal consistency without writing archive data.
//
// Grounded in original_source/archivarius/restore.c++ and
// original_source/src/catalogue.c++'s ref-count bookkeeping for the
// test/verify pass; the four-pass restore ordering (directories,
// content-bearing files grouped by Content-Ref, symlinks/empty files,
// then attributes in reverse path order) follows restore.c++ exactly.
package restoreaction

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/archivarius/archivarius/internal/archerr"
	"github.com/archivarius/archivarius/internal/catalogue"
	"github.com/archivarius/archivarius/internal/checksum"
	"github.com/archivarius/archivarius/internal/contentref"
	"github.com/archivarius/archivarius/internal/hostfs"
	"github.com/archivarius/archivarius/internal/logging"
	"github.com/archivarius/archivarius/internal/pipe"
	"github.com/archivarius/archivarius/internal/snapshot"
)

// RestoreOptions configures one Restore call.
type RestoreOptions struct {
	ArchivePath   string
	Password      []byte
	TargetDir     string
	SnapshotIndex int // 0 = most recent
	Prefix        string
	OnWarning     func(msg string)
	Logger        logging.Logger
}

func (o *RestoreOptions) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if o.OnWarning != nil {
		o.OnWarning(msg)
	}
	logging.OrDefault(o.Logger).Warnf(logging.NSRestore + msg)
}

// Restore reads the snapshot at opts.SnapshotIndex out of the archive
// and recreates it under opts.TargetDir, per spec.md §4.7's four-pass
// procedure.
func Restore(opts RestoreOptions) error {
	logger := logging.OrDefault(opts.Logger)
	cat, err := catalogue.Open(opts.ArchivePath, opts.Password, logger)
	if err != nil {
		return err
	}
	defer cat.Close()

	if cat.NumStates() == 0 {
		return archerr.New(archerr.UserInputError, "restore: archive has no snapshots")
	}
	st, err := cat.FsState(opts.SnapshotIndex)
	if err != nil {
		return err
	}

	files, stripBase := filterByPrefix(st.Files(), opts.Prefix)

	if err := restoreDirectories(opts.TargetDir, stripBase, files); err != nil {
		return err
	}
	if err := restoreContent(opts.ArchivePath, opts.TargetDir, stripBase, files, opts.warnf); err != nil {
		return err
	}
	restoreSymlinksAndEmptyFiles(opts.TargetDir, stripBase, files, opts.warnf)
	applyAttributes(opts.TargetDir, stripBase, files, opts.warnf)
	return nil
}

// filterByPrefix drops every record whose path doesn't begin with all
// components of prefix (element-wise, not a string prefix) and returns
// the base path to strip from every surviving record so restored paths
// land at target_dir/relative-to-parent(prefix).
func filterByPrefix(files []snapshot.File, prefix string) ([]snapshot.File, string) {
	if prefix == "" {
		return files, ""
	}
	prefixParts := splitPath(prefix)
	var out []snapshot.File
	for _, f := range files {
		parts := splitPath(f.Path)
		if len(parts) < len(prefixParts) {
			continue
		}
		match := true
		for i, p := range prefixParts {
			if parts[i] != p {
				match = false
				break
			}
		}
		if match {
			out = append(out, f)
		}
	}
	base := filepath.Dir(prefix)
	if base == "." {
		base = ""
	}
	return out, base
}

func splitPath(p string) []string {
	p = filepath.ToSlash(filepath.Clean(p))
	return strings.Split(p, "/")
}

func destPath(targetDir, stripBase, path string) string {
	rel := path
	if stripBase != "" {
		if r, err := filepath.Rel(stripBase, path); err == nil {
			rel = r
		}
	}
	return filepath.Join(targetDir, rel)
}

func restoreDirectories(targetDir, stripBase string, files []snapshot.File) error {
	for _, f := range files {
		if f.Type != snapshot.TypeDir {
			continue
		}
		if err := hostfs.CreateDirectories(destPath(targetDir, stripBase, f.Path)); err != nil {
			return archerr.Wrapf(archerr.IoFailure, err, "restore: create directory %s", f.Path)
		}
	}
	return nil
}

func restoreContent(archivePath, targetDir, stripBase string, files []snapshot.File, warnf func(string, ...any)) error {
	type job struct {
		file snapshot.File
		ref  *contentref.Ref
	}
	var jobs []job
	for _, f := range files {
		if f.Type == snapshot.TypeFile && f.ContentRef != nil {
			jobs = append(jobs, job{file: f, ref: f.ContentRef})
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return contentref.Less(jobs[i].ref.KeyOf(), jobs[j].ref.KeyOf())
	})

	var (
		curName string
		curFile *os.File
		stream  interface {
			Read(p []byte) (int, error)
			Close() error
		}
		pos uint64
	)
	closeCurrent := func() {
		if stream != nil {
			_ = stream.Close()
			stream = nil
		}
		if curFile != nil {
			_ = curFile.Close()
			curFile = nil
		}
		pos = 0
	}
	defer closeCurrent()

	buf := make([]byte, 128*1024)
	for _, j := range jobs {
		ref := j.ref
		if ref.ContentFileName != curName {
			closeCurrent()
			f, err := os.Open(filepath.Join(archivePath, ref.ContentFileName))
			if err != nil {
				warnf("restore: open content file %s: %v", ref.ContentFileName, err)
				curName = ""
				continue
			}
			rc, err := pipe.OpenContentStream(f, ref.Filters.Encryption, ref.Filters.Compressed)
			if err != nil {
				warnf("restore: open content stream %s: %v", ref.ContentFileName, err)
				_ = f.Close()
				curName = ""
				continue
			}
			curFile = f
			stream = rc
			curName = ref.ContentFileName
			pos = 0
		}
		if stream == nil {
			continue
		}

		if ref.From < pos {
			warnf("restore: content file %s out of order, skipping %s", ref.ContentFileName, j.file.Path)
			continue
		}
		if ref.From > pos {
			if err := pipe.DiscardN(stream, ref.From-pos, buf); err != nil {
				warnf("restore: seek in %s: %v", ref.ContentFileName, err)
				closeCurrent()
				continue
			}
			pos = ref.From
		}

		dest := destPath(targetDir, stripBase, j.file.Path)
		if err := hostfs.CreateDirectories(filepath.Dir(dest)); err != nil {
			warnf("restore: create parent of %s: %v", dest, err)
			continue
		}
		out, err := os.Create(dest)
		if err != nil {
			warnf("restore: create %s: %v", dest, err)
			continue
		}

		hasher, err := checksum.NewHasher(ref.Checksum.Type, hashKeyFor(ref))
		if err != nil {
			warnf("restore: build checksum for %s: %v", dest, err)
			_ = out.Close()
			continue
		}
		n := ref.To - ref.From
		werr := pipe.CopyN(multiWriter{out, hasher}, stream, n, buf)
		_ = out.Close()
		pos += n
		if werr != nil {
			warnf("restore: copy content for %s: %v", dest, werr)
			continue
		}
		if !bytes.Equal(hasher.Digest().Bytes, ref.Checksum.Bytes) {
			warnf("restore: checksum mismatch for %s", j.file.Path)
		}
	}
	return nil
}

// multiWriter fans writes out to an io.Writer and a checksum.Hasher at
// once, avoiding a second read pass for integrity verification.
type multiWriter struct {
	w io.Writer
	h checksum.Hasher
}

func (m multiWriter) Write(p []byte) (int, error) {
	if _, err := m.h.Write(p); err != nil {
		return 0, err
	}
	return m.w.Write(p)
}

func hashKeyFor(ref *contentref.Ref) []byte {
	if ref.Checksum.Type != checksum.TypeBLAKE2b512 || ref.Filters.Encryption == nil {
		return nil
	}
	return ref.Filters.Encryption.Key[:]
}

func restoreSymlinksAndEmptyFiles(targetDir, stripBase string, files []snapshot.File, warnf func(string, ...any)) {
	for _, f := range files {
		dest := destPath(targetDir, stripBase, f.Path)
		switch {
		case f.Type == snapshot.TypeSymlink:
			if err := hostfs.CreateSymlink(f.SymlinkTarget, dest); err != nil {
				warnf("restore: create symlink %s: %v", f.Path, err)
			}
		case f.Type == snapshot.TypeFile && f.ContentRef == nil:
			if fh, err := os.Create(dest); err != nil {
				warnf("restore: create empty file %s: %v", f.Path, err)
			} else {
				_ = fh.Close()
			}
		}
	}
}

// applyAttributes walks files in reverse path order so a directory's
// children are attributed before the directory itself, since setting a
// directory's mtime after creating children would otherwise be
// overwritten (spec.md §4.7 step 8).
func applyAttributes(targetDir, stripBase string, files []snapshot.File, warnf func(string, ...any)) {
	ordered := snapshot.SortedByPath(files)
	for i := len(ordered) - 1; i >= 0; i-- {
		f := ordered[i]
		dest := destPath(targetDir, stripBase, f.Path)

		if f.HasPermissions {
			if err := hostfs.SetPermissions(dest, f.UnixPermissions); err != nil {
				warnf("restore: set permissions on %s: %v", f.Path, err)
			}
		}
		if f.ACL != "" {
			if err := hostfs.SetACL(dest, f.ACL); err != nil {
				warnf("restore: set acl on %s: %v", f.Path, err)
			}
		}
		if f.DefaultACL != "" {
			if err := hostfs.SetDefaultACL(dest, f.DefaultACL); err != nil {
				warnf("restore: set default acl on %s: %v", f.Path, err)
			}
		}
		if f.HasModTime && f.Type != snapshot.TypeSymlink {
			if err := hostfs.SetModTime(dest, f.ModTimeNanos); err != nil {
				warnf("restore: set mod time on %s: %v", f.Path, err)
			}
		}
	}
}

// --- Test / verify ---

// TestOptions configures a Test (integrity verification) run.
type TestOptions struct {
	ArchivePath string
	Password    []byte
	OnWarning   func(msg string)
	Logger      logging.Logger
}

// Test cross-checks every Content-Ref's ref_count against an
// independently recomputed count across all snapshots, then re-reads
// and re-checksums every Content-Ref's bytes, per spec.md §4.7's
// verify procedure. It writes no content, snapshot or catalogue data;
// opening the catalogue still takes the lock file and removes
// unreferenced files, as catalogue.Open always does.
func Test(opts TestOptions) error {
	logger := logging.OrDefault(opts.Logger)
	warnf := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		if opts.OnWarning != nil {
			opts.OnWarning(msg)
		}
		logger.Warnf(logging.NSTest + msg)
	}

	cat, err := catalogue.Open(opts.ArchivePath, opts.Password, logger)
	if err != nil {
		return err
	}
	defer cat.Close()

	expected := make(map[contentref.Key]uint64)
	for i := 0; i < cat.NumStates(); i++ {
		st, err := cat.FsState(i)
		if err != nil {
			warnf("test: load snapshot %d: %v", i, err)
			continue
		}
		for _, f := range st.Files() {
			if f.ContentRef == nil {
				continue
			}
			expected[f.ContentRef.KeyOf()]++
		}
	}

	for _, ref := range cat.Refs().Sorted() {
		key := ref.KeyOf()
		want, ok := expected[key]
		if !ok {
			warnf("test: stale ref in catalogue: %s@%d", key.ContentFileName, key.From)
			continue
		}
		if want != ref.RefCount {
			warnf("test: ref_count inconsistent for %s@%d: catalogue says %d, snapshots say %d", key.ContentFileName, key.From, ref.RefCount, want)
		}
		delete(expected, key)
	}
	for key := range expected {
		warnf("test: used ref missing from catalogue: %s@%d", key.ContentFileName, key.From)
	}

	return verifyContent(opts.ArchivePath, cat.Refs().Sorted(), warnf)
}

func verifyContent(archivePath string, refs []*contentref.Ref, warnf func(string, ...any)) error {
	buf := make([]byte, 128*1024)

	var curName string
	var curFile *os.File
	var stream interface {
		Read(p []byte) (int, error)
		Close() error
	}
	var pos uint64
	closeCurrent := func() {
		if stream != nil {
			_ = stream.Close()
			stream = nil
		}
		if curFile != nil {
			_ = curFile.Close()
			curFile = nil
		}
		pos = 0
	}
	defer closeCurrent()

	sorted := append([]*contentref.Ref(nil), refs...)
	sort.Slice(sorted, func(i, j int) bool { return contentref.Less(sorted[i].KeyOf(), sorted[j].KeyOf()) })

	for _, ref := range sorted {
		if ref.ContentFileName != curName {
			closeCurrent()
			f, err := os.Open(filepath.Join(archivePath, ref.ContentFileName))
			if err != nil {
				warnf("test: open content file %s: %v", ref.ContentFileName, err)
				curName = ""
				continue
			}
			rc, err := pipe.OpenContentStream(f, ref.Filters.Encryption, ref.Filters.Compressed)
			if err != nil {
				warnf("test: open content stream %s: %v", ref.ContentFileName, err)
				_ = f.Close()
				curName = ""
				continue
			}
			curFile = f
			stream = rc
			curName = ref.ContentFileName
			pos = 0
		}
		if stream == nil {
			continue
		}

		if ref.From < pos {
			warnf("test: content file %s out of order for ref@%d", ref.ContentFileName, ref.From)
			continue
		}
		if ref.From > pos {
			if err := pipe.DiscardN(stream, ref.From-pos, buf); err != nil {
				warnf("test: seek in %s: %v", ref.ContentFileName, err)
				closeCurrent()
				continue
			}
			pos = ref.From
		}

		hasher, err := checksum.NewHasher(ref.Checksum.Type, hashKeyFor(ref))
		if err != nil {
			warnf("test: build checksum for %s@%d: %v", ref.ContentFileName, ref.From, err)
			continue
		}
		n := ref.To - ref.From
		if err := pipe.CopyN(hasherWriter{hasher}, stream, n, buf); err != nil {
			warnf("test: read content %s@%d: %v", ref.ContentFileName, ref.From, err)
			continue
		}
		pos += n
		if !bytes.Equal(hasher.Digest().Bytes, ref.Checksum.Bytes) {
			warnf("test: checksum mismatch for %s@%d", ref.ContentFileName, ref.From)
		}
	}
	return nil
}

type hasherWriter struct{ h checksum.Hasher }

func (h hasherWriter) Write(p []byte) (int, error) { return h.h.Write(p) }
