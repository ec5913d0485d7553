// Package archiveaction implements the Archive Action (spec.md §4.6):
// the write orchestrator that enumerates a filesystem subtree, diffs
// it against the previous snapshot, streams new content through a
// pair of Content-File Writers, commits the new snapshot, prunes aged
// snapshots, and commits the catalogue.
//
// Grounded in original_source/src/archive.c++ and archive.h for the
// traversal order, the dedup/compaction decision, and the two-writer
// (normal/long-term) split; spec.md §4.6 step 4 calls for exactly two
// writers, so the original's additional `big_content_` writer for
// oversized new files (used purely to avoid a mid-file rollover) was
// not adopted.
package archiveaction

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/archivarius/archivarius/internal/archerr"
	"github.com/archivarius/archivarius/internal/catalogue"
	"github.com/archivarius/archivarius/internal/compression"
	"github.com/archivarius/archivarius/internal/contentref"
	"github.com/archivarius/archivarius/internal/contentwriter"
	"github.com/archivarius/archivarius/internal/hostfs"
	"github.com/archivarius/archivarius/internal/logging"
	"github.com/archivarius/archivarius/internal/snapshot"
)

// Options configures one run of Run. It is a plain struct populated by
// the caller (spec.md §9 Design Notes: no fluent builder), matching
// how internal/config's Task maps onto a task.
type Options struct {
	ArchivePath    string
	Password       []byte
	Root           string
	FilesToArchive []string
	FilesToIgnore  []string
	ProcessACL     bool
	// Compress toggles zstd compression on newly written content files
	// (spec.md §2 S1 covers the compression-off case); catalogue and
	// snapshot state bodies are always compressed regardless.
	Compress              bool
	MinContentFileSize    uint64
	MaxStorageTimeSeconds uint64 // used only if HasMaxStorageTime; then 0 prunes every older snapshot
	HasMaxStorageTime     bool

	Logger logging.Logger
	// OnWarning is called once per recoverable per-entry failure,
	// instead of aborting the whole run (spec.md §4.6 step 7).
	OnWarning func(msg string)
	// OnProgress is accepted for callers that track progress; Run does
	// not call it.
	OnProgress func(percent int)
}

func (o *Options) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if o.OnWarning != nil {
		o.OnWarning(msg)
	}
	logging.OrDefault(o.Logger).Warnf(logging.NSArchive + msg)
}

// Run executes one complete archive pass against opts, matching
// original_source/src/archive.c++'s Archiver::archive() procedure
// (spec.md §4.6 steps 1-14).
func Run(opts Options) error {
	logger := logging.OrDefault(opts.Logger)
	cat, err := catalogue.Open(opts.ArchivePath, opts.Password, logger)
	if err != nil {
		return err
	}
	defer cat.Close()

	prev, err := cat.LatestFsState()
	if err != nil {
		return err
	}
	next, err := cat.EmptyFsState()
	if err != nil {
		return err
	}

	forceToArchive := decideCompaction(cat, prev, opts.MinContentFileSize)

	key, encrypted := cat.ContentKey()
	var keyPtr *[32]byte
	if encrypted {
		k := key
		keyPtr = &k
	}
	normal := contentwriter.New(opts.ArchivePath, compression.ContentLevel, keyPtr, opts.MinContentFileSize, opts.Compress)
	longTerm := contentwriter.New(opts.ArchivePath, compression.ContentLevel, keyPtr, opts.MinContentFileSize, opts.Compress)

	root := opts.Root
	include := prependRoot(root, opts.FilesToArchive)
	exclude := prependRoot(root, opts.FilesToIgnore)

	w := &walker{
		opts:     opts,
		root:     root,
		exclude:  exclude,
		prev:     prev,
		next:     next,
		normal:   normal,
		longTerm: longTerm,
		force:    forceToArchive,
		logger:   logger,
	}

	if len(include) == 0 {
		if root != "" {
			if err := w.walkTree(root); err != nil {
				return err
			}
		}
	} else {
		for _, p := range include {
			if !hostfs.Exists(p) {
				opts.warnf("archive: path %s does not exist, skipping", p)
				continue
			}
			if err := w.addEntry(p); err != nil {
				if archerr.Is(err, archerr.UnrecoverableOutput) {
					return err
				}
				opts.warnf("archive: %v", err)
				continue
			}
			typ, _, _ := hostfs.LstatType(p)
			if typ == hostfs.TypeDir {
				if err := w.walkTree(p); err != nil {
					return err
				}
			}
		}
	}

	if err := normal.Finish(); err != nil {
		return err
	}
	if err := longTerm.Finish(); err != nil {
		return err
	}

	no, nc := normal.Stats()
	lo, lc := longTerm.Stats()
	if no+lo > 0 {
		ratio := 100.0 * float64(nc+lc) / float64(no+lo)
		logger.Infof(logging.NSArchive+"wrote %d bytes as %d bytes (%.1f%%)", no+lo, nc+lc, ratio)
	}

	if next.NumFiles() == 0 {
		return archerr.New(archerr.InconsistentState, "archive: new snapshot is empty, refusing to commit")
	}

	if err := next.Commit(opts.ArchivePath); err != nil {
		return err
	}
	cat.AddSnapshot(next)

	if opts.HasMaxStorageTime {
		if err := pruneAged(cat, opts.MaxStorageTimeSeconds, time.Now(), opts.warnf); err != nil {
			return err
		}
	}

	return cat.Commit()
}

// --- traversal ---

type walker struct {
	opts     Options
	root     string
	exclude  []string
	prev     *snapshot.State
	next     *snapshot.State
	normal   *contentwriter.Writer
	longTerm *contentwriter.Writer
	force    map[string]bool
	logger   logging.Logger
}

// walkTree recurses into dir following spec.md §4.6 step 6: every
// direct child (file and directory alike) is added first, then the
// walker recurses into subdirectories. This groups sibling files
// together in content files, improving compression.
func (w *walker) walkTree(dir string) error {
	entries, err := hostfs.ListDir(dir)
	if err != nil {
		w.opts.warnf("archive: list %s: %v", dir, err)
		return nil
	}

	var subdirs []string
	for _, e := range entries {
		if w.isExcluded(e.Path) {
			continue
		}
		if err := w.addEntry(e.Path); err != nil {
			if archerr.Is(err, archerr.UnrecoverableOutput) {
				return err
			}
			w.opts.warnf("archive: %v", err)
			continue
		}
		if e.Type == hostfs.TypeDir {
			subdirs = append(subdirs, e.Path)
		}
	}
	for _, d := range subdirs {
		if err := w.walkTree(d); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) isExcluded(path string) bool {
	for _, ex := range w.exclude {
		if path == ex || strings.HasPrefix(path, ex+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *walker) relativePath(path string) string {
	if w.root == "" {
		return path
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return rel
}

// addEntry builds and inserts one File record, per spec.md §4.6 step 7.
func (w *walker) addEntry(path string) error {
	typ, info, err := hostfs.LstatType(path)
	if err != nil {
		return archerr.Wrapf(archerr.IoFailure, err, "stat %s", path)
	}

	relPath := w.relativePath(path)

	switch typ {
	case hostfs.TypeSymlink:
		target, err := hostfs.ReadSymlink(path)
		if err != nil {
			return archerr.Wrapf(archerr.IoFailure, err, "readlink %s", path)
		}
		w.next.Add(snapshot.File{Path: relPath, Type: snapshot.TypeSymlink, SymlinkTarget: target})
		return nil

	case hostfs.TypeDir:
		f := snapshot.File{Path: relPath, Type: snapshot.TypeDir}
		w.fillAttrs(&f, path, info, true)
		w.next.Add(f)
		return nil

	case hostfs.TypeFile:
		f := snapshot.File{Path: relPath, Type: snapshot.TypeFile}
		w.fillAttrs(&f, path, info, false)

		if info.Size() == 0 {
			w.next.Add(f)
			return nil
		}

		modTime := f.ModTimeNanos
		if ref, ok := w.prev.GetRefIfExist(relPath, modTime); ok {
			f.ContentRef = ref
			w.next.Add(f)
			return nil
		}

		ref, err := w.addContent(path, relPath)
		if err != nil {
			return err
		}
		f.ContentRef = &ref
		w.next.Add(f)
		return nil

	default:
		return nil
	}
}

func (w *walker) fillAttrs(f *snapshot.File, path string, info os.FileInfo, isDir bool) {
	f.HasModTime = true
	f.ModTimeNanos = uint64(info.ModTime().UnixNano())
	f.HasPermissions = true
	f.UnixPermissions = uint16(info.Mode().Perm())

	if !w.opts.ProcessACL || !hostfs.ACLSupported() {
		return
	}
	if acl, err := hostfs.GetACL(path); err == nil {
		f.ACL = acl
	}
	if isDir {
		if dacl, err := hostfs.GetDefaultACL(path); err == nil {
			f.DefaultACL = dacl
		}
	}
}

func (w *walker) addContent(path, relPath string) (contentref.Ref, error) {
	src, err := os.Open(path)
	if err != nil {
		return contentref.Ref{}, archerr.Wrapf(archerr.IoFailure, err, "open %s", path)
	}
	defer src.Close()

	var rc io.Reader = src
	writer := w.normal
	if w.force[relPath] {
		writer = w.longTerm
	}
	return writer.Add(rc)
}

func prependRoot(root string, paths []string) []string {
	if root == "" {
		return paths
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Join(root, p)
	}
	return out
}

// --- compaction / GC decision (spec.md §4.6 step 3) ---

// decideCompaction builds the force_to_archive set: paths whose
// Content-Refs live in content files so wasteful they're worth
// rewriting into a fresh, shared long-term content file.
func decideCompaction(cat *catalogue.Catalogue, prev *snapshot.State, minFileSize uint64) map[string]bool {
	force := make(map[string]bool)
	if prev == nil {
		return force
	}
	maxRef := uint64(cat.NumStates())
	if maxRef == 0 {
		return force
	}

	type waste struct {
		spaceTaken uint64
		onDisk     uint64
	}
	byFile := make(map[string]*waste)
	candidatesByFile := make(map[string][]string) // content file -> relative paths

	for _, f := range prev.Files() {
		if f.ContentRef == nil {
			continue
		}
		ref, ok := cat.Refs().Get(f.ContentRef.KeyOf())
		if !ok || ref.RefCount != maxRef {
			continue
		}
		name := ref.ContentFileName
		w, ok := byFile[name]
		if !ok {
			onDisk, _ := hostfs.FileSize(filepath.Join(cat.ArchivePath(), name))
			w = &waste{onDisk: onDisk}
			byFile[name] = w
		}
		w.spaceTaken += ref.SpaceTaken
		candidatesByFile[name] = append(candidatesByFile[name], f.Path)
	}

	qualifying := make(map[string]bool)
	var totalSize, totalWaste uint64
	for name, w := range byFile {
		base := w.onDisk
		if base < minFileSize {
			base = minFileSize
		}
		var wasted uint64
		if base > w.spaceTaken {
			wasted = base - w.spaceTaken
		}
		if wasted >= minFileSize/16 {
			qualifying[name] = true
			totalWaste += wasted
			for _, p := range candidatesByFile[name] {
				if ref, ok := prevRefFor(prev, p); ok {
					totalSize += ref.SpaceTaken
				}
			}
		}
	}

	if totalSize < minFileSize && totalWaste < 10*minFileSize {
		return force
	}

	for name := range qualifying {
		for _, p := range candidatesByFile[name] {
			force[p] = true
		}
	}
	return force
}

func prevRefFor(prev *snapshot.State, path string) (*contentref.Ref, bool) {
	for _, f := range prev.Files() {
		if f.Path == path {
			return f.ContentRef, f.ContentRef != nil
		}
	}
	return nil, false
}

// --- prune by age (spec.md §4.6 step 12) ---

func pruneAged(cat *catalogue.Catalogue, maxAgeSeconds uint64, now time.Time, warnf func(string, ...any)) error {
	cutoffNanos := uint64(now.Add(-time.Duration(maxAgeSeconds) * time.Second).UnixNano())

	n := cat.NumStates()
	if n <= 1 {
		return nil
	}

	removeCount := 0
	for i := n - 1; i > 0; i-- {
		t, err := cat.StateTime(i)
		if err != nil {
			break
		}
		if t >= cutoffNanos {
			break
		}
		removeCount++
	}

	for i := 0; i < removeCount; i++ {
		idx := cat.NumStates() - 1
		if err := cat.RemoveSnapshot(idx); err != nil {
			warnf("archive: prune: remove snapshot %d: %v", idx, err)
			return err
		}
	}
	return nil
}
