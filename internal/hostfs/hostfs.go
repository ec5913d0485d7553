// Package hostfs is the Host-FS port spec.md §6 asks the core to treat
// as an abstract collaborator: directory enumeration with per-entry
// type discrimination, symlink-aware stat, file timestamps, and the
// two ACL hooks. Grounded in original_source/archivarius/platform.c++
// for the operation set (to_posix_time, make_unique_filename, the ACL
// pair, fs_sync) translated onto Go's os/filepath primitives.
package hostfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// EntryType discriminates what ListDir found at a path without
// following symlinks, mirroring Filesystem_state.File_type plus an
// "other" bucket for sockets/devices/fifos the archive silently skips.
type EntryType int

const (
	TypeFile EntryType = iota
	TypeDir
	TypeSymlink
	TypeOther
)

// Entry is one directory listing result, typed without following
// symlinks.
type Entry struct {
	Path string // full path, dir joined with name
	Type EntryType
}

// ListDir returns the direct (non-recursive) children of dir, each
// classified by symlink-aware stat (a symlink pointing at a directory
// is still reported as TypeSymlink, never followed). Entries are
// returned in name order for deterministic traversal and tests.
func ListDir(dir string) ([]Entry, error) {
	names, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("hostfs: read dir %s: %w", dir, err)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].Name() < names[j].Name() })

	out := make([]Entry, 0, len(names))
	for _, n := range names {
		full := filepath.Join(dir, n.Name())
		info, err := os.Lstat(full)
		if err != nil {
			return nil, fmt.Errorf("hostfs: lstat %s: %w", full, err)
		}
		out = append(out, Entry{Path: full, Type: classify(info)})
	}
	return out, nil
}

// Classify reports the EntryType of an already-stat'ed (symlink-aware)
// os.FileInfo.
func Classify(info os.FileInfo) EntryType {
	return classify(info)
}

func classify(info os.FileInfo) EntryType {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return TypeSymlink
	case info.IsDir():
		return TypeDir
	case info.Mode().IsRegular():
		return TypeFile
	default:
		return TypeOther
	}
}

// LstatType is a convenience wrapper around os.Lstat + classify, used
// when the caller already has a path and just needs its type (e.g. the
// archive action's explicit-path add()).
func LstatType(path string) (EntryType, os.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return TypeOther, nil, err
	}
	return classify(info), info, nil
}

// Exists reports whether path exists (following symlinks, matching
// std::filesystem::exists).
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FileSize returns a regular file's size in bytes.
func FileSize(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}

// ModTimeNanos returns a file's last-write time as nanoseconds since
// the POSIX epoch, the storage unit spec.md §3/§6 requires (the wire
// field is misleadingly named modified_seconds; see internal/snapshot).
func ModTimeNanos(path string) (uint64, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, err
	}
	return uint64(info.ModTime().UnixNano()), nil
}

// SetModTime sets a path's modification (and access) time from
// nanoseconds since the POSIX epoch.
func SetModTime(path string, nanos uint64) error {
	t := time.Unix(0, int64(nanos))
	return os.Chtimes(path, t, t)
}

// Permissions returns the nine rwx bits of path's mode as a POSIX
// permission bitfield; setuid, setgid and sticky are not included.
func Permissions(path string) (uint16, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, err
	}
	return uint16(info.Mode().Perm()), nil
}

// SetPermissions applies a POSIX permission bitfield to path.
func SetPermissions(path string, perm uint16) error {
	return os.Chmod(path, os.FileMode(perm)&os.ModePerm)
}

// ReadSymlink returns a symlink's stored target without resolving it.
func ReadSymlink(path string) (string, error) {
	return os.Readlink(path)
}

// CreateSymlink creates a new symlink at path pointing at target.
func CreateSymlink(target, path string) error {
	return os.Symlink(target, path)
}

// CreateDirectories recursively creates dir and any missing parents.
func CreateDirectories(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// Rename atomically replaces newPath with oldPath within the same
// directory, required by the catalogue's commit protocol.
func Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

// Remove deletes a single file.
func Remove(path string) error {
	return os.Remove(path)
}

// UniqueName returns a new file name in dir starting with prefix,
// following the original's "c<YYYY-MM-DD HH:MM:SS>" (or "s...") scheme
// with a "#<n>" suffix appended on collision, checked against the
// directory at call time.
func UniqueName(dir, prefix string, now time.Time) (string, error) {
	stamp := now.Format("2006-01-02 15:04:05")
	for count := 0; ; count++ {
		name := prefix + stamp
		if count > 0 {
			name = fmt.Sprintf("%s#%d", name, count-1)
		}
		if !Exists(filepath.Join(dir, name)) {
			return name, nil
		}
	}
}
