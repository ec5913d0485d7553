// Package snapshot implements Snapshot State (spec.md §4.4): the
// per-snapshot metadata table mapping paths to file records, persisted
// as one framed, compressed (and optionally encrypted) "s..." file per
// snapshot.
//
// Grounded in original_source/src/filesystem_state.c++ for the field
// set, the optional-field wire shape, and the cyclic-reference fix
// spec.md §9 calls for: the original's Filesystem_state held a
// std::function closure back into the Catalogue to resolve partial
// Content-Refs on load; here the catalogue instead passes a plain
// resolver function into Load, so State never holds a back-pointer.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/archivarius/archivarius/internal/compression"
	"github.com/archivarius/archivarius/internal/contentref"
	"github.com/archivarius/archivarius/internal/crypto"
	"github.com/archivarius/archivarius/internal/encoding"
	"github.com/archivarius/archivarius/internal/hostfs"
	"github.com/archivarius/archivarius/internal/pipe"
)

// Type enumerates the three kinds of filesystem entry a record
// describes.
type Type uint8

const (
	TypeFile Type = iota
	TypeDir
	TypeSymlink
)

// Filters describes the compression/encryption applied to a state
// file's body, analogous to Filters_out in the original. Compression
// is always on; Encryption is nil for an unencrypted archive.
type Filters struct {
	Compressed bool
	Encryption *crypto.Params
}

// File is one record: everything about a path except its content,
// which is addressed through ContentRef instead.
//
// ModTimeNanos is stored as nanoseconds since the POSIX epoch; the
// wire field is named "modified_seconds" for format compatibility with
// the original, despite actually holding nanoseconds (spec.md §9).
type File struct {
	Path            string
	Type            Type
	HasModTime      bool
	ModTimeNanos    uint64
	HasPermissions  bool
	UnixPermissions uint16
	SymlinkTarget   string // only when Type == TypeSymlink
	ACL             string // posix long form; empty if unset
	DefaultACL      string // posix long form, only meaningful for DIR
	ContentRef      *contentref.Ref
}

// RefResolver turns the addressing half of a stored ref
// (content_fname, from) into the full Content-Ref the catalogue owns,
// replacing the original's closure-based back-reference.
type RefResolver func(fname string, from uint64) (*contentref.Ref, error)

// State is one snapshot's file table.
type State struct {
	fileName         string
	timeCreatedNanos uint64
	filters          Filters
	files            map[string]*File
	order            []string
}

// NewEmpty creates a fresh, empty state with a newly allocated unique
// file name in arcPath, ready to be populated by an Archive Action and
// later committed.
func NewEmpty(arcPath string, filters Filters) (*State, error) {
	now := time.Now()
	name, err := hostfs.UniqueName(arcPath, "s", now)
	if err != nil {
		return nil, err
	}
	return &State{
		fileName:         name,
		timeCreatedNanos: uint64(now.UnixNano()),
		filters:          filters,
		files:            make(map[string]*File),
	}, nil
}

// Add inserts f, overwriting any existing record at the same path
// (invariant S1 is maintained by construction: paths key the map).
func (s *State) Add(f File) {
	if f.Path == "" {
		panic("snapshot: file path must not be empty")
	}
	if _, exists := s.files[f.Path]; !exists {
		s.order = append(s.order, f.Path)
	}
	cp := f
	s.files[f.Path] = &cp
}

// Files returns every record, in the order they were first added.
func (s *State) Files() []File {
	out := make([]File, 0, len(s.files))
	for _, p := range s.order {
		out = append(out, *s.files[p])
	}
	return out
}

// GetRefIfExist is the incremental dedup probe (spec.md §4.4): it
// returns the stored Content-Ref only if a record exists at path AND
// its mod time equals modTimeNanos exactly.
func (s *State) GetRefIfExist(path string, modTimeNanos uint64) (*contentref.Ref, bool) {
	if s == nil {
		return nil, false
	}
	f, ok := s.files[path]
	if !ok || !f.HasModTime || f.ModTimeNanos != modTimeNanos {
		return nil, false
	}
	return f.ContentRef, f.ContentRef != nil
}

func (s *State) FileName() string        { return s.fileName }
func (s *State) TimeCreatedNanos() uint64 { return s.timeCreatedNanos }
func (s *State) Filters() Filters         { return s.filters }
func (s *State) NumFiles() int            { return len(s.files) }

// Commit writes the state to its file inside arcPath. The file must
// not already exist (a fresh unique name was picked at construction).
func (s *State) Commit(arcPath string) error {
	fn := filepath.Join(arcPath, s.fileName)
	if _, err := os.Stat(fn); err == nil {
		return fmt.Errorf("snapshot: file %s already exists", fn)
	}

	msg := encodeState(s)
	frame := pipe.WriteFrame(msg)
	sealed, err := pipe.SealWholeBuffer(frame, compression.SnapshotLevel, s.filters.Encryption)
	if err != nil {
		return fmt.Errorf("snapshot: seal %s: %w", s.fileName, err)
	}
	if err := os.WriteFile(fn, sealed, 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", fn, err)
	}
	return nil
}

// Load reads an existing state file back from disk, resolving every
// stored ref's addressing half through resolve.
func Load(arcPath, name string, timeCreatedNanos uint64, filters Filters, resolve RefResolver) (*State, error) {
	fn := filepath.Join(arcPath, name)
	sealed, err := os.ReadFile(fn)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", fn, err)
	}
	frame, err := pipe.OpenWholeBuffer(sealed, filters.Encryption)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", fn, err)
	}
	msg, _, err := pipe.ReadFrame(frame)
	if err != nil {
		return nil, fmt.Errorf("snapshot: parse %s: %w", fn, err)
	}

	st := &State{
		fileName:         name,
		timeCreatedNanos: timeCreatedNanos,
		filters:          filters,
		files:            make(map[string]*File),
	}
	records, err := decodeState(msg, resolve)
	if err != nil {
		return nil, fmt.Errorf("snapshot: decode %s: %w", fn, err)
	}
	for _, f := range records {
		st.Add(f)
	}
	return st, nil
}

// --- wire encoding ---

func encodeState(s *State) []byte {
	var out []byte
	out = encoding.AppendVarint64(out, uint64(len(s.order)))
	for _, p := range s.order {
		f := s.files[p]
		out = encoding.AppendLengthPrefixedSlice(out, []byte(f.Path))
		out = append(out, byte(f.Type))
		out = append(out, boolByte(f.HasPermissions))
		if f.HasPermissions {
			out = encoding.AppendFixed16(out, f.UnixPermissions)
		}
		out = append(out, boolByte(f.HasModTime))
		if f.HasModTime {
			out = encoding.AppendVarint64(out, f.ModTimeNanos)
		}
		if f.Type == TypeSymlink {
			out = encoding.AppendLengthPrefixedSlice(out, []byte(f.SymlinkTarget))
		}
		out = append(out, boolByte(f.ACL != ""))
		if f.ACL != "" {
			out = encoding.AppendLengthPrefixedSlice(out, []byte(f.ACL))
		}
		if f.Type == TypeDir {
			out = append(out, boolByte(f.DefaultACL != ""))
			if f.DefaultACL != "" {
				out = encoding.AppendLengthPrefixedSlice(out, []byte(f.DefaultACL))
			}
		}
		out = append(out, boolByte(f.ContentRef != nil))
		if f.ContentRef != nil {
			out = encoding.AppendLengthPrefixedSlice(out, []byte(f.ContentRef.ContentFileName))
			out = encoding.AppendVarint64(out, f.ContentRef.From)
		}
	}
	return out
}

func decodeState(msg []byte, resolve RefResolver) ([]File, error) {
	s := encoding.NewSlice(msg)
	count, ok := s.GetVarint64()
	if !ok {
		return nil, fmt.Errorf("snapshot: malformed record count")
	}
	out := make([]File, 0, count)
	for i := uint64(0); i < count; i++ {
		var f File
		path, ok := s.GetLengthPrefixedSlice()
		if !ok {
			return nil, fmt.Errorf("snapshot: malformed pathname")
		}
		f.Path = string(path)

		typeByte, ok := s.GetBytes(1)
		if !ok {
			return nil, fmt.Errorf("snapshot: malformed type")
		}
		f.Type = Type(typeByte[0])

		hasPerm, ok := s.GetBytes(1)
		if !ok {
			return nil, fmt.Errorf("snapshot: malformed permissions flag")
		}
		if hasPerm[0] != 0 {
			perm, ok := s.GetFixed16()
			if !ok {
				return nil, fmt.Errorf("snapshot: malformed permissions")
			}
			f.HasPermissions = true
			f.UnixPermissions = perm
		}

		hasMod, ok := s.GetBytes(1)
		if !ok {
			return nil, fmt.Errorf("snapshot: malformed mtime flag")
		}
		if hasMod[0] != 0 {
			mt, ok := s.GetVarint64()
			if !ok {
				return nil, fmt.Errorf("snapshot: malformed mtime")
			}
			f.HasModTime = true
			f.ModTimeNanos = mt
		}

		if f.Type == TypeSymlink {
			target, ok := s.GetLengthPrefixedSlice()
			if !ok {
				return nil, fmt.Errorf("snapshot: malformed symlink target")
			}
			f.SymlinkTarget = string(target)
		}

		hasACL, ok := s.GetBytes(1)
		if !ok {
			return nil, fmt.Errorf("snapshot: malformed acl flag")
		}
		if hasACL[0] != 0 {
			acl, ok := s.GetLengthPrefixedSlice()
			if !ok {
				return nil, fmt.Errorf("snapshot: malformed acl")
			}
			f.ACL = string(acl)
		}

		if f.Type == TypeDir {
			hasDef, ok := s.GetBytes(1)
			if !ok {
				return nil, fmt.Errorf("snapshot: malformed default acl flag")
			}
			if hasDef[0] != 0 {
				dacl, ok := s.GetLengthPrefixedSlice()
				if !ok {
					return nil, fmt.Errorf("snapshot: malformed default acl")
				}
				f.DefaultACL = string(dacl)
			}
		}

		hasRef, ok := s.GetBytes(1)
		if !ok {
			return nil, fmt.Errorf("snapshot: malformed ref flag")
		}
		if hasRef[0] != 0 {
			fname, ok := s.GetLengthPrefixedSlice()
			if !ok {
				return nil, fmt.Errorf("snapshot: malformed ref fname")
			}
			from, ok := s.GetVarint64()
			if !ok {
				return nil, fmt.Errorf("snapshot: malformed ref from")
			}
			ref, err := resolve(string(fname), from)
			if err != nil {
				return nil, err
			}
			f.ContentRef = ref
		}

		out = append(out, f)
	}
	return out, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// SortedByPath returns files sorted ascending by path, without changing
// its input; restore walks the result in reverse to apply attributes.
func SortedByPath(files []File) []File {
	out := append([]File(nil), files...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
