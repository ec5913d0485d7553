// Package contentref defines the Content-Ref value object (spec.md §3):
// the addressed view into a content file that links a logical file
// blob to its bytes on disk, plus the catalogue's deduplicated,
// reference-counted set of them.
//
// Grounded in spec.md §3 and, for the "comparable, orderable addressing
// struct with a deduplicating owner set" shape, rockyardkv's SST block
// handle (a (offset, size) addressing value embedded in an ordered
// index) — deleted from the workspace per DESIGN.md but consulted
// before removal for this idiom.
package contentref

import (
	"sort"

	"github.com/archivarius/archivarius/internal/checksum"
	"github.com/archivarius/archivarius/internal/crypto"
)

// Filters describes which transforms were applied to a content file,
// so a reader can reconstruct the same decode pipeline the writer used.
type Filters struct {
	Compressed bool
	// Encryption is nil when the content file is not encrypted.
	// Params carries the per-content-file key and nonce; key material
	// for an already-open archive is known from the derived archive
	// key, the nonce is the one persisted for this content file.
	Encryption *crypto.Params
}

// Ref is a Content-Ref: the value object linking a logical file blob
// to its bytes inside a content file. Equality and ordering are by
// (ContentFileName, From), per spec.md §3.
type Ref struct {
	ContentFileName string
	From, To        uint64 // offsets into the content file's pre-filter (plaintext) byte stream
	Filters         Filters
	// SpaceTaken is the number of post-filter bytes this blob occupies
	// in the content file, for compaction accounting. Never zero on a
	// successful add; the writer substitutes 1 if the underlying
	// counter reports zero (spec.md §4.3 step 9, §9 Open Questions #4).
	SpaceTaken uint64
	Checksum   checksum.Digest
	// RefCount is mutated only by the catalogue.
	RefCount uint64
}

// Key identifies a Ref for set membership and lookup, independent of
// its mutable RefCount.
type Key struct {
	ContentFileName string
	From            uint64
}

// KeyOf returns r's identity key.
func (r Ref) KeyOf() Key {
	return Key{ContentFileName: r.ContentFileName, From: r.From}
}

// Less implements the ordering invariant C1: Content-Refs are ordered
// by (content_file_name, from).
func Less(a, b Key) bool {
	if a.ContentFileName != b.ContentFileName {
		return a.ContentFileName < b.ContentFileName
	}
	return a.From < b.From
}

// Set is the catalogue's deduplicated collection of Content-Refs,
// keyed by (ContentFileName, From) and kept in ascending order so a
// restore can group references by content file with one pass.
type Set struct {
	byKey map[Key]*Ref
	order []Key // kept sorted; rebuilt lazily by Sorted()
	dirty bool
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{byKey: make(map[Key]*Ref)}
}

// Insert adds ref to the set. If a ref with the same key already
// exists, the existing entry is kept as-is and returned (invariant
// C1); otherwise ref is inserted with whatever RefCount it carries.
// Insert never mutates RefCount itself — the catalogue owns that, so
// both a fresh insert and a dedup hit go through the same bump.
// Returns the live *Ref and whether this was a fresh insert.
func (s *Set) Insert(ref Ref) (*Ref, bool) {
	k := ref.KeyOf()
	if existing, ok := s.byKey[k]; ok {
		return existing, false
	}
	cp := ref
	s.byKey[k] = &cp
	s.order = append(s.order, k)
	s.dirty = true
	return s.byKey[k], true
}

// Get returns the live *Ref for key, if present.
func (s *Set) Get(key Key) (*Ref, bool) {
	r, ok := s.byKey[key]
	return r, ok
}

// Remove deletes the entry at key outright, regardless of RefCount. The
// catalogue calls this only after decrementing RefCount to zero.
func (s *Set) Remove(key Key) {
	if _, ok := s.byKey[key]; !ok {
		return
	}
	delete(s.byKey, key)
	s.dirty = true
}

// Len returns the number of distinct Content-Refs in the set.
func (s *Set) Len() int {
	return len(s.byKey)
}

// Sorted returns every Ref in the set ordered per Less, grouping all
// refs for the same content file together. Used by the catalogue
// commit (to write content_files grouped by name) and by restore/test
// (to open each content file once).
func (s *Set) Sorted() []*Ref {
	s.rebuildOrder()
	out := make([]*Ref, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.byKey[k])
	}
	return out
}

func (s *Set) rebuildOrder() {
	if !s.dirty && len(s.order) == len(s.byKey) {
		return
	}
	order := make([]Key, 0, len(s.byKey))
	for k := range s.byKey {
		order = append(order, k)
	}
	sort.Slice(order, func(i, j int) bool { return Less(order[i], order[j]) })
	s.order = order
	s.dirty = false
}
