// Package catalogue implements the Catalogue (spec.md §4.5): the root
// entity of an archive. It owns the process-exclusive file lock, the
// ordered list of snapshot descriptors, and the deduplicated,
// ref-counted Content-Ref set, and is the only code allowed to mutate
// either.
//
// Grounded in original_source/src/catalogue.c++ for the load/commit
// protocol (temp file, fsync, rename, fsync, cleanup) and the
// add/remove ref-counting rules; spec.md §9 Design Notes resolves the
// snapshot ordering convention as index 0 = newest, which this package
// follows throughout.
package catalogue

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/archivarius/archivarius/internal/archerr"
	"github.com/archivarius/archivarius/internal/checksum"
	"github.com/archivarius/archivarius/internal/compression"
	"github.com/archivarius/archivarius/internal/contentref"
	"github.com/archivarius/archivarius/internal/crypto"
	"github.com/archivarius/archivarius/internal/encoding"
	"github.com/archivarius/archivarius/internal/filelock"
	"github.com/archivarius/archivarius/internal/hostfs"
	"github.com/archivarius/archivarius/internal/logging"
	"github.com/archivarius/archivarius/internal/pipe"
	"github.com/archivarius/archivarius/internal/snapshot"
)

// CatalogFileName is the fixed name of the root catalogue file within
// an archive directory; it also doubles as the lock target.
const CatalogFileName = "catalog"

// CurrentVersion is the highest catalogue wire-format version this
// build understands. Loading a catalogue with a greater version fails
// with UnsupportedVersion.
const CurrentVersion = 0

// SnapshotDescriptor is the catalogue's record of one snapshot: enough
// to locate and open its state file without reading it.
type SnapshotDescriptor struct {
	Name             string
	TimeCreatedNanos uint64
	Filters          snapshot.Filters
}

// Catalogue is a single open archive, holding an exclusive lock on its
// directory for its entire lifetime.
type Catalogue struct {
	archivePath string
	lock        io.Closer
	logger      logging.Logger

	encryption *crypto.Params // nil for an unencrypted archive
	snapshots  []SnapshotDescriptor
	refs       *contentref.Set
}

// Open loads (or initializes) the catalogue rooted at archivePath,
// creating the directory if necessary and taking the process-exclusive
// lock for the lifetime of the returned Catalogue. password is required
// only when the on-disk catalogue (or a fresh one the caller intends to
// encrypt) uses encryption.
func Open(archivePath string, password []byte, logger logging.Logger) (*Catalogue, error) {
	logger = logging.OrDefault(logger)
	if err := hostfs.CreateDirectories(archivePath); err != nil {
		return nil, archerr.Wrap(archerr.IoFailure, "catalogue: create archive directory", err)
	}

	catalogPath := filepath.Join(archivePath, CatalogFileName)
	lock, err := filelock.Acquire(catalogPath)
	if err != nil {
		if errors.Is(err, filelock.ErrHeld) {
			return nil, archerr.Wrap(archerr.LockHeld, "catalogue: archive is in use by another process", err)
		}
		return nil, archerr.Wrap(archerr.IoFailure, "catalogue: acquire lock", err)
	}

	c := &Catalogue{
		archivePath: archivePath,
		lock:        lock,
		logger:      logger,
		refs:        contentref.NewSet(),
	}

	info, err := os.Stat(catalogPath)
	if err != nil {
		_ = lock.Close()
		return nil, archerr.Wrap(archerr.IoFailure, "catalogue: stat catalog file", err)
	}

	if info.Size() == 0 {
		if len(password) > 0 {
			p := &crypto.Params{}
			if err := p.SetPassword(password); err != nil {
				_ = lock.Close()
				return nil, archerr.Wrap(archerr.IoFailure, "catalogue: derive key", err)
			}
			if err := p.RandomizeNonce(); err != nil {
				_ = lock.Close()
				return nil, archerr.Wrap(archerr.IoFailure, "catalogue: randomize nonce", err)
			}
			c.encryption = p
		}
		return c, nil
	}

	raw, err := os.ReadFile(catalogPath)
	if err != nil {
		_ = lock.Close()
		return nil, archerr.Wrap(archerr.IoFailure, "catalogue: read catalog file", err)
	}
	if err := c.parse(raw, password); err != nil {
		_ = lock.Close()
		return nil, err
	}

	c.CleanUp()
	return c, nil
}

// ArchivePath returns the directory this catalogue is rooted at, for
// callers that need to resolve content-file paths directly (e.g. the
// Archive Action's compaction accounting).
func (c *Catalogue) ArchivePath() string {
	return c.archivePath
}

// Close releases the archive lock. The Catalogue must not be used
// afterwards.
func (c *Catalogue) Close() error {
	return c.lock.Close()
}

// Encrypted reports whether this archive is encrypted.
func (c *Catalogue) Encrypted() bool {
	return c.encryption != nil
}

// ContentKey returns the archive's derived symmetric key, for building
// a fresh per-content-file crypto.Params on rollover. ok is false for
// an unencrypted archive.
func (c *Catalogue) ContentKey() (key [crypto.KeySize]byte, ok bool) {
	if c.encryption == nil {
		return key, false
	}
	return c.encryption.Key, true
}

// NewSnapshotFilters builds the Filters a freshly created Snapshot
// State should use: compression always on, a fresh random nonce under
// the archive's derived key when encrypted (spec.md §4.6 step 2).
func (c *Catalogue) NewSnapshotFilters() (snapshot.Filters, error) {
	f := snapshot.Filters{Compressed: true}
	if c.encryption != nil {
		p := &crypto.Params{Key: c.encryption.Key}
		if err := p.RandomizeNonce(); err != nil {
			return f, archerr.Wrap(archerr.IoFailure, "catalogue: randomize snapshot nonce", err)
		}
		f.Encryption = p
	}
	return f, nil
}

// NumStates returns the number of snapshots currently registered, 0 =
// newest.
func (c *Catalogue) NumStates() int {
	return len(c.snapshots)
}

// StateTime returns the TimeCreatedNanos of the snapshot at index.
func (c *Catalogue) StateTime(index int) (uint64, error) {
	if index < 0 || index >= len(c.snapshots) {
		return 0, archerr.Newf(archerr.UserInputError, "catalogue: snapshot index %d out of range", index)
	}
	return c.snapshots[index].TimeCreatedNanos, nil
}

// Snapshots returns a copy of the current snapshot descriptor list,
// index 0 = newest.
func (c *Catalogue) Snapshots() []SnapshotDescriptor {
	return append([]SnapshotDescriptor(nil), c.snapshots...)
}

// Refs exposes the catalogue's Content-Ref set for read-only traversal
// (e.g. the Archive Action's compaction decision, restore, and test).
func (c *Catalogue) Refs() *contentref.Set {
	return c.refs
}

// FsState loads and returns the snapshot at index (0 = newest).
func (c *Catalogue) FsState(index int) (*snapshot.State, error) {
	if index < 0 || index >= len(c.snapshots) {
		return nil, archerr.Newf(archerr.UserInputError, "catalogue: snapshot index %d out of range", index)
	}
	desc := c.snapshots[index]
	st, err := snapshot.Load(c.archivePath, desc.Name, desc.TimeCreatedNanos, desc.Filters, c.resolveRef)
	if err != nil {
		return nil, archerr.Wrap(archerr.IoFailure, "catalogue: load snapshot", err)
	}
	return st, nil
}

// LatestFsState loads the newest snapshot, or returns (nil, nil) if
// the archive has none yet.
func (c *Catalogue) LatestFsState() (*snapshot.State, error) {
	if len(c.snapshots) == 0 {
		return nil, nil
	}
	return c.FsState(0)
}

// EmptyFsState allocates a fresh, empty Snapshot State ready for an
// Archive Action to populate, using NewSnapshotFilters for its output
// filters.
func (c *Catalogue) EmptyFsState() (*snapshot.State, error) {
	filters, err := c.NewSnapshotFilters()
	if err != nil {
		return nil, err
	}
	st, err := snapshot.NewEmpty(c.archivePath, filters)
	if err != nil {
		return nil, archerr.Wrap(archerr.IoFailure, "catalogue: allocate snapshot", err)
	}
	return st, nil
}

// AddSnapshot registers state as the newest snapshot (inserted at
// index 0) and bumps the ref count of every Content-Ref it uses,
// inserting fresh ones into the catalogue's set as needed.
func (c *Catalogue) AddSnapshot(state *snapshot.State) {
	desc := SnapshotDescriptor{
		Name:             state.FileName(),
		TimeCreatedNanos: state.TimeCreatedNanos(),
		Filters:          state.Filters(),
	}
	c.snapshots = append([]SnapshotDescriptor{desc}, c.snapshots...)

	for _, f := range state.Files() {
		if f.ContentRef == nil {
			continue
		}
		ref, _ := c.refs.Insert(*f.ContentRef)
		ref.RefCount++
	}
}

// RemoveSnapshot removes the snapshot at index, which must be the
// oldest (len(Snapshots())-1); removing any other index is an
// InconsistentState error, matching the original's tail-only removal
// assumption (spec.md §4.5 "Removing a snapshot").
func (c *Catalogue) RemoveSnapshot(index int) error {
	if index < 0 || index >= len(c.snapshots) {
		return archerr.Newf(archerr.InconsistentState, "catalogue: remove_fs_state: index %d out of range", index)
	}
	if index != len(c.snapshots)-1 {
		return archerr.Newf(archerr.InconsistentState, "catalogue: remove_fs_state: index %d is not the oldest snapshot", index)
	}

	desc := c.snapshots[index]
	state, err := snapshot.Load(c.archivePath, desc.Name, desc.TimeCreatedNanos, desc.Filters, c.resolveRef)
	if err != nil {
		return archerr.Wrap(archerr.IoFailure, "catalogue: load snapshot for removal", err)
	}

	for _, f := range state.Files() {
		if f.ContentRef == nil {
			continue
		}
		key := f.ContentRef.KeyOf()
		ref, ok := c.refs.Get(key)
		if !ok {
			return archerr.Newf(archerr.InconsistentState, "catalogue: remove_fs_state: ref %s@%d missing from catalogue", key.ContentFileName, key.From)
		}
		ref.RefCount--
		if ref.RefCount == 0 {
			c.refs.Remove(key)
		}
	}

	c.snapshots = c.snapshots[:index]
	return nil
}

func (c *Catalogue) resolveRef(fname string, from uint64) (*contentref.Ref, error) {
	ref, ok := c.refs.Get(contentref.Key{ContentFileName: fname, From: from})
	if !ok {
		return nil, archerr.Newf(archerr.CorruptFile, "catalogue: ref %s@%d not found", fname, from)
	}
	return ref, nil
}

// CleanUp removes every non-hidden file in the archive directory that
// is neither the catalog file, a registered snapshot, nor a referenced
// content file. Best-effort: individual removal errors are logged and
// ignored, matching spec.md §4.5.
func (c *Catalogue) CleanUp() {
	entries, err := hostfs.ListDir(c.archivePath)
	if err != nil {
		c.logger.Warnf(logging.NSCatalogue+"cleanup: list %s: %v", c.archivePath, err)
		return
	}

	keep := map[string]bool{CatalogFileName: true}
	for _, sd := range c.snapshots {
		keep[sd.Name] = true
	}
	for _, r := range c.refs.Sorted() {
		keep[r.ContentFileName] = true
	}

	for _, e := range entries {
		base := filepath.Base(e.Path)
		if strings.HasPrefix(base, ".") || keep[base] {
			continue
		}
		if err := hostfs.Remove(e.Path); err != nil {
			c.logger.Warnf(logging.NSCatalogue+"cleanup: remove %s: %v", e.Path, err)
		}
	}
}

// Commit writes the catalogue to disk via the temp-file + fsync +
// rename + fsync protocol (spec.md §4.5 "Commit"), then runs CleanUp.
func (c *Catalogue) Commit() error {
	for _, r := range c.refs.Sorted() {
		if r.RefCount < 1 || r.SpaceTaken < 1 {
			return archerr.Newf(archerr.InconsistentState, "catalogue: commit: ref %s@%d has RefCount=%d SpaceTaken=%d", r.ContentFileName, r.From, r.RefCount, r.SpaceTaken)
		}
	}

	out := encoding.AppendVarint64(nil, uint64(CurrentVersion))
	out = append(out, pipe.WriteFrame(c.encodeHeader())...)

	bodyFrame := pipe.WriteFrame(c.encodeBody())
	sealed, err := pipe.SealWholeBuffer(bodyFrame, compression.CatalogueLevel, c.encryption)
	if err != nil {
		return archerr.Wrap(archerr.IoFailure, "catalogue: seal body", err)
	}
	out = append(out, sealed...)

	catalogPath := filepath.Join(c.archivePath, CatalogFileName)
	tmpPath := catalogPath + ".tmp"

	if err := writeFileFsync(tmpPath, out); err != nil {
		return archerr.Wrap(archerr.UnrecoverableOutput, "catalogue: write temp file", err)
	}
	if err := hostfs.Sync(); err != nil {
		c.logger.Warnf(logging.NSCatalogue+"commit: sync: %v", err)
	}
	if err := hostfs.Rename(tmpPath, catalogPath); err != nil {
		return archerr.Wrap(archerr.UnrecoverableOutput, "catalogue: rename temp file", err)
	}
	if err := hostfs.Sync(); err != nil {
		c.logger.Warnf(logging.NSCatalogue+"commit: sync: %v", err)
	}

	c.CleanUp()
	return nil
}

func writeFileFsync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// --- wire format ---

func (c *Catalogue) parse(raw []byte, password []byte) error {
	version, consumed, derr := encoding.DecodeVarint64(raw)
	if derr != nil {
		return archerr.Wrap(archerr.CorruptFile, "catalogue: malformed version", derr)
	}
	if version > CurrentVersion {
		return archerr.Newf(archerr.UnsupportedVersion, "catalogue: version %d exceeds supported version %d", version, CurrentVersion)
	}

	headerMsg, rest, err := pipe.ReadFrame(raw[consumed:])
	if err != nil {
		return archerr.Wrap(archerr.CorruptFile, "catalogue: header frame", err)
	}

	hs := encoding.NewSlice(headerMsg)
	filt, ferr := decodeFiltersMarker(hs)
	if ferr != nil {
		return ferr
	}

	if filt.nonce != nil {
		if len(password) == 0 {
			return archerr.New(archerr.EncryptionKeyMissing, "catalogue: archive is encrypted, no password supplied")
		}
		p := &crypto.Params{Nonce: *filt.nonce}
		if err := p.SetPassword(password); err != nil {
			return archerr.Wrap(archerr.IoFailure, "catalogue: derive key", err)
		}
		c.encryption = p
	}

	bodyFrame, err := pipe.OpenWholeBuffer(rest, c.encryption)
	if err != nil {
		if c.encryption != nil {
			return archerr.Wrap(archerr.WrongPassword, "catalogue: body authentication failed", err)
		}
		return archerr.Wrap(archerr.CorruptFile, "catalogue: body decompress", err)
	}
	bodyMsg, _, err := pipe.ReadFrame(bodyFrame)
	if err != nil {
		return archerr.Wrap(archerr.CorruptFile, "catalogue: body frame", err)
	}

	if err := c.decodeBody(bodyMsg); err != nil {
		return err
	}

	// Bump the in-memory nonce so the next commit never reuses the one
	// just read (spec.md §4.5 step 2).
	if c.encryption != nil {
		c.encryption.IncNonce()
	}
	return nil
}

func (c *Catalogue) encodeHeader() []byte {
	var nonce *[24]byte
	if c.encryption != nil {
		n := c.encryption.Nonce
		nonce = &n
	}
	return encodeFiltersMarker(nil, true, nonce)
}

func (c *Catalogue) encodeBody() []byte {
	var out []byte
	out = encoding.AppendVarint64(out, uint64(len(c.snapshots)))
	for _, sd := range c.snapshots {
		out = encoding.AppendLengthPrefixedSlice(out, []byte(sd.Name))
		out = encoding.AppendVarint64(out, sd.TimeCreatedNanos)
		var nonce *[24]byte
		if sd.Filters.Encryption != nil {
			n := sd.Filters.Encryption.Nonce
			nonce = &n
		}
		out = encodeFiltersMarker(out, sd.Filters.Compressed, nonce)
	}

	groups := c.groupRefsByContentFile()
	out = encoding.AppendVarint64(out, uint64(len(groups)))
	for _, g := range groups {
		out = encoding.AppendLengthPrefixedSlice(out, []byte(g.name))
		var nonce *[24]byte
		if g.encryption != nil {
			n := g.encryption.Nonce
			nonce = &n
		}
		out = encodeFiltersMarker(out, g.compressed, nonce)
		out = encoding.AppendVarint64(out, uint64(len(g.refs)))
		for _, r := range g.refs {
			out = encoding.AppendVarint64(out, r.From)
			out = encoding.AppendVarint64(out, r.To)
			out = encoding.AppendVarint64(out, r.RefCount)
			out = encoding.AppendVarint64(out, r.SpaceTaken)
			out = append(out, byte(r.Checksum.Type))
			out = encoding.AppendLengthPrefixedSlice(out, r.Checksum.Bytes)
		}
	}
	return out
}

func (c *Catalogue) groupRefsByContentFile() []refGroup {
	sorted := c.refs.Sorted()
	var groups []refGroup
	for _, r := range sorted {
		if len(groups) == 0 || groups[len(groups)-1].name != r.ContentFileName {
			groups = append(groups, refGroup{
				name:       r.ContentFileName,
				compressed: r.Filters.Compressed,
				encryption: r.Filters.Encryption,
			})
		}
		groups[len(groups)-1].refs = append(groups[len(groups)-1].refs, r)
	}
	return groups
}

func (c *Catalogue) decodeBody(msg []byte) error {
	s := encoding.NewSlice(msg)

	nSnap, ok := s.GetVarint64()
	if !ok {
		return archerr.New(archerr.CorruptFile, "catalogue: malformed snapshot count")
	}
	snapshots := make([]SnapshotDescriptor, 0, nSnap)
	for i := uint64(0); i < nSnap; i++ {
		name, ok := s.GetLengthPrefixedSlice()
		if !ok {
			return archerr.New(archerr.CorruptFile, "catalogue: malformed snapshot name")
		}
		t, ok := s.GetVarint64()
		if !ok {
			return archerr.New(archerr.CorruptFile, "catalogue: malformed snapshot time")
		}
		filt, err := decodeFiltersMarker(s)
		if err != nil {
			return err
		}
		snapshots = append(snapshots, SnapshotDescriptor{
			Name:             string(name),
			TimeCreatedNanos: t,
			Filters: snapshot.Filters{
				Compressed: filt.compressed,
				Encryption: c.reconstructEncryption(filt.nonce),
			},
		})
	}
	c.snapshots = snapshots

	nContent, ok := s.GetVarint64()
	if !ok {
		return archerr.New(archerr.CorruptFile, "catalogue: malformed content-file count")
	}
	for i := uint64(0); i < nContent; i++ {
		name, ok := s.GetLengthPrefixedSlice()
		if !ok {
			return archerr.New(archerr.CorruptFile, "catalogue: malformed content-file name")
		}
		filt, err := decodeFiltersMarker(s)
		if err != nil {
			return err
		}
		groupEncryption := c.reconstructEncryption(filt.nonce)

		nRefs, ok := s.GetVarint64()
		if !ok {
			return archerr.New(archerr.CorruptFile, "catalogue: malformed ref count")
		}
		for j := uint64(0); j < nRefs; j++ {
			from, ok := s.GetVarint64()
			if !ok {
				return archerr.New(archerr.CorruptFile, "catalogue: malformed ref from")
			}
			to, ok := s.GetVarint64()
			if !ok {
				return archerr.New(archerr.CorruptFile, "catalogue: malformed ref to")
			}
			refCount, ok := s.GetVarint64()
			if !ok {
				return archerr.New(archerr.CorruptFile, "catalogue: malformed ref count")
			}
			spaceTaken, ok := s.GetVarint64()
			if !ok {
				return archerr.New(archerr.CorruptFile, "catalogue: malformed ref space_taken")
			}
			ctByte, ok := s.GetBytes(1)
			if !ok {
				return archerr.New(archerr.CorruptFile, "catalogue: malformed ref checksum type")
			}
			sumBytes, ok := s.GetLengthPrefixedSlice()
			if !ok {
				return archerr.New(archerr.CorruptFile, "catalogue: malformed ref checksum bytes")
			}

			ref := contentref.Ref{
				ContentFileName: string(name),
				From:            from,
				To:              to,
				Filters: contentref.Filters{
					Compressed: filt.compressed,
					Encryption: groupEncryption,
				},
				SpaceTaken: spaceTaken,
				Checksum: checksum.Digest{
					Type:  checksum.Type(ctByte[0]),
					Bytes: append([]byte(nil), sumBytes...),
				},
				RefCount: refCount,
			}
			c.refs.Insert(ref)
		}
	}
	return nil
}

func (c *Catalogue) reconstructEncryption(nonce *[24]byte) *crypto.Params {
	if nonce == nil || c.encryption == nil {
		return nil
	}
	return &crypto.Params{Key: c.encryption.Key, Nonce: *nonce}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

type filtersMarker struct {
	compressed bool
	nonce      *[24]byte
}

func encodeFiltersMarker(out []byte, compressed bool, nonce *[24]byte) []byte {
	out = append(out, boolByte(compressed))
	out = append(out, boolByte(nonce != nil))
	if nonce != nil {
		out = append(out, nonce[:]...)
	}
	return out
}

func decodeFiltersMarker(s *encoding.Slice) (filtersMarker, error) {
	b, ok := s.GetBytes(1)
	if !ok {
		return filtersMarker{}, archerr.New(archerr.CorruptFile, "catalogue: malformed filters marker")
	}
	fm := filtersMarker{compressed: b[0] != 0}
	hasEnc, ok := s.GetBytes(1)
	if !ok {
		return filtersMarker{}, archerr.New(archerr.CorruptFile, "catalogue: malformed filters encryption flag")
	}
	if hasEnc[0] != 0 {
		n, ok := s.GetBytes(24)
		if !ok {
			return filtersMarker{}, archerr.New(archerr.CorruptFile, "catalogue: malformed filters nonce")
		}
		var arr [24]byte
		copy(arr[:], n)
		fm.nonce = &arr
	}
	return fm, nil
}

type refGroup struct {
	name       string
	compressed bool
	encryption *crypto.Params
	refs       []*contentref.Ref
}
