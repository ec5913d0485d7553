// Package compression wraps github.com/klauspost/compress/zstd as a
// streaming codec. Every compressed artifact in an archive (content files,
// snapshot state files, the catalogue body) uses zstd; only the
// compression level differs by artifact, since content is re-read far more
// often than it is written while the catalogue is small and rewritten on
// every commit.
package compression

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Level is a named zstd encoder level. Archivarius pins one level per
// artifact kind rather than exposing the whole zstd level range, so that
// archives created by different builds stay byte-comparable for a given
// kind of file.
type Level int

const (
	// ContentLevel is used for content files: the bulk of archive storage,
	// so favor decode speed and compression ratio over encode speed.
	ContentLevel Level = 11
	// SnapshotLevel is used for per-snapshot state files: larger than the
	// catalogue but read far less often than content, so a slightly
	// higher level than content is affordable.
	SnapshotLevel Level = 14
	// CatalogueLevel is used for the catalogue body: small and rewritten
	// on every commit, so maximum compression is cheap in absolute terms.
	CatalogueLevel Level = 22
)

func (l Level) encoderLevel() zstd.EncoderLevel {
	switch {
	case l <= 3:
		return zstd.SpeedFastest
	case l <= 9:
		return zstd.SpeedDefault
	case l <= 15:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// NewEncoder returns a streaming zstd encoder writing to w at the given
// level. Callers must call Close to flush the final frame.
func NewEncoder(w io.Writer, level Level) (*zstd.Encoder, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(level.encoderLevel()))
	if err != nil {
		return nil, fmt.Errorf("compression: new zstd encoder: %w", err)
	}
	return enc, nil
}

// NewDecoder returns a streaming zstd decoder reading from r. Callers
// should call Close once done to release the decoder's worker goroutines.
func NewDecoder(r io.Reader) (*zstd.Decoder, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("compression: new zstd decoder: %w", err)
	}
	return dec, nil
}
