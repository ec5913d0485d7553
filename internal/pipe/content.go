// Package pipe composes the byte-level stages spec.md §4.1 calls Source,
// Sink and Pipe into the two concrete pipelines the archive engine
// needs: a streaming one for content files (checksum -> compress ->
// encrypt, continuous across many blobs in one content file) and a
// whole-buffer one for the catalogue and snapshot state bodies
// (compress -> AEAD-seal, small enough to hold in memory at once).
//
// Grounded in rockyardkv's layered io.Reader/io.Writer wrapping (its
// compressed-block reader chaining into a checksum verifier); Go's
// io.Reader/io.Writer composition is the idiomatic rendering of the
// original's linear Source<<Pipe<<Sink chains.
package pipe

import (
	"bytes"
	"fmt"
	"io"

	"github.com/archivarius/archivarius/internal/compression"
	"github.com/archivarius/archivarius/internal/crypto"

	"github.com/klauspost/compress/zstd"
)

// countingWriter tracks the number of bytes actually reaching the
// wrapped writer, used by the content-file writer to measure
// post-filter size for Content-Ref.space_taken and for rollover.
type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}

// blobEncoder is the common interface of a zstd encoder and the
// pass-through stage substituted when a content file's compression
// filter is disabled (spec.md §2 S1: "encryption off, compression
// off" is a valid filter combination, toggled per task by
// internal/config's `compress` option).
type blobEncoder interface {
	io.Writer
	Flush() error
	Close() error
}

// nopBlobEncoder forwards writes unchanged and treats Flush/Close as
// no-ops, so ContentEncoder can run identically whether or not
// compression is enabled.
type nopBlobEncoder struct{ w io.Writer }

func (n nopBlobEncoder) Write(p []byte) (int, error) { return n.w.Write(p) }
func (nopBlobEncoder) Flush() error                  { return nil }
func (nopBlobEncoder) Close() error                  { return nil }

// ContentEncoder streams plaintext through zstd compression (unless
// disabled) and, optionally, an XChaCha20 stream cipher, into a
// content file. Flush ends the current blob's compression frame
// without closing the stream, so a content file can hold many blobs;
// Close finishes the stream for good.
type ContentEncoder struct {
	counter *countingWriter
	enc     blobEncoder
}

// NewContentEncoder builds the write-side pipeline for one content
// file: plaintext -> [zstd (level), if compressed] -> [XChaCha20 if
// params != nil] -> file. file is wrapped in a byte counter so
// BytesWritten reports the post-filter size written so far, matching
// the original's file_sink_.bytes_written().
func NewContentEncoder(file io.Writer, level compression.Level, params *crypto.Params, compressed bool) (*ContentEncoder, error) {
	counter := &countingWriter{w: file}
	var dst io.Writer = counter
	if params != nil {
		sc, err := crypto.NewStreamCipher(params.Key, params.Nonce)
		if err != nil {
			return nil, fmt.Errorf("pipe: content encryption: %w", err)
		}
		dst = newCipherWriter(counter, sc)
	}
	if !compressed {
		return &ContentEncoder{counter: counter, enc: nopBlobEncoder{w: dst}}, nil
	}
	enc, err := compression.NewEncoder(dst, level)
	if err != nil {
		return nil, err
	}
	return &ContentEncoder{counter: counter, enc: enc}, nil
}

// Write compresses (and, if configured, encrypts) p and forwards it to
// the content file.
func (e *ContentEncoder) Write(p []byte) (int, error) {
	return e.enc.Write(p)
}

// BytesWritten reports the number of post-filter (ciphertext or
// compressed, whichever is outermost) bytes written to the file so
// far, used for min_content_file_size rollover decisions and
// space_taken accounting.
func (e *ContentEncoder) BytesWritten() uint64 {
	return e.counter.n
}

// FlushBlob ends the current blob's compression frame without closing
// the underlying stream cipher, so the content file can continue to
// receive further blobs. Mirrors the original's flush_der_kompressor.
func (e *ContentEncoder) FlushBlob() error {
	return e.enc.Flush()
}

// Close finishes compression for good. The content file itself (and
// any encryption key material) belongs to the caller to close.
func (e *ContentEncoder) Close() error {
	return e.enc.Close()
}

// OpenContentStream builds the read-side pipeline for one content
// file: file -> [XChaCha20 if params != nil] -> [zstd, if compressed]
// -> plaintext. The returned reader yields the continuous (optionally
// decompressed) plaintext stream for every blob the content file
// holds, starting at offset 0; callers discard bytes up to a blob's
// `from` offset before reading its range, per spec.md §4.7. compressed
// must match the Compressed flag stored in the blob's Content-Ref.
func OpenContentStream(file io.Reader, params *crypto.Params, compressed bool) (io.ReadCloser, error) {
	src := file
	if params != nil {
		sc, err := crypto.NewStreamCipher(params.Key, params.Nonce)
		if err != nil {
			return nil, fmt.Errorf("pipe: content decryption: %w", err)
		}
		src = newCipherReader(file, sc)
	}
	if !compressed {
		return io.NopCloser(src), nil
	}
	dec, err := compression.NewDecoder(src)
	if err != nil {
		return nil, err
	}
	return &contentDecoderCloser{r: dec}, nil
}

type contentDecoderCloser struct {
	r *zstd.Decoder
}

func (c *contentDecoderCloser) Read(p []byte) (int, error) { return c.r.Read(p) }
func (c *contentDecoderCloser) Close() error {
	c.r.Close()
	return nil
}

// DiscardN reads and discards exactly n bytes from r, used to skip to
// a blob's `from` offset in the decompressed content stream.
func DiscardN(r io.Reader, n uint64, buf []byte) error {
	if len(buf) == 0 {
		buf = make([]byte, 32*1024)
	}
	for n > 0 {
		want := uint64(len(buf))
		if want > n {
			want = n
		}
		read, err := io.ReadFull(r, buf[:want])
		n -= uint64(read)
		if err != nil {
			return err
		}
	}
	return nil
}

// CopyN copies exactly n bytes from r to w, using buf as scratch space.
func CopyN(w io.Writer, r io.Reader, n uint64, buf []byte) error {
	if len(buf) == 0 {
		buf = make([]byte, 32*1024)
	}
	remaining := n
	for remaining > 0 {
		want := uint64(len(buf))
		if want > remaining {
			want = remaining
		}
		read, err := io.ReadFull(r, buf[:want])
		if read > 0 {
			if _, werr := w.Write(buf[:read]); werr != nil {
				return werr
			}
		}
		remaining -= uint64(read)
		if err != nil {
			return err
		}
	}
	return nil
}

// SealWholeBuffer compresses plain at level and, if params is non-nil,
// AEAD-seals the compressed bytes with ChaCha20-Poly1305 (X-variant,
// 24-byte nonce). Used for the catalogue body and snapshot state
// bodies, which are small enough to buffer entirely in memory.
func SealWholeBuffer(plain []byte, level compression.Level, params *crypto.Params) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := compression.NewEncoder(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(plain); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	compressed := buf.Bytes()
	if params == nil {
		return compressed, nil
	}
	aead, err := crypto.NewAEAD(params.Key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, params.Nonce[:], compressed, nil), nil
}

// OpenWholeBuffer reverses SealWholeBuffer.
func OpenWholeBuffer(sealed []byte, params *crypto.Params) ([]byte, error) {
	compressed := sealed
	if params != nil {
		aead, err := crypto.NewAEAD(params.Key)
		if err != nil {
			return nil, err
		}
		plain, err := aead.Open(nil, params.Nonce[:], sealed, nil)
		if err != nil {
			return nil, fmt.Errorf("pipe: authentication failed: %w", err)
		}
		compressed = plain
	}
	dec, err := compression.NewDecoder(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
