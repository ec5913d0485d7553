package pipe

import (
	"io"

	"golang.org/x/crypto/chacha20"
)

// cipherWriter XORs every byte written against an XChaCha20 keystream
// before forwarding it downstream. It carries no integrity of its own;
// authentication for content files comes from the keyed BLAKE2b
// checksum recorded in the Content-Ref instead.
type cipherWriter struct {
	w   io.Writer
	c   *chacha20.Cipher
	buf []byte
}

func newCipherWriter(w io.Writer, c *chacha20.Cipher) *cipherWriter {
	return &cipherWriter{w: w, c: c}
}

func (cw *cipherWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if cap(cw.buf) < len(p) {
		cw.buf = make([]byte, len(p))
	}
	buf := cw.buf[:len(p)]
	cw.c.XORKeyStream(buf, p)
	n, err := cw.w.Write(buf)
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// cipherReader reverses cipherWriter: it pulls ciphertext from the
// wrapped reader and yields plaintext keystream-XORed bytes.
type cipherReader struct {
	r   io.Reader
	c   *chacha20.Cipher
	buf []byte
}

func newCipherReader(r io.Reader, c *chacha20.Cipher) *cipherReader {
	return &cipherReader{r: r, c: c}
}

func (cr *cipherReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.c.XORKeyStream(p[:n], p[:n])
	}
	return n, err
}
