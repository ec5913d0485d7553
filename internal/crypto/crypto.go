// Package crypto wires the two encryption primitives spec.md §3/§4.1
// require: a whole-blob AEAD used for the catalogue and snapshot state
// files (small enough to buffer entirely), and a streaming cipher with
// no integrity of its own used for content files, where authentication
// instead comes from the embedded keyed BLAKE2b checksum.
//
// Grounded in CodeCracker-oss-Picocrypt-NG's internal/crypto package,
// which layers the same two constructions (XChaCha20 stream cipher,
// ChaCha20-Poly1305 AEAD) over golang.org/x/crypto.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/archivarius/archivarius/internal/checksum"
)

const (
	// KeySize is the symmetric key length for both ciphers (32 bytes).
	KeySize = 32
	// NonceSize is the IV length persisted in the catalogue header and
	// per content-file header (24 bytes, matching the X-variant nonce
	// both ciphers below use).
	NonceSize = 24
)

// Params holds a symmetric key and nonce pair, matching the original
// Encryption_params shape: a 32-byte key and a 24-byte IV. The key is
// always the one derived from the user password; content files reuse
// that key with a fresh random nonce each, and the catalogue/snapshot
// AEAD uses it with the persisted catalogue nonce.
type Params struct {
	Key   [KeySize]byte
	Nonce [NonceSize]byte
}

// Randomize fills both Key and Nonce with fresh random bytes. The
// content-file writer does not call it: each new content file gets
// only a fresh nonce (RandomizeNonce) under the archive's derived key.
func (p *Params) Randomize() error {
	if _, err := rand.Read(p.Key[:]); err != nil {
		return fmt.Errorf("crypto: randomize key: %w", err)
	}
	if _, err := rand.Read(p.Nonce[:]); err != nil {
		return fmt.Errorf("crypto: randomize nonce: %w", err)
	}
	return nil
}

// RandomizeNonce fills only Nonce, leaving Key untouched.
func (p *Params) RandomizeNonce() error {
	_, err := rand.Read(p.Nonce[:])
	return err
}

// IncNonce increments the nonce by one, treating it as a little-endian
// counter. The catalogue bumps its persisted nonce by one every time it
// is loaded, so the next commit never reuses the nonce it just read.
func (p *Params) IncNonce() {
	for i := range p.Nonce {
		p.Nonce[i]++
		if p.Nonce[i] != 0 {
			break
		}
	}
}

// SetPassword derives Key from an arbitrary user password via
// BLAKE2b-256, as the spec's password_key derivation requires.
func (p *Params) SetPassword(password []byte) error {
	if len(password) == 0 {
		return fmt.Errorf("crypto: password must not be empty")
	}
	key, err := checksum.DeriveKey(password)
	if err != nil {
		return err
	}
	copy(p.Key[:], key)
	return nil
}

// NewAEAD builds the ChaCha20-Poly1305 AEAD used for whole-blob
// encryption of the catalogue and snapshot state bodies. It uses the
// X-variant (24-byte nonce) since that's the IV size the wire format
// persists.
func NewAEAD(key [KeySize]byte) (cipher.AEAD, error) {
	return chacha20poly1305.NewX(key[:])
}

// NewStreamCipher builds the unauthenticated XChaCha20 stream cipher
// used for content files; a 24-byte nonce selects the X-variant.
func NewStreamCipher(key [KeySize]byte, nonce [NonceSize]byte) (*chacha20.Cipher, error) {
	return chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
}
