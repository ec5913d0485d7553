// blake2b.go wraps golang.org/x/crypto/blake2b to provide the keyed
// authenticating checksum used whenever the archive is encrypted.
package checksum

import "golang.org/x/crypto/blake2b"

// BLAKE2b512Digest streams bytes through a keyed BLAKE2b-512 hash. Keying it
// with the archive's derived key gives the stored checksum the strength of
// a MAC, so a tampered ciphertext cannot be re-checksummed without the key.
type BLAKE2b512Digest struct {
	key []byte
	h   interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
	}
}

// NewBLAKE2b512Digest creates a streaming keyed BLAKE2b-512 digest. key may
// be nil, in which case BLAKE2b-512 runs unkeyed.
func NewBLAKE2b512Digest(key []byte) (*BLAKE2b512Digest, error) {
	h, err := blake2b.New512(key)
	if err != nil {
		return nil, err
	}
	return &BLAKE2b512Digest{key: key, h: h}, nil
}

// Write feeds bytes into the running hash.
func (d *BLAKE2b512Digest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Reset discards all bytes written so far, re-keying with the same key.
func (d *BLAKE2b512Digest) Reset() {
	h, err := blake2b.New512(d.key)
	if err != nil {
		// New512 only fails for an over-long key, already validated above.
		panic(err)
	}
	d.h = h
}

// Sum returns the 64-byte digest of all bytes written so far.
func (d *BLAKE2b512Digest) Sum() []byte {
	return d.h.Sum(nil)
}

// DeriveKey derives a 32-byte symmetric key from a user password via
// unkeyed BLAKE2b-256, as specified for the archive's password_key.
func DeriveKey(password []byte) ([]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	h.Write(password)
	return h.Sum(nil), nil
}
