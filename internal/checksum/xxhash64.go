// xxhash64.go implements the 64-bit xxHash algorithm, used as the default,
// unkeyed checksum for content blobs, snapshot state files and the
// catalogue body.
//
// Reference: https://github.com/Cyan4973/xxHash/blob/dev/doc/xxhash_spec.md
package checksum

import (
	"encoding/binary"
)

// XXHash64 constants
const (
	xxh64Prime1 uint64 = 0x9E3779B185EBCA87
	xxh64Prime2 uint64 = 0xC2B2AE3D27D4EB4F
	xxh64Prime3 uint64 = 0x165667B19E3779F9
	xxh64Prime4 uint64 = 0x85EBCA77C2B2AE63
	xxh64Prime5 uint64 = 0x27D4EB2F165667C5
)

// XXHash64 computes the 64-bit XXHash of data in one shot.
func XXHash64(data []byte) uint64 {
	return XXHash64WithSeed(data, 0)
}

// XXHash64WithSeed computes the 64-bit XXHash of data with a seed.
func XXHash64WithSeed(data []byte, seed uint64) uint64 {
	n := len(data)
	var h64 uint64

	if n >= 32 {
		v1 := seed + xxh64Prime1 + xxh64Prime2
		v2 := seed + xxh64Prime2
		v3 := seed
		v4 := seed - xxh64Prime1

		for len(data) >= 32 {
			v1 = xxh64Round(v1, binary.LittleEndian.Uint64(data[0:8]))
			v2 = xxh64Round(v2, binary.LittleEndian.Uint64(data[8:16]))
			v3 = xxh64Round(v3, binary.LittleEndian.Uint64(data[16:24]))
			v4 = xxh64Round(v4, binary.LittleEndian.Uint64(data[24:32]))
			data = data[32:]
		}

		h64 = xxh64RotateLeft(v1, 1) + xxh64RotateLeft(v2, 7) +
			xxh64RotateLeft(v3, 12) + xxh64RotateLeft(v4, 18)
		h64 = xxh64MergeRound(h64, v1)
		h64 = xxh64MergeRound(h64, v2)
		h64 = xxh64MergeRound(h64, v3)
		h64 = xxh64MergeRound(h64, v4)
	} else {
		h64 = seed + xxh64Prime5
	}

	h64 += uint64(n)

	for len(data) >= 8 {
		k1 := xxh64Round(0, binary.LittleEndian.Uint64(data[:8]))
		h64 ^= k1
		h64 = xxh64RotateLeft(h64, 27)*xxh64Prime1 + xxh64Prime4
		data = data[8:]
	}

	for len(data) >= 4 {
		h64 ^= uint64(binary.LittleEndian.Uint32(data[:4])) * xxh64Prime1
		h64 = xxh64RotateLeft(h64, 23)*xxh64Prime2 + xxh64Prime3
		data = data[4:]
	}

	for len(data) > 0 {
		h64 ^= uint64(data[0]) * xxh64Prime5
		h64 = xxh64RotateLeft(h64, 11) * xxh64Prime1
		data = data[1:]
	}

	return xxh64Avalanche(h64)
}

func xxh64Round(acc, input uint64) uint64 {
	acc += input * xxh64Prime2
	acc = xxh64RotateLeft(acc, 31)
	acc *= xxh64Prime1
	return acc
}

func xxh64MergeRound(acc, val uint64) uint64 {
	val = xxh64Round(0, val)
	acc ^= val
	acc = acc*xxh64Prime1 + xxh64Prime4
	return acc
}

func xxh64RotateLeft(x uint64, n uint) uint64 {
	return (x << n) | (x >> (64 - n))
}

func xxh64Avalanche(h uint64) uint64 {
	h ^= h >> 33
	h *= xxh64Prime2
	h ^= h >> 29
	h *= xxh64Prime3
	h ^= h >> 32
	return h
}

// XXHash64Digest is an incremental xxHash64 hasher. It holds bounded state
// (four accumulators plus a 32-byte carry buffer) so it can checksum a
// content file's plaintext stream without buffering the whole blob.
type XXHash64Digest struct {
	seed   uint64
	v1     uint64
	v2     uint64
	v3     uint64
	v4     uint64
	total  uint64
	memory [32]byte
	memN   int
	seeded bool
}

// NewXXHash64Digest creates a streaming xxHash64 digest with seed 0.
func NewXXHash64Digest() *XXHash64Digest {
	d := &XXHash64Digest{}
	d.Reset()
	return d
}

// Reset returns the digest to its initial, empty state so it can be reused
// across consecutive blobs in the same content file.
func (d *XXHash64Digest) Reset() {
	d.v1 = d.seed + xxh64Prime1 + xxh64Prime2
	d.v2 = d.seed + xxh64Prime2
	d.v3 = d.seed
	d.v4 = d.seed - xxh64Prime1
	d.total = 0
	d.memN = 0
	d.seeded = true
}

// Write feeds len(p) bytes into the running hash. It never fails.
func (d *XXHash64Digest) Write(p []byte) (int, error) {
	n := len(p)
	d.total += uint64(n)

	if d.memN > 0 {
		filled := copy(d.memory[d.memN:], p)
		d.memN += filled
		p = p[filled:]
		if d.memN < 32 {
			return n, nil
		}
		d.consumeBlock(d.memory[:32])
		d.memN = 0
	}

	for len(p) >= 32 {
		d.consumeBlock(p[:32])
		p = p[32:]
	}

	if len(p) > 0 {
		d.memN = copy(d.memory[:], p)
	}

	return n, nil
}

func (d *XXHash64Digest) consumeBlock(block []byte) {
	d.v1 = xxh64Round(d.v1, binary.LittleEndian.Uint64(block[0:8]))
	d.v2 = xxh64Round(d.v2, binary.LittleEndian.Uint64(block[8:16]))
	d.v3 = xxh64Round(d.v3, binary.LittleEndian.Uint64(block[16:24]))
	d.v4 = xxh64Round(d.v4, binary.LittleEndian.Uint64(block[24:32]))
}

// Sum64 finalizes and returns the hash of all bytes written so far. It does
// not mutate the digest's accumulator state, but callers must Reset before
// writing further bytes meant for a different blob.
func (d *XXHash64Digest) Sum64() uint64 {
	var h64 uint64
	if d.total >= 32 {
		h64 = xxh64RotateLeft(d.v1, 1) + xxh64RotateLeft(d.v2, 7) +
			xxh64RotateLeft(d.v3, 12) + xxh64RotateLeft(d.v4, 18)
		h64 = xxh64MergeRound(h64, d.v1)
		h64 = xxh64MergeRound(h64, d.v2)
		h64 = xxh64MergeRound(h64, d.v3)
		h64 = xxh64MergeRound(h64, d.v4)
	} else {
		h64 = d.seed + xxh64Prime5
	}

	h64 += d.total

	rest := d.memory[:d.memN]
	for len(rest) >= 8 {
		k1 := xxh64Round(0, binary.LittleEndian.Uint64(rest[:8]))
		h64 ^= k1
		h64 = xxh64RotateLeft(h64, 27)*xxh64Prime1 + xxh64Prime4
		rest = rest[8:]
	}
	for len(rest) >= 4 {
		h64 ^= uint64(binary.LittleEndian.Uint32(rest[:4])) * xxh64Prime1
		h64 = xxh64RotateLeft(h64, 23)*xxh64Prime2 + xxh64Prime3
		rest = rest[4:]
	}
	for len(rest) > 0 {
		h64 ^= uint64(rest[0]) * xxh64Prime5
		h64 = xxh64RotateLeft(h64, 11) * xxh64Prime1
		rest = rest[1:]
	}

	return xxh64Avalanche(h64)
}

// Sum returns the 8-byte little-endian encoding of Sum64, matching the wire
// layout used for the framed-message trailer.
func (d *XXHash64Digest) Sum() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, d.Sum64())
	return buf
}
