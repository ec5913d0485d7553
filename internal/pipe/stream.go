package pipe

import (
	"fmt"

	"github.com/archivarius/archivarius/internal/checksum"
	"github.com/archivarius/archivarius/internal/encoding"
)

// WriteFrame builds the framed-message encoding spec.md §4.1 describes:
// varint(len(msg)) | msg | fixed64(xxh64(msg)). The catalogue header is
// written as a bare frame (no compression/encryption); the catalogue
// body, the snapshot state body, and any other framed message are
// passed through SealWholeBuffer afterwards.
func WriteFrame(msg []byte) []byte {
	h, err := checksum.NewHasher(checksum.TypeXXHash64, nil)
	if err != nil {
		panic(err)
	}
	_, _ = h.Write(msg)
	sum := h.Digest().Bytes

	if len(sum) != 8 {
		panic("pipe: xxhash64 digest must be 8 bytes")
	}
	out := make([]byte, 0, encoding.MaxVarint64Length+len(msg)+8)
	out = encoding.AppendVarint64(out, uint64(len(msg)))
	out = append(out, msg...)
	out = append(out, sum...)
	return out
}

// ReadFrame parses one WriteFrame record from the front of data,
// verifying its checksum, and returns the message bytes plus however
// much of data followed the frame.
func ReadFrame(data []byte) (msg []byte, rest []byte, err error) {
	n, consumed, derr := encoding.DecodeVarint64(data)
	if derr != nil {
		return nil, nil, fmt.Errorf("pipe: malformed frame length: %w", derr)
	}
	data = data[consumed:]
	if uint64(len(data)) < n+8 {
		return nil, nil, fmt.Errorf("pipe: truncated frame: need %d bytes, have %d", n+8, len(data))
	}
	msg = data[:n]
	trailer := data[n : n+8]
	rest = data[n+8:]

	h, herr := checksum.NewHasher(checksum.TypeXXHash64, nil)
	if herr != nil {
		return nil, nil, herr
	}
	_, _ = h.Write(msg)
	got := h.Digest().Bytes
	if !bytesEqual(got, trailer) {
		return nil, nil, fmt.Errorf("pipe: checksum mismatch: frame is corrupt")
	}
	return msg, rest, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
