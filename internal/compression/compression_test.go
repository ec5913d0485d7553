package compression

import (
	"bytes"
	"io"
	"testing"
)

func TestEncoderDecoderRoundTrip(t *testing.T) {
	levels := []Level{ContentLevel, SnapshotLevel, CatalogueLevel}
	input := bytes.Repeat([]byte("archivarius content stream "), 1000)

	for _, level := range levels {
		var buf bytes.Buffer
		enc, err := NewEncoder(&buf, level)
		if err != nil {
			t.Fatalf("NewEncoder(%v): %v", level, err)
		}
		if _, err := enc.Write(input); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := enc.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		dec, err := NewDecoder(&buf)
		if err != nil {
			t.Fatalf("NewDecoder(%v): %v", level, err)
		}
		got, err := io.ReadAll(dec)
		dec.Close()
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		if !bytes.Equal(got, input) {
			t.Errorf("level %v: round-trip mismatch", level)
		}
	}
}
