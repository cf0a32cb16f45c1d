package bencode

import (
	"bytes"
	"crypto/sha1"
	"testing"
)

func TestRawValueAtMatchesReencode(t *testing.T) {
	// When the source is already canonical, slicing the raw bytes and
	// re-encoding must agree — this is the property the info-hash
	// computation leans on.
	src := "d8:announce23:http://tracker.example/4:infod6:lengthi1024e4:name8:file.bin12:piece lengthi256e6:pieces0:ee"

	raw, err := RawValueAt([]byte(src), "info")
	if err != nil {
		t.Fatalf("RawValueAt: %v", err)
	}

	decoded, err := NewDecoder(bytes.NewReader(raw)).Decode()
	if err != nil {
		t.Fatalf("decode raw slice: %v", err)
	}

	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(decoded); err != nil {
		t.Fatalf("re-encode: %v", err)
	}

	if !bytes.Equal(buf.Bytes(), raw) {
		t.Fatalf("re-encoded bytes differ from raw slice:\n got=%q\nwant=%q", buf.Bytes(), raw)
	}

	sum := sha1.Sum(raw)
	if len(sum) != 20 {
		t.Fatalf("expected 20-byte sha1 sum")
	}
}

func TestRawValueAtMissingKey(t *testing.T) {
	src := "d8:announce4:spame"
	if _, err := RawValueAt([]byte(src), "info"); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func TestRawValueAtNotDict(t *testing.T) {
	if _, err := RawValueAt([]byte("4:spam"), "info"); err == nil {
		t.Fatalf("expected error when top-level value is not a dictionary")
	}
}
