package internal

import (
	"bytes"
	"encoding/hex"
)

// SecureZero securely zeroes out the given byte slice
func SecureZero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ValidateKeySize validates that a key has the expected size
func ValidateKeySize(key []byte, expectedSize int) bool {
	return len(key) == expectedSize
}

// DecodeKey accepts a key either as raw bytes of the expected size or as
// its hex encoding (surrounding whitespace ignored).
func DecodeKey(b []byte, expectedSize int) ([]byte, bool) {
	if ValidateKeySize(b, expectedSize) {
		out := make([]byte, expectedSize)
		copy(out, b)
		return out, true
	}
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) != 2*expectedSize {
		return nil, false
	}
	out := make([]byte, expectedSize)
	if _, err := hex.Decode(out, trimmed); err != nil {
		return nil, false
	}
	return out, true
}
