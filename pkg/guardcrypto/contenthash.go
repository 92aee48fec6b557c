package guardcrypto

import (
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// ContentHashSize is the length in bytes of a ContentHash.
const ContentHashSize = 32

// ContentHash is a 32-byte BLAKE3 digest used to content-address audit
// entries, plugin binaries, and file writes.
type ContentHash [ContentHashSize]byte

// HashBytes computes the ContentHash of data.
func HashBytes(data []byte) ContentHash {
	var h ContentHash
	sum := blake3.Sum256(data)
	copy(h[:], sum[:])
	return h
}

// String renders the hash as lowercase hex.
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero-value hash, used as the sentinel
// "no predecessor" value for the first entry of an audit chain.
func (h ContentHash) IsZero() bool {
	return h == ContentHash{}
}

// ParseContentHash decodes a hex-encoded ContentHash.
func ParseContentHash(s string) (ContentHash, error) {
	var h ContentHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("guardcrypto: invalid content hash hex: %w", err)
	}
	if len(b) != ContentHashSize {
		return h, fmt.Errorf("guardcrypto: invalid content hash length %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}
