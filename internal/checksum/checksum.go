// Package checksum fingerprints project directories so the catalog can skip
// projects that have not changed since the last sync.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of parts. Each part is followed
// by a zero byte, so moving bytes between parts changes the result.
func Sum(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
