// Package hasher provides the default key-digest implementation whose
// output the disk store records with each row (content_hash column).
package hasher

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Keccak256Hasher digests keys with Keccak-256, the same hash family the
// teacher's trie layer uses for node digests. Output is lowercase hex,
// which contains no path-unsafe characters.
type Keccak256Hasher struct{}

// Digest returns the hex encoding of Keccak256(key).
func (Keccak256Hasher) Digest(key string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}
