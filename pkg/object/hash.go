package object

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const hashLen = 2 * sha256.Size

// EmptyTreeHash names the tree with no entries.
var EmptyTreeHash = HashObject(TypeTree, nil)

// HashBytes returns the SHA-256 of data. It does not name a stored object;
// use HashObject for that.
func HashBytes(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// HashObject returns the hash an object of type t with content data is
// stored under: the SHA-256 of its envelope "type len\0" followed by data.
func HashObject(t ObjectType, data []byte) Hash {
	d := sha256.New()
	d.Write(envelope(t, len(data)))
	d.Write(data)
	return Hash(hex.EncodeToString(d.Sum(nil)))
}

// ValidateHash checks that h is 64 lowercase hex digits.
func ValidateHash(h Hash) error {
	if len(h) != hashLen {
		return fmt.Errorf("hash %q: want %d hex digits, have %d", h, hashLen, len(h))
	}
	for i := 0; i < len(h); i++ {
		if c := h[i]; (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("hash %q: invalid digit %q at %d", h, c, i)
		}
	}
	return nil
}

// Short abbreviates h for display.
func (h Hash) Short() string {
	if len(h) > 8 {
		return string(h[:8])
	}
	return string(h)
}
