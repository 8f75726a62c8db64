// Package sha256 derives cache keys from normalized URLs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher. The optional namespace is mixed into every
// digest, so bumping it invalidates a cache without deleting files.
type Hasher struct {
	namespace string
}

// New returns a hasher whose digests are scoped by namespace. An empty
// namespace yields the plain SHA-256 of the input.
func New(namespace string) *Hasher {
	return &Hasher{namespace: namespace}
}

// Hash returns the lowercase hex digest of the namespaced input.
func (h *Hasher) Hash(data []byte) (string, error) {
	d := sha256.New()
	if h.namespace != "" {
		d.Write([]byte(h.namespace))
		d.Write([]byte{0})
	}
	d.Write(data)
	return hex.EncodeToString(d.Sum(nil)), nil
}
