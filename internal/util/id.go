package util

import (
	"crypto/rand"
	"encoding/hex"
)

// IDLength is the length of identifiers produced by NewID.
const IDLength = 24

// NewID returns a URL-safe hex string ID.
func NewID() string {
	b := make([]byte, IDLength/2)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ValidID reports whether id has the shape produced by NewID: 24 lowercase
// hex characters.
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
