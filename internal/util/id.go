// Package util holds small helpers shared across the service packages.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier like "stg_3f9c...". The prefix names
// the entity kind; with an empty prefix the bare hex string is returned.
func NewID(prefix string) string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	id := hex.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
