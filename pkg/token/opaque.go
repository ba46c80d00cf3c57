package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// NewOpaque returns a random 32-byte token (hex) and the hash to store for it.
func NewOpaque() (raw, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(b)
	return raw, Hash(raw), nil
}

// Hash is the storage form of an opaque token. Raw tokens are never persisted.
func Hash(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
