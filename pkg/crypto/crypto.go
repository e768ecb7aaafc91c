// Package crypto provides invite token generation and password credential
// hashing/verification.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// GenerateToken generates a random token string (32 bytes, hex-encoded).
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("crypto: generate token: %w", err)
	}
	return fmt.Sprintf("%x", b), nil
}

// HashToken hashes a raw token string with SHA-256.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h[:])
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	clear(b)
}
