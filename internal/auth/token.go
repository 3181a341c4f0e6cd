// Package auth provides helpers for generating and verifying the shared
// secrets used by the control API (owner/admin keys), and for bcrypt-hashing
// and verifying them.
package auth

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// GenerateAPIKey creates a new control-API shared secret with a tf_ prefix.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "tf_" + hex.EncodeToString(buf), nil
}

// HashAPIKey bcrypt-hashes a control-API key for storage.
// The dispatch plane itself never stores hashes; it compares the raw secret
// in constant time against the configured owner/admin key.
func HashAPIKey(key string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyAPIKey reports whether key matches a previously recorded hash.
func VerifyAPIKey(key, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
