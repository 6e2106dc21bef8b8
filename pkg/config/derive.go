package config

import "crypto/sha256"

// DeriveKey derives a 32-byte AES-256 key from a passphrase using
// SHA-256.
func DeriveKey(passphrase string) []byte {
	hash := sha256.Sum256([]byte(passphrase))
	return hash[:]
}
