package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

const refreshSecretSize = 32

// NewRefreshToken returns 256 bits of randomness, hex-encoded.
func NewRefreshToken() (string, error) {
	var secret [refreshSecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(secret[:]), nil
}

// ValidRefreshToken reports whether token has the shape NewRefreshToken produces.
func ValidRefreshToken(token string) bool {
	if len(token) != hex.EncodedLen(refreshSecretSize) {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

// HashToken returns the hex SHA-256 of v. Cache keys carry this instead of
// the credential itself.
func HashToken(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

// ShortHash is a log-safe prefix of HashToken.
func ShortHash(v string) string {
	return HashToken(v)[:12]
}
