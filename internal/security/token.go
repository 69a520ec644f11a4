package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// tokenEntropyBytes is the random payload size of a generated token (192 bits).
const tokenEntropyBytes = 24

// tokenPrefix is the prefix used for generated bearer tokens.
const tokenPrefix = "lm_"

// GenerateToken creates a new random bearer token string. The tier label is
// embedded in the prefix for operator readability only; all entropy lives in
// the URL-safe random payload.
func GenerateToken(tier string) (string, error) {
	secret := make([]byte, tokenEntropyBytes)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(secret)
	if tier == "" {
		return tokenPrefix + payload, nil
	}
	return tokenPrefix + tier + "_" + payload, nil
}

// HashToken computes the hex SHA-256 digest of salt||raw. This is the only
// representation of the secret that is ever persisted.
func HashToken(salt, raw string) string {
	sum := sha256.Sum256([]byte(salt + raw))
	return hex.EncodeToString(sum[:])
}

// SecureCompare reports whether two strings are equal in constant time.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
