package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// newOpaqueToken returns a random token for emailing and the digest that is
// stored in its place.
func newOpaqueToken() (raw string, digest string) {
	raw = strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	return raw, HashOpaqueToken(raw)
}

// HashOpaqueToken returns the hex SHA-256 digest stored for a verification
// or reset token.
func HashOpaqueToken(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}
