// Package tokenhash provides the two hashing lanes used for stored
// credentials: a fast SHA-256 digest for high-frequency lookup keys and a
// slow, salted bcrypt hash for authorization codes and refresh tokens.
package tokenhash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used when none is configured.
const DefaultCost = 12

// slowHashPrefix is the fixed-format algorithm tag of bcrypt hashes
// ("$2a$", "$2b$", ...). It distinguishes slow-hashed values from legacy
// fast digests during migration.
const slowHashPrefix = "$2"

// Hasher wraps the slow lane with a configurable work factor.
type Hasher struct {
	cost int
}

// NewHasher creates a Hasher. Costs outside bcrypt's supported range are
// clamped to DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Hasher{cost: cost}
}

// HashSensitive hashes a long-lived, high-impact value (authorization code,
// refresh token) with bcrypt.
func (h *Hasher) HashSensitive(value string) (string, error) {
	if value == "" {
		return "", errors.New("[HashSensitive] value is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(value), h.cost)
	if err != nil {
		return "", errors.Wrap(err, "[HashSensitive] bcrypt")
	}
	return string(hash), nil
}

// VerifySensitive reports whether value matches a slow hash produced by
// HashSensitive.
func (h *Hasher) VerifySensitive(value, hash string) bool {
	if value == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(value)) == nil
}

// HashFast returns the hex SHA-256 digest of value. Used for values whose
// hash is checked at very high frequency (session lookup keys) and for the
// deterministic lookup column alongside slow-hashed credentials. Comparison
// is a direct re-hash-and-compare, so no verify counterpart exists.
func HashFast(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// IsSlowHash reports whether a stored hash was produced by the slow lane.
func IsSlowHash(stored string) bool {
	return strings.HasPrefix(stored, slowHashPrefix)
}
