// Package pkce implements RFC 7636 Proof Key for Code Exchange primitives:
// challenge derivation, timing-safe verification, and generation of the
// opaque random values used for states, authorization codes, and refresh
// tokens.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"github.com/pkg/errors"
)

// Method is a PKCE code challenge method.
type Method string

const (
	// MethodS256 hashes the verifier with SHA-256 before encoding.
	MethodS256 Method = "S256"
	// MethodPlain uses the verifier as the challenge unchanged.
	MethodPlain Method = "plain"
)

// DefaultTokenBytes is the entropy of generated opaque tokens (384 bits).
const DefaultTokenBytes = 48

const (
	minVerifierLength = 43
	maxVerifierLength = 128
)

var (
	ErrInvalidVerifier = errors.New("code_verifier must be 43-128 characters of [A-Za-z0-9-._~]")
	ErrInvalidMethod   = errors.New("code_challenge_method must be 'S256' or 'plain'")
)

// ValidMethod reports whether m is a supported code challenge method.
func ValidMethod(m Method) bool {
	return m == MethodS256 || m == MethodPlain
}

// DeriveChallenge computes the code challenge for a verifier. For S256 the
// challenge is the base64url encoding (no padding) of SHA-256(verifier);
// for plain it is the verifier itself.
func DeriveChallenge(verifier string, method Method) (string, error) {
	if err := ValidateVerifier(verifier); err != nil {
		return "", err
	}
	switch method {
	case MethodS256:
		hash := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(hash[:]), nil
	case MethodPlain:
		return verifier, nil
	}
	return "", errors.Wrapf(ErrInvalidMethod, "[DeriveChallenge] %q", method)
}

// VerifyChallenge recomputes the challenge for verifier and compares it
// against expected without leaking timing information. Both operands are
// padded to equal length before the byte comparison and the original
// lengths are checked independently, so the comparison never
// short-circuits on a length mismatch.
func VerifyChallenge(verifier, expected string, method Method) bool {
	derived, err := DeriveChallenge(verifier, method)
	if err != nil {
		return false
	}
	return constantTimeEqual(derived, expected)
}

// ValidateVerifier checks the RFC 7636 verifier constraints.
func ValidateVerifier(verifier string) error {
	if len(verifier) < minVerifierLength || len(verifier) > maxVerifierLength {
		return ErrInvalidVerifier
	}
	for i := 0; i < len(verifier); i++ {
		if !isVerifierChar(verifier[i]) {
			return ErrInvalidVerifier
		}
	}
	return nil
}

// GenerateOpaqueToken returns a URL-safe random token. byteLength <= 0
// selects DefaultTokenBytes. The output contains no '+', '/', or '='.
func GenerateOpaqueToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		byteLength = DefaultTokenBytes
	}
	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "[GenerateOpaqueToken] rand.Read")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateVerifier returns a fresh RFC 7636 verifier (43 characters, S256
// ready), used when the authorize endpoint self-generates the PKCE pair on
// behalf of a simplified client.
func GenerateVerifier() (string, error) {
	return GenerateOpaqueToken(32)
}

func isVerifierChar(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	}
	return false
}

// constantTimeEqual compares a and b in time independent of where they
// first differ. A naive == leaks the position of the first mismatch.
func constantTimeEqual(a, b string) bool {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	ap := make([]byte, maxLen)
	bp := make([]byte, maxLen)
	copy(ap, a)
	copy(bp, b)
	sameLen := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	sameBytes := subtle.ConstantTimeCompare(ap, bp)
	return sameLen&sameBytes == 1
}
