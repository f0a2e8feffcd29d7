// Package pkce implements RFC 7636 proof-key-for-code-exchange primitives.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/loomhost/identity/internal/platform/errors"
)

const (
	// MinVerifierLength and MaxVerifierLength bound code verifiers per RFC 7636.
	MinVerifierLength = 43
	MaxVerifierLength = 128

	// DefaultVerifierLength is used when callers do not request a length.
	DefaultVerifierLength = 64
)

// verifierCharset is the RFC 7636 unreserved character set.
const verifierCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// Pair couples a code verifier with its derived challenge.
type Pair struct {
	CodeVerifier  string
	CodeChallenge string
}

// GenerateVerifier returns a random code verifier of the requested length.
func GenerateVerifier(length int) (string, error) {
	if length < MinVerifierLength || length > MaxVerifierLength {
		return "", errors.WithMetadata(
			errors.CodeVerifierLengthOutOfRange,
			"code verifier length must be between 43 and 128",
			map[string]string{"Length": strconv.Itoa(length)},
		)
	}

	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	verifier := make([]byte, length)
	for i, b := range raw {
		verifier[i] = verifierCharset[int(b)%len(verifierCharset)]
	}
	return string(verifier), nil
}

// ComputeS256Challenge computes the S256 challenge from a verifier.
// The result is base64url without padding and is deterministic.
func ComputeS256Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// GeneratePair returns a fresh verifier and its derived challenge.
func GeneratePair(length int) (Pair, error) {
	if length == 0 {
		length = DefaultVerifierLength
	}
	verifier, err := GenerateVerifier(length)
	if err != nil {
		return Pair{}, err
	}
	return Pair{CodeVerifier: verifier, CodeChallenge: ComputeS256Challenge(verifier)}, nil
}

// GenerateState returns a v4 random identifier for CSRF binding. It is
// independent of any PKCE pair.
func GenerateState() string {
	return uuid.NewString()
}

// VerifyS256 reports whether the verifier derives the stored challenge.
func VerifyS256(verifier, challenge string) bool {
	if !ValidVerifier(verifier) {
		return false
	}
	derived := ComputeS256Challenge(verifier)
	return subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) == 1
}

// ValidVerifier reports whether a verifier has a legal length and charset.
func ValidVerifier(verifier string) bool {
	if len(verifier) < MinVerifierLength || len(verifier) > MaxVerifierLength {
		return false
	}
	for _, c := range []byte(verifier) {
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '.' || c == '_' || c == '~':
		default:
			return false
		}
	}
	return true
}
