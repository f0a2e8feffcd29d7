// Package secrets protects long-lived tenant secrets with envelope
// encryption and migrates values from the legacy single-key scheme to the
// current per-tenant scheme on read.
package secrets

import (
	"encoding/base64"
	"strings"
)

// envelopeVersion tags the current envelope format.
const envelopeVersion = "v1"

// ivSize is the AES-GCM nonce size in raw bytes. Twelve bytes encode to
// exactly sixteen base64 characters, which IsEncryptedValue keys on.
const ivSize = 12

// encodedIVLength is the base64 length of a 12-byte IV segment.
const encodedIVLength = 16

// IsEncryptedValue reports whether a stored value looks like one of the two
// envelope formats: "v1:<iv>:<ciphertext>" (current) or "<iv>:<ciphertext>"
// (legacy). The IV segment must be exactly sixteen base64 characters, which
// keeps plaintext values containing colons from matching.
func IsEncryptedValue(value string) bool {
	parts := strings.Split(value, ":")
	switch len(parts) {
	case 2:
		return isIVSegment(parts[0]) && isBase64(parts[1])
	case 3:
		return parts[0] == envelopeVersion && isIVSegment(parts[1]) && isBase64(parts[2])
	default:
		return false
	}
}

func isIVSegment(segment string) bool {
	return len(segment) == encodedIVLength && isBase64(segment)
}

func isBase64(segment string) bool {
	if segment == "" {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(segment)
	return err == nil
}
