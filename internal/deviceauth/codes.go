package deviceauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// userCodeCharset excludes glyphs that read ambiguously when transcribed by
// hand (0/O, 1/I/L).
const userCodeCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	userCodeLength     = 8
	deviceCodeByteSize = 32
)

// newDeviceCode returns a high-entropy opaque device code.
func newDeviceCode() (string, error) {
	buf := make([]byte, deviceCodeByteSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate device code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// newUserCode returns a short human-transcribable code in XXXX-XXXX form.
func newUserCode() (string, error) {
	buf := make([]byte, userCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate user code: %w", err)
	}
	chars := make([]byte, userCodeLength)
	for i, b := range buf {
		chars[i] = userCodeCharset[int(b)%len(userCodeCharset)]
	}
	return string(chars[:4]) + "-" + string(chars[4:]), nil
}

// NormalizeUserCode canonicalizes human input: case-folds, strips spaces and
// separators, and reinserts the display hyphen when the length allows it.
func NormalizeUserCode(input string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '\t':
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(input)))
	if len(cleaned) != userCodeLength {
		return cleaned
	}
	return cleaned[:4] + "-" + cleaned[4:]
}
