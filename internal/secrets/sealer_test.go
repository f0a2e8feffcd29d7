package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"testing"

	apperrors "github.com/loomhost/identity/internal/platform/errors"
)

var testKey = bytes.Repeat([]byte{0x42}, 32)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	for _, plaintext := range []string{
		"",
		"hello world",
		"emoji \U0001F510 and accents àéîõü",
		strings.Repeat("long", 512),
		"value:with:colons",
	} {
		envelope, err := Encrypt(plaintext, testKey)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plaintext, err)
		}
		got, err := Decrypt(envelope, testKey)
		if err != nil {
			t.Fatalf("decrypt %q: %v", plaintext, err)
		}
		if got != plaintext {
			t.Fatalf("round trip mismatch: got %q, want %q", got, plaintext)
		}
	}
}

func TestEncryptEnvelopeShape(t *testing.T) {
	envelope, err := Encrypt("hello world", testKey)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	pattern := regexp.MustCompile(`^v1:[A-Za-z0-9+/]{16}:[A-Za-z0-9+/=]{24,}$`)
	if !pattern.MatchString(envelope) {
		t.Fatalf("unexpected envelope shape: %q", envelope)
	}
	if !IsEncryptedValue(envelope) {
		t.Fatalf("expected IsEncryptedValue to recognize %q", envelope)
	}
}

func TestEncryptUsesFreshIVs(t *testing.T) {
	first, err := Encrypt("same plaintext", testKey)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	second, err := Encrypt("same plaintext", testKey)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct envelopes for repeated plaintext")
	}
	if strings.Split(first, ":")[1] == strings.Split(second, ":")[1] {
		t.Fatal("expected distinct IVs for repeated plaintext")
	}
}

func TestDecryptWrongKeyFailsClosed(t *testing.T) {
	envelope, err := Encrypt("top secret", testKey)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	wrongKey := bytes.Repeat([]byte{0x43}, 32)
	_, err = Decrypt(envelope, wrongKey)
	if err == nil {
		t.Fatal("expected decrypt under the wrong key to fail")
	}
	if !errors.Is(err, apperrors.New(apperrors.CodeDecryptFailed, "")) {
		t.Fatalf("expected decrypt failure code, got %v", err)
	}
}

func TestDecryptFlippedByteFailsClosed(t *testing.T) {
	envelope, err := Encrypt("top secret", testKey)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	parts := strings.Split(envelope, ":")
	ciphertext, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decode ciphertext: %v", err)
	}
	ciphertext[0] ^= 0x01
	parts[2] = base64.StdEncoding.EncodeToString(ciphertext)

	_, err = Decrypt(strings.Join(parts, ":"), testKey)
	if !errors.Is(err, apperrors.New(apperrors.CodeDecryptFailed, "")) {
		t.Fatalf("expected decrypt failure code, got %v", err)
	}
}

func TestDecryptRejectsUnsupportedVersion(t *testing.T) {
	envelope, err := Encrypt("top secret", testKey)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	tampered := "v9" + strings.TrimPrefix(envelope, "v1")
	_, err = Decrypt(tampered, testKey)
	if !errors.Is(err, apperrors.New(apperrors.CodeEnvelopeVersionUnknown, "")) {
		t.Fatalf("expected unsupported version code, got %v", err)
	}
}

func TestDecryptRejectsMalformedEnvelopes(t *testing.T) {
	for _, envelope := range []string{
		"",
		"not-an-envelope",
		"v1:short:Y2lwaGVy",
		"v1:!!!!!!!!!!!!!!!!:Y2lwaGVy",
		"a:b:c:d",
	} {
		_, err := Decrypt(envelope, testKey)
		if err == nil {
			t.Fatalf("expected error for %q", envelope)
		}
	}
}

func TestLegacyRoundTrip(t *testing.T) {
	envelope, err := EncryptLegacy("legacy value", testKey)
	if err != nil {
		t.Fatalf("encrypt legacy: %v", err)
	}
	if strings.Count(envelope, ":") != 1 {
		t.Fatalf("expected unversioned envelope, got %q", envelope)
	}
	if !IsEncryptedValue(envelope) {
		t.Fatalf("expected IsEncryptedValue to recognize legacy %q", envelope)
	}
	got, err := Decrypt(envelope, testKey)
	if err != nil {
		t.Fatalf("decrypt legacy: %v", err)
	}
	if got != "legacy value" {
		t.Fatalf("legacy round trip mismatch: %q", got)
	}
}

func TestIsEncryptedValueRejectsPlaintext(t *testing.T) {
	for _, value := range []string{
		"plain-text-value",
		"plain:text:value",
		"ghp_sometoken:with:colons",
		"aaaa:bbbb",
		"",
	} {
		if IsEncryptedValue(value) {
			t.Fatalf("expected %q not to look encrypted", value)
		}
	}
}

func TestDeriveTenantKeyIsolation(t *testing.T) {
	kek := bytes.Repeat([]byte{0x01}, 32)
	keyA, err := DeriveTenantKey(kek, "tenant-a")
	if err != nil {
		t.Fatalf("derive tenant a: %v", err)
	}
	keyB, err := DeriveTenantKey(kek, "tenant-b")
	if err != nil {
		t.Fatalf("derive tenant b: %v", err)
	}
	if bytes.Equal(keyA, keyB) {
		t.Fatal("expected distinct tenants to derive distinct keys")
	}

	envelope, err := Encrypt("tenant a secret", keyA)
	if err != nil {
		t.Fatalf("encrypt under tenant a: %v", err)
	}
	if _, err := Decrypt(envelope, keyB); err == nil {
		t.Fatal("expected tenant b key to fail closed on tenant a ciphertext")
	}
}
