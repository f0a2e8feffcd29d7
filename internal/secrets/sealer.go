package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/loomhost/identity/internal/platform/errors"
)

// Encrypt seals one plaintext value under key and returns the current
// envelope format "v1:<base64 iv>:<base64 ciphertext>". A fresh random
// 96-bit IV is drawn for every call and never reused.
func Encrypt(plaintext string, key []byte) (string, error) {
	iv, ciphertext, err := seal(plaintext, key)
	if err != nil {
		return "", err
	}
	return envelopeVersion + ":" +
		base64.StdEncoding.EncodeToString(iv) + ":" +
		base64.StdEncoding.EncodeToString(ciphertext), nil
}

// EncryptLegacy seals one plaintext value in the unversioned legacy format
// "<base64 iv>:<base64 ciphertext>". New writes should prefer Encrypt; this
// exists so deployments without a current key keep their data protected.
func EncryptLegacy(plaintext string, key []byte) (string, error) {
	iv, ciphertext, err := seal(plaintext, key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(iv) + ":" +
		base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt opens an envelope in either format under key. It fails closed:
// tag mismatches, malformed envelopes, and unsupported versions all return
// typed errors and never partial plaintext.
func Decrypt(envelope string, key []byte) (string, error) {
	parts := strings.Split(envelope, ":")
	var ivSegment, ciphertextSegment string
	switch len(parts) {
	case 2:
		ivSegment, ciphertextSegment = parts[0], parts[1]
	case 3:
		if parts[0] != envelopeVersion {
			return "", errors.WithMetadata(
				errors.CodeEnvelopeVersionUnknown,
				"unsupported envelope version",
				map[string]string{"Version": parts[0]},
			)
		}
		ivSegment, ciphertextSegment = parts[1], parts[2]
	default:
		return "", errors.New(errors.CodeEnvelopeMalformed, "envelope does not have the expected segments")
	}

	iv, err := base64.StdEncoding.DecodeString(ivSegment)
	if err != nil {
		return "", errors.Wrap(errors.CodeEnvelopeMalformed, "decode envelope iv", err)
	}
	if len(iv) != ivSize {
		return "", errors.New(errors.CodeEnvelopeMalformed, "envelope iv has the wrong size")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextSegment)
	if err != nil {
		return "", errors.Wrap(errors.CodeEnvelopeMalformed, "decode envelope ciphertext", err)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", errors.Wrap(errors.CodeDecryptFailed, "open envelope", err)
	}
	return string(plaintext), nil
}

// DeriveTenantKey derives the per-tenant data key of the current generation
// from the master key-encryption key. Distinct tenants never share a key.
func DeriveTenantKey(kek []byte, tenantID string) ([]byte, error) {
	if len(kek) == 0 {
		return nil, errors.New(errors.CodeKeyMissing, "key-encryption key is not configured")
	}
	reader := hkdf.New(sha256.New, kek, nil, []byte("tenant-secrets:"+tenantID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive tenant key: %w", err)
	}
	return key, nil
}

func seal(plaintext string, key []byte) (iv, ciphertext []byte, err error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, fmt.Errorf("read iv: %w", err)
	}
	return iv, aead.Seal(nil, iv, []byte(plaintext), nil), nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) == 0 {
		return nil, errors.New(errors.CodeKeyMissing, "encryption key is required")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}
