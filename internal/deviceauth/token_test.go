package deviceauth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func testKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestMintAndVerifyResultToken(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	signer := NewSigner("https://identity.test", testKey(t), time.Hour, func() time.Time { return now })

	token, err := signer.MintResultToken("user-1", "cli")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Fatalf("expected a three-part JWT, got %d parts", len(parts))
	}

	userID, clientID, err := signer.VerifyResultToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("subject = %q, want %q", userID, "user-1")
	}
	if clientID != "cli" {
		t.Fatalf("client id = %q, want %q", clientID, "cli")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	signer := NewSigner("https://identity.test", testKey(t), time.Hour, func() time.Time { return now })

	token, err := signer.MintResultToken("user-1", "cli")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, _, err := signer.VerifyResultToken(token); err == nil {
		t.Fatal("expected expired token to fail verification")
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	signer := NewSigner("https://identity.test", testKey(t), time.Hour, clock)
	other := NewSigner("https://identity.test", testKey(t), time.Hour, clock)

	token, err := signer.MintResultToken("user-1", "cli")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, _, err := other.VerifyResultToken(token); err == nil {
		t.Fatal("expected verification under a different key to fail")
	}
}

func TestOpaqueModeWithoutKey(t *testing.T) {
	signer := NewSigner("", nil, time.Hour, nil)

	token, err := signer.MintResultToken("user-1", "cli")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if token == "" {
		t.Fatal("expected an opaque token")
	}
	if strings.Count(token, ".") != 0 {
		t.Fatalf("opaque token %q should not look like a JWT", token)
	}

	second, err := signer.MintResultToken("user-1", "cli")
	if err != nil {
		t.Fatalf("mint again: %v", err)
	}
	if token == second {
		t.Fatal("expected distinct opaque tokens")
	}

	if _, _, err := signer.VerifyResultToken(token); err == nil {
		t.Fatal("expected opaque-mode verification to fail")
	}
}

func TestLoadSignerFromEnv(t *testing.T) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	t.Setenv("IDENTITY_DEVICE_TOKEN_ISSUER", "https://identity.test")
	t.Setenv("IDENTITY_DEVICE_TOKEN_PRIVATE_KEY", base64.StdEncoding.EncodeToString(key))
	t.Setenv("IDENTITY_DEVICE_TOKEN_TTL", "30m")

	signer, err := LoadSignerFromEnv(nil)
	if err != nil {
		t.Fatalf("load signer: %v", err)
	}
	if signer.ttl != 30*time.Minute {
		t.Fatalf("ttl = %v, want 30m", signer.ttl)
	}
	token, err := signer.MintResultToken("user-1", "cli")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("expected a signed JWT, got %q", token)
	}
}

func TestLoadSignerFromEnvOpaqueWithoutKey(t *testing.T) {
	t.Setenv("IDENTITY_DEVICE_TOKEN_ISSUER", "")
	t.Setenv("IDENTITY_DEVICE_TOKEN_PRIVATE_KEY", "")

	signer, err := LoadSignerFromEnv(nil)
	if err != nil {
		t.Fatalf("load signer: %v", err)
	}
	if len(signer.key) != 0 {
		t.Fatal("expected opaque-mode signer")
	}
}

func TestLoadSignerFromEnvRejectsBadKey(t *testing.T) {
	t.Setenv("IDENTITY_DEVICE_TOKEN_ISSUER", "https://identity.test")
	t.Setenv("IDENTITY_DEVICE_TOKEN_PRIVATE_KEY", "not-base64!!!")

	if _, err := LoadSignerFromEnv(nil); err == nil {
		t.Fatal("expected malformed key to fail")
	}

	t.Setenv("IDENTITY_DEVICE_TOKEN_PRIVATE_KEY", base64.StdEncoding.EncodeToString([]byte("short")))
	if _, err := LoadSignerFromEnv(nil); err == nil {
		t.Fatal("expected short key to fail")
	}
}

func TestLoadSignerFromEnvRequiresIssuerWithKey(t *testing.T) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	t.Setenv("IDENTITY_DEVICE_TOKEN_ISSUER", "")
	t.Setenv("IDENTITY_DEVICE_TOKEN_PRIVATE_KEY", base64.StdEncoding.EncodeToString(key))

	if _, err := LoadSignerFromEnv(nil); err == nil {
		t.Fatal("expected missing issuer to fail when a key is set")
	}
}
