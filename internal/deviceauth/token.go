package deviceauth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
)

// signerEnv holds raw env values before post-parse validation.
type signerEnv struct {
	Issuer     string        `env:"IDENTITY_DEVICE_TOKEN_ISSUER"`
	PrivateKey string        `env:"IDENTITY_DEVICE_TOKEN_PRIVATE_KEY"`
	TTL        time.Duration `env:"IDENTITY_DEVICE_TOKEN_TTL"         envDefault:"1h"`
}

// Signer mints result tokens handed to devices after human approval. With an
// Ed25519 key configured it emits signed JWTs; without one it degrades to
// opaque high-entropy tokens.
type Signer struct {
	issuer string
	key    ed25519.PrivateKey
	ttl    time.Duration
	clock  func() time.Time
}

// resultClaims is the claims shape carried by signed result tokens.
type resultClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
}

// LoadSignerFromEnv reads result-token signing configuration. An empty
// private key yields a signer in opaque mode; a present but malformed key is
// an error.
func LoadSignerFromEnv(clock func() time.Time) (*Signer, error) {
	var raw signerEnv
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parse device token env: %w", err)
	}
	if clock == nil {
		clock = time.Now
	}
	signer := &Signer{
		issuer: strings.TrimSpace(raw.Issuer),
		ttl:    raw.TTL,
		clock:  clock,
	}
	if signer.ttl <= 0 {
		return nil, fmt.Errorf("device token ttl must be positive")
	}

	privateKey := strings.TrimSpace(raw.PrivateKey)
	if privateKey == "" {
		return signer, nil
	}
	keyBytes, err := base64.StdEncoding.DecodeString(privateKey)
	if err != nil {
		return nil, fmt.Errorf("decode device token private key: %w", err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("device token private key must be %d bytes", ed25519.PrivateKeySize)
	}
	if signer.issuer == "" {
		return nil, fmt.Errorf("IDENTITY_DEVICE_TOKEN_ISSUER is required when a signing key is set")
	}
	signer.key = ed25519.PrivateKey(keyBytes)
	return signer, nil
}

// NewSigner builds a signer directly, for wiring outside env parsing. key may
// be nil for opaque mode.
func NewSigner(issuer string, key ed25519.PrivateKey, ttl time.Duration, clock func() time.Time) *Signer {
	if clock == nil {
		clock = time.Now
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Signer{issuer: issuer, key: key, ttl: ttl, clock: clock}
}

// MintResultToken produces the token released to the device on a successful
// poll after approval.
func (s *Signer) MintResultToken(userID, clientID string) (string, error) {
	if s == nil || len(s.key) != ed25519.PrivateKeySize {
		return opaqueToken()
	}

	now := s.clock().UTC()
	jti := make([]byte, 16)
	if _, err := rand.Read(jti); err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}

	payloadJSON, err := json.Marshal(resultClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        base64.RawURLEncoding.EncodeToString(jti),
		},
		ClientID: clientID,
	})
	if err != nil {
		return "", fmt.Errorf("encode token payload: %w", err)
	}
	headerJSON, err := json.Marshal(map[string]string{
		"alg": "EdDSA",
		"typ": "JWT",
	})
	if err != nil {
		return "", fmt.Errorf("encode token header: %w", err)
	}

	encodedHeader := base64.RawURLEncoding.EncodeToString(headerJSON)
	encodedPayload := base64.RawURLEncoding.EncodeToString(payloadJSON)
	signingInput := encodedHeader + "." + encodedPayload
	signature := ed25519.Sign(s.key, []byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

// VerifyResultToken parses and verifies a signed result token, returning the
// approver user ID and the client the grant was issued to. Opaque-mode
// signers cannot verify.
func (s *Signer) VerifyResultToken(token string) (userID, clientID string, err error) {
	if s == nil || len(s.key) != ed25519.PrivateKeySize {
		return "", "", errors.New("result token verifier is not configured")
	}

	var parsed resultClaims
	_, err = jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (any, error) {
		return s.key.Public(), nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		return "", "", fmt.Errorf("parse result token: %w", err)
	}
	return parsed.Subject, parsed.ClientID, nil
}

func opaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate opaque token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
