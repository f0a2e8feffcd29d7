package secrets

import (
	"encoding/base64"
	"fmt"

	"github.com/loomhost/identity/internal/platform/config"
)

// secretsEnv holds raw env values for secret-store key material.
type secretsEnv struct {
	CurrentKey string `env:"IDENTITY_SECRETS_KEK"`
	LegacyKey  string `env:"IDENTITY_SECRETS_LEGACY_KEY"`
}

// LoadKeysFromEnv reads secret-store key material from the environment.
// Both keys are optional; the store degrades per generation when absent.
func LoadKeysFromEnv() (Keys, error) {
	var raw secretsEnv
	if err := config.ParseEnv(&raw); err != nil {
		return Keys{}, err
	}

	var keys Keys
	if raw.CurrentKey != "" {
		key, err := decodeKey(raw.CurrentKey)
		if err != nil {
			return Keys{}, fmt.Errorf("decode IDENTITY_SECRETS_KEK: %w", err)
		}
		keys.Current = key
	}
	if raw.LegacyKey != "" {
		key, err := decodeKey(raw.LegacyKey)
		if err != nil {
			return Keys{}, fmt.Errorf("decode IDENTITY_SECRETS_LEGACY_KEY: %w", err)
		}
		keys.Legacy = key
	}
	return keys, nil
}

func decodeKey(value string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, err
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, fmt.Errorf("key must be 16, 24, or 32 bytes, got %d", len(key))
	}
}
