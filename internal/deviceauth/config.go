package deviceauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls the device flow endpoints.
type Config struct {
	// VerificationURI is the absolute URL humans visit to enter a user
	// code. It backs verification_uri in initiate responses.
	VerificationURI string `env:"IDENTITY_DEVICE_VERIFICATION_URI" envDefault:"http://localhost:8080/device"`

	// CodeTTL bounds the life of a device_code/user_code pair.
	CodeTTL time.Duration `env:"IDENTITY_DEVICE_CODE_TTL" envDefault:"10m"`

	// PollInterval is the minimum gap between token polls.
	PollInterval time.Duration `env:"IDENTITY_DEVICE_POLL_INTERVAL" envDefault:"5s"`

	// CleanupInterval spaces the overdue-grant expiry sweeps.
	CleanupInterval time.Duration `env:"IDENTITY_DEVICE_CLEANUP_INTERVAL" envDefault:"1m"`
}

// LoadConfigFromEnv reads device flow configuration from the environment.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse device flow env: %w", err)
	}
	cfg.VerificationURI = strings.TrimSpace(cfg.VerificationURI)
	if cfg.VerificationURI == "" {
		return Config{}, fmt.Errorf("IDENTITY_DEVICE_VERIFICATION_URI is required")
	}
	if cfg.CodeTTL <= 0 {
		return Config{}, fmt.Errorf("device code ttl must be positive")
	}
	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("device poll interval must be positive")
	}
	return cfg, nil
}
