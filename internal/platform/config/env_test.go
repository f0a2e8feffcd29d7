package config

import (
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	TTL time.Duration `env:"IDENTITY_TEST_TTL" envDefault:"10m"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.TTL != 10*time.Minute {
		t.Fatalf("expected default ttl 10m, got %v", cfg.TTL)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("IDENTITY_TEST_TTL", "not-a-duration")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
