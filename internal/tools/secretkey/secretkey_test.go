package secretkey

import (
	"bytes"
	"encoding/base64"
	"flag"
	"strings"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("secret-key", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Bytes != 32 {
		t.Fatalf("expected default 32 bytes, got %d", cfg.Bytes)
	}
}

func TestRunRejectsOddSizes(t *testing.T) {
	if err := Run(Config{Bytes: 20}, &bytes.Buffer{}, nil); err == nil {
		t.Fatal("expected error for unsupported key size")
	}
}

func TestRunWritesKey(t *testing.T) {
	buf := &bytes.Buffer{}
	reader := bytes.NewReader(bytes.Repeat([]byte{7}, 32))
	if err := Run(Config{Bytes: 32}, buf, reader); err != nil {
		t.Fatalf("run: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	encoded := strings.TrimPrefix(line, "export IDENTITY_SECRETS_KEK=")
	if encoded == line {
		t.Fatalf("unexpected output format: %q", line)
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	if len(decoded) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(decoded))
	}
}
