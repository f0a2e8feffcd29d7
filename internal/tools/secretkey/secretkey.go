// Package secretkey generates the AES key material the envelope secret
// store derives tenant keys from.
package secretkey

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
)

// Config holds configuration for secret key generation.
type Config struct {
	Bytes int
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Bytes: 32}
	fs.IntVar(&cfg.Bytes, "bytes", cfg.Bytes, "key size in bytes: 16, 24, or 32 (default: 32)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run generates the key and writes the export to out.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	switch cfg.Bytes {
	case 16, 24, 32:
	default:
		return errors.New("bytes must be 16, 24, or 32")
	}
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}

	buf := make([]byte, cfg.Bytes)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return fmt.Errorf("generate random bytes: %w", err)
	}
	_, err := fmt.Fprintf(out, "export IDENTITY_SECRETS_KEK=%s\n", base64.StdEncoding.EncodeToString(buf))
	return err
}
