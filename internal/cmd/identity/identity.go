// Package identity parses the identity command configuration.
package identity

import (
	"context"
	"flag"
	"strings"

	"github.com/loomhost/identity/internal/app"
)

// Config holds identity command configuration.
type Config struct {
	HTTPAddr string
	DBPath   string
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses flags into a Config, with env fallback for defaults.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	cfg := Config{
		HTTPAddr: envOrDefault(lookup, []string{"IDENTITY_HTTP_ADDR"}, "localhost:8080"),
		DBPath:   envOrDefault(lookup, []string{"IDENTITY_DB_PATH"}, ""),
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The identity HTTP server address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "Path to the identity SQLite database")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the identity server.
func Run(ctx context.Context, cfg Config) error {
	return app.Run(ctx, cfg.HTTPAddr, cfg.DBPath)
}

func envOrDefault(lookup EnvLookup, keys []string, fallback string) string {
	for _, key := range keys {
		if lookup == nil {
			break
		}
		value, ok := lookup(key)
		if ok {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return trimmed
			}
		}
	}
	return fallback
}
