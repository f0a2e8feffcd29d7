// Package main provides a one-shot utility for result-token key generation.
//
// It emits the Ed25519 keypair used to sign device grant result tokens.
package main

import (
	"os"

	"github.com/loomhost/identity/internal/platform/config"
	"github.com/loomhost/identity/internal/tools/tokenkey"
)

func main() {
	if err := tokenkey.Run(os.Stdout, nil); err != nil {
		config.Exitf("generate token key: %v", err)
	}
}
