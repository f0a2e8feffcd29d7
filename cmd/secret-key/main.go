package main

import (
	"flag"
	"os"

	"github.com/loomhost/identity/internal/platform/config"
	"github.com/loomhost/identity/internal/tools/secretkey"
)

func main() {
	cfg, err := secretkey.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := secretkey.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("generate key: %v", err)
	}
}
