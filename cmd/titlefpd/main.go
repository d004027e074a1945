// Package main provides titlefpd, the title fingerprint index service.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mrtcode/title-fingerprint-db/internal/cli"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	os.Exit(cli.Run(os.Stdout, os.Stderr, os.Args, sigCh))
}
