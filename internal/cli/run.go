// Package cli wires flag parsing, engine startup, the HTTP server, and
// signal-driven shutdown into a single Run entry point the titlefpd binary
// delegates to. Keeping it here (and not in package main) lets tests drive
// the full startup/shutdown path with an in-memory signal channel.
package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/mrtcode/title-fingerprint-db/internal/api"
	"github.com/mrtcode/title-fingerprint-db/internal/applog"
	"github.com/mrtcode/title-fingerprint-db/internal/engine"
)

// shutdownTimeout bounds how long in-flight requests may drain before the
// final save runs anyway.
const shutdownTimeout = 5 * time.Second

// Run is the main entry point. Returns exit code.
// sigCh can be nil if signal handling is not needed (e.g., in tests that
// stop the server another way).
func Run(out io.Writer, errOut io.Writer, args []string, sigCh <-chan os.Signal) int {
	flags := flag.NewFlagSet("titlefpd", flag.ContinueOnError)
	flags.SetOutput(&strings.Builder{})

	flagDBDir := flags.StringP("db-dir", "d", "", "Directory holding the hashtable and identifier databases")
	flagPort := flags.IntP("port", "p", 0, "TCP port to serve HTTP on")
	flagNameDistance := flags.Int("name-distance", engine.DefaultNameLookupDistance,
		"How many normalized bytes around a title span to scan for the author surname")
	flagHelp := flags.BoolP("help", "h", false, "Show help")

	if err := flags.Parse(args[1:]); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		printUsage(errOut, flags)

		return 1
	}

	if *flagHelp {
		printUsage(out, flags)

		return 0
	}

	if *flagDBDir == "" {
		fmt.Fprintln(errOut, "error: -d <db_directory> is required")
		printUsage(errOut, flags)

		return 1
	}

	if *flagPort <= 0 || *flagPort > 65535 {
		fmt.Fprintln(errOut, "error: -p <port> is required")
		printUsage(errOut, flags)

		return 1
	}

	log := applog.New(errOut)

	ctx := context.Background()

	eng, err := engine.Open(ctx, *flagDBDir, log, engine.Options{
		NameLookupDistance: *flagNameDistance,
	})
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	srv := api.NewServer(eng, log, fmt.Sprintf(":%d", *flagPort))

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	log.Component("cli").Infof("serving on port %d, data in %s", *flagPort, *flagDBDir)

	exitCode := 0

	select {
	case err := <-serveErr:
		// The listener died on its own (port in use, ...). Still close the
		// engine so the final save runs.
		fmt.Fprintln(errOut, "error:", err)

		exitCode = 1
	case <-sigCh:
		log.Component("cli").Infof("shutting down")

		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			log.Component("cli").Errorf("shutdown: %v", err)
		}

		cancel()
	}

	if err := eng.Close(ctx); err != nil {
		log.Component("cli").Errorf("close: %v", err)

		exitCode = 1
	}

	return exitCode
}

func printUsage(w io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: titlefpd -d <db_directory> -p <port>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fmt.Fprint(w, flags.FlagUsages())
}
