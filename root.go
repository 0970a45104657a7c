package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/tracksync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// httpClientTimeout bounds individual API requests so a hung connection
// cannot stall a sync cycle indefinitely.
const httpClientTimeout = 60 * time.Second

// newRootCmd builds the fully-assembled root command with all subcommands
// registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tracksync",
		Short:   "Sync local tracks with a cloud folder",
		Long:    "tracksync keeps a local track database and a cloud folder eventually consistent using the remote change feed.",
		Version: version,
		// Silence Cobra's default error/usage printing — main() handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (default: user config dir)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "machine-readable JSON output")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "warnings and errors only")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// newLogger builds the process logger: human-readable text on a terminal,
// JSON otherwise. --verbose and --quiet adjust the level.
func newLogger() *slog.Logger {
	level := slog.LevelInfo

	switch {
	case flagVerbose:
		level = slog.LevelDebug
	case flagQuiet:
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) && !flagJSON {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// loadConfig resolves the config path and loads the file.
func loadConfig() (*config.Config, error) {
	path := flagConfigPath

	if path == "" {
		var err error

		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultHTTPClient returns an HTTP client with a request timeout applied.
// The oauth2 transport is layered on top by the caller.
func defaultHTTPClient(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}

	base.Timeout = httpClientTimeout

	return base
}

// exitf prints a formatted message to stderr and exits non-zero. Used for
// conditions that are user errors rather than runtime failures.
func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
