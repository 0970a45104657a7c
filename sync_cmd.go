package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tracksync/internal/config"
	"github.com/tonimelisma/tracksync/internal/drive"
	"github.com/tonimelisma/tracksync/internal/kml"
	syncpkg "github.com/tonimelisma/tracksync/internal/sync"
	"github.com/tonimelisma/tracksync/internal/tokenfile"
	"github.com/tonimelisma/tracksync/internal/track"
)

// newSyncCmd returns the "sync" command: run one sync cycle.
func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle against the cloud folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context())
		},
	}
}

// runSync wires the collaborators from config and executes a single cycle.
func runSync(ctx context.Context) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if !cfg.Sync.Enabled {
		exitf("sync is disabled in the config (set [sync] enabled = true)")
	}

	if cfg.Account == "" {
		exitf("no account configured (set account in the config)")
	}

	tok, meta, err := tokenfile.Load(cfg.Token)
	if err != nil {
		return err
	}

	if tok == nil {
		exitf("no saved token at %s (log in first)", cfg.Token)
	}

	// The token must belong to the configured account; syncing against the
	// wrong account would cross-link two replicas.
	if meta[tokenfile.AccountMetaKey] != cfg.Account {
		exitf("token account %q does not match configured account %q",
			meta[tokenfile.AccountMetaKey], cfg.Account)
	}

	store, err := track.NewStore(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	httpClient := defaultHTTPClient(tokenfile.HTTPClient(ctx, tok))
	client := drive.NewClient(cfg.BaseURL, httpClient, logger)

	folderID, err := client.EnsureFolder(ctx, cfg.Folder)
	if err != nil {
		return err
	}

	engine := syncpkg.NewEngine(syncpkg.EngineConfig{
		Changes:           client,
		Lister:            client,
		Files:             client,
		Store:             store,
		Codec:             kml.NewCodec(store, logger),
		UploadConcurrency: cfg.Sync.UploadConcurrency,
		Logger:            logger,
	})

	report, err := engine.RunOnce(ctx, syncpkg.Session{
		Account:  cfg.Account,
		FolderID: folderID,
	})
	if err != nil {
		return err
	}

	return printReport(cfg, report)
}

// printReport renders the cycle report, honoring --json.
func printReport(cfg *config.Config, report *syncpkg.Report) error {
	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(report)
	}

	kind := "incremental"
	if report.Initial {
		kind = "initial"
	}

	statusf("%s sync of %q complete in %s", kind, cfg.Folder, report.Duration.Round(timePrecision))
	statusf("  cursor: %d", report.Cursor)
	statusf("  changes: %d, imported: %d, pulled: %d, pushed: %d",
		report.Changes, report.Stats.Imported, report.Stats.Pulled, report.Stats.Pushed)
	statusf("  deleted: %d, unlinked: %d, uploaded: %d",
		report.Stats.Deleted, report.Stats.Unlinked, report.Uploaded)

	return nil
}
