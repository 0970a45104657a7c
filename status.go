package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tracksync/internal/track"
)

// timePrecision rounds durations for human-readable output.
const timePrecision = 10 * time.Millisecond

// statusInfo is the machine-readable shape of the status output.
type statusInfo struct {
	Account          string `json:"account"`
	Cursor           int64  `json:"cursor"`
	InitialSyncDone  bool   `json:"initial_sync_done"`
	LinkedTracks     int    `json:"linked_tracks"`
	UnsyncedTracks   int    `json:"unsynced_tracks"`
	PendingDeletions int    `json:"pending_deletions"`
}

// newStatusCmd returns the "status" command: show sync bookkeeping.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state and track counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context())
		},
	}
}

func runStatus(ctx context.Context) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := track.NewStore(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	state, err := store.SyncState(ctx, cfg.Account)
	if err != nil {
		return err
	}

	linked, err := store.ListLinkedTracks(ctx)
	if err != nil {
		return err
	}

	unsynced, err := store.ListUnsyncedTracks(ctx)
	if err != nil {
		return err
	}

	info := statusInfo{
		Account:          cfg.Account,
		Cursor:           state.LargestChangeID,
		InitialSyncDone:  state.LargestChangeID != track.CursorUnset,
		LinkedTracks:     len(linked),
		UnsyncedTracks:   len(unsynced),
		PendingDeletions: len(state.PendingDeletions),
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(info)
	}

	fmt.Printf("account: %s\n", info.Account)

	if info.InitialSyncDone {
		fmt.Printf("cursor: %d\n", info.Cursor)
	} else {
		fmt.Println("cursor: unset (initial sync pending)")
	}

	fmt.Printf("tracks: %d linked, %d unsynced\n", info.LinkedTracks, info.UnsyncedTracks)
	fmt.Printf("pending remote deletions: %d\n", info.PendingDeletions)

	return nil
}
