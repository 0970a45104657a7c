package sync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tonimelisma/tracksync/internal/drive"
)

// Flusher replays locally-queued remote deletions before the change feed is
// consulted, so a deleted-then-recreated remote id is not reprocessed as a
// live file. Every queued id is dropped after one attempt: if the trash call
// fails, the file has usually already left the folder (or been deleted
// remotely), which makes the intent moot either way.
type Flusher struct {
	files  FileClient
	logger *slog.Logger
}

// NewFlusher creates a Flusher issuing trash requests via files.
func NewFlusher(files FileClient, logger *slog.Logger) *Flusher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Flusher{files: files, logger: logger}
}

// Flush trashes every pending file id that is still valid for the folder.
// Fetch and trash failures are logged and the id is dropped regardless.
func (fl *Flusher) Flush(ctx context.Context, pendingIDs []string, folderID string) {
	for _, id := range pendingIDs {
		if ctx.Err() != nil {
			return
		}

		f, err := fl.files.GetFile(ctx, id)
		if err != nil {
			if !errors.Is(err, drive.ErrNotFound) {
				fl.logger.Warn("pending deletion fetch failed, dropping",
					slog.String("file_id", id),
					slog.String("error", err.Error()),
				)
			}

			continue
		}

		if !validForFolder(f, folderID) {
			continue
		}

		if err := fl.files.TrashFile(ctx, id); err != nil {
			fl.logger.Warn("pending deletion trash failed, dropping",
				slog.String("file_id", id),
				slog.String("error", err.Error()),
			)

			continue
		}

		fl.logger.Info("trashed remote file for local deletion", slog.String("file_id", id))
	}
}
