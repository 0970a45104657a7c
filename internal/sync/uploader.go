package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/tracksync/internal/drive"
	"github.com/tonimelisma/tracksync/internal/kml"
	"github.com/tonimelisma/tracksync/internal/track"
)

// defaultUploadConcurrency bounds the upload fan-out when the caller does
// not configure one.
const defaultUploadConcurrency = 4

// Uploader creates remote files for tracks that have no remote link. Each
// upload touches a distinct record, so the fan-out needs no per-id
// serialization. A track currently being recorded is skipped — uploading a
// partial recording would link a half-written state.
type Uploader struct {
	store       TrackStore
	files       FileClient
	codec       Codec
	logger      *slog.Logger
	concurrency int
}

// NewUploader creates an Uploader with the given fan-out bound.
// concurrency <= 0 selects the default.
func NewUploader(store TrackStore, files FileClient, codec Codec, concurrency int, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}

	if concurrency <= 0 {
		concurrency = defaultUploadConcurrency
	}

	return &Uploader{
		store:       store,
		files:       files,
		codec:       codec,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Upload scans unsynced tracks and creates a remote file for each, linking
// the two on success. Per-track failures are logged and skipped; the track
// stays unsynced and is retried next cycle. The returned count is the number
// of successful uploads.
func (u *Uploader) Upload(ctx context.Context, folderID string) (int, error) {
	recordingID, err := u.store.RecordingTrack(ctx)
	if err != nil {
		return 0, fmt.Errorf("sync: reading recording track: %w", err)
	}

	tracks, err := u.store.ListUnsyncedTracks(ctx)
	if err != nil {
		return 0, fmt.Errorf("sync: listing unsynced tracks: %w", err)
	}

	var uploaded atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)

	for _, t := range tracks {
		if t.ID == recordingID {
			u.logger.Debug("skipping recording in progress", slog.Int64("track_id", t.ID))
			continue
		}

		g.Go(func() error {
			if u.uploadOne(gctx, t, folderID) {
				uploaded.Add(1)
			}

			// Per-track failures never abort the scan.
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(uploaded.Load()), fmt.Errorf("sync: upload: %w", err)
	}

	return int(uploaded.Load()), nil
}

// uploadOne encodes and uploads a single track, then links it to the created
// remote file. Reports success.
func (u *Uploader) uploadOne(ctx context.Context, t *track.Track, folderID string) bool {
	content, err := u.codec.Encode(t)
	if err != nil {
		u.logger.Error("encode track failed", slog.Int64("track_id", t.ID), slog.String("error", err.Error()))
		return false
	}

	meta := drive.Metadata{
		Title:       kml.Filename(t),
		MimeType:    kml.MimeType,
		Description: t.Description,
		ParentID:    folderID,
	}

	created, err := u.files.CreateFile(ctx, meta, content)
	if err != nil {
		u.logger.Warn("upload failed, will retry next cycle",
			slog.Int64("track_id", t.ID),
			slog.String("name", t.Name),
			slog.String("error", err.Error()),
		)

		return false
	}

	t.RemoteID = created.ID
	t.ModifiedAt = track.ToUnixNano(created.ModifiedAt)

	if err := u.store.UpdateTrack(ctx, t); err != nil {
		// The remote file now exists but the link write failed; next cycle
		// re-uploads and the orphaned remote copy must be cleaned up by hand.
		u.logger.Error("linking uploaded track failed",
			slog.Int64("track_id", t.ID),
			slog.String("remote_id", created.ID),
			slog.String("error", err.Error()),
		)

		return false
	}

	u.logger.Info("uploaded track",
		slog.Int64("track_id", t.ID),
		slog.String("remote_id", created.ID),
		slog.String("name", t.Name),
	)

	return true
}
