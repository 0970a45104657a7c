package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/tracksync/internal/drive"
	"github.com/tonimelisma/tracksync/internal/kml"
	"github.com/tonimelisma/tracksync/internal/track"
)

// Reconciler applies a collected ChangeSet to the local track store. Each
// linked track claims its change-set entry and removes it; entries left over
// afterwards are genuinely new remote files and are imported. The
// claim-and-remove protocol is what keeps remote ids single-owner: an id
// can be claimed by at most one track per cycle.
//
// Per-track failures are logged and absorbed at the track boundary — the
// affected track is retried next cycle because its link and timestamps only
// advance on success.
type Reconciler struct {
	store  TrackStore
	files  FileClient
	codec  Codec
	logger *slog.Logger
}

// ReconcileStats counts the side effects of one reconciliation pass.
type ReconcileStats struct {
	Pushed   int // local newer, remote updated
	Pulled   int // remote newer, local replaced
	Deleted  int // local tracks removed for remote tombstones
	Unlinked int // links cleared because the remote file left the folder
	Imported int // new remote files materialized locally
	Stamped  int // lossy fallbacks that only adopted the remote timestamp
}

// NewReconciler creates a Reconciler operating on the given collaborators.
func NewReconciler(store TrackStore, files FileClient, codec Codec, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		store:  store,
		files:  files,
		codec:  codec,
		logger: logger,
	}
}

// Reconcile processes every linked track against the change set, then
// imports the unclaimed remainder. The change set is consumed: entries are
// removed as they are claimed.
func (r *Reconciler) Reconcile(ctx context.Context, folderID string, cs ChangeSet) (*ReconcileStats, error) {
	tracks, err := r.store.ListLinkedTracks(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: listing linked tracks: %w", err)
	}

	stats := &ReconcileStats{}
	claimed := make(map[string]int64, len(tracks))

	for _, t := range tracks {
		if ctx.Err() != nil {
			return stats, fmt.Errorf("sync: reconcile: %w", ctx.Err())
		}

		if prev, dup := claimed[t.RemoteID]; dup {
			// Two tracks holding the same remote id is a programming defect
			// (the claim-and-remove protocol prevents it); do not try to
			// repair it here.
			r.logger.Error("duplicate remote link",
				slog.String("remote_id", t.RemoteID),
				slog.Int64("track_id", t.ID),
				slog.Int64("claimed_by", prev),
			)

			continue
		}

		claimed[t.RemoteID] = t.ID

		r.reconcileTrack(ctx, t, cs, folderID, stats)
	}

	r.importNew(ctx, cs, stats)

	r.logger.Info("reconciliation complete",
		slog.Int("pushed", stats.Pushed),
		slog.Int("pulled", stats.Pulled),
		slog.Int("deleted", stats.Deleted),
		slog.Int("unlinked", stats.Unlinked),
		slog.Int("imported", stats.Imported),
		slog.Int("stamped", stats.Stamped),
	)

	return stats, nil
}

// reconcileTrack applies one of {remote-deleted, remote-changed, not-touched}
// to a single linked track, claiming its change-set entry if present.
func (r *Reconciler) reconcileTrack(ctx context.Context, t *track.Track, cs ChangeSet, folderID string, stats *ReconcileStats) {
	snap, touched := cs[t.RemoteID]
	if touched {
		delete(cs, t.RemoteID)

		if snap == nil {
			r.logger.Info("deleting local track for remote tombstone",
				slog.Int64("track_id", t.ID),
				slog.String("name", t.Name),
			)

			if err := r.store.DeleteTrack(ctx, t.ID); err != nil {
				r.logger.Error("delete track failed", slog.Int64("track_id", t.ID), slog.String("error", err.Error()))
				return
			}

			stats.Deleted++

			return
		}

		r.merge(ctx, t, snap, stats)

		return
	}

	// Not touched this cycle. The link may still have silently gone stale
	// (moved or deleted before the current cursor window), so verify it.
	f, err := r.files.GetFile(ctx, t.RemoteID)
	if err != nil && !errors.Is(err, drive.ErrNotFound) {
		r.logger.Warn("fetch linked file failed, skipping track",
			slog.Int64("track_id", t.ID),
			slog.String("remote_id", t.RemoteID),
			slog.String("error", err.Error()),
		)

		return
	}

	if err != nil || !validForFolder(f, folderID) {
		// The link is no longer valid; clear it and mark the track
		// unsynced so the uploader re-evaluates it next cycle.
		r.logger.Info("clearing stale remote link",
			slog.Int64("track_id", t.ID),
			slog.String("remote_id", t.RemoteID),
		)

		t.RemoteID = ""
		t.ModifiedAt = track.UnsyncedMtime

		if updErr := r.store.UpdateTrack(ctx, t); updErr != nil {
			r.logger.Error("unlink track failed", slog.Int64("track_id", t.ID), slog.String("error", updErr.Error()))
			return
		}

		stats.Unlinked++

		return
	}

	r.merge(ctx, t, f, stats)
}

// merge resolves a linked track against a remote snapshot by modified-time
// comparison: newer local pushes, newer remote pulls, equal is a no-op.
// Push and pull failures fall back to adopting the remote timestamp so the
// same conflict is not re-detected every cycle; the fallback loses the
// losing side's edit and is logged as such.
func (r *Reconciler) merge(ctx context.Context, t *track.Track, f *drive.File, stats *ReconcileStats) {
	localMtime := t.ModifiedAt
	remoteMtime := track.ToUnixNano(f.ModifiedAt)

	switch {
	case localMtime > remoteMtime:
		r.push(ctx, t, f, stats)
	case localMtime < remoteMtime:
		r.pull(ctx, t, f, remoteMtime, stats)
	default:
		// Timestamps agree; nothing to do.
	}
}

// push updates the remote file from the local track.
func (r *Reconciler) push(ctx context.Context, t *track.Track, f *drive.File, stats *ReconcileStats) {
	content, err := r.codec.Encode(t)
	if err != nil {
		r.logger.Error("encode track failed", slog.Int64("track_id", t.ID), slog.String("error", err.Error()))
		return
	}

	meta := drive.Metadata{
		Title:       kml.Filename(t),
		MimeType:    kml.MimeType,
		Description: t.Description,
		ModifiedAt:  time.Unix(0, t.ModifiedAt),
	}

	updated, err := r.files.UpdateFile(ctx, f.ID, meta, content)
	if err != nil {
		// No within-cycle retry. Adopt the remote timestamp instead: the
		// local edit loses, but the conflict converges instead of being
		// re-detected identically every cycle.
		r.logger.Warn("remote update failed, adopting remote timestamp",
			slog.Int64("track_id", t.ID),
			slog.String("remote_id", f.ID),
			slog.String("error", err.Error()),
		)

		r.stamp(ctx, t, track.ToUnixNano(f.ModifiedAt), stats)

		return
	}

	// Mirror the server's effective timestamp so both sides agree.
	if mtime := track.ToUnixNano(updated.ModifiedAt); mtime != 0 {
		t.ModifiedAt = mtime
	}

	if err := r.store.UpdateTrack(ctx, t); err != nil {
		r.logger.Error("record push timestamp failed", slog.Int64("track_id", t.ID), slog.String("error", err.Error()))
		return
	}

	r.logger.Info("pushed track", slog.Int64("track_id", t.ID), slog.String("remote_id", f.ID))
	stats.Pushed++
}

// pull replaces the local track with the decoded remote content. The decode
// must yield exactly one track; any other count means the remote file is
// unusable, in which case the decoded extras are discarded and the original
// track only adopts the remote timestamp (local content wins by default).
func (r *Reconciler) pull(ctx context.Context, t *track.Track, f *drive.File, remoteMtime int64, stats *ReconcileStats) {
	ids, ok := r.downloadAndDecode(ctx, f)
	if !ok {
		r.stamp(ctx, t, remoteMtime, stats)
		return
	}

	if len(ids) != 1 {
		r.logger.Warn("decode produced unexpected track count, keeping local content",
			slog.Int64("track_id", t.ID),
			slog.String("remote_id", f.ID),
			slog.Int("count", len(ids)),
		)

		r.discardTracks(ctx, ids)
		r.stamp(ctx, t, remoteMtime, stats)

		return
	}

	if err := r.relink(ctx, ids[0], f.ID, remoteMtime, t.ID); err != nil {
		r.logger.Error("relink pulled track failed",
			slog.Int64("track_id", t.ID),
			slog.String("remote_id", f.ID),
			slog.String("error", err.Error()),
		)

		r.discardTracks(ctx, ids)

		return
	}

	r.logger.Info("pulled track",
		slog.Int64("old_track_id", t.ID),
		slog.Int64("new_track_id", ids[0]),
		slog.String("remote_id", f.ID),
	)

	stats.Pulled++
}

// importNew materializes every change-set entry not claimed by a linked
// track. Unclaimed tombstones are events for files never (or no longer)
// known locally and are simply dropped.
func (r *Reconciler) importNew(ctx context.Context, cs ChangeSet, stats *ReconcileStats) {
	for fileID, snap := range cs {
		if snap == nil {
			continue
		}

		if ctx.Err() != nil {
			return
		}

		ids, ok := r.downloadAndDecode(ctx, snap)
		if !ok {
			continue // retried next cycle: the cursor advanced but the file remains unclaimed remote-side
		}

		if len(ids) != 1 {
			r.logger.Warn("imported file decoded to unexpected track count, discarding",
				slog.String("remote_id", fileID),
				slog.Int("count", len(ids)),
			)

			r.discardTracks(ctx, ids)

			continue
		}

		if err := r.relink(ctx, ids[0], fileID, track.ToUnixNano(snap.ModifiedAt), 0); err != nil {
			r.logger.Error("link imported track failed",
				slog.String("remote_id", fileID),
				slog.String("error", err.Error()),
			)

			r.discardTracks(ctx, ids)

			continue
		}

		r.logger.Info("imported remote track",
			slog.Int64("track_id", ids[0]),
			slog.String("remote_id", fileID),
			slog.String("title", snap.Title),
		)

		stats.Imported++
	}
}

// downloadAndDecode streams the remote content through the codec. Returns
// the created track ids and whether the download+decode itself succeeded.
func (r *Reconciler) downloadAndDecode(ctx context.Context, f *drive.File) ([]int64, bool) {
	rc, err := r.files.Download(ctx, f.DownloadURL)
	if err != nil {
		r.logger.Warn("download failed",
			slog.String("remote_id", f.ID),
			slog.String("error", err.Error()),
		)

		return nil, false
	}
	defer rc.Close()

	ids, err := r.codec.Decode(ctx, rc)
	if err != nil {
		r.logger.Warn("decode failed",
			slog.String("remote_id", f.ID),
			slog.Int("partial_tracks", len(ids)),
			slog.String("error", err.Error()),
		)

		r.discardTracks(ctx, ids)

		return nil, false
	}

	return ids, true
}

// relink points a freshly-decoded track at the remote file and stamps it
// with the remote timestamp. When replaceID is non-zero the superseded local
// track is deleted first, so the remote id never has two owners.
func (r *Reconciler) relink(ctx context.Context, trackID int64, fileID string, mtime, replaceID int64) error {
	if replaceID != 0 {
		if err := r.store.DeleteTrack(ctx, replaceID); err != nil {
			return fmt.Errorf("deleting superseded track %d: %w", replaceID, err)
		}
	}

	t, err := r.store.GetTrack(ctx, trackID)
	if err != nil {
		return fmt.Errorf("loading decoded track %d: %w", trackID, err)
	}

	if t == nil {
		return fmt.Errorf("decoded track %d disappeared", trackID)
	}

	t.RemoteID = fileID
	t.ModifiedAt = mtime

	if err := r.store.UpdateTrack(ctx, t); err != nil {
		return fmt.Errorf("linking track %d: %w", trackID, err)
	}

	return nil
}

// stamp adopts the remote timestamp without touching content — the no-op
// convergence fallback.
func (r *Reconciler) stamp(ctx context.Context, t *track.Track, remoteMtime int64, stats *ReconcileStats) {
	t.ModifiedAt = remoteMtime

	if err := r.store.UpdateTrack(ctx, t); err != nil {
		r.logger.Error("stamp track failed", slog.Int64("track_id", t.ID), slog.String("error", err.Error()))
		return
	}

	stats.Stamped++
}

// discardTracks deletes tracks created by a decode that turned out to be
// unusable. Best effort; failures are logged.
func (r *Reconciler) discardTracks(ctx context.Context, ids []int64) {
	for _, id := range ids {
		if err := r.store.DeleteTrack(ctx, id); err != nil {
			r.logger.Error("discard decoded track failed",
				slog.Int64("track_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}
