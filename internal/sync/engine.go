package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/tracksync/internal/track"
)

// Session identifies one account's sync scope. It is threaded through the
// engine's entry point rather than held as ambient state, so cycles for
// different accounts can run side by side (against separate engines) and
// tests can inject everything.
type Session struct {
	Account  string // key for the persisted sync state
	FolderID string // resolved remote folder id
}

// EngineConfig holds the collaborators for NewEngine.
type EngineConfig struct {
	Changes           ChangeLister
	Lister            FileLister
	Files             FileClient
	Store             TrackStore
	Codec             Codec
	UploadConcurrency int
	Logger            *slog.Logger
}

// Report summarizes the result of a single sync cycle.
type Report struct {
	CycleID  string
	Initial  bool
	Cursor   int64
	Changes  int // change set entries collected
	Uploaded int
	Stats    ReconcileStats
	Duration time.Duration
}

// Engine orchestrates a complete sync cycle:
// flush pending deletions → collect changes → reconcile → upload → commit.
// The cursor and pending set are read at cycle start and written only after
// reconciliation and upload both complete, so an interrupted cycle re-runs
// against the old cursor; all remote side effects are idempotent under
// re-delivery. Concurrent cycles for the same account must not overlap —
// that is the scheduler's responsibility, not enforced here.
type Engine struct {
	store     TrackStore
	collector *Collector
	flusher   *Flusher
	reconcile *Reconciler
	uploader  *Uploader
	logger    *slog.Logger
}

// NewEngine wires the cycle phases from the given collaborators.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:     cfg.Store,
		collector: NewCollector(cfg.Changes, cfg.Files, cfg.Lister, logger),
		flusher:   NewFlusher(cfg.Files, logger),
		reconcile: NewReconciler(cfg.Store, cfg.Files, cfg.Codec, logger),
		uploader:  NewUploader(cfg.Store, cfg.Files, cfg.Codec, cfg.UploadConcurrency, logger),
		logger:    logger,
	}
}

// RunOnce executes one sync cycle for the session. An error means the cycle
// aborted before commit; persisted state is untouched and the next cycle
// retries from the previous cursor.
func (e *Engine) RunOnce(ctx context.Context, sess Session) (*Report, error) {
	start := time.Now()
	cycleID := uuid.NewString()

	logger := e.logger.With(
		slog.String("cycle_id", cycleID),
		slog.String("account", sess.Account),
	)

	state, err := e.store.SyncState(ctx, sess.Account)
	if err != nil {
		return nil, fmt.Errorf("sync: reading sync state: %w", err)
	}

	initial := state.LargestChangeID == track.CursorUnset

	logger.Info("sync cycle started",
		slog.Bool("initial", initial),
		slog.Int64("cursor", state.LargestChangeID),
		slog.Int("pending_deletions", len(state.PendingDeletions)),
	)

	// Phase 1: replay queued deletions so recreated remote ids are not
	// misread as live files by the feed below. The set is cleared in
	// memory now and persisted at commit; a crash in between re-flushes,
	// which is harmless (trash is idempotent).
	e.flusher.Flush(ctx, state.PendingDeletions, sess.FolderID)
	state.PendingDeletions = nil

	// Phase 2: collect the change set.
	var (
		cs     ChangeSet
		cursor int64
	)

	if initial {
		cs, cursor, err = e.collector.CollectInitial(ctx, sess.FolderID)
	} else {
		cs, cursor, err = e.collector.Collect(ctx, sess.FolderID, state.LargestChangeID)
	}

	if err != nil {
		return nil, err
	}

	report := &Report{CycleID: cycleID, Initial: initial, Changes: len(cs)}

	// Phase 3: reconcile linked tracks against the change set and import
	// the remainder. The set must be fully assembled before this point —
	// reconciliation observes a consistent snapshot, never a stream.
	stats, err := e.reconcile.Reconcile(ctx, sess.FolderID, cs)
	if err != nil {
		return nil, err
	}

	report.Stats = *stats

	// Phase 4: upload unsynced tracks.
	uploaded, err := e.uploader.Upload(ctx, sess.FolderID)
	if err != nil {
		return nil, err
	}

	report.Uploaded = uploaded

	// Phase 5: commit. The cursor never moves backwards.
	if cursor > state.LargestChangeID {
		state.LargestChangeID = cursor
	}

	if err := e.store.SaveSyncState(ctx, state); err != nil {
		return nil, fmt.Errorf("sync: committing sync state: %w", err)
	}

	report.Cursor = state.LargestChangeID
	report.Duration = time.Since(start)

	logger.Info("sync cycle finished",
		slog.Bool("initial", initial),
		slog.Int64("cursor", report.Cursor),
		slog.Int("changes", report.Changes),
		slog.Int("uploaded", report.Uploaded),
		slog.Int("imported", stats.Imported),
		slog.Int("deleted", stats.Deleted),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}
