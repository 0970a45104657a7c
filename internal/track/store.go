package track

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// walJournalSizeLimit caps the WAL journal at 64 MiB.
const walJournalSizeLimit = 67108864

// recordingTrackKey is the app_state key holding the id of the track
// currently being recorded, if any.
const recordingTrackKey = "recording_track_id"

// Store persists tracks and sync state in an embedded SQLite database with
// WAL mode. It is the concrete implementation behind the consumer-defined
// interfaces in the sync package.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	trackStmts trackStatements
	stateStmts stateStatements
}

type trackStatements struct {
	get, create, update, delete, listLinked, listUnsynced *sql.Stmt
}

type stateStatements struct {
	getCursor, saveCursor, listPending, addPending, clearPending *sql.Stmt
	getAppState, saveAppState                                    *sql.Stmt
}

// NewStore opens the database at dbPath, applies migrations, and prepares
// all repeated statements. Use ":memory:" for tests.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening track database", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("track: open sqlite: %w", err)
	}

	// Single connection: SQLite handles one writer, and sharing a
	// connection keeps the in-memory test database alive.
	db.SetMaxOpenConns(1)

	if err := setPragmas(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("track: prepare statements: %w", err)
	}

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("track: set pragma %q: %w", p, err)
		}
	}

	return nil
}

// --- SQL query constants ---

const (
	sqlTrackColumns = `id, name, description, remote_id, modified_at, points,
		created_at, updated_at`

	sqlGetTrack = `SELECT ` + sqlTrackColumns + ` FROM tracks WHERE id = ?`

	sqlCreateTrack = `INSERT INTO tracks
		(name, description, remote_id, modified_at, points, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	sqlUpdateTrack = `UPDATE tracks
		SET name = ?, description = ?, remote_id = ?, modified_at = ?,
			points = ?, updated_at = ?
		WHERE id = ?`

	sqlDeleteTrack = `DELETE FROM tracks WHERE id = ?`

	sqlListLinked = `SELECT ` + sqlTrackColumns +
		` FROM tracks WHERE remote_id != '' ORDER BY id`

	sqlListUnsynced = `SELECT ` + sqlTrackColumns +
		` FROM tracks WHERE remote_id = '' ORDER BY id`
)

const (
	sqlGetCursor = `SELECT largest_change_id FROM sync_state WHERE account = ?`

	sqlSaveCursor = `INSERT INTO sync_state (account, largest_change_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(account) DO UPDATE
		SET largest_change_id = excluded.largest_change_id,
			updated_at = excluded.updated_at`

	sqlListPending = `SELECT file_id FROM pending_deletions
		WHERE account = ? ORDER BY file_id`

	sqlAddPending = `INSERT INTO pending_deletions (account, file_id)
		VALUES (?, ?)
		ON CONFLICT(account, file_id) DO NOTHING`

	sqlClearPending = `DELETE FROM pending_deletions WHERE account = ?`

	sqlGetAppState = `SELECT value FROM app_state WHERE key = ?`

	sqlSaveAppState = `INSERT INTO app_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
)

// stmtDef maps a SQL string to the prepared statement pointer it populates.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

func (s *Store) prepareStatements(ctx context.Context) error {
	defs := []stmtDef{
		{&s.trackStmts.get, sqlGetTrack, "getTrack"},
		{&s.trackStmts.create, sqlCreateTrack, "createTrack"},
		{&s.trackStmts.update, sqlUpdateTrack, "updateTrack"},
		{&s.trackStmts.delete, sqlDeleteTrack, "deleteTrack"},
		{&s.trackStmts.listLinked, sqlListLinked, "listLinked"},
		{&s.trackStmts.listUnsynced, sqlListUnsynced, "listUnsynced"},
		{&s.stateStmts.getCursor, sqlGetCursor, "getCursor"},
		{&s.stateStmts.saveCursor, sqlSaveCursor, "saveCursor"},
		{&s.stateStmts.listPending, sqlListPending, "listPending"},
		{&s.stateStmts.addPending, sqlAddPending, "addPending"},
		{&s.stateStmts.clearPending, sqlClearPending, "clearPending"},
		{&s.stateStmts.getAppState, sqlGetAppState, "getAppState"},
		{&s.stateStmts.saveAppState, sqlSaveAppState, "saveAppState"},
	}

	for i := range defs {
		stmt, err := s.db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

// --- Track CRUD ---

// scanTrack scans a full track row, decoding the points JSON column.
func scanTrack(row interface{ Scan(...any) error }) (*Track, error) {
	t := &Track{}

	var pointsJSON string

	err := row.Scan(
		&t.ID, &t.Name, &t.Description, &t.RemoteID, &t.ModifiedAt,
		&pointsJSON, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if pointsJSON != "" && pointsJSON != "[]" {
		if err := json.Unmarshal([]byte(pointsJSON), &t.Points); err != nil {
			return nil, fmt.Errorf("decoding points for track %d: %w", t.ID, err)
		}
	}

	return t, nil
}

// encodePoints serializes track points for the points column.
func encodePoints(points []Point) (string, error) {
	if len(points) == 0 {
		return "[]", nil
	}

	b, err := json.Marshal(points)
	if err != nil {
		return "", fmt.Errorf("encoding points: %w", err)
	}

	return string(b), nil
}

// GetTrack retrieves a single track by id.
// Returns (nil, nil) if no track exists — callers use the nil track to
// distinguish "gone" from "found".
func (s *Store) GetTrack(ctx context.Context, id int64) (*Track, error) {
	t, err := scanTrack(s.trackStmts.get.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("track: get track %d: %w", id, err)
	}

	return t, nil
}

// CreateTrack inserts a new track and returns its id. The CreatedAt,
// UpdatedAt, and ID fields of the argument are set on success.
func (s *Store) CreateTrack(ctx context.Context, t *Track) (int64, error) {
	pointsJSON, err := encodePoints(t.Points)
	if err != nil {
		return 0, fmt.Errorf("track: create track: %w", err)
	}

	now := NowNano()
	t.CreatedAt = now
	t.UpdatedAt = now

	result, err := s.trackStmts.create.ExecContext(ctx,
		t.Name, t.Description, t.RemoteID, t.ModifiedAt, pointsJSON, now, now)
	if err != nil {
		return 0, fmt.Errorf("track: create track %q: %w", t.Name, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("track: create track %q id: %w", t.Name, err)
	}

	t.ID = id
	s.logger.Debug("created track", slog.Int64("id", id), slog.String("name", t.Name))

	return id, nil
}

// UpdateTrack writes all mutable fields of the track back to the database.
func (s *Store) UpdateTrack(ctx context.Context, t *Track) error {
	pointsJSON, err := encodePoints(t.Points)
	if err != nil {
		return fmt.Errorf("track: update track %d: %w", t.ID, err)
	}

	t.UpdatedAt = NowNano()

	_, err = s.trackStmts.update.ExecContext(ctx,
		t.Name, t.Description, t.RemoteID, t.ModifiedAt, pointsJSON, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("track: update track %d: %w", t.ID, err)
	}

	return nil
}

// DeleteTrack removes a track by id. Deleting a missing track is a no-op.
func (s *Store) DeleteTrack(ctx context.Context, id int64) error {
	if _, err := s.trackStmts.delete.ExecContext(ctx, id); err != nil {
		return fmt.Errorf("track: delete track %d: %w", id, err)
	}

	s.logger.Debug("deleted track", slog.Int64("id", id))

	return nil
}

// listTracks runs a prepared list statement and scans all rows.
func (s *Store) listTracks(ctx context.Context, stmt *sql.Stmt, desc string) ([]*Track, error) {
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("track: %s: %w", desc, err)
	}
	defer rows.Close()

	var tracks []*Track

	for rows.Next() {
		t, scanErr := scanTrack(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("track: %s scan: %w", desc, scanErr)
		}

		tracks = append(tracks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("track: %s rows: %w", desc, err)
	}

	return tracks, nil
}

// ListLinkedTracks returns all tracks holding a remote link, ordered by id.
func (s *Store) ListLinkedTracks(ctx context.Context) ([]*Track, error) {
	return s.listTracks(ctx, s.trackStmts.listLinked, "list linked tracks")
}

// ListUnsyncedTracks returns all tracks without a remote link, ordered by id.
func (s *Store) ListUnsyncedTracks(ctx context.Context) ([]*Track, error) {
	return s.listTracks(ctx, s.trackStmts.listUnsynced, "list unsynced tracks")
}

// --- Sync state ---

// SyncState reads the cursor and pending-deletion set for an account.
// A missing row yields CursorUnset, which triggers the initial full sync.
func (s *Store) SyncState(ctx context.Context, account string) (*SyncState, error) {
	state := &SyncState{Account: account, LargestChangeID: CursorUnset}

	err := s.stateStmts.getCursor.QueryRowContext(ctx, account).Scan(&state.LargestChangeID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("track: sync state cursor %s: %w", account, err)
	}

	rows, err := s.stateStmts.listPending.QueryContext(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("track: sync state pending %s: %w", account, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("track: sync state pending scan: %w", err)
		}

		state.PendingDeletions = append(state.PendingDeletions, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("track: sync state pending rows: %w", err)
	}

	return state, nil
}

// SaveSyncState atomically writes the cursor and replaces the pending set.
// Called once per cycle, after all side effects have completed.
func (s *Store) SaveSyncState(ctx context.Context, state *SyncState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("track: save sync state begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.StmtContext(ctx, s.stateStmts.saveCursor).
		ExecContext(ctx, state.Account, state.LargestChangeID, NowNano())
	if err != nil {
		return fmt.Errorf("track: save sync state cursor: %w", err)
	}

	_, err = tx.StmtContext(ctx, s.stateStmts.clearPending).ExecContext(ctx, state.Account)
	if err != nil {
		return fmt.Errorf("track: save sync state clear pending: %w", err)
	}

	addStmt := tx.StmtContext(ctx, s.stateStmts.addPending)
	for _, id := range state.PendingDeletions {
		if _, err := addStmt.ExecContext(ctx, state.Account, id); err != nil {
			return fmt.Errorf("track: save sync state pending %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("track: save sync state commit: %w", err)
	}

	s.logger.Debug("saved sync state",
		slog.String("account", state.Account),
		slog.Int64("largest_change_id", state.LargestChangeID),
		slog.Int("pending_deletions", len(state.PendingDeletions)),
	)

	return nil
}

// AddPendingDeletion queues a remote file id for trashing on the next cycle.
// Called by local deletion paths when they remove a linked track.
func (s *Store) AddPendingDeletion(ctx context.Context, account, fileID string) error {
	if _, err := s.stateStmts.addPending.ExecContext(ctx, account, fileID); err != nil {
		return fmt.Errorf("track: add pending deletion %s: %w", fileID, err)
	}

	return nil
}

// --- App state ---

// RecordingTrack returns the id of the track currently being recorded,
// or 0 when no recording is in progress.
func (s *Store) RecordingTrack(ctx context.Context) (int64, error) {
	var value string

	err := s.stateStmts.getAppState.QueryRowContext(ctx, recordingTrackKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("track: recording track: %w", err)
	}

	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("track: recording track value %q: %w", value, err)
	}

	return id, nil
}

// SetRecordingTrack marks a track as being recorded. Pass 0 to clear.
func (s *Store) SetRecordingTrack(ctx context.Context, id int64) error {
	_, err := s.stateStmts.saveAppState.ExecContext(ctx,
		recordingTrackKey, strconv.FormatInt(id, 10))
	if err != nil {
		return fmt.Errorf("track: set recording track %d: %w", id, err)
	}

	return nil
}

// --- Maintenance ---

// Close closes all prepared statements and the database connection.
func (s *Store) Close() error {
	s.logger.Info("closing track database")

	stmts := []*sql.Stmt{
		s.trackStmts.get, s.trackStmts.create, s.trackStmts.update,
		s.trackStmts.delete, s.trackStmts.listLinked, s.trackStmts.listUnsynced,
		s.stateStmts.getCursor, s.stateStmts.saveCursor,
		s.stateStmts.listPending, s.stateStmts.addPending, s.stateStmts.clearPending,
		s.stateStmts.getAppState, s.stateStmts.saveAppState,
	}

	var errs []string

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if err := s.db.Close(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("track: close: %s", strings.Join(errs, "; "))
	}

	return nil
}
