// Package sync implements the reconciliation engine that keeps local tracks
// and a remote cloud folder eventually consistent: change-feed collection
// with cursor advancement, timestamp-based conflict resolution, pending
// deletion replay, and upload of unsynced tracks. A cycle runs its phases
// sequentially and commits the persisted cursor only after all of them
// complete.
package sync

import (
	"context"
	"io"

	"github.com/tonimelisma/tracksync/internal/drive"
	"github.com/tonimelisma/tracksync/internal/track"
)

// ChangeSet maps remote file ids to their latest observed state within one
// cycle. A nil value is a tombstone: the file was deleted, trashed, or moved
// out of the watched folder. Keys are unique; a later change-feed page's
// entry for an id overwrites an earlier one.
type ChangeSet map[string]*drive.File

// AddSnapshot records a live file snapshot, overwriting any prior entry.
func (cs ChangeSet) AddSnapshot(f *drive.File) {
	cs[f.ID] = f
}

// AddTombstone records a deletion, overwriting any prior entry.
func (cs ChangeSet) AddTombstone(fileID string) {
	cs[fileID] = nil
}

// --- Consumer-defined interfaces for the remote store gateway ---
// These decouple the engine from the concrete drive client, following the
// "accept interfaces, return structs" convention. All are satisfied by
// *drive.Client; tests inject in-memory fakes.

// ChangeLister reads the remote change feed.
type ChangeLister interface {
	// ListChanges returns one page of changes starting at startChangeID.
	ListChanges(ctx context.Context, startChangeID int64, pageToken string) (*drive.ChangePage, error)
	// LargestChangeID returns the current head of the change feed.
	LargestChangeID(ctx context.Context) (int64, error)
}

// FileLister reads paginated file listings (initial sync only).
type FileLister interface {
	ListFiles(ctx context.Context, query, pageToken string) (*drive.FilePage, error)
}

// FileClient performs single-file operations against the remote store.
type FileClient interface {
	GetFile(ctx context.Context, fileID string) (*drive.File, error)
	TrashFile(ctx context.Context, fileID string) error
	CreateFile(ctx context.Context, meta drive.Metadata, content io.Reader) (*drive.File, error)
	UpdateFile(ctx context.Context, fileID string, meta drive.Metadata, content io.Reader) (*drive.File, error)
	Download(ctx context.Context, downloadURL string) (io.ReadCloser, error)
}

// TrackStore is the local record store consumed by the engine.
// Satisfied by *track.Store.
type TrackStore interface {
	GetTrack(ctx context.Context, id int64) (*track.Track, error)
	CreateTrack(ctx context.Context, t *track.Track) (int64, error)
	UpdateTrack(ctx context.Context, t *track.Track) error
	DeleteTrack(ctx context.Context, id int64) error
	ListLinkedTracks(ctx context.Context) ([]*track.Track, error)
	ListUnsyncedTracks(ctx context.Context) ([]*track.Track, error)
	RecordingTrack(ctx context.Context) (int64, error)

	SyncState(ctx context.Context, account string) (*track.SyncState, error)
	SaveSyncState(ctx context.Context, state *track.SyncState) error
}

// Codec converts between tracks and remote file content. Satisfied by
// *kml.Codec. Decode creates the resulting tracks through the store and
// returns their ids; callers inspect the count — anything other than exactly
// one record means the remote file is unusable as a replacement.
type Codec interface {
	Encode(t *track.Track) (io.Reader, error)
	Decode(ctx context.Context, r io.Reader) ([]int64, error)
}

// Compile-time checks that the concrete implementations satisfy the
// engine's contracts.
var (
	_ ChangeLister = (*drive.Client)(nil)
	_ FileLister   = (*drive.Client)(nil)
	_ FileClient   = (*drive.Client)(nil)
	_ TrackStore   = (*track.Store)(nil)
)

// validForFolder reports whether a file still belongs to the watched folder
// from the local replica's point of view. Trashed files and files moved
// elsewhere are indistinguishable from deletions.
func validForFolder(f *drive.File, folderID string) bool {
	return f != nil && !f.Trashed && f.InFolder(folderID)
}
