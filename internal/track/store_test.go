package track

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(":memory:", slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestTrackCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := &Track{
		Name:        "morning run",
		Description: "easy pace",
		ModifiedAt:  UnsyncedMtime,
		Points: []Point{
			{Lat: 60.17, Lon: 24.94, Elev: 12.5, Time: 1700000000000000000},
			{Lat: 60.18, Lon: 24.95, Elev: 13.0, Time: 1700000060000000000},
		},
	}

	id, err := s.CreateTrack(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, id, in.ID)
	assert.NotZero(t, in.CreatedAt)

	got, err := s.GetTrack(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "morning run", got.Name)
	assert.Equal(t, int64(UnsyncedMtime), got.ModifiedAt)
	require.Len(t, got.Points, 2)
	assert.Equal(t, 60.17, got.Points[0].Lat)

	got.Name = "renamed"
	got.RemoteID = "f1"
	got.ModifiedAt = 42
	require.NoError(t, s.UpdateTrack(ctx, got))

	got, err = s.GetTrack(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "f1", got.RemoteID)
	assert.Equal(t, int64(42), got.ModifiedAt)

	require.NoError(t, s.DeleteTrack(ctx, id))

	got, err = s.GetTrack(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetTrackMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetTrack(context.Background(), 9999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteMissingTrackIsNoOp(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.DeleteTrack(context.Background(), 9999))
}

func TestListTracksSplitsByLink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateTrack(ctx, &Track{Name: "local only", ModifiedAt: UnsyncedMtime})
	require.NoError(t, err)

	linkedID, err := s.CreateTrack(ctx, &Track{Name: "synced", RemoteID: "f1", ModifiedAt: 100})
	require.NoError(t, err)

	linked, err := s.ListLinkedTracks(ctx)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, linkedID, linked[0].ID)

	unsynced, err := s.ListUnsyncedTracks(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, "local only", unsynced[0].Name)
}

func TestSyncStateMissingRowIsUnset(t *testing.T) {
	s := newTestStore(t)

	state, err := s.SyncState(context.Background(), "user@example.com")
	require.NoError(t, err)

	assert.Equal(t, int64(CursorUnset), state.LargestChangeID)
	assert.Empty(t, state.PendingDeletions)
}

func TestSaveSyncStateRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := &SyncState{
		Account:          "user@example.com",
		LargestChangeID:  123,
		PendingDeletions: []string{"f1", "f2"},
	}
	require.NoError(t, s.SaveSyncState(ctx, in))

	state, err := s.SyncState(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(123), state.LargestChangeID)
	assert.Equal(t, []string{"f1", "f2"}, state.PendingDeletions)

	// Saving replaces the pending set wholesale.
	in.LargestChangeID = 456
	in.PendingDeletions = []string{"f3"}
	require.NoError(t, s.SaveSyncState(ctx, in))

	state, err = s.SyncState(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(456), state.LargestChangeID)
	assert.Equal(t, []string{"f3"}, state.PendingDeletions)
}

func TestSyncStateIsPerAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSyncState(ctx, &SyncState{Account: "a@example.com", LargestChangeID: 10}))
	require.NoError(t, s.SaveSyncState(ctx, &SyncState{Account: "b@example.com", LargestChangeID: 20}))

	a, err := s.SyncState(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(10), a.LargestChangeID)

	b, err := s.SyncState(ctx, "b@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(20), b.LargestChangeID)
}

func TestAddPendingDeletionDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddPendingDeletion(ctx, "user@example.com", "f1"))
	require.NoError(t, s.AddPendingDeletion(ctx, "user@example.com", "f1"))
	require.NoError(t, s.AddPendingDeletion(ctx, "user@example.com", "f2"))

	state, err := s.SyncState(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2"}, state.PendingDeletions)
}

func TestRecordingTrack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.RecordingTrack(ctx)
	require.NoError(t, err)
	assert.Zero(t, id)

	require.NoError(t, s.SetRecordingTrack(ctx, 7))

	id, err = s.RecordingTrack(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	require.NoError(t, s.SetRecordingTrack(ctx, 0))

	id, err = s.RecordingTrack(ctx)
	require.NoError(t, err)
	assert.Zero(t, id)
}

func TestTrackWithoutPoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateTrack(ctx, &Track{Name: "empty", ModifiedAt: UnsyncedMtime})
	require.NoError(t, err)

	got, err := s.GetTrack(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got.Points)
}
