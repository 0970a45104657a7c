// Package track provides the local track record store backed by an embedded
// SQLite database. It owns the tracks table, the per-account sync state
// (change cursor and pending remote deletions), and small bits of app state
// such as the id of a recording in progress.
package track

import "time"

// UnsyncedMtime is the modified-time marker for a track whose remote link
// has been cleared. Any real remote timestamp compares newer, so the track
// is re-evaluated on the next cycle.
const UnsyncedMtime = int64(-1)

// Track is a locally stored track record.
type Track struct {
	ID          int64 // local id, stable
	Name        string
	Description string
	RemoteID    string // linked remote file id; empty means unsynced
	ModifiedAt  int64  // Unix nanoseconds; UnsyncedMtime when unsynced
	Points      []Point

	CreatedAt int64 // row creation (Unix nanoseconds)
	UpdatedAt int64 // row last update (Unix nanoseconds)
}

// Point is a single recorded track point.
type Point struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Elev float64 `json:"elev,omitempty"`
	Time int64   `json:"time,omitempty"` // Unix nanoseconds
}

// CursorUnset marks a sync state with no processed change id yet. A cycle
// seeing this cursor performs the initial full listing instead of reading
// the change feed.
const CursorUnset = int64(-1)

// SyncState is the persisted per-account sync bookkeeping. It is read at
// cycle start and written back only after a cycle completes its side effects.
type SyncState struct {
	Account          string
	LargestChangeID  int64 // CursorUnset until the first successful cycle
	PendingDeletions []string
}

// NowNano returns the current time as Unix nanoseconds.
func NowNano() int64 {
	return time.Now().UnixNano()
}

// ToUnixNano converts a time.Time to Unix nanoseconds.
// Returns 0 for the zero time.
func ToUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}
