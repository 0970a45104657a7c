package sync

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	stdsync "sync"
	"time"

	"github.com/tonimelisma/tracksync/internal/drive"
	"github.com/tonimelisma/tracksync/internal/track"
)

// Compile-time interface checks.
var (
	_ TrackStore   = (*fakeStore)(nil)
	_ ChangeLister = (*fakeRemote)(nil)
	_ FileLister   = (*fakeRemote)(nil)
	_ FileClient   = (*fakeRemote)(nil)
	_ Codec        = (*fakeCodec)(nil)
)

// --- In-memory track store ---

// fakeStore implements TrackStore with map-backed storage. List and Get
// return copies so that, like a real database scan, mutations are only
// visible after UpdateTrack.
type fakeStore struct {
	mu        stdsync.Mutex
	nextID    int64
	tracks    map[int64]*track.Track
	recording int64
	states    map[string]*track.SyncState

	// Error injection
	listLinkedErr   error
	listUnsyncedErr error
	updateErr       error
	deleteErr       error
	syncStateErr    error
	saveStateErr    error

	// Call recordings
	deleted     []int64
	savedStates []*track.SyncState
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tracks: make(map[int64]*track.Track),
		states: make(map[string]*track.SyncState),
	}
}

// addTrack seeds a track and returns its id.
func (s *fakeStore) addTrack(t *track.Track) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	t.ID = s.nextID
	cp := *t
	s.tracks[t.ID] = &cp

	return t.ID
}

func copyTrack(t *track.Track) *track.Track {
	cp := *t
	return &cp
}

func (s *fakeStore) GetTrack(_ context.Context, id int64) (*track.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracks[id]
	if !ok {
		return nil, nil
	}

	return copyTrack(t), nil
}

func (s *fakeStore) CreateTrack(_ context.Context, t *track.Track) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	t.ID = s.nextID
	s.tracks[t.ID] = copyTrack(t)

	return t.ID, nil
}

func (s *fakeStore) UpdateTrack(_ context.Context, t *track.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updateErr != nil {
		return s.updateErr
	}

	s.tracks[t.ID] = copyTrack(t)

	return nil
}

func (s *fakeStore) DeleteTrack(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleteErr != nil {
		return s.deleteErr
	}

	delete(s.tracks, id)
	s.deleted = append(s.deleted, id)

	return nil
}

func (s *fakeStore) listWhere(linked bool) []*track.Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*track.Track

	for _, t := range s.tracks {
		if (t.RemoteID != "") == linked {
			out = append(out, copyTrack(t))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

func (s *fakeStore) ListLinkedTracks(_ context.Context) ([]*track.Track, error) {
	if s.listLinkedErr != nil {
		return nil, s.listLinkedErr
	}

	return s.listWhere(true), nil
}

func (s *fakeStore) ListUnsyncedTracks(_ context.Context) ([]*track.Track, error) {
	if s.listUnsyncedErr != nil {
		return nil, s.listUnsyncedErr
	}

	return s.listWhere(false), nil
}

func (s *fakeStore) RecordingTrack(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.recording, nil
}

func (s *fakeStore) SyncState(_ context.Context, account string) (*track.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.syncStateErr != nil {
		return nil, s.syncStateErr
	}

	st, ok := s.states[account]
	if !ok {
		return &track.SyncState{Account: account, LargestChangeID: track.CursorUnset}, nil
	}

	cp := *st
	cp.PendingDeletions = append([]string(nil), st.PendingDeletions...)

	return &cp, nil
}

func (s *fakeStore) SaveSyncState(_ context.Context, state *track.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveStateErr != nil {
		return s.saveStateErr
	}

	cp := *state
	cp.PendingDeletions = append([]string(nil), state.PendingDeletions...)
	s.states[state.Account] = &cp
	s.savedStates = append(s.savedStates, &cp)

	return nil
}

// --- In-memory remote store ---

// fakeRemote implements ChangeLister, FileLister, and FileClient. Change and
// file pages are served in the order configured; an error can be injected at
// a given page index.
type fakeRemote struct {
	mu stdsync.Mutex

	files    map[string]*drive.File // by id, for GetFile
	contents map[string]string      // download URL -> body

	changePages []*drive.ChangePage
	changeErrAt int // inject ListChanges error at this call index (-1 = never)

	filePages []*drive.FilePage
	fileErrAt int // inject ListFiles error at this call index (-1 = never)

	head    int64
	headErr error

	getErr      map[string]error
	trashErr    error
	createErr   error
	updateErr   error
	downloadErr error

	nextCreateID int

	// Call recordings
	trashed      []string
	created      []drive.Metadata
	updated      []string
	callOrder    []string
	getCalls     int
	downloads    int
	updateCalls  int
	createCalls  int
	listChCalls  int
	listFiCalls  int
	changeStarts []int64
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		files:       make(map[string]*drive.File),
		contents:    make(map[string]string),
		getErr:      make(map[string]error),
		changeErrAt: -1,
		fileErrAt:   -1,
	}
}

func (r *fakeRemote) ListChanges(_ context.Context, startChangeID int64, _ string) (*drive.ChangePage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.callOrder = append(r.callOrder, "listChanges")
	r.changeStarts = append(r.changeStarts, startChangeID)

	idx := r.listChCalls
	r.listChCalls++

	if r.changeErrAt >= 0 && idx == r.changeErrAt {
		return nil, fmt.Errorf("injected change page failure")
	}

	if idx >= len(r.changePages) {
		return &drive.ChangePage{}, nil
	}

	return r.changePages[idx], nil
}

func (r *fakeRemote) LargestChangeID(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.callOrder = append(r.callOrder, "largestChangeID")

	return r.head, r.headErr
}

func (r *fakeRemote) ListFiles(_ context.Context, _, _ string) (*drive.FilePage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.callOrder = append(r.callOrder, "listFiles")

	idx := r.listFiCalls
	r.listFiCalls++

	if r.fileErrAt >= 0 && idx == r.fileErrAt {
		return nil, fmt.Errorf("injected file page failure")
	}

	if idx >= len(r.filePages) {
		return &drive.FilePage{}, nil
	}

	return r.filePages[idx], nil
}

func (r *fakeRemote) GetFile(_ context.Context, fileID string) (*drive.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.getCalls++

	if err, ok := r.getErr[fileID]; ok {
		return nil, err
	}

	f, ok := r.files[fileID]
	if !ok {
		return nil, fmt.Errorf("get file %s: %w", fileID, drive.ErrNotFound)
	}

	cp := *f

	return &cp, nil
}

func (r *fakeRemote) TrashFile(_ context.Context, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.trashErr != nil {
		return r.trashErr
	}

	r.trashed = append(r.trashed, fileID)
	r.callOrder = append(r.callOrder, "trash:"+fileID)

	return nil
}

func (r *fakeRemote) CreateFile(_ context.Context, meta drive.Metadata, content io.Reader) (*drive.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.createCalls++

	if r.createErr != nil {
		return nil, r.createErr
	}

	if content != nil {
		io.Copy(io.Discard, content) //nolint:errcheck // drain like a real upload
	}

	r.nextCreateID++
	id := fmt.Sprintf("created-%d", r.nextCreateID)

	f := &drive.File{
		ID:         id,
		Title:      meta.Title,
		Parents:    []string{meta.ParentID},
		ModifiedAt: fileTime(1000),
	}

	r.files[id] = f
	r.created = append(r.created, meta)

	cp := *f

	return &cp, nil
}

func (r *fakeRemote) UpdateFile(_ context.Context, fileID string, meta drive.Metadata, content io.Reader) (*drive.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.updateCalls++

	if r.updateErr != nil {
		return nil, r.updateErr
	}

	if content != nil {
		io.Copy(io.Discard, content) //nolint:errcheck
	}

	r.updated = append(r.updated, fileID)

	f, ok := r.files[fileID]
	if !ok {
		f = &drive.File{ID: fileID}
		r.files[fileID] = f
	}

	if !meta.ModifiedAt.IsZero() {
		f.ModifiedAt = meta.ModifiedAt
	}

	cp := *f

	return &cp, nil
}

func (r *fakeRemote) Download(_ context.Context, downloadURL string) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.downloads++

	if r.downloadErr != nil {
		return nil, r.downloadErr
	}

	body, ok := r.contents[downloadURL]
	if !ok {
		return nil, fmt.Errorf("download %s: %w", downloadURL, drive.ErrNotFound)
	}

	return io.NopCloser(strings.NewReader(body)), nil
}

// --- Fake codec ---

// fakeCodec creates decodeCount empty tracks per Decode call through the
// store, mimicking the import contract without real KML.
type fakeCodec struct {
	mu          stdsync.Mutex
	store       *fakeStore
	decodeCount int
	decodeErr   error
	encodeErr   error

	encoded []int64 // track ids passed to Encode
}

func (c *fakeCodec) Encode(t *track.Track) (io.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.encodeErr != nil {
		return nil, c.encodeErr
	}

	c.encoded = append(c.encoded, t.ID)

	return strings.NewReader("encoded:" + t.Name), nil
}

func (c *fakeCodec) Decode(ctx context.Context, r io.Reader) ([]int64, error) {
	io.Copy(io.Discard, r) //nolint:errcheck

	var ids []int64

	for i := 0; i < c.decodeCount; i++ {
		id, err := c.store.CreateTrack(ctx, &track.Track{
			Name:       fmt.Sprintf("decoded-%d", i),
			ModifiedAt: track.UnsyncedMtime,
		})
		if err != nil {
			return ids, err
		}

		ids = append(ids, id)
	}

	if c.decodeErr != nil {
		return ids, c.decodeErr
	}

	return ids, nil
}

// --- Shared helpers ---

// fileTime builds a deterministic timestamp from whole seconds.
func fileTime(seconds int64) time.Time {
	return time.Unix(seconds, 0).UTC()
}

// folderA is the watched folder id used throughout the tests.
const folderA = "folder-a"

// remoteFile builds a live file snapshot inside the watched folder.
func remoteFile(id string, mtimeSeconds int64) *drive.File {
	return &drive.File{
		ID:          id,
		Title:       id + ".kml",
		Parents:     []string{folderA},
		ModifiedAt:  fileTime(mtimeSeconds),
		DownloadURL: "https://dl.example/" + id,
	}
}
