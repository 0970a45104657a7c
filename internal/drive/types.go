package drive

import (
	"log/slog"
	"time"
)

// File represents a remote file, normalized from the API response.
// Callers never see raw API data.
type File struct {
	ID          string
	Title       string
	MimeType    string
	Parents     []string // parent folder ids
	Trashed     bool
	ModifiedAt  time.Time
	FileSize    int64
	DownloadURL string // pre-authenticated download locator; never log
	MD5Checksum string
}

// InFolder reports whether the file has the given folder as a direct parent.
func (f *File) InFolder(folderID string) bool {
	for _, p := range f.Parents {
		if p == folderID {
			return true
		}
	}

	return false
}

// Change represents one entry in the change feed. Deleted changes carry no
// file snapshot.
type Change struct {
	ChangeID int64
	FileID   string
	Deleted  bool
	File     *File // nil when Deleted
}

// ChangePage is one page of change-feed results.
type ChangePage struct {
	Changes         []Change
	NextPageToken   string
	LargestChangeID int64 // feed head as of this page
}

// FilePage is one page of file-listing results.
type FilePage struct {
	Files         []File
	NextPageToken string
}

// Metadata is the caller-supplied portion of a file create or update.
type Metadata struct {
	Title       string
	MimeType    string
	Description string
	ParentID    string    // target folder; empty keeps the current parents
	ModifiedAt  time.Time // zero value omits the field
	Folder      bool      // create a folder instead of a regular file
}

// --- Raw API JSON shapes (unexported; normalized via toFile/toChange) ---

type fileResource struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	MimeType     string        `json:"mimeType"`
	ModifiedDate string        `json:"modifiedDate"`
	DownloadURL  string        `json:"downloadUrl"`
	FileSize     int64         `json:"fileSize,string"`
	MD5Checksum  string        `json:"md5Checksum"`
	Labels       *labelsFacet  `json:"labels"`
	Parents      []parentEntry `json:"parents"`
}

type labelsFacet struct {
	Trashed bool `json:"trashed"`
}

type parentEntry struct {
	ID string `json:"id"`
}

type changeResource struct {
	ID      int64         `json:"id"`
	FileID  string        `json:"fileId"`
	Deleted bool          `json:"deleted"`
	File    *fileResource `json:"file"`
}

type changeListResponse struct {
	Items           []changeResource `json:"items"`
	NextPageToken   string           `json:"nextPageToken"`
	LargestChangeID int64            `json:"largestChangeId,string"`
}

type fileListResponse struct {
	Items         []fileResource `json:"items"`
	NextPageToken string         `json:"nextPageToken"`
}

type aboutResponse struct {
	LargestChangeID int64 `json:"largestChangeId,string"`
}

// toFile normalizes a raw file resource. Unparseable timestamps are replaced
// with the zero time and a warning is logged; the sync engine treats a zero
// remote mtime as "remote older" so a bad timestamp cannot clobber local edits.
func (r *fileResource) toFile(logger *slog.Logger) File {
	f := File{
		ID:          r.ID,
		Title:       r.Title,
		MimeType:    r.MimeType,
		FileSize:    r.FileSize,
		DownloadURL: r.DownloadURL,
		MD5Checksum: r.MD5Checksum,
	}

	if r.Labels != nil {
		f.Trashed = r.Labels.Trashed
	}

	for _, p := range r.Parents {
		f.Parents = append(f.Parents, p.ID)
	}

	if r.ModifiedDate != "" {
		t, err := time.Parse(time.RFC3339, r.ModifiedDate)
		if err != nil {
			logger.Warn("unparseable modifiedDate",
				slog.String("file_id", r.ID),
				slog.String("value", r.ModifiedDate),
			)
		} else {
			f.ModifiedAt = t
		}
	}

	return f
}

// toChange normalizes a raw change resource. Trashed snapshots are kept as
// snapshots here; folder-scope filtering is the collector's concern.
func (r *changeResource) toChange(logger *slog.Logger) Change {
	ch := Change{
		ChangeID: r.ID,
		FileID:   r.FileID,
		Deleted:  r.Deleted,
	}

	if !r.Deleted && r.File != nil {
		f := r.File.toFile(logger)
		ch.File = &f
	}

	return ch
}
