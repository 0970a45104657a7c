package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"
)

// listPageSize is the maxResults value for file listing requests.
const listPageSize = 100

// GetFile fetches a single file's metadata by id.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	resp, err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(fileID), "", nil)
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	var raw fileResource
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("drive: decoding file %s: %w", fileID, err)
	}

	f := raw.toFile(c.logger)

	return &f, nil
}

// ListFiles returns one page of files matching the query. Pass an empty
// pageToken for the first page; follow FilePage.NextPageToken until empty.
func (c *Client) ListFiles(ctx context.Context, query, pageToken string) (*FilePage, error) {
	params := url.Values{}
	params.Set("maxResults", fmt.Sprint(listPageSize))

	if query != "" {
		params.Set("q", query)
	}

	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	resp, err := c.do(ctx, http.MethodGet, "/files?"+params.Encode(), "", nil)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer resp.Body.Close()

	var raw fileListResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("drive: decoding file list: %w", err)
	}

	page := &FilePage{NextPageToken: raw.NextPageToken}
	for i := range raw.Items {
		page.Files = append(page.Files, raw.Items[i].toFile(c.logger))
	}

	c.logger.Debug("listed files",
		slog.Int("count", len(page.Files)),
		slog.Bool("more", page.NextPageToken != ""),
	)

	return page, nil
}

// TrashFile moves a file to the remote trash.
func (c *Client) TrashFile(ctx context.Context, fileID string) error {
	resp, err := c.do(ctx, http.MethodPost, "/files/"+url.PathEscape(fileID)+"/trash", "", nil)
	if err != nil {
		return fmt.Errorf("trash file %s: %w", fileID, err)
	}
	resp.Body.Close()

	return nil
}

// CreateFile creates a new remote file with the given metadata and content.
// A nil content creates a metadata-only resource (used for folders).
func (c *Client) CreateFile(ctx context.Context, meta Metadata, content io.Reader) (*File, error) {
	f, err := c.writeFile(ctx, http.MethodPost, "/files", meta, content)
	if err != nil {
		return nil, fmt.Errorf("create file %q: %w", meta.Title, err)
	}

	return f, nil
}

// UpdateFile replaces an existing remote file's metadata and content.
func (c *Client) UpdateFile(ctx context.Context, fileID string, meta Metadata, content io.Reader) (*File, error) {
	f, err := c.writeFile(ctx, http.MethodPut, "/files/"+url.PathEscape(fileID), meta, content)
	if err != nil {
		return nil, fmt.Errorf("update file %s: %w", fileID, err)
	}

	return f, nil
}

// Download fetches file content from a pre-authenticated download locator.
// The caller must close the returned reader.
func (c *Client) Download(ctx context.Context, downloadURL string) (io.ReadCloser, error) {
	if downloadURL == "" {
		return nil, fmt.Errorf("drive: download: %w", ErrNotFound)
	}

	resp, err := c.do(ctx, http.MethodGet, downloadURL, "", nil)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}

	return resp.Body, nil
}

// folderMimeType marks a resource as a folder.
const folderMimeType = "application/vnd.folder"

// EnsureFolder finds a non-trashed folder with the given title in the remote
// root, creating it when absent. Returns the folder id.
func (c *Client) EnsureFolder(ctx context.Context, title string) (string, error) {
	query := fmt.Sprintf("title = %q and mimeType = %q and trashed = false", title, folderMimeType)

	page, err := c.ListFiles(ctx, query, "")
	if err != nil {
		return "", fmt.Errorf("drive: finding folder %q: %w", title, err)
	}

	if len(page.Files) > 0 {
		return page.Files[0].ID, nil
	}

	c.logger.Info("creating sync folder", slog.String("title", title))

	folder, err := c.CreateFile(ctx, Metadata{Title: title, Folder: true}, nil)
	if err != nil {
		return "", fmt.Errorf("drive: creating folder %q: %w", title, err)
	}

	return folder.ID, nil
}

// --- Write plumbing ---

// metadataBody builds the JSON resource for a create or update request.
func metadataBody(meta Metadata) ([]byte, error) {
	body := map[string]any{}

	if meta.Title != "" {
		body["title"] = meta.Title
	}

	switch {
	case meta.Folder:
		body["mimeType"] = folderMimeType
	case meta.MimeType != "":
		body["mimeType"] = meta.MimeType
	}

	if meta.Description != "" {
		body["description"] = meta.Description
	}

	if meta.ParentID != "" {
		body["parents"] = []map[string]string{{"id": meta.ParentID}}
	}

	if !meta.ModifiedAt.IsZero() {
		body["modifiedDate"] = meta.ModifiedAt.UTC().Format(time.RFC3339)
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	return b, nil
}

// writeFile issues a metadata-only or multipart create/update request and
// decodes the resulting file resource.
func (c *Client) writeFile(ctx context.Context, method, path string, meta Metadata, content io.Reader) (*File, error) {
	metaJSON, err := metadataBody(meta)
	if err != nil {
		return nil, err
	}

	var (
		body        io.Reader
		contentType string
	)

	if content == nil {
		body = bytes.NewReader(metaJSON)
		contentType = "application/json"
	} else {
		path += "?uploadType=multipart"

		body, contentType, err = multipartBody(metaJSON, meta.MimeType, content)
		if err != nil {
			return nil, err
		}
	}

	resp, err := c.do(ctx, method, path, contentType, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw fileResource
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	f := raw.toFile(c.logger)

	return &f, nil
}

// multipartBody assembles a multipart/related request body with a JSON
// metadata part followed by the media part. The whole body is buffered in
// memory; track files are small (tens of kilobytes of KML).
func multipartBody(metaJSON []byte, mimeType string, content io.Reader) (io.Reader, string, error) {
	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json")

	part, err := w.CreatePart(metaHeader)
	if err != nil {
		return nil, "", fmt.Errorf("creating metadata part: %w", err)
	}

	if _, err := part.Write(metaJSON); err != nil {
		return nil, "", fmt.Errorf("writing metadata part: %w", err)
	}

	mediaHeader := textproto.MIMEHeader{}
	if mimeType != "" {
		mediaHeader.Set("Content-Type", mimeType)
	}

	part, err = w.CreatePart(mediaHeader)
	if err != nil {
		return nil, "", fmt.Errorf("creating media part: %w", err)
	}

	if _, err := io.Copy(part, content); err != nil {
		return nil, "", fmt.Errorf("writing media part: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}

	contentType := "multipart/related; boundary=" + w.Boundary()

	return &buf, contentType, nil
}
