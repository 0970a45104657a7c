package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

// changePageSize is the maxResults value for change listing requests.
const changePageSize = 100

// ListChanges returns one page of the change feed starting at startChangeID.
// Pass an empty pageToken for the first page; follow ChangePage.NextPageToken
// until empty. Deleted files appear as tombstone changes without a snapshot.
func (c *Client) ListChanges(ctx context.Context, startChangeID int64, pageToken string) (*ChangePage, error) {
	params := url.Values{}
	params.Set("maxResults", strconv.Itoa(changePageSize))
	params.Set("includeDeleted", "true")

	if startChangeID > 0 {
		params.Set("startChangeId", strconv.FormatInt(startChangeID, 10))
	}

	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	resp, err := c.do(ctx, http.MethodGet, "/changes?"+params.Encode(), "", nil)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer resp.Body.Close()

	var raw changeListResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("drive: decoding change list: %w", err)
	}

	page := &ChangePage{
		NextPageToken:   raw.NextPageToken,
		LargestChangeID: raw.LargestChangeID,
	}

	for i := range raw.Items {
		page.Changes = append(page.Changes, raw.Items[i].toChange(c.logger))
	}

	c.logger.Debug("listed changes",
		slog.Int("count", len(page.Changes)),
		slog.Int64("largest_change_id", page.LargestChangeID),
		slog.Bool("more", page.NextPageToken != ""),
	)

	return page, nil
}

// LargestChangeID returns the current head of the change feed. The initial
// sync snapshots this before listing files so changes landing between listing
// pages are not missed.
func (c *Client) LargestChangeID(ctx context.Context) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/about?fields=largestChangeId", "", nil)
	if err != nil {
		return 0, fmt.Errorf("largest change id: %w", err)
	}
	defer resp.Body.Close()

	var raw aboutResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return 0, fmt.Errorf("drive: decoding about: %w", err)
	}

	return raw.LargestChangeID, nil
}
