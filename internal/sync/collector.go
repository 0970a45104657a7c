package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/tracksync/internal/drive"
	"github.com/tonimelisma/tracksync/internal/kml"
)

// trackFileQuery selects the non-trashed track files inside a folder.
const trackFileQuery = "'%s' in parents and mimeType = '" + kml.MimeType + "' and trashed = false"

// Collector folds the remote change feed (or, on initial sync, a full file
// listing) into a ChangeSet and computes the new cursor position.
//
// Failure policy: a page fetch failure truncates pagination rather than
// aborting the cycle. The partial change set is still applied, and the
// cursor is not advanced past the last fully-processed page, so truncated
// events are re-delivered next cycle.
type Collector struct {
	changes ChangeLister
	files   FileClient
	lister  FileLister
	logger  *slog.Logger
}

// NewCollector creates a Collector reading the feed via changes, fetching
// snapshot fallbacks via files, and listing via lister on initial sync.
func NewCollector(changes ChangeLister, files FileClient, lister FileLister, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}

	return &Collector{
		changes: changes,
		files:   files,
		lister:  lister,
		logger:  logger,
	}
}

// Collect drives change-feed pagination starting after sinceChangeID and
// returns the folded ChangeSet plus the new largest processed change id.
// The returned cursor is always >= sinceChangeID.
func (c *Collector) Collect(ctx context.Context, folderID string, sinceChangeID int64) (ChangeSet, int64, error) {
	cs := ChangeSet{}
	cursor := sinceChangeID

	var pageToken string

	for {
		page, err := c.changes.ListChanges(ctx, sinceChangeID+1, pageToken)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, fmt.Errorf("sync: collecting changes: %w", err)
			}

			// Truncate: keep what was collected, hold the cursor at the
			// last fully-processed page.
			c.logger.Warn("change page fetch failed, truncating pagination",
				slog.Int64("cursor", cursor),
				slog.String("error", err.Error()),
			)

			return cs, cursor, nil
		}

		pageMax, err := c.foldPage(ctx, cs, page, folderID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, err
			}

			c.logger.Warn("change page fold failed, truncating pagination",
				slog.Int64("cursor", cursor),
				slog.String("error", err.Error()),
			)

			return cs, cursor, nil
		}

		// The page is fully processed; the cursor may now cover it. Ids
		// represented only by deletions or out-of-scope events still move
		// the cursor forward — forward progress must not depend on the
		// events being interesting.
		if pageMax > cursor {
			cursor = pageMax
		}

		if page.NextPageToken == "" {
			// Pagination is complete, so every change up to the feed head
			// has been seen. Adopting the head here keeps quiet feeds from
			// re-listing the same window; adopting it mid-pagination would
			// skip the unfetched pages on truncation.
			if page.LargestChangeID > cursor {
				cursor = page.LargestChangeID
			}

			break
		}

		pageToken = page.NextPageToken
	}

	c.logger.Info("collected changes",
		slog.Int("entries", len(cs)),
		slog.Int64("cursor", cursor),
	)

	return cs, cursor, nil
}

// foldPage merges one change page into the set, last write wins. Returns the
// largest change id seen in the page.
func (c *Collector) foldPage(ctx context.Context, cs ChangeSet, page *drive.ChangePage, folderID string) (int64, error) {
	var pageMax int64

	for i := range page.Changes {
		ch := &page.Changes[i]

		if ch.ChangeID > pageMax {
			pageMax = ch.ChangeID
		}

		if ch.Deleted {
			cs.AddTombstone(ch.FileID)

			continue
		}

		snap := ch.File
		if snap == nil {
			// The feed omitted the snapshot; fetch it directly. A failure
			// here leaves the page partially processed, so the caller
			// truncates without advancing past it.
			fetched, err := c.files.GetFile(ctx, ch.FileID)
			if err != nil {
				return 0, fmt.Errorf("snapshot fetch %s: %w", ch.FileID, err)
			}

			snap = fetched
		}

		// A file trashed or moved out of the watched folder looks like a
		// deletion to the local replica.
		if !validForFolder(snap, folderID) {
			cs.AddTombstone(ch.FileID)

			continue
		}

		cs.AddSnapshot(snap)
	}

	return pageMax, nil
}

// CollectInitial substitutes a full file listing for the change feed when no
// cursor exists yet. The feed head is snapshotted before listing begins so
// changes landing between listing pages are re-delivered by the first
// incremental cycle instead of being skipped.
func (c *Collector) CollectInitial(ctx context.Context, folderID string) (ChangeSet, int64, error) {
	head, err := c.changes.LargestChangeID(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("sync: initial sync feed head: %w", err)
	}

	cs := ChangeSet{}
	query := fmt.Sprintf(trackFileQuery, folderID)

	var pageToken string

	for {
		page, err := c.lister.ListFiles(ctx, query, pageToken)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, fmt.Errorf("sync: initial listing: %w", err)
			}

			// Same truncation policy as the change feed: sync what was
			// listed. Missed files are picked up by later cycles via the
			// reconciler's direct-fetch path or remain remote-only until
			// the next initial listing.
			c.logger.Warn("file listing page failed, truncating",
				slog.Int("listed", len(cs)),
				slog.String("error", err.Error()),
			)

			break
		}

		for i := range page.Files {
			cs.AddSnapshot(&page.Files[i])
		}

		if page.NextPageToken == "" {
			break
		}

		pageToken = page.NextPageToken
	}

	c.logger.Info("initial listing collected",
		slog.Int("files", len(cs)),
		slog.Int64("cursor", head),
	)

	return cs, head, nil
}
