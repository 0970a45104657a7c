package drive

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListChangesParsesFeed(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "41", q.Get("startChangeId"))
		assert.Equal(t, "true", q.Get("includeDeleted"))
		assert.Equal(t, "100", q.Get("maxResults"))

		w.Write([]byte(`{
			"items": [
				{"id": 41, "fileId": "f1", "file": {"id": "f1", "title": "a.kml"}},
				{"id": 42, "fileId": "f2", "deleted": true}
			],
			"nextPageToken": "tok",
			"largestChangeId": "42"
		}`))
	}))

	page, err := c.ListChanges(context.Background(), 41, "")
	require.NoError(t, err)

	assert.Equal(t, "tok", page.NextPageToken)
	assert.Equal(t, int64(42), page.LargestChangeID)
	require.Len(t, page.Changes, 2)

	assert.Equal(t, int64(41), page.Changes[0].ChangeID)
	require.NotNil(t, page.Changes[0].File)
	assert.Equal(t, "a.kml", page.Changes[0].File.Title)

	assert.True(t, page.Changes[1].Deleted)
	assert.Nil(t, page.Changes[1].File)
	assert.Equal(t, "f2", page.Changes[1].FileID)
}

func TestListChangesOmitsZeroStartChangeID(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("startChangeId"))

		w.Write([]byte(`{"items": []}`)) //nolint:errcheck
	}))

	_, err := c.ListChanges(context.Background(), 0, "")
	require.NoError(t, err)
}

func TestListChangesForwardsPageToken(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("pageToken"))

		w.Write([]byte(`{"items": []}`)) //nolint:errcheck
	}))

	_, err := c.ListChanges(context.Background(), 1, "tok")
	require.NoError(t, err)
}

func TestLargestChangeID(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/about", r.URL.Path)

		w.Write([]byte(`{"largestChangeId": "1234"}`)) //nolint:errcheck
	}))

	head, err := c.LargestChangeID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1234), head)
}
