package sync

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlushTrashesValidFiles(t *testing.T) {
	remote := newFakeRemote()
	remote.files["f1"] = remoteFile("f1", 100)
	remote.files["f2"] = remoteFile("f2", 100)

	NewFlusher(remote, discardLogger()).
		Flush(context.Background(), []string{"f1", "f2"}, folderA)

	assert.Equal(t, []string{"f1", "f2"}, remote.trashed)
}

func TestFlushSkipsMissingAndMovedFiles(t *testing.T) {
	moved := remoteFile("f-moved", 100)
	moved.Parents = []string{"elsewhere"}

	remote := newFakeRemote()
	remote.files["f-moved"] = moved
	// f-missing is absent: not-found is the already-deleted case.

	NewFlusher(remote, discardLogger()).
		Flush(context.Background(), []string{"f-missing", "f-moved"}, folderA)

	assert.Empty(t, remote.trashed)
}

func TestFlushContinuesPastFetchFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.files["f1"] = remoteFile("f1", 100)
	remote.files["f2"] = remoteFile("f2", 100)
	remote.getErr["f1"] = fmt.Errorf("server error")

	NewFlusher(remote, discardLogger()).
		Flush(context.Background(), []string{"f1", "f2"}, folderA)

	// f1 is dropped after the failed fetch; f2 still gets trashed.
	assert.Equal(t, []string{"f2"}, remote.trashed)
}

func TestFlushStopsOnCancelledContext(t *testing.T) {
	remote := newFakeRemote()
	remote.files["f1"] = remoteFile("f1", 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewFlusher(remote, discardLogger()).Flush(ctx, []string{"f1"}, folderA)

	assert.Zero(t, remote.getCalls)
}
