package artifact

import (
	"archive/zip"
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyd/tally-api/internal/domain"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewFSStore(t.TempDir(), logger)
	require.NoError(t, err)
	return store
}

func TestFSStore_WriteCompletionReport(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	task, err := domain.NewTask(0, 10)
	require.NoError(t, err)
	task.Current = 10
	require.NoError(t, task.Transition(domain.TaskStatusRunning))
	require.NoError(t, task.Transition(domain.TaskStatusCompleted))

	require.NoError(t, store.WriteCompletionReport(context.Background(), task))

	// The artifact is a readable zip with a report entry.
	r, err := zip.OpenReader(store.Path(task.ID))
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	require.Len(t, r.File, 1)
	assert.Equal(t, "report.txt", r.File[0].Name)

	f, err := r.File[0].Open()
	require.NoError(t, err)
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Contains(t, string(content), task.ID.String())
	assert.Contains(t, string(content), "status: completed")
	assert.Contains(t, string(content), "final: 10")
}

func TestFSStore_ReleaseArtifacts(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	task, err := domain.NewTask(0, 5)
	require.NoError(t, err)
	require.NoError(t, store.WriteCompletionReport(context.Background(), task))

	require.NoError(t, store.ReleaseArtifacts(context.Background(), task.ID))
	_, err = os.Stat(store.Path(task.ID))
	assert.True(t, os.IsNotExist(err), "artifact removed")

	// Releasing again, or releasing a task that never had artifacts,
	// is not an error.
	assert.NoError(t, store.ReleaseArtifacts(context.Background(), task.ID))
	assert.NoError(t, store.ReleaseArtifacts(context.Background(), uuid.New()))
}
