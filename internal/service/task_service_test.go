package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyd/tally-api/internal/domain"
	"github.com/tallyd/tally-api/internal/store"
	"github.com/tallyd/tally-api/internal/task"
)

// stubEnqueuer lets tests control queue acceptance.
type stubEnqueuer struct {
	enqueued []*domain.Task
	err      error
}

func (s *stubEnqueuer) Enqueue(t *domain.Task) error {
	if s.err != nil {
		return s.err
	}
	s.enqueued = append(s.enqueued, t)
	return nil
}

type serviceFixture struct {
	store       *task.MockTaskStore
	enqueuer    *stubEnqueuer
	registry    *task.Registry
	coordinator *task.CancelCoordinator
	service     TaskService
}

func newFixture(maxSpan int64) *serviceFixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &serviceFixture{
		store:       task.NewMockTaskStore(),
		enqueuer:    &stubEnqueuer{},
		registry:    task.NewRegistry(),
		coordinator: task.NewCancelCoordinator(),
	}
	f.service = NewTaskService(f.store, f.enqueuer, f.registry, f.coordinator, maxSpan, logger)
	return f
}

func TestTaskService_SubmitTask(t *testing.T) {
	t.Parallel()

	t.Run("valid range is persisted and enqueued", func(t *testing.T) {
		t.Parallel()

		f := newFixture(0)
		created, err := f.service.SubmitTask(context.Background(), 0, 100)
		require.NoError(t, err)

		assert.Equal(t, domain.TaskStatusCreated, created.Status)
		assert.Equal(t, int64(0), created.Current)

		stored, err := f.store.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, stored.ID)

		require.Len(t, f.enqueuer.enqueued, 1)
		assert.Equal(t, 1, f.coordinator.Len(), "cancel signal registered at submission")
	})

	t.Run("inverted range is rejected with no record", func(t *testing.T) {
		t.Parallel()

		f := newFixture(0)
		created, err := f.service.SubmitTask(context.Background(), 5, 2)

		assert.Nil(t, created)
		assert.ErrorIs(t, err, domain.ErrInvalidRange)
		assert.Equal(t, 0, f.store.Len(), "no record persisted for invalid input")
		assert.Empty(t, f.enqueuer.enqueued)
	})

	t.Run("span over the maximum is rejected", func(t *testing.T) {
		t.Parallel()

		f := newFixture(10)
		_, err := f.service.SubmitTask(context.Background(), 0, 11)

		assert.ErrorIs(t, err, domain.ErrRangeTooWide)
		assert.Equal(t, 0, f.store.Len())
	})

	t.Run("span exactly at the maximum is accepted", func(t *testing.T) {
		t.Parallel()

		f := newFixture(10)
		_, err := f.service.SubmitTask(context.Background(), 0, 10)
		assert.NoError(t, err)
	})

	t.Run("full queue rejects cleanly", func(t *testing.T) {
		t.Parallel()

		f := newFixture(0)
		f.enqueuer.err = task.ErrQueueFull

		created, err := f.service.SubmitTask(context.Background(), 0, 100)
		assert.Nil(t, created)
		assert.ErrorIs(t, err, ErrCapacity)
		assert.Equal(t, 0, f.store.Len(), "rejected task leaves no orphan record")
		assert.Equal(t, 0, f.coordinator.Len(), "rejected task leaves no signal")
	})
}

func TestTaskService_GetProgress(t *testing.T) {
	t.Parallel()

	t.Run("resident task is served from the registry", func(t *testing.T) {
		t.Parallel()

		f := newFixture(0)
		created, err := f.service.SubmitTask(context.Background(), 0, 100)
		require.NoError(t, err)

		// Simulate the worker having claimed and advanced the task.
		created.Current = 40
		f.registry.Add(created)

		progress, err := f.service.GetProgress(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(40), progress.Current)
		assert.Equal(t, domain.TaskStatusRunning, progress.Status)
		assert.Equal(t, 40, progress.Percentage)
	})

	t.Run("non-resident task falls back to the store", func(t *testing.T) {
		t.Parallel()

		f := newFixture(0)
		created, err := f.service.SubmitTask(context.Background(), 0, 100)
		require.NoError(t, err)

		progress, err := f.service.GetProgress(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), progress.Current)
		assert.Equal(t, domain.TaskStatusCreated, progress.Status)
	})

	t.Run("terminal task yields a well-formed snapshot", func(t *testing.T) {
		t.Parallel()

		f := newFixture(0)
		created, err := f.service.SubmitTask(context.Background(), 0, 10)
		require.NoError(t, err)

		stored, err := f.store.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		require.NoError(t, stored.Transition(domain.TaskStatusRunning))
		stored.Current = 4
		require.NoError(t, stored.Transition(domain.TaskStatusFailed))
		require.NoError(t, f.store.CompareAndSwap(context.Background(), stored, stored.Version))

		progress, err := f.service.GetProgress(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusFailed, progress.Status)
		assert.Equal(t, int64(4), progress.Current)
		assert.Equal(t, 40, progress.Percentage)
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()

		f := newFixture(0)
		_, err := f.service.GetProgress(context.Background(), uuid.New())
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})
}

func TestTaskService_CancelTask(t *testing.T) {
	t.Parallel()

	t.Run("in-flight task is signalled", func(t *testing.T) {
		t.Parallel()

		f := newFixture(0)
		created, err := f.service.SubmitTask(context.Background(), 0, 100)
		require.NoError(t, err)

		require.NoError(t, f.service.CancelTask(context.Background(), created.ID))
		assert.True(t, f.coordinator.IsCancelled(created.ID))

		// The record itself is untouched; the worker finalizes it.
		stored, err := f.store.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusCreated, stored.Status)
	})

	t.Run("repeated cancellation is idempotent", func(t *testing.T) {
		t.Parallel()

		f := newFixture(0)
		created, err := f.service.SubmitTask(context.Background(), 0, 100)
		require.NoError(t, err)

		require.NoError(t, f.service.CancelTask(context.Background(), created.ID))
		require.NoError(t, f.service.CancelTask(context.Background(), created.ID))
		require.NoError(t, f.service.CancelTask(context.Background(), created.ID))
	})

	t.Run("non-resident task is cancelled through the store", func(t *testing.T) {
		t.Parallel()

		f := newFixture(0)
		created, err := f.service.SubmitTask(context.Background(), 0, 100)
		require.NoError(t, err)

		// Simulate a restart: no signal registered anymore.
		f.coordinator.Release(created.ID)

		require.NoError(t, f.service.CancelTask(context.Background(), created.ID))

		stored, err := f.store.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusCancelled, stored.Status)
	})

	t.Run("already-terminal task is a no-op", func(t *testing.T) {
		t.Parallel()

		f := newFixture(0)
		created, err := f.service.SubmitTask(context.Background(), 0, 10)
		require.NoError(t, err)
		f.coordinator.Release(created.ID)

		stored, err := f.store.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		stored.Current = 10
		require.NoError(t, stored.Transition(domain.TaskStatusRunning))
		require.NoError(t, stored.Transition(domain.TaskStatusCompleted))
		require.NoError(t, f.store.CompareAndSwap(context.Background(), stored, stored.Version))

		require.NoError(t, f.service.CancelTask(context.Background(), created.ID))

		final, err := f.store.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusCompleted, final.Status,
			"terminal record not altered by late cancellation")
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()

		f := newFixture(0)
		err := f.service.CancelTask(context.Background(), uuid.New())
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})
}
