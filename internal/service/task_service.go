package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tallyd/tally-api/internal/domain"
	"github.com/tallyd/tally-api/internal/store"
	"github.com/tallyd/tally-api/internal/task"
)

// TaskEnqueuer is the narrow runner interface the service needs.
type TaskEnqueuer interface {
	// Enqueue hands a created task to the worker pool
	Enqueue(t *domain.Task) error
}

// TaskService provides the task-facing operations of the engine.
type TaskService interface {
	// SubmitTask validates the range, persists a new task record, and
	// enqueues it for execution
	SubmitTask(ctx context.Context, start, end int64) (*domain.Task, error)

	// GetProgress returns a progress snapshot for the task
	GetProgress(ctx context.Context, id uuid.UUID) (task.Progress, error)

	// CancelTask requests cooperative cancellation of the task
	CancelTask(ctx context.Context, id uuid.UUID) error
}

// Common sentinel errors for TaskService
var (
	// ErrCapacity indicates the worker queue is at its bound; the
	// submission was rejected rather than queued forever.
	ErrCapacity = errors.New("task queue at capacity, try again later")
)

// directCancelAttempts bounds the CAS retry loop when cancelling a task
// that is not resident in the registry.
const directCancelAttempts = 3

type taskService struct {
	store       store.TaskStore
	runner      TaskEnqueuer
	registry    *task.Registry
	coordinator *task.CancelCoordinator
	maxSpan     int64
	logger      *slog.Logger
}

// NewTaskService creates a TaskService. maxSpan bounds the width of an
// accepted range; zero disables the bound.
func NewTaskService(
	taskStore store.TaskStore,
	runner TaskEnqueuer,
	registry *task.Registry,
	coordinator *task.CancelCoordinator,
	maxSpan int64,
	logger *slog.Logger,
) TaskService {
	return &taskService{
		store:       taskStore,
		runner:      runner,
		registry:    registry,
		coordinator: coordinator,
		maxSpan:     maxSpan,
		logger:      logger,
	}
}

// SubmitTask validates and persists a new counter task, registers its
// cancellation signal, and submits it to the worker pool. Validation
// errors reject the submission synchronously and leave no record behind.
func (s *taskService) SubmitTask(ctx context.Context, start, end int64) (*domain.Task, error) {
	t, err := domain.NewTask(start, end)
	if err != nil {
		return nil, err
	}
	if s.maxSpan > 0 && t.Span() > s.maxSpan {
		return nil, fmt.Errorf("%w: span %d, maximum %d",
			domain.ErrRangeTooWide, t.Span(), s.maxSpan)
	}

	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	s.coordinator.Register(t.ID)

	if err := s.runner.Enqueue(t); err != nil {
		// Clean rejection: a task we could not queue is removed so the
		// caller can retry submission without leaving orphans behind.
		s.coordinator.Release(t.ID)
		if delErr := s.store.Delete(ctx, t.ID); delErr != nil {
			s.logger.Error("failed to remove rejected task",
				"task_id", t.ID,
				"error", delErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrCapacity, err)
	}

	s.logger.Info("task submitted",
		"task_id", t.ID,
		"range_start", start,
		"range_end", end)
	return t, nil
}

// GetProgress returns the latest progress snapshot. Actively running tasks
// are served from the in-memory registry without touching the store or
// blocking the worker; everything else (terminal, not yet claimed, or not
// resident after a restart) falls back to the persisted record.
func (s *taskService) GetProgress(ctx context.Context, id uuid.UUID) (task.Progress, error) {
	if handle, ok := s.registry.Lookup(id); ok {
		return handle.Progress(), nil
	}

	t, err := s.store.GetByID(ctx, id)
	if err != nil {
		return task.Progress{}, err
	}
	return task.ProgressOf(t), nil
}

// CancelTask requests cancellation. In-flight tasks are signalled through
// the coordinator and observed by their worker within one tick. Tasks not
// resident in the engine (for example created before a restart) are
// cancelled by writing the terminal status directly through the
// compare-and-swap protocol. Cancelling an already-terminal task is a
// no-op, not an error.
func (s *taskService) CancelTask(ctx context.Context, id uuid.UUID) error {
	if s.coordinator.Signal(id) {
		s.logger.Info("cancellation signalled", "task_id", id)
		return nil
	}

	t, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < directCancelAttempts; attempt++ {
		if t.IsTerminal() {
			return nil
		}
		if err := t.Transition(domain.TaskStatusCancelled); err != nil {
			return nil
		}
		err = s.store.CompareAndSwap(ctx, t, t.Version)
		if err == nil {
			s.logger.Info("task cancelled directly", "task_id", id)
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return fmt.Errorf("failed to cancel task: %w", err)
		}
		t, err = s.store.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrTaskNotFound) {
				// Reaped between reads; treat as already gone.
				return nil
			}
			return err
		}
	}

	return fmt.Errorf("failed to cancel task %s: too many write conflicts", id)
}
