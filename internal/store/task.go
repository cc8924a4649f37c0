package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tallyd/tally-api/internal/domain"
)

// TaskStore defines the interface for task data persistence.
//
// All mutation of existing records goes through CompareAndSwap; the engine
// never performs a blind overwrite, which eliminates lost-update races
// between the executing worker and any concurrent writer (for example a
// cancellation request written directly to the store).
type TaskStore interface {
	// Create saves a new task to the store.
	// Returns validation errors from the domain Task if data is invalid.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// CompareAndSwap persists the task's current state if and only if the
	// stored version equals expectedVersion. On success the store bumps the
	// task's Version and refreshes UpdatedAt, mutating the passed task to
	// reflect the persisted state.
	// Returns ErrVersionConflict if another writer got there first and
	// ErrTaskNotFound if the task does not exist.
	CompareAndSwap(ctx context.Context, task *domain.Task, expectedVersion int64) error

	// FindByStatusOlderThan retrieves tasks with the given status whose
	// updated_at predates now minus olderThan. A zero olderThan returns all
	// tasks with the status regardless of age.
	FindByStatusOlderThan(ctx context.Context, status domain.TaskStatus, olderThan time.Duration) ([]*domain.Task, error)

	// Delete removes a task from the store.
	// Returns ErrTaskNotFound if the task does not exist.
	Delete(ctx context.Context, id uuid.UUID) error
}
