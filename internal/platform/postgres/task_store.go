package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tallyd/tally-api/internal/domain"
	"github.com/tallyd/tally-api/internal/platform/logger"
	"github.com/tallyd/tally-api/internal/store"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const uniqueViolation = "23505"

// PostgresTaskStore implements the store.TaskStore interface using
// PostgreSQL. All mutation of existing rows goes through the optimistic
// version check in CompareAndSwap.
type PostgresTaskStore struct {
	db store.DBTX
}

// NewPostgresTaskStore creates a new PostgresTaskStore
func NewPostgresTaskStore(db store.DBTX) *PostgresTaskStore {
	return &PostgresTaskStore{
		db: db,
	}
}

// Create persists a new task row.
func (s *PostgresTaskStore) Create(ctx context.Context, t *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := t.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (id, range_start, range_end, current, status, error_message, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		t.ID,
		t.RangeStart,
		t.RangeEnd,
		t.Current,
		t.Status,
		t.ErrorMessage,
		t.CreatedAt,
		t.UpdatedAt,
		t.Version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return store.ErrDuplicate
		}
		log.Error("failed to save task",
			"task_id", t.ID,
			"error", err)
		return fmt.Errorf("failed to save task to database: %w", err)
	}

	return nil
}

// GetByID retrieves a task row by id.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `
		SELECT id, range_start, range_end, current, status, error_message, created_at, updated_at, version
		FROM tasks
		WHERE id = $1
	`

	row := s.db.QueryRowContext(ctx, query, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	return t, nil
}

// CompareAndSwap writes the task's state iff the stored version still
// equals expectedVersion, bumping the version in the same statement. On
// success the passed task is updated to the persisted version and
// timestamp.
func (s *PostgresTaskStore) CompareAndSwap(ctx context.Context, t *domain.Task, expectedVersion int64) error {
	log := logger.FromContext(ctx)

	query := `
		UPDATE tasks
		SET current = $1, status = $2, error_message = $3, updated_at = $4, version = version + 1
		WHERE id = $5 AND version = $6
	`

	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx, query,
		t.Current,
		t.Status,
		t.ErrorMessage,
		now,
		t.ID,
		expectedVersion,
	)
	if err != nil {
		log.Error("failed to update task",
			"task_id", t.ID,
			"error", err)
		return fmt.Errorf("failed to update task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Either the row is gone or someone else won the write. Tell the
		// caller which, so it can reconcile.
		var exists bool
		checkErr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, t.ID).Scan(&exists)
		if checkErr != nil {
			return fmt.Errorf("failed to check task existence: %w", checkErr)
		}
		if !exists {
			return store.ErrTaskNotFound
		}
		return store.ErrVersionConflict
	}

	t.Version = expectedVersion + 1
	t.UpdatedAt = now
	return nil
}

// FindByStatusOlderThan retrieves tasks with the given status whose
// updated_at predates the cutoff. A zero olderThan returns all tasks with
// the status. Created tasks are never written between creation and claim,
// so for them updated_at is equivalent to created_at.
func (s *PostgresTaskStore) FindByStatusOlderThan(
	ctx context.Context,
	status domain.TaskStatus,
	olderThan time.Duration,
) ([]*domain.Task, error) {
	log := logger.FromContext(ctx)

	var query string
	var args []any

	if olderThan > 0 {
		query = `
			SELECT id, range_start, range_end, current, status, error_message, created_at, updated_at, version
			FROM tasks
			WHERE status = $1 AND updated_at < $2
			ORDER BY created_at ASC
		`
		args = []any{status, time.Now().UTC().Add(-olderThan)}
	} else {
		query = `
			SELECT id, range_start, range_end, current, status, error_message, created_at, updated_at, version
			FROM tasks
			WHERE status = $1
			ORDER BY created_at ASC
		`
		args = []any{status}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks by status",
			"status", status,
			"error", err)
		return nil, fmt.Errorf("failed to query tasks by status: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

// Delete removes a task row.
func (s *PostgresTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*domain.Task, error) {
	var t domain.Task
	var errorMessage sql.NullString

	err := row.Scan(
		&t.ID,
		&t.RangeStart,
		&t.RangeEnd,
		&t.Current,
		&t.Status,
		&errorMessage,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.Version,
	)
	if err != nil {
		return nil, err
	}

	t.ErrorMessage = errorMessage.String
	return &t, nil
}
