package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a counter task
type TaskStatus string

// Possible task status values
const (
	TaskStatusCreated   TaskStatus = "created"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusFailed    TaskStatus = "failed"
)

// Common validation errors for Task
var (
	ErrInvalidRange  = errors.New("invalid range: end must not be less than start")
	ErrRangeTooWide  = errors.New("invalid range: span exceeds configured maximum")
	ErrInvalidStatus = errors.New("invalid task status")
	ErrTerminalState = errors.New("task is already in a terminal state")
)

// Task represents one submitted counting job over the inclusive range
// [RangeStart, RangeEnd]. Current advances by one per tick while the task
// runs. Version backs optimistic concurrency control on persisted writes:
// the store rejects any write whose expected version does not match the
// stored one.
type Task struct {
	ID           uuid.UUID  `json:"id"`
	RangeStart   int64      `json:"range_start"`
	RangeEnd     int64      `json:"range_end"`
	Current      int64      `json:"current"`
	Status       TaskStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Version      int64      `json:"version"`
}

// NewTask creates a new Task counting from start to end.
// The task begins in the created status with Current positioned at start.
// Returns ErrInvalidRange if end < start.
func NewTask(start, end int64) (*Task, error) {
	if end < start {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, start, end)
	}

	now := time.Now().UTC()
	return &Task{
		ID:         uuid.New(),
		RangeStart: start,
		RangeEnd:   end,
		Current:    start,
		Status:     TaskStatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}, nil
}

// Span returns the width of the counting range.
func (t *Task) Span() int64 {
	return t.RangeEnd - t.RangeStart
}

// IsTerminal reports whether the task has reached a final status.
// Terminal tasks are never re-transitioned.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusCancelled, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Percentage returns the task's progress as an integer percentage in
// [0, 100], derived from Current rather than stored separately. A
// zero-width range reports 100 once the counter has reached the end.
func (t *Task) Percentage() int {
	return Percentage(t.RangeStart, t.RangeEnd, t.Current)
}

// Percentage converts a raw counter position into a reportable percentage
// for the inclusive range [start, end].
func Percentage(start, end, current int64) int {
	span := end - start
	if span <= 0 {
		if current >= end {
			return 100
		}
		return 0
	}
	if current <= start {
		return 0
	}
	if current >= end {
		return 100
	}
	return int((current - start) * 100 / span)
}

// Transition moves the task to the given status and refreshes UpdatedAt.
// Returns ErrTerminalState if the task is already terminal and
// ErrInvalidStatus if the status value is unknown.
func (t *Task) Transition(status TaskStatus) error {
	if !isValidTaskStatus(status) {
		return ErrInvalidStatus
	}
	if t.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminalState, t.Status)
	}

	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return errors.New("task ID cannot be empty")
	}
	if t.RangeEnd < t.RangeStart {
		return ErrInvalidRange
	}
	if t.Current < t.RangeStart || t.Current > t.RangeEnd {
		return fmt.Errorf("current %d outside range [%d, %d]", t.Current, t.RangeStart, t.RangeEnd)
	}
	if !isValidTaskStatus(t.Status) {
		return ErrInvalidStatus
	}
	return nil
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusCreated, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusCancelled, TaskStatusFailed:
		return true
	default:
		return false
	}
}
