package store

import "errors"

// Common store errors used across all store implementations.
var (
	// ErrTaskNotFound is returned when the requested task does not exist
	// in the store.
	ErrTaskNotFound = errors.New("task not found")

	// ErrVersionConflict is returned by CompareAndSwap when the stored
	// version does not match the expected one, meaning another writer
	// mutated the record since it was read. Callers recover by reloading
	// and reconciling; this error is never surfaced to API clients.
	ErrVersionConflict = errors.New("task version conflict")

	// ErrDuplicate is returned when creating a task whose ID already
	// exists in the store.
	ErrDuplicate = errors.New("task already exists")
)
