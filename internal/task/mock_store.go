package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tallyd/tally-api/internal/domain"
	"github.com/tallyd/tally-api/internal/store"
)

// MockTaskStore implements the store.TaskStore interface in memory for
// testing. It keeps its own copies of records so workers mutating their
// task structs never race with readers, and it counts durable writes so
// tests can assert the flush throttle.
type MockTaskStore struct {
	mutex      sync.RWMutex
	tasks      map[uuid.UUID]*domain.Task
	writeCount int

	// CreateFn and CASFn allow tests to inject failures
	CreateFn func(ctx context.Context, t *domain.Task) error
	CASFn    func(ctx context.Context, t *domain.Task, expectedVersion int64) error
}

// NewMockTaskStore creates a new empty MockTaskStore.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{
		tasks: make(map[uuid.UUID]*domain.Task),
	}
}

// Create persists a copy of the task.
func (s *MockTaskStore) Create(ctx context.Context, t *domain.Task) error {
	if s.CreateFn != nil {
		return s.CreateFn(ctx, t)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return store.ErrDuplicate
	}

	cp := *t
	s.tasks[t.ID] = &cp
	s.writeCount++
	return nil
}

// GetByID returns a copy of the stored task.
func (s *MockTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

// CompareAndSwap applies the optimistic write protocol.
func (s *MockTaskStore) CompareAndSwap(ctx context.Context, t *domain.Task, expectedVersion int64) error {
	if s.CASFn != nil {
		return s.CASFn(ctx, t, expectedVersion)
	}
	return s.compareAndSwap(t, expectedVersion)
}

// compareAndSwap is the default swap behavior. Exposed separately so a
// CASFn hook can fail selectively and delegate the rest.
func (s *MockTaskStore) compareAndSwap(t *domain.Task, expectedVersion int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored, ok := s.tasks[t.ID]
	if !ok {
		return store.ErrTaskNotFound
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("%w: expected %d, stored %d",
			store.ErrVersionConflict, expectedVersion, stored.Version)
	}

	t.Version = expectedVersion + 1
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	s.tasks[t.ID] = &cp
	s.writeCount++
	return nil
}

// FindByStatusOlderThan returns copies of matching tasks.
func (s *MockTaskStore) FindByStatusOlderThan(
	ctx context.Context,
	status domain.TaskStatus,
	olderThan time.Duration,
) ([]*domain.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var result []*domain.Task
	for _, t := range s.tasks {
		if t.Status != status {
			continue
		}
		if olderThan > 0 && !t.UpdatedAt.Before(cutoff) {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	return result, nil
}

// Delete removes the task.
func (s *MockTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return store.ErrTaskNotFound
	}
	delete(s.tasks, id)
	return nil
}

// WriteCount returns how many durable writes (creates and swaps) the store
// has seen.
func (s *MockTaskStore) WriteCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.writeCount
}

// SetUpdatedAt backdates a stored task, for staleness tests.
func (s *MockTaskStore) SetUpdatedAt(id uuid.UUID, at time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if t, ok := s.tasks[id]; ok {
		t.UpdatedAt = at
	}
}

// Len returns the number of stored tasks.
func (s *MockTaskStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.tasks)
}
