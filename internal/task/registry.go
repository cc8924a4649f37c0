package task

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tallyd/tally-api/internal/domain"
)

// Progress is the snapshot returned to progress readers.
type Progress struct {
	Current    int64             `json:"current"`
	Status     domain.TaskStatus `json:"status"`
	Percentage int               `json:"percentage"`
}

// ProgressOf builds a Progress snapshot from a persisted task record.
func ProgressOf(t *domain.Task) Progress {
	return Progress{
		Current:    t.Current,
		Status:     t.Status,
		Percentage: t.Percentage(),
	}
}

// Handle is the non-owning, advisory view of a task that is actively being
// advanced by a worker. It exposes the latest in-memory counter position
// so progress reads never block the worker.
type Handle struct {
	id         uuid.UUID
	rangeStart int64
	rangeEnd   int64
	current    atomic.Int64
}

// ID returns the task id the handle refers to.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// Current returns the latest in-memory counter position.
func (h *Handle) Current() int64 {
	return h.current.Load()
}

// setCurrent publishes a new counter position. Only the claiming worker
// calls this, so values are monotonically non-decreasing.
func (h *Handle) setCurrent(v int64) {
	h.current.Store(v)
}

// Progress returns a snapshot of the in-flight task. A registered handle
// always reflects a running task; terminal snapshots come from the store.
func (h *Handle) Progress() Progress {
	cur := h.Current()
	return Progress{
		Current:    cur,
		Status:     domain.TaskStatusRunning,
		Percentage: domain.Percentage(h.rangeStart, h.rangeEnd, cur),
	}
}

// Registry is the in-memory index of currently executing tasks. Entries
// are added exactly once at successful claim and removed exactly once by
// the same worker when the task reaches a terminal state, so its size is
// bounded by the worker pool, never by total task count.
type Registry struct {
	mu      sync.RWMutex
	handles map[uuid.UUID]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[uuid.UUID]*Handle),
	}
}

// Add registers an in-flight handle for the task and returns it.
func (r *Registry) Add(t *domain.Task) *Handle {
	h := &Handle{
		id:         t.ID,
		rangeStart: t.RangeStart,
		rangeEnd:   t.RangeEnd,
	}
	h.current.Store(t.Current)

	r.mu.Lock()
	r.handles[t.ID] = h
	r.mu.Unlock()
	return h
}

// Lookup returns the handle for the id if the task is actively running.
func (r *Registry) Lookup(id uuid.UUID) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// Remove drops the handle for the id.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}

// Len returns the number of in-flight tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
