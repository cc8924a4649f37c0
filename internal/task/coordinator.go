package task

import (
	"sync"

	"github.com/google/uuid"
)

// CancelSignal is a one-shot cooperative cancellation flag for a single
// task. Signalling is a single atomic close of the underlying channel, not
// a compound check-then-act sequence, so it is safe to call concurrently
// with the owning worker's poll.
type CancelSignal struct {
	done chan struct{}
	once sync.Once
}

func newCancelSignal() *CancelSignal {
	return &CancelSignal{done: make(chan struct{})}
}

// signal trips the flag. Safe to call any number of times.
func (s *CancelSignal) signal() {
	s.once.Do(func() { close(s.done) })
}

// Done returns a channel closed when cancellation has been requested.
// Workers select on it to make the per-tick wait interruptible.
func (s *CancelSignal) Done() <-chan struct{} {
	return s.done
}

// Cancelled reports whether cancellation has been requested. Non-blocking.
func (s *CancelSignal) Cancelled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// CancelCoordinator maps task ids to cooperative cancellation signals. It
// owns no task data, only signals, and retains a signal only while its
// task is in flight: Release discards the entry when the task reaches a
// terminal state, so the map is bounded by the number of live tasks rather
// than growing with historical ones.
type CancelCoordinator struct {
	mu      sync.Mutex
	signals map[uuid.UUID]*CancelSignal
}

// NewCancelCoordinator creates an empty coordinator.
func NewCancelCoordinator() *CancelCoordinator {
	return &CancelCoordinator{
		signals: make(map[uuid.UUID]*CancelSignal),
	}
}

// Register returns the signal for the given task id, creating it if
// needed. Registering an already-registered id returns the existing
// signal, preserving any cancellation already requested against it.
func (c *CancelCoordinator) Register(id uuid.UUID) *CancelSignal {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sig, ok := c.signals[id]; ok {
		return sig
	}
	sig := newCancelSignal()
	c.signals[id] = sig
	return sig
}

// Signal requests cancellation of the given task. It is idempotent:
// signalling twice is a no-op. Returns false when no signal is registered
// for the id, which callers treat as "not in flight" rather than an error.
func (c *CancelCoordinator) Signal(id uuid.UUID) bool {
	c.mu.Lock()
	sig, ok := c.signals[id]
	c.mu.Unlock()

	if !ok {
		return false
	}
	sig.signal()
	return true
}

// IsCancelled reports whether cancellation has been requested for the id.
// Returns false for unregistered ids.
func (c *CancelCoordinator) IsCancelled(id uuid.UUID) bool {
	c.mu.Lock()
	sig, ok := c.signals[id]
	c.mu.Unlock()

	return ok && sig.Cancelled()
}

// Release discards the signal entry for the id. Called exactly once by the
// code path that transitions the task to a terminal status.
func (c *CancelCoordinator) Release(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.signals, id)
}

// Len returns the number of registered signals.
func (c *CancelCoordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.signals)
}
