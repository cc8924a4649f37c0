package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tallyd/tally-api/internal/domain"
	"github.com/tallyd/tally-api/internal/store"
)

// Common errors returned by the TaskRunner.
var (
	ErrQueueFull = errors.New("task queue is full")
)

// errSuperseded signals that an external writer already moved the record
// to a terminal status; the worker stops advancing and adopts it.
var errSuperseded = errors.New("task finalized externally")

// ArtifactWriter produces the external artifact for a finished task.
// Optional; a nil writer disables artifact production.
type ArtifactWriter interface {
	WriteCompletionReport(ctx context.Context, t *domain.Task) error
}

// TaskRunnerConfig holds configuration for the task runner
type TaskRunnerConfig struct {
	// WorkerCount determines how many tasks may execute concurrently
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue
	QueueSize int

	// TickInterval is the fixed wait between successive counter advances
	TickInterval time.Duration

	// FlushEveryTicks throttles durable progress writes: the in-memory
	// counter is authoritative and is flushed to the store once per this
	// many ticks, plus unconditionally at every state transition
	FlushEveryTicks int
}

// DefaultTaskRunnerConfig returns a TaskRunnerConfig with reasonable defaults
func DefaultTaskRunnerConfig() TaskRunnerConfig {
	return TaskRunnerConfig{
		WorkerCount:     2,
		QueueSize:       100,
		TickInterval:    time.Second,
		FlushEveryTicks: 10,
	}
}

// TaskRunner executes counter tasks on a fixed-size worker pool. Each
// claimed task is advanced by exactly one worker; everyone else interacts
// with it only through the registry (reads) and the cancellation
// coordinator (signals), so there is a single writer per task.
type TaskRunner struct {
	store       store.TaskStore
	registry    *Registry
	coordinator *CancelCoordinator
	artifacts   ArtifactWriter
	taskChan    chan *domain.Task
	ctx         context.Context
	cancelFunc  context.CancelFunc
	wg          sync.WaitGroup
	config      TaskRunnerConfig
	logger      *slog.Logger
}

// NewTaskRunner creates a new TaskRunner. The artifact writer may be nil.
// Zero or negative config fields fall back to the defaults.
func NewTaskRunner(
	taskStore store.TaskStore,
	registry *Registry,
	coordinator *CancelCoordinator,
	artifacts ArtifactWriter,
	config TaskRunnerConfig,
	logger *slog.Logger,
) *TaskRunner {
	defaults := DefaultTaskRunnerConfig()
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.TickInterval <= 0 {
		config.TickInterval = defaults.TickInterval
	}
	if config.FlushEveryTicks <= 0 {
		config.FlushEveryTicks = defaults.FlushEveryTicks
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &TaskRunner{
		store:       taskStore,
		registry:    registry,
		coordinator: coordinator,
		artifacts:   artifacts,
		taskChan:    make(chan *domain.Task, config.QueueSize),
		ctx:         ctx,
		cancelFunc:  cancel,
		config:      config,
		logger:      logger,
	}
}

// Enqueue hands a created task to the worker pool. Returns ErrQueueFull
// when the bounded queue is at capacity; the runner never queues
// unboundedly.
func (r *TaskRunner) Enqueue(t *domain.Task) error {
	select {
	case r.taskChan <- t:
		return nil
	default:
		return fmt.Errorf("%w: capacity %d reached", ErrQueueFull, cap(r.taskChan))
	}
}

// Start recovers unfinished tasks from the store and launches the workers.
func (r *TaskRunner) Start() error {
	recovered, err := r.recoverTasks()
	if err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	// Requeue after the workers are draining: recovered tasks may
	// outnumber the queue capacity, so the requeue blocks on the channel
	// instead of dropping the overflow.
	r.wg.Add(1)
	go r.requeue(recovered)

	return nil
}

// Stop interrupts the per-tick waits of all workers and blocks until every
// worker has drained. No worker goroutine outlives Stop.
func (r *TaskRunner) Stop() {
	r.cancelFunc()
	r.wg.Wait()
}

// recoverTasks reloads unfinished tasks after a restart. Created tasks are
// returned as-is; running tasks (interrupted by a crash or shutdown) are
// reset to created while keeping their counter position, giving
// at-least-once resumption with idempotent progress accounting.
func (r *TaskRunner) recoverTasks() ([]*domain.Task, error) {
	ctx := context.Background()

	createdTasks, err := r.store.FindByStatusOlderThan(ctx, domain.TaskStatusCreated, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load created tasks: %w", err)
	}

	runningTasks, err := r.store.FindByStatusOlderThan(ctx, domain.TaskStatusRunning, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load running tasks: %w", err)
	}

	r.logger.Info("recovering unfinished tasks",
		"created_count", len(createdTasks),
		"running_count", len(runningTasks))

	for _, t := range runningTasks {
		t.Status = domain.TaskStatusCreated
		if err := r.store.CompareAndSwap(ctx, t, t.Version); err != nil {
			r.logger.Error("failed to reset interrupted task",
				"task_id", t.ID,
				"error", err)
			continue
		}
		createdTasks = append(createdTasks, t)
	}

	return createdTasks, nil
}

// requeue feeds recovered tasks back into the queue, blocking when it is
// full so every recovered task is eventually executed. On shutdown the
// remaining tasks stay created for the next start and their signals are
// released rather than leaked.
func (r *TaskRunner) requeue(tasks []*domain.Task) {
	defer r.wg.Done()

	for i, t := range tasks {
		r.coordinator.Register(t.ID)
		select {
		case r.taskChan <- t:
		case <-r.ctx.Done():
			r.coordinator.Release(t.ID)
			for _, rest := range tasks[i+1:] {
				r.coordinator.Release(rest.ID)
			}
			return
		}
	}
}

// worker consumes tasks from the queue until shutdown.
func (r *TaskRunner) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("stopping worker", "worker_id", id)
			return

		case t, ok := <-r.taskChan:
			if !ok {
				return
			}
			r.runTask(t, id)
		}
	}
}

// runTask executes the per-task state machine:
// created -> running -> {completed | cancelled | failed}.
func (r *TaskRunner) runTask(t *domain.Task, workerID int) {
	ctx := context.Background()
	logger := r.logger.With(
		"task_id", t.ID,
		"worker_id", workerID,
	)

	sig := r.coordinator.Register(t.ID)

	// Cancelled before it ever started.
	if sig.Cancelled() {
		r.finalize(ctx, t, nil, domain.TaskStatusCancelled, "", logger)
		return
	}

	// Claim: created -> running under the optimistic version check. On
	// conflict someone else owns the record; abandon it.
	if err := t.Transition(domain.TaskStatusRunning); err != nil {
		logger.Warn("skipping task in unexpected state", "status", t.Status)
		r.coordinator.Release(t.ID)
		return
	}
	if err := r.store.CompareAndSwap(ctx, t, t.Version); err != nil {
		if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrTaskNotFound) {
			logger.Debug("claim lost, abandoning task", "error", err)
		} else {
			logger.Error("failed to claim task", "error", err)
		}
		r.coordinator.Release(t.ID)
		return
	}

	handle := r.registry.Add(t)
	logger.Info("claimed task",
		"range_start", t.RangeStart,
		"range_end", t.RangeEnd,
		"current", t.Current)

	ticker := time.NewTicker(r.config.TickInterval)
	defer ticker.Stop()

	ticksSinceFlush := 0

	for {
		select {
		case <-r.ctx.Done():
			// Shutdown: flush the latest counter and leave the record
			// running so recovery resumes it on the next start.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.persist(flushCtx, t); err != nil && !errors.Is(err, errSuperseded) {
				logger.Error("failed to flush progress on shutdown", "error", err)
			}
			cancel()
			r.registry.Remove(t.ID)
			r.coordinator.Release(t.ID)
			return

		case <-sig.Done():
			r.finalize(ctx, t, handle, domain.TaskStatusCancelled, "", logger)
			return

		case <-ticker.C:
			// Cancellation is observed before advancing, bounding the
			// observation latency to one tick.
			if sig.Cancelled() {
				r.finalize(ctx, t, handle, domain.TaskStatusCancelled, "", logger)
				return
			}

			if t.Current < t.RangeEnd {
				t.Current++
				handle.setCurrent(t.Current)
			}

			if t.Current >= t.RangeEnd {
				r.finalize(ctx, t, handle, domain.TaskStatusCompleted, "", logger)
				return
			}

			ticksSinceFlush++
			if ticksSinceFlush >= r.config.FlushEveryTicks {
				ticksSinceFlush = 0
				if err := r.persist(ctx, t); err != nil {
					if errors.Is(err, errSuperseded) {
						logger.Info("task finalized externally, stopping")
						r.registry.Remove(t.ID)
						r.coordinator.Release(t.ID)
						return
					}
					r.finalize(ctx, t, handle, domain.TaskStatusFailed, err.Error(), logger)
					return
				}
			}
		}
	}
}

// persist flushes the task through CompareAndSwap. On a version conflict
// it reloads and reconciles: a terminal status already present in the
// store wins (errSuperseded); otherwise the write is retried against the
// stored version.
func (r *TaskRunner) persist(ctx context.Context, t *domain.Task) error {
	err := r.store.CompareAndSwap(ctx, t, t.Version)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrVersionConflict) {
		return err
	}

	stored, getErr := r.store.GetByID(ctx, t.ID)
	if getErr != nil {
		if errors.Is(getErr, store.ErrTaskNotFound) {
			// Deleted out from under us (e.g. by the sweeper).
			return errSuperseded
		}
		return getErr
	}
	if stored.IsTerminal() {
		return errSuperseded
	}

	t.Version = stored.Version
	return r.store.CompareAndSwap(ctx, t, t.Version)
}

// finalize transitions the task to a terminal status, flushes it, and
// releases the registry entry and the cancellation signal exactly once.
func (r *TaskRunner) finalize(
	ctx context.Context,
	t *domain.Task,
	handle *Handle,
	status domain.TaskStatus,
	errMsg string,
	logger *slog.Logger,
) {
	defer func() {
		if handle != nil {
			r.registry.Remove(t.ID)
		}
		r.coordinator.Release(t.ID)
	}()

	if err := t.Transition(status); err != nil {
		logger.Warn("task already terminal, not re-transitioning",
			"status", t.Status)
		return
	}
	t.ErrorMessage = errMsg

	if err := r.persist(ctx, t); err != nil {
		if errors.Is(err, errSuperseded) {
			logger.Info("task finalized externally", "intended_status", status)
			return
		}
		logger.Error("failed to persist terminal status",
			"status", status,
			"error", err)
		return
	}

	logger.Info("task finished",
		"status", status,
		"current", t.Current,
		"percentage", t.Percentage())

	if status == domain.TaskStatusCompleted && r.artifacts != nil {
		if err := r.artifacts.WriteCompletionReport(ctx, t); err != nil {
			logger.Error("failed to write completion report", "error", err)
		}
	}
}
