package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tallyd/tally-api/internal/domain"
	"github.com/tallyd/tally-api/internal/store"
)

// ArtifactReleaser frees external artifacts associated with a task.
// Implementations must be idempotent: releasing a task with no artifacts
// is not an error.
type ArtifactReleaser interface {
	ReleaseArtifacts(ctx context.Context, id uuid.UUID) error
}

// SweepPolicy describes one class of stale tasks to reap. The sweep
// criteria are parameters rather than hardcoded per task kind, so a second
// task kind with its own artifacts can reuse the same mechanism.
type SweepPolicy struct {
	// Statuses selects which task statuses the policy applies to
	Statuses []domain.TaskStatus

	// OlderThan is the minimum age (by last update) before a task is reaped
	OlderThan time.Duration

	// ReleaseArtifacts invokes the artifact releaser before deletion
	ReleaseArtifacts bool
}

// DefaultSweepPolicies returns the standard two policies: created tasks
// that were never picked up within createdTTL are deleted outright, and
// terminal tasks past the retention window are deleted along with their
// artifacts.
func DefaultSweepPolicies(createdTTL, retention time.Duration) []SweepPolicy {
	return []SweepPolicy{
		{
			Statuses:  []domain.TaskStatus{domain.TaskStatusCreated},
			OlderThan: createdTTL,
		},
		{
			Statuses: []domain.TaskStatus{
				domain.TaskStatusCompleted,
				domain.TaskStatusCancelled,
				domain.TaskStatusFailed,
			},
			OlderThan:        retention,
			ReleaseArtifacts: true,
		},
	}
}

// SweeperConfig holds configuration for the staleness sweeper
type SweeperConfig struct {
	// Interval is the fixed period between sweeps
	Interval time.Duration

	// Policies define what gets reaped
	Policies []SweepPolicy
}

// Sweeper periodically scans the store for tasks that should be reaped:
// never-started tasks past their creation-time limit and terminal tasks
// past the retention window.
type Sweeper struct {
	store      store.TaskStore
	registry   *Registry
	releaser   ArtifactReleaser
	config     SweeperConfig
	logger     *slog.Logger
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewSweeper creates a new Sweeper. The releaser may be nil when no task
// kind produces artifacts.
func NewSweeper(
	taskStore store.TaskStore,
	registry *Registry,
	releaser ArtifactReleaser,
	config SweeperConfig,
	logger *slog.Logger,
) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Sweeper{
		store:      taskStore,
		registry:   registry,
		releaser:   releaser,
		config:     config,
		logger:     logger,
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start launches the periodic sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop terminates the sweep loop and waits for it to drain.
func (s *Sweeper) Stop() {
	s.cancelFunc()
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(s.ctx); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce runs a single sweep over all policies and returns the number
// of tasks deleted.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	deleted := 0
	var firstErr error

	for _, policy := range s.config.Policies {
		for _, status := range policy.Statuses {
			tasks, err := s.store.FindByStatusOlderThan(ctx, status, policy.OlderThan)
			if err != nil {
				s.logger.Error("failed to scan for stale tasks",
					"status", status,
					"error", err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}

			for _, t := range tasks {
				if s.reap(ctx, t, policy) {
					deleted++
				}
			}
		}
	}

	if deleted > 0 {
		s.logger.Info("swept stale tasks", "deleted", deleted)
	}
	return deleted, firstErr
}

// reap deletes a single stale task, releasing its artifacts first when the
// policy asks for it. Tasks still resident in the registry are skipped:
// an actively advancing task is never reaped out from under its worker.
func (s *Sweeper) reap(ctx context.Context, t *domain.Task, policy SweepPolicy) bool {
	if _, inFlight := s.registry.Lookup(t.ID); inFlight {
		return false
	}

	if policy.ReleaseArtifacts && s.releaser != nil {
		if err := s.releaser.ReleaseArtifacts(ctx, t.ID); err != nil {
			// Keep the record so the next sweep retries the release.
			s.logger.Error("failed to release artifacts, keeping task",
				"task_id", t.ID,
				"error", err)
			return false
		}
	}

	if err := s.store.Delete(ctx, t.ID); err != nil {
		s.logger.Error("failed to delete stale task",
			"task_id", t.ID,
			"error", err)
		return false
	}

	s.logger.Debug("deleted stale task",
		"task_id", t.ID,
		"status", t.Status,
		"updated_at", t.UpdatedAt)
	return true
}
