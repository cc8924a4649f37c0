package artifact

import (
	"archive/zip"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/tallyd/tally-api/internal/domain"
)

// FSStore keeps per-task artifacts on the local filesystem: one zipped
// completion report per finished task, named by task id.
type FSStore struct {
	dir    string
	logger *slog.Logger
}

// NewFSStore creates the artifact directory if needed.
func NewFSStore(dir string, logger *slog.Logger) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &FSStore{dir: dir, logger: logger}, nil
}

// WriteCompletionReport packages a small text report for a completed task
// into a zip archive under the artifact directory.
func (s *FSStore) WriteCompletionReport(ctx context.Context, t *domain.Task) error {
	f, err := os.Create(s.path(t.ID))
	if err != nil {
		return fmt.Errorf("failed to create artifact file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Error("failed to close artifact file", "task_id", t.ID, "error", cerr)
		}
	}()

	zw := zip.NewWriter(f)
	w, err := zw.Create("report.txt")
	if err != nil {
		return fmt.Errorf("failed to create report entry: %w", err)
	}

	report := fmt.Sprintf(
		"task: %s\nrange: [%d, %d]\nfinal: %d\nstatus: %s\nfinished_at: %s\n",
		t.ID, t.RangeStart, t.RangeEnd, t.Current, t.Status,
		t.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	)
	if _, err := w.Write([]byte(report)); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}

	s.logger.Debug("wrote completion report", "task_id", t.ID, "path", s.path(t.ID))
	return nil
}

// ReleaseArtifacts removes the task's artifacts. Idempotent: a missing
// artifact is not an error.
func (s *FSStore) ReleaseArtifacts(ctx context.Context, id uuid.UUID) error {
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove artifact: %w", err)
	}
	return nil
}

// Path returns the location of the task's artifact archive.
func (s *FSStore) Path(id uuid.UUID) string {
	return s.path(id)
}

func (s *FSStore) path(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+".zip")
}
