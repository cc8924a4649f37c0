package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tallyd/tally-api/internal/api/shared"
	"github.com/tallyd/tally-api/internal/domain"
	"github.com/tallyd/tally-api/internal/service"
)

// CreateTaskRequest represents the request body for submitting a new
// counter task.
type CreateTaskRequest struct {
	RangeStart int64 `json:"range_start"`
	RangeEnd   int64 `json:"range_end"`
}

// TaskResponse represents the response data for a task
type TaskResponse struct {
	ID         string    `json:"id"`
	RangeStart int64     `json:"range_start"`
	RangeEnd   int64     `json:"range_end"`
	Current    int64     `json:"current"`
	Status     string    `json:"status"`
	Percentage int       `json:"percentage"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProgressResponse represents the response data for a progress read
type ProgressResponse struct {
	ID         string `json:"id"`
	Current    int64  `json:"current"`
	Status     string `json:"status"`
	Percentage int    `json:"percentage"`
}

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	taskService service.TaskService
	logger      *slog.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(taskService service.TaskService, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		logger:      logger,
	}
}

// SubmitTask handles POST /api/tasks requests
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "invalid request format")
		return
	}

	t, err := h.taskService.SubmitTask(r.Context(), req.RangeStart, req.RangeEnd)
	if err != nil {
		h.logger.Debug("task submission rejected",
			"range_start", req.RangeStart,
			"range_end", req.RangeEnd,
			"error", err)
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}

	// Processing happens asynchronously.
	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToResponse(t))
}

// GetProgress handles GET /api/tasks/{id} requests
func (h *TaskHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "invalid task ID")
		return
	}

	progress, err := h.taskService.GetProgress(r.Context(), id)
	if err != nil {
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ProgressResponse{
		ID:         id.String(),
		Current:    progress.Current,
		Status:     string(progress.Status),
		Percentage: progress.Percentage,
	})
}

// CancelTask handles DELETE /api/tasks/{id} requests
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "invalid task ID")
		return
	}

	if err := h.taskService.CancelTask(r.Context(), id); err != nil {
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}

	// Cancellation is cooperative; the worker observes it at the next tick.
	shared.RespondWithJSON(w, r, http.StatusAccepted, map[string]string{
		"status": "cancellation requested",
	})
}

// taskToResponse converts a domain.Task to a TaskResponse
func taskToResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:         t.ID.String(),
		RangeStart: t.RangeStart,
		RangeEnd:   t.RangeEnd,
		Current:    t.Current,
		Status:     string(t.Status),
		Percentage: t.Percentage(),
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}
