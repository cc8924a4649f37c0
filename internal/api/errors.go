package api

import (
	"errors"
	"net/http"

	"github.com/tallyd/tally-api/internal/domain"
	"github.com/tallyd/tally-api/internal/service"
	"github.com/tallyd/tally-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status
// codes based on the error type. This prevents leaking internal error
// types or messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRange),
		errors.Is(err, domain.ErrRangeTooWide):
		return http.StatusBadRequest

	case errors.Is(err, store.ErrTaskNotFound):
		return http.StatusNotFound

	case errors.Is(err, service.ErrCapacity):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type.
func GetSafeErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidRange):
		return "range end must not be less than range start"
	case errors.Is(err, domain.ErrRangeTooWide):
		return "range span exceeds the configured maximum"
	case errors.Is(err, store.ErrTaskNotFound):
		return "task not found"
	case errors.Is(err, service.ErrCapacity):
		return "task queue at capacity, try again later"
	default:
		return "internal server error"
	}
}
