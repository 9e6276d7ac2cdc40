// Package httpserver contains the HTTP handlers and middleware for the
// ingestion, exception and admin APIs. HTTP concerns stay here; business
// rules live in usecase.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/octup/sentinel/internal/domain"
	"github.com/octup/sentinel/internal/observability"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	Details       any    `json:"details,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error, details any) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrSchemaInvalid):
		status = http.StatusUnprocessableEntity
		code = "SCHEMA_INVALID"
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
		code = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
		code = "UNAUTHORIZED"
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
		code = "FORBIDDEN"
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		// Business-rule conflicts (illegal status transitions) are caller
		// errors, not resource races: they answer 400, unlike duplicates.
		status = http.StatusBadRequest
		code = "CONFLICT"
	case errors.Is(err, domain.ErrDuplicate):
		status = http.StatusConflict
		code = "DUPLICATE"
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
		code = "RATE_LIMITED"
	case errors.Is(err, domain.ErrCircuitOpen):
		status = http.StatusServiceUnavailable
		code = "CIRCUIT_OPEN"
	case errors.Is(err, domain.ErrUpstreamTimeout):
		status = http.StatusServiceUnavailable
		code = "UPSTREAM_TIMEOUT"
	}
	writeJSON(w, status, errorEnvelope{Error: apiError{
		Code:          code,
		Message:       err.Error(),
		Details:       details,
		CorrelationID: observability.CorrelationIDFromContext(r.Context()),
	}})
}
