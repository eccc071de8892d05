// Package server provides the HTTP REST API for match generation.
package server

import (
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/jonathan/commute-matcher/internal/engine"
	"github.com/jonathan/commute-matcher/internal/jobs"
)

// ErrValidation indicates request validation failure.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return "validation error: " + e.Field + " - " + e.Message
}

// HTTPStatus returns the appropriate HTTP status code for an error.
func HTTPStatus(err error) int {
	var validation *ErrValidation
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation), errors.Is(err, engine.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrJobInProgress), errors.Is(err, jobs.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

var errUnauthenticated = errors.New("unauthenticated")
