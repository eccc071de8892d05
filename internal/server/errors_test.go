package server

import (
	"net/http"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/commute-matcher/internal/engine"
	"github.com/jonathan/commute-matcher/internal/jobs"
)

func TestErrValidation(t *testing.T) {
	err := &ErrValidation{Field: "mode", Message: "is required"}
	assert.Equal(t, "validation error: mode - is required", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: http.StatusOK},
		{name: "validation", err: &ErrValidation{Field: "band"}, want: http.StatusBadRequest},
		{name: "wrapped validation", err: errors.Wrap(&ErrValidation{Field: "band"}, "parsing"), want: http.StatusBadRequest},
		{name: "invalid start request", err: errors.Mark(errors.New("mode"), engine.ErrInvalidRequest), want: http.StatusBadRequest},
		{name: "job in progress", err: errors.Wrap(jobs.ErrJobInProgress, "tenant a"), want: http.StatusConflict},
		{name: "superseded", err: jobs.ErrSuperseded, want: http.StatusConflict},
		{name: "unauthenticated", err: errUnauthenticated, want: http.StatusUnauthorized},
		{name: "other", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
