package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jonathan/commute-matcher/internal/types"
)

// SSEWriter helps write Server-Sent Events.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends an SSE event.
func (s *SSEWriter) WriteEvent(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteError sends an error event.
func (s *SSEWriter) WriteError(message string) {
	s.WriteEvent("error", map[string]string{"error": message}) //nolint:errcheck
}

// WriteComplete sends a completion event.
func (s *SSEWriter) WriteComplete(runID string, status types.JobStatus) {
	s.WriteEvent("complete", map[string]string{ //nolint:errcheck
		"run_id": runID,
		"status": string(status),
	})
}

// handleJobStatusStream emits a progress event whenever the tenant's job row
// changes, and a complete event once it reaches a terminal or idle state.
func (s *Server) handleJobStatusStream(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	var last *JobStatusResponse
	for {
		st, err := s.status.Status(r.Context(), tenantID)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			s.logger.Warn("status stream read failed", zap.String("tenant_id", tenantID), zap.Error(err))
			sse.WriteError("failed to read job status")
			return
		}

		view := newJobStatusResponse(st)
		if last == nil || !sameProgress(*last, view) {
			if err := sse.WriteEvent("progress", view); err != nil {
				return
			}
			last = &view
		}
		if st == nil || st.Status != types.JobStatusProcessing {
			sse.WriteComplete(view.RunID, view.Status)
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func sameProgress(a, b JobStatusResponse) bool {
	return a.Status == b.Status &&
		a.RunID == b.RunID &&
		a.ProcessedPairs == b.ProcessedPairs &&
		a.CurrentBatchIndex == b.CurrentBatchIndex &&
		a.ErrorMessage == b.ErrorMessage
}
