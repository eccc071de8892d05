package server

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/commute-matcher/internal/engine"
	"github.com/jonathan/commute-matcher/internal/server/middleware"
	"github.com/jonathan/commute-matcher/internal/types"
)

// maxMatchListLimit caps GET /matches page size.
const maxMatchListLimit = 1000

// StartJobRequest is the body of POST /jobs.
type StartJobRequest struct {
	Mode  types.Mode `json:"mode"`
	Force bool       `json:"force"`
}

// StartJobResponse is returned by POST /jobs.
type StartJobResponse struct {
	RunID                    string          `json:"run_id"`
	Status                   types.JobStatus `json:"status"`
	TotalPairsToProcess      int             `json:"total_pairs_to_process"`
	TotalBatches             int             `json:"total_batches"`
	EstimatedDuration        string          `json:"estimated_duration"`
	EstimatedDurationSeconds int             `json:"estimated_duration_seconds"`
}

// JobStatusResponse is the polling view of a tenant's job row.
type JobStatusResponse struct {
	Status            types.JobStatus `json:"status"`
	ProcessedPairs    int             `json:"processed_pairs"`
	TotalPairs        int             `json:"total_pairs"`
	MatchesFound      int             `json:"matches_found"`
	ExcludedOver80    int             `json:"excluded_over_80"`
	Errors            int             `json:"errors"`
	PercentComplete   float64         `json:"percent_complete"`
	CurrentBatchIndex int             `json:"current_batch_index"`
	TotalBatches      int             `json:"total_batches"`
	RunID             string          `json:"run_id,omitempty"`
	Mode              types.Mode      `json:"mode,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// MatchListResponse is returned by GET /matches.
type MatchListResponse struct {
	Matches []types.Match `json:"matches"`
	Count   int           `json:"count"`
}

// BanRequest is the body of POST /bans.
type BanRequest struct {
	CandidateID string `json:"candidate_id"`
	ClientID    string `json:"client_id"`
}

func newJobStatusResponse(st *types.JobState) JobStatusResponse {
	if st == nil {
		return JobStatusResponse{Status: types.JobStatusIdle}
	}
	view := JobStatusResponse{
		Status:            st.Status,
		ProcessedPairs:    st.ProcessedPairs,
		TotalPairs:        st.TotalPairs,
		MatchesFound:      st.MatchesFound,
		ExcludedOver80:    st.ExcludedOver80,
		Errors:            st.Errors,
		PercentComplete:   math.Round(st.PercentComplete()*10) / 10,
		CurrentBatchIndex: st.CurrentBatchIndex,
		TotalBatches:      st.TotalBatches,
		Mode:              st.Mode,
		ErrorMessage:      st.ErrorMessage,
		StartedAt:         st.StartedAt,
		CompletedAt:       st.CompletedAt,
	}
	if st.RunID != uuid.Nil {
		view.RunID = st.RunID.String()
	}
	return view
}

func (s *Server) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID, err := middleware.GetTenantID(r)
	if err != nil {
		s.handleError(w, r, errors.Mark(err, errUnauthenticated))
		return "", false
	}
	return tenantID, true
}

// handleStartJob plans a generation run and returns once it is Processing.
func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}

	var req StartJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Mode == "" {
		req.Mode = types.ModeIncremental
	}
	if !req.Mode.IsValid() {
		s.handleError(w, r, &ErrValidation{Field: "mode", Message: "must be full or incremental"})
		return
	}

	res, err := s.engine.Start(r.Context(), engine.StartRequest{
		TenantID: tenantID,
		Mode:     req.Mode,
		Force:    req.Force,
	})
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	s.logger.Info("generation job accepted",
		zap.String("tenant_id", tenantID),
		zap.Stringer("run_id", res.RunID),
		zap.Int("pairs", res.TotalPairs),
	)

	s.jsonResponse(w, http.StatusAccepted, StartJobResponse{
		RunID:                    res.RunID.String(),
		Status:                   res.Status,
		TotalPairsToProcess:      res.TotalPairs,
		TotalBatches:             res.TotalBatches,
		EstimatedDuration:        res.EstimatedDuration.String(),
		EstimatedDurationSeconds: int(math.Ceil(res.EstimatedDuration.Seconds())),
	})
}

// handleJobStatus returns the tenant's job progress.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}

	st, err := s.status.Status(r.Context(), tenantID)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, newJobStatusResponse(st))
}

// handleListMatches lists the tenant's matches, optionally filtered.
func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}

	filter, err := parseMatchFilter(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	matches, err := s.store.ListMatches(r.Context(), tenantID, filter)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if matches == nil {
		matches = []types.Match{}
	}
	s.jsonResponse(w, http.StatusOK, MatchListResponse{Matches: matches, Count: len(matches)})
}

func parseMatchFilter(r *http.Request) (types.MatchFilter, error) {
	q := r.URL.Query()
	filter := types.MatchFilter{
		CandidateID: q.Get("candidate_id"),
		ClientID:    q.Get("client_id"),
		Band:        types.CommuteBand(q.Get("band")),
		Limit:       maxMatchListLimit,
	}

	if filter.Band != "" && !filter.Band.IsValid() {
		return filter, &ErrValidation{Field: "band", Message: "must be fast, medium, slow or borderline"}
	}
	if v := q.Get("role_match"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, &ErrValidation{Field: "role_match", Message: "must be a boolean"}
		}
		filter.RoleMatch = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return filter, &ErrValidation{Field: "limit", Message: "must be a positive integer"}
		}
		filter.Limit = min(n, maxMatchListLimit)
	}
	return filter, nil
}

// handleBan permanently excludes a pair and removes any existing match for it.
func (s *Server) handleBan(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}

	var req BanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.CandidateID == "" {
		s.handleError(w, r, &ErrValidation{Field: "candidate_id", Message: "is required"})
		return
	}
	if req.ClientID == "" {
		s.handleError(w, r, &ErrValidation{Field: "client_id", Message: "is required"})
		return
	}

	key := types.PairKey{CandidateID: req.CandidateID, ClientID: req.ClientID}
	if err := s.store.BanPair(r.Context(), tenantID, key); err != nil {
		s.handleError(w, r, err)
		return
	}

	s.jsonResponse(w, http.StatusCreated, types.BannedPair{TenantID: tenantID, Key: key})
}
