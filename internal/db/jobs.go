package db

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/commute-matcher/internal/types"
)

// -----------------------------------------------------------------------------
// Job State Methods
// -----------------------------------------------------------------------------

const jobColumns = `tenant_id, run_id, mode, status, total_pairs, processed_pairs, matches_found,
	excluded_over_80, errors, current_batch_index, total_batches, error_message,
	started_at, completed_at, updated_at`

func scanJob(row pgx.Row) (*types.JobState, error) {
	var s types.JobState
	var mode, status string
	err := row.Scan(&s.TenantID, &s.RunID, &mode, &status, &s.TotalPairs, &s.ProcessedPairs,
		&s.MatchesFound, &s.ExcludedOver80, &s.Errors, &s.CurrentBatchIndex, &s.TotalBatches,
		&s.ErrorMessage, &s.StartedAt, &s.CompletedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Mode = types.Mode(mode)
	s.Status = types.JobStatus(status)
	return &s, nil
}

// LoadJob returns a tenant's job row, or nil when none exists
func (db *DB) LoadJob(ctx context.Context, tenantID string) (*types.JobState, error) {
	s, err := scanJob(db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM job_states WHERE tenant_id = $1`,
		tenantID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to load job state")
	}
	return s, nil
}

// SaveJob upserts a tenant's job row, handing ownership to state.RunID
func (db *DB) SaveJob(ctx context.Context, state *types.JobState) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO job_states (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		     run_id = EXCLUDED.run_id,
		     mode = EXCLUDED.mode,
		     status = EXCLUDED.status,
		     total_pairs = EXCLUDED.total_pairs,
		     processed_pairs = EXCLUDED.processed_pairs,
		     matches_found = EXCLUDED.matches_found,
		     excluded_over_80 = EXCLUDED.excluded_over_80,
		     errors = EXCLUDED.errors,
		     current_batch_index = EXCLUDED.current_batch_index,
		     total_batches = EXCLUDED.total_batches,
		     error_message = EXCLUDED.error_message,
		     started_at = EXCLUDED.started_at,
		     completed_at = EXCLUDED.completed_at,
		     updated_at = EXCLUDED.updated_at`,
		jobArgs(state)...,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save job state")
	}
	return nil
}

// UpdateJob writes a tenant's job row only while state.RunID owns it
func (db *DB) UpdateJob(ctx context.Context, state *types.JobState) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE job_states SET
		     mode = $3,
		     status = $4,
		     total_pairs = $5,
		     processed_pairs = $6,
		     matches_found = $7,
		     excluded_over_80 = $8,
		     errors = $9,
		     current_batch_index = $10,
		     total_batches = $11,
		     error_message = $12,
		     started_at = $13,
		     completed_at = $14,
		     updated_at = $15
		 WHERE tenant_id = $1 AND run_id = $2`,
		jobArgs(state)...,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to update job state")
	}
	return tag.RowsAffected() == 1, nil
}

// ListJobsByStatus returns all job rows with a status
func (db *DB) ListJobsByStatus(ctx context.Context, status types.JobStatus) ([]types.JobState, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM job_states WHERE status = $1 ORDER BY tenant_id`,
		string(status),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list job states")
	}
	defer rows.Close()

	states := []types.JobState{}
	for rows.Next() {
		s, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job state")
		}
		states = append(states, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate job states")
	}
	return states, nil
}

func jobArgs(s *types.JobState) []any {
	return []any{
		s.TenantID, s.RunID, string(s.Mode), string(s.Status), s.TotalPairs, s.ProcessedPairs,
		s.MatchesFound, s.ExcludedOver80, s.Errors, s.CurrentBatchIndex, s.TotalBatches,
		s.ErrorMessage, s.StartedAt, s.CompletedAt, s.UpdatedAt,
	}
}
