package types

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a tenant's generation job.
type JobStatus string

// Job statuses. Completed and Error are terminal.
const (
	JobStatusIdle       JobStatus = "idle"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// IsTerminal reports whether no further transitions happen from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// Mode selects how a generation run treats existing matches.
type Mode string

const (
	// ModeFull deletes all non-banned matches and evaluates every non-banned pair.
	ModeFull Mode = "full"
	// ModeIncremental evaluates only pairs that have no match yet.
	ModeIncremental Mode = "incremental"
)

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	return m == ModeFull || m == ModeIncremental
}

// JobState is the single persisted progress row for a tenant.
type JobState struct {
	TenantID          string     `json:"tenant_id"`
	RunID             uuid.UUID  `json:"run_id"`
	Mode              Mode       `json:"mode"`
	Status            JobStatus  `json:"status"`
	TotalPairs        int        `json:"total_pairs"`
	ProcessedPairs    int        `json:"processed_pairs"`
	MatchesFound      int        `json:"matches_found"`
	ExcludedOver80    int        `json:"excluded_over_80"`
	Errors            int        `json:"errors"`
	CurrentBatchIndex int        `json:"current_batch_index"`
	TotalBatches      int        `json:"total_batches"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// PercentComplete returns processed/total as a percentage. An empty job is 100% once completed.
func (j *JobState) PercentComplete() float64 {
	if j.TotalPairs == 0 {
		if j.Status == JobStatusCompleted {
			return 100
		}
		return 0
	}
	return float64(j.ProcessedPairs) / float64(j.TotalPairs) * 100
}

// BatchTally is the outcome count of one processed batch.
type BatchTally struct {
	Processed int `json:"processed"`
	Matches   int `json:"matches"`
	Excluded  int `json:"excluded"`
	Errors    int `json:"errors"`
}

// Add accumulates another tally.
func (t *BatchTally) Add(o BatchTally) {
	t.Processed += o.Processed
	t.Matches += o.Matches
	t.Excluded += o.Excluded
	t.Errors += o.Errors
}
