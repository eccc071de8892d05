// Package jobs tracks the per-tenant generation job: the persisted
// Idle -> Processing -> Completed|Error state machine, its counters and the
// run id that owns the row.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/commute-matcher/internal/logger"
	"github.com/jonathan/commute-matcher/internal/types"
)

var (
	// ErrJobInProgress is returned when starting a job for a tenant whose
	// job is still processing and force was not requested.
	ErrJobInProgress = errors.New("a generation job is already in progress for this tenant")

	// ErrSuperseded is returned for writes from a run that no longer owns
	// the tenant's job row.
	ErrSuperseded = errors.New("generation run has been superseded")

	// ErrNotPersisted is returned when a job row write failed. The tracker
	// keeps the new state and writes it with the run's next update or Flush.
	ErrNotPersisted = errors.New("job state not persisted")
)

// Store persists job state. The job row is the source of truth; the
// tracker's cache only serves status reads.
type Store interface {
	// LoadJob returns the tenant's job row, or nil when none exists.
	LoadJob(ctx context.Context, tenantID string) (*types.JobState, error)
	// SaveJob upserts the row unconditionally, taking ownership for state.RunID.
	SaveJob(ctx context.Context, state *types.JobState) error
	// UpdateJob writes the row only if it is still owned by state.RunID and
	// reports whether it did.
	UpdateJob(ctx context.Context, state *types.JobState) (bool, error)
	// ListJobsByStatus returns all job rows with the given status.
	ListJobsByStatus(ctx context.Context, status types.JobStatus) ([]types.JobState, error)
}

// BeginParams describes a run being started.
type BeginParams struct {
	TenantID     string
	Mode         types.Mode
	Force        bool
	TotalPairs   int
	TotalBatches int
}

type run struct {
	id    uuid.UUID
	mu    sync.Mutex
	state types.JobState
	dirty bool
}

type cached struct {
	state   types.JobState
	expires time.Time
}

// Tracker owns job state transitions.
type Tracker struct {
	store    Store
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	runs  map[string]*run
	cache map[string]cached
}

// NewTracker creates a tracker. A zero cacheTTL disables the status cache.
func NewTracker(store Store, cacheTTL time.Duration, log *zap.Logger) *Tracker {
	return &Tracker{
		store:    store,
		cacheTTL: cacheTTL,
		logger:   logger.OrNop(log),
		now:      time.Now,
		runs:     make(map[string]*run),
		cache:    make(map[string]cached),
	}
}

// CheckStartable returns ErrJobInProgress if the tenant has a processing job
// and force is false.
func (t *Tracker) CheckStartable(ctx context.Context, tenantID string, force bool) error {
	current, err := t.store.LoadJob(ctx, tenantID)
	if err != nil {
		return errors.Wrapf(err, "loading job for tenant %s", tenantID)
	}
	if current != nil && current.Status == types.JobStatusProcessing && !force {
		return ErrJobInProgress
	}
	return nil
}

// Begin moves the tenant to Processing under a fresh run id with zeroed
// counters. With force, an in-flight run is superseded.
func (t *Tracker) Begin(ctx context.Context, p BeginParams) (*types.JobState, error) {
	if err := t.CheckStartable(ctx, p.TenantID, p.Force); err != nil {
		return nil, err
	}

	now := t.now().UTC()
	state := types.JobState{
		TenantID:     p.TenantID,
		RunID:        uuid.New(),
		Mode:         p.Mode,
		Status:       types.JobStatusProcessing,
		TotalPairs:   p.TotalPairs,
		TotalBatches: p.TotalBatches,
		StartedAt:    &now,
		UpdatedAt:    now,
	}

	if err := t.store.SaveJob(ctx, &state); err != nil {
		return nil, errors.Wrapf(err, "saving job for tenant %s", p.TenantID)
	}

	t.mu.Lock()
	t.runs[p.TenantID] = &run{id: state.RunID, state: state}
	t.mu.Unlock()
	t.remember(state)

	logger.ForTenant(t.logger, p.TenantID, state.RunID.String()).Info("job started",
		zap.String("mode", string(p.Mode)),
		zap.Int("total_pairs", p.TotalPairs),
		zap.Int("total_batches", p.TotalBatches),
		zap.Bool("force", p.Force),
	)

	out := state
	return &out, nil
}

// RecordBatch adds a batch tally to the run's counters and persists them.
// The job completes when the last batch is recorded.
func (t *Tracker) RecordBatch(ctx context.Context, tenantID string, runID uuid.UUID, tally types.BatchTally) (*types.JobState, error) {
	return t.update(ctx, tenantID, runID, func(s *types.JobState, now time.Time) {
		s.ProcessedPairs += tally.Processed
		s.MatchesFound += tally.Matches
		s.ExcludedOver80 += tally.Excluded
		s.Errors += tally.Errors
		s.CurrentBatchIndex++
		if s.CurrentBatchIndex >= s.TotalBatches {
			s.Status = types.JobStatusCompleted
			s.CompletedAt = &now
		}
	})
}

// Complete marks the run Completed. Used for runs with no batches.
func (t *Tracker) Complete(ctx context.Context, tenantID string, runID uuid.UUID) (*types.JobState, error) {
	return t.update(ctx, tenantID, runID, func(s *types.JobState, now time.Time) {
		s.Status = types.JobStatusCompleted
		s.CompletedAt = &now
	})
}

// Fail marks the run Error with a message.
func (t *Tracker) Fail(ctx context.Context, tenantID string, runID uuid.UUID, message string) (*types.JobState, error) {
	return t.update(ctx, tenantID, runID, func(s *types.JobState, now time.Time) {
		s.Status = types.JobStatusError
		s.ErrorMessage = message
		s.CompletedAt = &now
	})
}

func (t *Tracker) update(ctx context.Context, tenantID string, runID uuid.UUID, apply func(*types.JobState, time.Time)) (*types.JobState, error) {
	r, err := t.owned(tenantID, runID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Status.IsTerminal() {
		return nil, errors.Newf("job %s for tenant %s is already %s", runID, tenantID, r.state.Status)
	}

	next := r.state
	now := t.now().UTC()
	apply(&next, now)
	next.UpdatedAt = now

	return t.write(ctx, r, next)
}

// Flush writes run state held back by a failed write. It is a no-op when the
// row is already current, including for a run that has finished.
func (t *Tracker) Flush(ctx context.Context, tenantID string, runID uuid.UUID) (*types.JobState, error) {
	r, err := t.owned(tenantID, runID)
	if err != nil {
		current, lerr := t.store.LoadJob(ctx, tenantID)
		if lerr != nil {
			return nil, errors.Wrapf(lerr, "loading job for tenant %s", tenantID)
		}
		if current != nil && current.RunID == runID && current.Status.IsTerminal() {
			return current, nil
		}
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.dirty {
		out := r.state
		return &out, nil
	}

	next := r.state
	next.UpdatedAt = t.now().UTC()
	out, err := t.write(ctx, r, next)
	if errors.Is(err, ErrNotPersisted) {
		// Release the run so Stale reports the row.
		t.forget(tenantID, runID)
	}
	return out, err
}

func (t *Tracker) owned(tenantID string, runID uuid.UUID) (*run, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.runs[tenantID]
	if !ok || r.id != runID {
		return nil, ErrSuperseded
	}
	return r, nil
}

// write persists next for r, which must be locked. When the store write
// fails, next is still kept as the run's state so the next successful write
// carries its counters.
func (t *Tracker) write(ctx context.Context, r *run, next types.JobState) (*types.JobState, error) {
	tenantID := next.TenantID

	updated, err := t.store.UpdateJob(ctx, &next)
	if err != nil {
		r.state = next
		r.dirty = true
		return nil, errors.Mark(errors.Wrapf(err, "updating job for tenant %s", tenantID), ErrNotPersisted)
	}
	if !updated {
		t.forget(tenantID, r.id)
		return nil, ErrSuperseded
	}

	r.state = next
	r.dirty = false
	t.remember(next)
	if next.Status.IsTerminal() {
		t.forget(tenantID, r.id)
		logger.ForTenant(t.logger, tenantID, r.id.String()).Info("job finished",
			zap.String("status", string(next.Status)),
			zap.Int("processed_pairs", next.ProcessedPairs),
			zap.Int("matches_found", next.MatchesFound),
			zap.Int("excluded_over_80", next.ExcludedOver80),
			zap.Int("errors", next.Errors),
			zap.String("error_message", next.ErrorMessage),
		)
	}

	out := next
	return &out, nil
}

// Status returns the tenant's job state, Idle when no job has run. Reads
// may be served from a short-lived cache.
func (t *Tracker) Status(ctx context.Context, tenantID string) (*types.JobState, error) {
	if t.cacheTTL > 0 {
		t.mu.Lock()
		c, ok := t.cache[tenantID]
		t.mu.Unlock()
		if ok && t.now().Before(c.expires) {
			out := c.state
			return &out, nil
		}
	}
	return t.Load(ctx, tenantID)
}

// Load reads the tenant's job state from the store, bypassing the cache.
func (t *Tracker) Load(ctx context.Context, tenantID string) (*types.JobState, error) {
	state, err := t.store.LoadJob(ctx, tenantID)
	if err != nil {
		return nil, errors.Wrapf(err, "loading job for tenant %s", tenantID)
	}
	if state == nil {
		state = &types.JobState{TenantID: tenantID, Status: types.JobStatusIdle}
	}
	t.remember(*state)

	out := *state
	return &out, nil
}

// Stale returns jobs persisted as Processing that no run in this process owns.
func (t *Tracker) Stale(ctx context.Context) ([]types.JobState, error) {
	states, err := t.store.ListJobsByStatus(ctx, types.JobStatusProcessing)
	if err != nil {
		return nil, errors.Wrap(err, "listing processing jobs")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	stale := make([]types.JobState, 0, len(states))
	for _, s := range states {
		if r, ok := t.runs[s.TenantID]; ok && r.id == s.RunID {
			continue
		}
		stale = append(stale, s)
	}
	return stale, nil
}

func (t *Tracker) remember(state types.JobState) {
	if t.cacheTTL <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache[state.TenantID] = cached{state: state, expires: t.now().Add(t.cacheTTL)}
}

func (t *Tracker) forget(tenantID string, runID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.runs[tenantID]; ok && r.id == runID {
		delete(t.runs, tenantID)
	}
}
