package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/commute-matcher/internal/memstore"
	"github.com/jonathan/commute-matcher/internal/types"
)

// flakyStore fails the job row writes for which fail returns true.
type flakyStore struct {
	*memstore.Store
	writes int
	fail   func(n int) bool
}

func (f *flakyStore) UpdateJob(ctx context.Context, state *types.JobState) (bool, error) {
	f.writes++
	if f.fail(f.writes) {
		return false, errors.New("connection reset by peer")
	}
	return f.Store.UpdateJob(ctx, state)
}

func newTracker(ttl time.Duration) (*Tracker, *memstore.Store) {
	store := memstore.New()
	return NewTracker(store, ttl, nil), store
}

func TestTracker_Lifecycle(t *testing.T) {
	ctx := context.Background()
	tr, store := newTracker(0)

	idle, err := tr.Status(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusIdle, idle.Status)

	state, err := tr.Begin(ctx, BeginParams{TenantID: "tenant-a", Mode: types.ModeFull, TotalPairs: 5, TotalBatches: 2})
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusProcessing, state.Status)
	assert.NotNil(t, state.StartedAt)
	assert.Zero(t, state.ProcessedPairs)

	state, err = tr.RecordBatch(ctx, "tenant-a", state.RunID, types.BatchTally{Processed: 3, Matches: 2, Excluded: 1})
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusProcessing, state.Status)
	assert.Equal(t, 1, state.CurrentBatchIndex)
	assert.Equal(t, 3, state.ProcessedPairs)
	assert.InDelta(t, 60.0, state.PercentComplete(), 0.001)

	state, err = tr.RecordBatch(ctx, "tenant-a", state.RunID, types.BatchTally{Processed: 2, Matches: 1, Errors: 1})
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, state.Status)
	assert.NotNil(t, state.CompletedAt)
	assert.Equal(t, 5, state.ProcessedPairs)
	assert.Equal(t, state.ProcessedPairs, state.MatchesFound+state.ExcludedOver80+state.Errors)

	persisted, err := store.LoadJob(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, persisted.Status)
	assert.Equal(t, 3, persisted.MatchesFound)
}

func TestTracker_BeginRejectsInProgress(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(0)

	first, err := tr.Begin(ctx, BeginParams{TenantID: "tenant-a", Mode: types.ModeIncremental, TotalPairs: 10, TotalBatches: 1})
	require.NoError(t, err)

	_, err = tr.Begin(ctx, BeginParams{TenantID: "tenant-a", Mode: types.ModeFull, TotalPairs: 10, TotalBatches: 1})
	assert.True(t, errors.Is(err, ErrJobInProgress))

	// Other tenants are unaffected.
	_, err = tr.Begin(ctx, BeginParams{TenantID: "tenant-b", Mode: types.ModeFull, TotalPairs: 1, TotalBatches: 1})
	require.NoError(t, err)

	second, err := tr.Begin(ctx, BeginParams{TenantID: "tenant-a", Mode: types.ModeFull, Force: true, TotalPairs: 4, TotalBatches: 1})
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)

	_, err = tr.RecordBatch(ctx, "tenant-a", first.RunID, types.BatchTally{Processed: 10, Matches: 10})
	assert.True(t, errors.Is(err, ErrSuperseded))

	status, err := tr.Status(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, second.RunID, status.RunID)
	assert.Zero(t, status.ProcessedPairs)
}

func TestTracker_SupersededByAnotherProcess(t *testing.T) {
	ctx := context.Background()
	tr, store := newTracker(0)

	state, err := tr.Begin(ctx, BeginParams{TenantID: "tenant-a", Mode: types.ModeFull, TotalPairs: 4, TotalBatches: 2})
	require.NoError(t, err)

	// Another process takes the row over.
	other := NewTracker(store, 0, nil)
	_, err = other.Begin(ctx, BeginParams{TenantID: "tenant-a", Mode: types.ModeFull, Force: true, TotalPairs: 4, TotalBatches: 2})
	require.NoError(t, err)

	_, err = tr.RecordBatch(ctx, "tenant-a", state.RunID, types.BatchTally{Processed: 2, Matches: 2})
	assert.True(t, errors.Is(err, ErrSuperseded))

	// The run is forgotten; later writes fail fast.
	_, err = tr.Fail(ctx, "tenant-a", state.RunID, "boom")
	assert.True(t, errors.Is(err, ErrSuperseded))
}

func TestTracker_Fail(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(0)

	state, err := tr.Begin(ctx, BeginParams{TenantID: "tenant-a", Mode: types.ModeFull, TotalPairs: 4, TotalBatches: 2})
	require.NoError(t, err)

	failed, err := tr.Fail(ctx, "tenant-a", state.RunID, "clearing matches: connection refused")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusError, failed.Status)
	assert.Equal(t, "clearing matches: connection refused", failed.ErrorMessage)

	// A new run may start without force after a terminal state.
	_, err = tr.Begin(ctx, BeginParams{TenantID: "tenant-a", Mode: types.ModeIncremental, TotalPairs: 1, TotalBatches: 1})
	require.NoError(t, err)
}

func TestTracker_Complete(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(0)

	state, err := tr.Begin(ctx, BeginParams{TenantID: "tenant-a", Mode: types.ModeIncremental})
	require.NoError(t, err)

	done, err := tr.Complete(ctx, "tenant-a", state.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, done.Status)
	assert.Equal(t, 100.0, done.PercentComplete())

	_, err = tr.Complete(ctx, "tenant-a", state.RunID)
	assert.Error(t, err)
}

func TestTracker_StatusCache(t *testing.T) {
	ctx := context.Background()
	tr, store := newTracker(time.Minute)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	state, err := tr.Begin(ctx, BeginParams{TenantID: "tenant-a", Mode: types.ModeFull, TotalPairs: 2, TotalBatches: 1})
	require.NoError(t, err)

	// Change the row behind the tracker's back.
	row := *state
	row.ProcessedPairs = 2
	_, err = store.UpdateJob(ctx, &row)
	require.NoError(t, err)

	cached, err := tr.Status(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Zero(t, cached.ProcessedPairs)

	now = now.Add(2 * time.Minute)
	fresh, err := tr.Status(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.ProcessedPairs)

	loaded, err := tr.Load(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.ProcessedPairs)
}

func TestTracker_Stale(t *testing.T) {
	ctx := context.Background()
	tr, store := newTracker(0)

	_, err := tr.Begin(ctx, BeginParams{TenantID: "tenant-live", Mode: types.ModeFull, TotalPairs: 1, TotalBatches: 1})
	require.NoError(t, err)

	// Left behind by a process that died mid-run.
	dead := NewTracker(store, 0, nil)
	_, err = dead.Begin(ctx, BeginParams{TenantID: "tenant-dead", Mode: types.ModeFull, TotalPairs: 1, TotalBatches: 1})
	require.NoError(t, err)

	stale, err := tr.Stale(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "tenant-dead", stale[0].TenantID)
}

func TestTracker_FailedWriteIsCarried(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memstore.New(), fail: func(n int) bool { return n == 1 }}
	tr := NewTracker(store, 0, nil)

	state, err := tr.Begin(ctx, BeginParams{TenantID: "tenant-a", Mode: types.ModeFull, TotalPairs: 5, TotalBatches: 2})
	require.NoError(t, err)
	runID := state.RunID

	_, err = tr.RecordBatch(ctx, "tenant-a", runID, types.BatchTally{Processed: 3, Matches: 3})
	assert.True(t, errors.Is(err, ErrNotPersisted))

	persisted, err := store.LoadJob(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Zero(t, persisted.ProcessedPairs)

	state, err = tr.RecordBatch(ctx, "tenant-a", runID, types.BatchTally{Processed: 2, Excluded: 2})
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, state.Status)
	assert.Equal(t, 5, state.ProcessedPairs)
	assert.Equal(t, 2, state.CurrentBatchIndex)

	persisted, err = store.LoadJob(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 5, persisted.ProcessedPairs)
	assert.Equal(t, 3, persisted.MatchesFound)

	// Nothing is held back for a finished run.
	flushed, err := tr.Flush(ctx, "tenant-a", runID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, flushed.Status)
}

func TestTracker_FlushWritesHeldBackState(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memstore.New(), fail: func(n int) bool { return n == 1 }}
	tr := NewTracker(store, 0, nil)

	state, err := tr.Begin(ctx, BeginParams{TenantID: "tenant-a", Mode: types.ModeFull, TotalPairs: 2, TotalBatches: 1})
	require.NoError(t, err)

	_, err = tr.RecordBatch(ctx, "tenant-a", state.RunID, types.BatchTally{Processed: 2, Matches: 2})
	require.True(t, errors.Is(err, ErrNotPersisted))

	flushed, err := tr.Flush(ctx, "tenant-a", state.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, flushed.Status)

	persisted, err := store.LoadJob(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, persisted.Status)
	assert.Equal(t, 2, persisted.MatchesFound)
}

func TestTracker_FlushRejectsSupersededRun(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(0)

	first, err := tr.Begin(ctx, BeginParams{TenantID: "tenant-a", Mode: types.ModeFull, TotalPairs: 2, TotalBatches: 1})
	require.NoError(t, err)
	_, err = tr.Begin(ctx, BeginParams{TenantID: "tenant-a", Mode: types.ModeFull, Force: true, TotalPairs: 2, TotalBatches: 1})
	require.NoError(t, err)

	_, err = tr.Flush(ctx, "tenant-a", first.RunID)
	assert.True(t, errors.Is(err, ErrSuperseded))
}
