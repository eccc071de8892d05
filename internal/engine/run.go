package engine

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/commute-matcher/internal/distance"
	"github.com/jonathan/commute-matcher/internal/jobs"
	"github.com/jonathan/commute-matcher/internal/logger"
	"github.com/jonathan/commute-matcher/internal/matching"
	"github.com/jonathan/commute-matcher/internal/planning"
	"github.com/jonathan/commute-matcher/internal/types"
)

// errClearingMatches marks a full run aborted while clearing old matches; the
// job row already carries the failure.
var errClearingMatches = errors.New("clearing existing matches")

// errFlushingState marks a run whose batches all finished but whose final
// job state could not be written.
var errFlushingState = errors.New("flushing job state")

func (e *Engine) execute(ctx context.Context, st *types.JobState, p *plan) error {
	log := logger.ForTenant(e.logger, st.TenantID, st.RunID.String())

	if p.mode == types.ModeFull {
		deleted, owned, err := e.store.DeleteMatches(ctx, st.TenantID, st.RunID)
		if err != nil {
			log.Error("full regeneration aborted", zap.Error(err))
			if _, ferr := e.tracker.Fail(ctx, st.TenantID, st.RunID, "clearing existing matches: "+err.Error()); ferr != nil {
				log.Error("recording job failure", zap.Error(ferr))
			}
			return errors.Mark(errors.Wrap(err, "clearing existing matches"), errClearingMatches)
		}
		if !owned {
			log.Info("run superseded before clearing matches")
			return jobs.ErrSuperseded
		}
		log.Info("cleared existing matches", zap.Int64("deleted", deleted))
	}

	if len(p.batches) == 0 {
		_, err := e.tracker.Complete(ctx, st.TenantID, st.RunID)
		return err
	}

	var deferred atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.BatchConcurrency)
	for _, b := range p.batches {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return e.runBatch(gctx, st, p, b, &deferred, log)
		})
	}

	err := g.Wait()
	if err == nil && deferred.Load() {
		err = e.flush(ctx, st, log)
	}
	switch {
	case errors.Is(err, jobs.ErrSuperseded):
		log.Info("run superseded, stopping")
		return err
	case ctx.Err() != nil:
		log.Warn("run interrupted, left for recovery", zap.Error(ctx.Err()))
		return errors.Wrap(ctx.Err(), "generation interrupted")
	case errors.Is(err, errFlushingState):
		return err
	case err != nil:
		log.Error("run failed", zap.Error(err))
		if _, ferr := e.tracker.Fail(ctx, st.TenantID, st.RunID, err.Error()); ferr != nil {
			log.Error("recording job failure", zap.Error(ferr))
		}
		return err
	}
	return nil
}

// flush writes job state held back by failed job row writes. If that fails
// too, the row stays Processing for stale-job recovery.
func (e *Engine) flush(ctx context.Context, st *types.JobState, log *zap.Logger) error {
	state, err := e.tracker.Flush(ctx, st.TenantID, st.RunID)
	if err != nil {
		if errors.Is(err, jobs.ErrSuperseded) {
			return err
		}
		log.Error("flushing job state", zap.Error(err))
		return errors.Mark(err, errFlushingState)
	}
	log.Info("job state flushed", zap.String("status", string(state.Status)))
	return nil
}

func (e *Engine) runBatch(ctx context.Context, st *types.JobState, p *plan, b planning.Batch, deferred *atomic.Bool, log *zap.Logger) error {
	log = log.With(zap.Int(logger.FieldBatch, b.Index))

	m, err := e.client.Matrix(ctx, distance.Request{
		TenantID:     st.TenantID,
		Priority:     p.priority,
		Origins:      b.OriginPostcodes(),
		Destinations: b.DestinationPostcodes(),
	})

	var out matching.Outcome
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		status := "ERROR"
		var fe *distance.FatalError
		if errors.As(err, &fe) {
			status = fe.Status
		}
		log.Warn("batch failed", zap.String("status", status), zap.Int("pairs", b.Size()), zap.Error(err))
		out = e.assembler.Failed(b, status, err)
	} else {
		out = e.assembler.Assemble(st.TenantID, b, m)
	}

	tally, err := e.persist(ctx, st, out, log)
	if err != nil {
		return err
	}

	state, err := e.tracker.RecordBatch(ctx, st.TenantID, st.RunID, tally)
	if errors.Is(err, jobs.ErrNotPersisted) && ctx.Err() == nil {
		log.Warn("job state write failed, carrying tally forward", zap.Error(err))
		deferred.Store(true)
		return nil
	}
	if err != nil {
		return err
	}

	log.Debug("batch recorded",
		zap.Int("matches", tally.Matches),
		zap.Int("excluded", tally.Excluded),
		zap.Int("errors", tally.Errors),
		zap.Int("processed_pairs", state.ProcessedPairs),
		zap.Int("total_pairs", state.TotalPairs),
	)
	return nil
}

// persist inserts the outcome's matches and adjusts the tally for pairs
// whose insert did not land.
func (e *Engine) persist(ctx context.Context, st *types.JobState, out matching.Outcome, log *zap.Logger) (types.BatchTally, error) {
	tally := out.Tally()
	for _, m := range out.Matches {
		res, err := e.store.InsertMatch(ctx, st.RunID, m)
		if err != nil {
			if ctx.Err() != nil {
				return tally, ctx.Err()
			}
			log.Error("persisting match",
				zap.String("candidate_id", m.CandidateID),
				zap.String("client_id", m.ClientID),
				zap.Error(err),
			)
			tally.Matches--
			tally.Errors++
			continue
		}

		switch res {
		case types.InsertStale:
			return tally, jobs.ErrSuperseded
		case types.InsertBanned:
			log.Info("pair banned during run",
				zap.String("candidate_id", m.CandidateID),
				zap.String("client_id", m.ClientID),
			)
			tally.Matches--
			tally.Errors++
		}
	}
	return tally, nil
}
