// Package engine orchestrates match generation for a tenant: it plans pairs
// and batches, moves the job into Processing, and drives batches through the
// distance provider with bounded concurrency, persisting results and
// reporting progress to the job tracker after every batch.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/commute-matcher/internal/distance"
	"github.com/jonathan/commute-matcher/internal/jobs"
	"github.com/jonathan/commute-matcher/internal/logger"
	"github.com/jonathan/commute-matcher/internal/matching"
	"github.com/jonathan/commute-matcher/internal/planning"
	"github.com/jonathan/commute-matcher/internal/types"
)

// ErrInvalidRequest marks start requests that fail validation.
var ErrInvalidRequest = errors.New("invalid start request")

// Store is the data the engine reads and writes outside the job row.
type Store interface {
	ListCandidates(ctx context.Context, tenantID string) ([]types.Entity, error)
	ListClients(ctx context.Context, tenantID string) ([]types.Entity, error)
	ListBannedPairs(ctx context.Context, tenantID string) (types.PairSet, error)
	ListMatchedPairs(ctx context.Context, tenantID string) (types.PairSet, error)
	// DeleteMatches removes the tenant's non-banned matches if runID still
	// owns the job row; owned is false otherwise.
	DeleteMatches(ctx context.Context, tenantID string, runID uuid.UUID) (deleted int64, owned bool, err error)
	InsertMatch(ctx context.Context, runID uuid.UUID, m types.Match) (types.InsertResult, error)
}

// DistanceClient resolves one batch. *distance.Client satisfies it.
type DistanceClient interface {
	Matrix(ctx context.Context, req distance.Request) (*distance.Matrix, error)
}

// Config tunes batch scheduling.
type Config struct {
	// BatchConcurrency bounds in-flight batches per run; 1 is strictly sequential.
	BatchConcurrency int
	// Runs with at most InteractiveThreshold pairs use InteractivePriority.
	InteractiveThreshold int
	InteractivePriority  int
	BulkPriority         int
	// Used only for the start-time duration estimate.
	EstimatedRequestLatency time.Duration
	RequestsPerSecond       float64
}

// DefaultConfig returns the scheduling defaults.
func DefaultConfig() Config {
	return Config{
		BatchConcurrency:        3,
		InteractiveThreshold:    500,
		InteractivePriority:     0,
		BulkPriority:            10,
		EstimatedRequestLatency: time.Second,
		RequestsPerSecond:       10,
	}
}

// StartRequest asks for a generation run.
type StartRequest struct {
	TenantID string     `json:"tenant_id" validate:"required"`
	Mode     types.Mode `json:"mode" validate:"required,oneof=full incremental"`
	Force    bool       `json:"force"`
}

// StartResult is returned as soon as a run has been planned and begun.
type StartResult struct {
	RunID             uuid.UUID
	Status            types.JobStatus
	TotalPairs        int
	TotalBatches      int
	EstimatedDuration time.Duration
}

type plan struct {
	mode       types.Mode
	batches    []planning.Batch
	totalPairs int
	priority   int
}

// Engine runs generation jobs.
type Engine struct {
	store     Store
	tracker   *jobs.Tracker
	client    DistanceClient
	batcher   *planning.Batcher
	assembler *matching.Assembler
	cfg       Config
	validate  *validator.Validate
	logger    *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an engine. Detached runs started with Start live until Shutdown.
func New(store Store, tracker *jobs.Tracker, client DistanceClient, batcher *planning.Batcher, assembler *matching.Assembler, cfg Config, log *zap.Logger) *Engine {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 1
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:     store,
		tracker:   tracker,
		client:    client,
		batcher:   batcher,
		assembler: assembler,
		cfg:       cfg,
		validate:  validator.New(),
		logger:    logger.OrNop(log),
		baseCtx:   baseCtx,
		cancel:    cancel,
	}
}

// Start plans and begins a run, then processes it in the background. A run
// with no pairs is completed before Start returns.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	st, p, err := e.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	res := e.result(st, p)

	if p.totalPairs == 0 {
		if err := e.execute(ctx, st, p); err != nil && !errors.Is(err, errClearingMatches) {
			return nil, err
		}
		final, err := e.tracker.Load(ctx, st.TenantID)
		if err != nil {
			return nil, err
		}
		res.Status = final.Status
		return res, nil
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_ = e.execute(e.baseCtx, st, p)
	}()
	return res, nil
}

// Generate runs a job to completion in the caller's goroutine and returns
// the final job state.
func (e *Engine) Generate(ctx context.Context, req StartRequest) (*types.JobState, error) {
	st, p, err := e.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := e.execute(ctx, st, p); err != nil && !errors.Is(err, errClearingMatches) {
		return nil, err
	}
	return e.tracker.Load(ctx, st.TenantID)
}

// RecoverStale restarts, incrementally, every job left Processing by a
// process that is gone. It returns the number of runs restarted.
func (e *Engine) RecoverStale(ctx context.Context) (int, error) {
	stale, err := e.tracker.Stale(ctx)
	if err != nil {
		return 0, err
	}

	restarted := 0
	for _, s := range stale {
		log := logger.ForTenant(e.logger, s.TenantID, s.RunID.String())
		res, err := e.Start(ctx, StartRequest{TenantID: s.TenantID, Mode: types.ModeIncremental, Force: true})
		if err != nil {
			log.Error("recovering stale job", zap.Error(err))
			continue
		}
		log.Info("recovered stale job",
			zap.String("new_run_id", res.RunID.String()),
			zap.Int("total_pairs", res.TotalPairs),
		)
		restarted++
	}
	return restarted, nil
}

// Wait blocks until all detached runs have returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown cancels detached runs and waits for them, or for ctx. Interrupted
// jobs stay Processing and are picked up by RecoverStale.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) begin(ctx context.Context, req StartRequest) (*types.JobState, *plan, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, nil, errors.Mark(errors.Wrap(err, "validating start request"), ErrInvalidRequest)
	}
	if err := e.tracker.CheckStartable(ctx, req.TenantID, req.Force); err != nil {
		return nil, nil, err
	}

	p, err := e.plan(ctx, req.TenantID, req.Mode)
	if err != nil {
		return nil, nil, err
	}

	st, err := e.tracker.Begin(ctx, jobs.BeginParams{
		TenantID:     req.TenantID,
		Mode:         req.Mode,
		Force:        req.Force,
		TotalPairs:   p.totalPairs,
		TotalBatches: len(p.batches),
	})
	if err != nil {
		return nil, nil, err
	}
	return st, p, nil
}

func (e *Engine) plan(ctx context.Context, tenantID string, mode types.Mode) (*plan, error) {
	candidates, err := e.store.ListCandidates(ctx, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "loading candidates")
	}
	clients, err := e.store.ListClients(ctx, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "loading clients")
	}
	banned, err := e.store.ListBannedPairs(ctx, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "loading banned pairs")
	}

	var existing types.PairSet
	if mode == types.ModeIncremental {
		existing, err = e.store.ListMatchedPairs(ctx, tenantID)
		if err != nil {
			return nil, errors.Wrap(err, "loading existing matches")
		}
	}

	pairs := planning.GeneratePairs(candidates, clients, banned, existing, mode)
	batches := e.batcher.Plan(pairs)

	priority := e.cfg.BulkPriority
	if len(pairs) <= e.cfg.InteractiveThreshold {
		priority = e.cfg.InteractivePriority
	}

	e.logger.Debug("planned run",
		zap.String(logger.FieldTenant, tenantID),
		zap.String("mode", string(mode)),
		zap.Int("candidates", len(candidates)),
		zap.Int("clients", len(clients)),
		zap.Int("pairs", len(pairs)),
		zap.Int("batches", len(batches)),
		zap.String("policy", e.batcher.Policy().Name()),
		zap.Int("priority", priority),
	)

	return &plan{
		mode:       mode,
		batches:    batches,
		totalPairs: len(pairs),
		priority:   priority,
	}, nil
}

func (e *Engine) result(st *types.JobState, p *plan) *StartResult {
	return &StartResult{
		RunID:             st.RunID,
		Status:            st.Status,
		TotalPairs:        p.totalPairs,
		TotalBatches:      len(p.batches),
		EstimatedDuration: e.Estimate(len(p.batches)),
	}
}

// Estimate returns the expected wall time for a number of batches, bounded
// by both batch concurrency and the provider request rate.
func (e *Engine) Estimate(batches int) time.Duration {
	if batches == 0 {
		return 0
	}
	rounds := (batches + e.cfg.BatchConcurrency - 1) / e.cfg.BatchConcurrency
	d := time.Duration(rounds) * e.cfg.EstimatedRequestLatency
	if e.cfg.RequestsPerSecond > 0 {
		byRate := time.Duration(float64(batches) / e.cfg.RequestsPerSecond * float64(time.Second))
		d = max(d, byRate)
	}
	return d
}
