package main

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/jonathan/commute-matcher/internal/config"
	"github.com/jonathan/commute-matcher/internal/distance"
	"github.com/jonathan/commute-matcher/internal/engine"
	"github.com/jonathan/commute-matcher/internal/jobs"
	"github.com/jonathan/commute-matcher/internal/matching"
	"github.com/jonathan/commute-matcher/internal/planning"
	"github.com/jonathan/commute-matcher/internal/ratelimit"
	"github.com/jonathan/commute-matcher/internal/roles"
	"github.com/jonathan/commute-matcher/internal/types"
)

// store is what the CLI needs from a backing store: the engine's reads and
// guarded writes, the tracker's job row and match listing.
type store interface {
	engine.Store
	jobs.Store
	ListMatches(ctx context.Context, tenantID string, filter types.MatchFilter) ([]types.Match, error)
	BanPair(ctx context.Context, tenantID string, key types.PairKey) error
}

func gateConfig(cfg *config.Config) ratelimit.GateConfig {
	return ratelimit.GateConfig{
		RequestsPerSecond: cfg.Limits.RequestsPerSecond,
		Burst:             cfg.Limits.Burst,
		MaxConcurrent:     cfg.Limits.MaxConcurrent,
	}
}

func distanceConfig(cfg *config.Config) distance.Config {
	return distance.Config{
		BaseURL:      cfg.Provider.BaseURL,
		APIKey:       cfg.Provider.APIKey,
		Timeout:      cfg.Provider.Timeout,
		MaxAttempts:  cfg.Provider.MaxAttempts,
		BaseDelay:    cfg.Provider.BaseDelay,
		MaxDelay:     cfg.Provider.MaxDelay,
		MaxElements:  cfg.Provider.MaxElements,
		MaxDimension: cfg.Provider.MaxDimension,
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.BatchConcurrency = cfg.Engine.BatchConcurrency
	ec.InteractiveThreshold = cfg.Engine.InteractiveThreshold
	ec.EstimatedRequestLatency = cfg.Engine.EstimatedRequestLatency
	ec.RequestsPerSecond = cfg.Limits.RequestsPerSecond
	return ec
}

func apiRateLimitConfig(cfg *config.Config) *ratelimit.Config {
	rc := ratelimit.DefaultConfig()
	rc.Enabled = cfg.APIRateLimit.Enabled
	rc.DefaultLimit = cfg.APIRateLimit.DefaultLimit
	rc.DefaultWindow = cfg.APIRateLimit.DefaultWindow
	return rc
}

func newBatcher(cfg *config.Config) (*planning.Batcher, error) {
	policy, err := planning.PolicyByName(cfg.Batching.Policy, cfg.Batching.Origins, cfg.Batching.Destinations)
	if err != nil {
		return nil, errors.Wrap(err, "batching policy")
	}
	limits := planning.Limits{MaxElements: cfg.Provider.MaxElements, MaxDimension: cfg.Provider.MaxDimension}
	return planning.NewBatcher(policy, limits), nil
}

// newEngine assembles the generation engine over st.
func newEngine(cfg *config.Config, st store, log *zap.Logger) (*engine.Engine, *jobs.Tracker, error) {
	batcher, err := newBatcher(cfg)
	if err != nil {
		return nil, nil, err
	}

	gate := ratelimit.NewGate(gateConfig(cfg))
	client := distance.NewClient(distanceConfig(cfg), gate, log)
	assembler := matching.NewAssembler(roles.Default(), cfg.Engine.MaxCommuteMinutes)
	tracker := jobs.NewTracker(st, cfg.Jobs.CacheTTL, log)

	eng := engine.New(st, tracker, client, batcher, assembler, engineConfig(cfg), log)
	return eng, tracker, nil
}
