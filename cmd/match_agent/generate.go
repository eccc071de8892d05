package main

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/jonathan/commute-matcher/internal/engine"
	"github.com/jonathan/commute-matcher/internal/memstore"
	"github.com/jonathan/commute-matcher/internal/observability"
	"github.com/jonathan/commute-matcher/internal/planning"
	"github.com/jonathan/commute-matcher/internal/types"
)

type generateOptions struct {
	tenantID    string
	mode        string
	force       bool
	entities    string
	dryRun      bool
	showMatches bool
}

func newGenerateCmd(a *app) *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run a generation job in the foreground",
		Long: `Run a generation job for one tenant and wait for it to finish.

With --entities the tenant's candidates and clients are read from a JSON
document ({"candidates": [...], "clients": [...], "banned": [...]}) and
results are kept in memory; otherwise the configured database is used.
--dry-run prints the batch plan without calling the provider.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd.Context(), a, opts)
		},
	}

	cmd.Flags().StringVar(&opts.tenantID, "tenant", "", "Tenant ID (required)")
	cmd.Flags().StringVar(&opts.mode, "mode", string(types.ModeIncremental), "Generation mode: full or incremental")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Supersede a job that is already processing")
	cmd.Flags().StringVar(&opts.entities, "entities", "", "Path to an entities JSON document (offline mode)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Print the batch plan only")
	cmd.Flags().BoolVar(&opts.showMatches, "show-matches", true, "Print matches after the run")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func runGenerate(ctx context.Context, a *app, opts generateOptions) error {
	mode := types.Mode(opts.mode)
	if !mode.IsValid() {
		return errors.Newf("invalid --mode %q: must be full or incremental", opts.mode)
	}

	st, closeStore, err := openGenerateStore(ctx, a, opts)
	if err != nil {
		return err
	}
	defer closeStore()

	printer := observability.NewPrinter(a.out)

	if opts.dryRun {
		return printPlan(ctx, a, st, opts.tenantID, mode, printer)
	}

	if a.cfg.Provider.APIKey == "" {
		return errors.New("provider.api_key is required (set MATCH_PROVIDER_API_KEY or GOOGLE_MAPS_API_KEY)")
	}

	eng, _, err := newEngine(a.cfg, st, a.log)
	if err != nil {
		return err
	}

	final, err := eng.Generate(ctx, engine.StartRequest{TenantID: opts.tenantID, Mode: mode, Force: opts.force})
	if final != nil {
		printer.PrintJobState(final)
	}
	if err != nil {
		return err
	}

	if opts.showMatches {
		matches, err := st.ListMatches(ctx, opts.tenantID, types.MatchFilter{})
		if err != nil {
			return err
		}
		printer.PrintMatches(matches)
	}

	if final != nil && final.Status == types.JobStatusError {
		return errors.Newf("generation failed: %s", final.ErrorMessage)
	}
	return nil
}

func openGenerateStore(ctx context.Context, a *app, opts generateOptions) (store, func(), error) {
	if opts.entities == "" {
		database, err := a.openDB(ctx)
		if err != nil {
			return nil, nil, err
		}
		return database, database.Close, nil
	}

	data, err := os.ReadFile(opts.entities)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading %s", opts.entities)
	}
	mem := memstore.New()
	if err := mem.Import(opts.tenantID, data); err != nil {
		return nil, nil, err
	}
	return mem, func() {}, nil
}

func printPlan(ctx context.Context, a *app, st store, tenantID string, mode types.Mode, printer *observability.Printer) error {
	batcher, err := newBatcher(a.cfg)
	if err != nil {
		return err
	}

	candidates, err := st.ListCandidates(ctx, tenantID)
	if err != nil {
		return err
	}
	clients, err := st.ListClients(ctx, tenantID)
	if err != nil {
		return err
	}
	banned, err := st.ListBannedPairs(ctx, tenantID)
	if err != nil {
		return err
	}
	var existing types.PairSet
	if mode == types.ModeIncremental {
		if existing, err = st.ListMatchedPairs(ctx, tenantID); err != nil {
			return err
		}
	}

	pairs := planning.GeneratePairs(candidates, clients, banned, existing, mode)
	printer.PrintBatchPlan(batcher.Policy().Name(), batcher.Plan(pairs))
	return nil
}
