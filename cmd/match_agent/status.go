package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jonathan/commute-matcher/internal/jobs"
	"github.com/jonathan/commute-matcher/internal/observability"
)

func newStatusCmd(a *app) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a tenant's generation job progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), a, tenantID)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func runStatus(ctx context.Context, a *app, tenantID string) error {
	database, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	st, err := jobs.NewTracker(database, 0, a.log).Load(ctx, tenantID)
	if err != nil {
		return err
	}
	observability.NewPrinter(a.out).PrintJobState(st)
	return nil
}
