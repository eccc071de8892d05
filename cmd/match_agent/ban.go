package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/commute-matcher/internal/types"
)

func newBanCmd(a *app) *cobra.Command {
	var (
		tenantID string
		key      types.PairKey
	)

	cmd := &cobra.Command{
		Use:   "ban",
		Short: "Permanently exclude a candidate/client pair",
		Long:  "Record a ban for the pair and delete any existing match for it.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBan(cmd.Context(), a, tenantID, key)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	cmd.Flags().StringVar(&key.CandidateID, "candidate", "", "Candidate ID (required)")
	cmd.Flags().StringVar(&key.ClientID, "client", "", "Client ID (required)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("candidate")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func runBan(ctx context.Context, a *app, tenantID string, key types.PairKey) error {
	database, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.BanPair(ctx, tenantID, key); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "banned %s/%s for tenant %s\n", key.CandidateID, key.ClientID, tenantID) //nolint:errcheck
	return nil
}
