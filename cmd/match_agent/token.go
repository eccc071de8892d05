package main

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/jonathan/commute-matcher/internal/server"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		tenantID string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a tenant",
		Long:  "Sign a tenant token with auth.jwt_secret, for local use against the API.",
		RunE: func(*cobra.Command, []string) error {
			if a.cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is required (set MATCH_AUTH_JWT_SECRET or JWT_SECRET)")
			}
			token, err := server.NewTokenService(a.cfg.Auth.JWTSecret, ttl).GenerateToken(tenantID)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, token)
			return err
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
