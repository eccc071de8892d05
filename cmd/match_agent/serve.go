package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/commute-matcher/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		Long: `Start an HTTP server that exposes match generation over REST.

Jobs left Processing by a previous process are restarted in incremental mode
before the server begins accepting requests.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), a, migrate)
		},
	}

	cmd.Flags().Int("port", 8080, "Port to listen on")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply the schema before serving")
	return cmd
}

func runServe(ctx context.Context, a *app, migrate bool) error {
	if err := a.cfg.RequireServer(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	if migrate {
		if err := database.Migrate(ctx); err != nil {
			return err
		}
	}

	eng, tracker, err := newEngine(a.cfg, database, a.log)
	if err != nil {
		return err
	}

	recovered, err := eng.RecoverStale(ctx)
	if err != nil {
		return errors.Wrap(err, "recovering interrupted jobs")
	}
	if recovered > 0 {
		a.log.Info("restarted interrupted jobs", zap.Int("count", recovered))
	}

	srv := server.New(server.Config{
		Port:      a.cfg.Server.Port,
		JWTSecret: a.cfg.Auth.JWTSecret,
		RateLimit: apiRateLimitConfig(a.cfg),
	}, eng, tracker, database, a.log)

	return srv.Start(ctx)
}
