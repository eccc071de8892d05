package main

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jonathan/commute-matcher/internal/config"
	"github.com/jonathan/commute-matcher/internal/db"
	"github.com/jonathan/commute-matcher/internal/logger"
)

// app carries state shared by every subcommand once the root has loaded
// configuration.
type app struct {
	v       *viper.Viper
	cfgPath string
	cfg     *config.Config
	log     *zap.Logger
	out     io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "match_agent",
		Short: "Commute-based candidate/client match generation",
		Long: `match_agent generates candidate/client matches from provider commute times.

Configuration is read from an optional file (--config), MATCH_-prefixed
environment variables and built-in defaults, in that order of precedence:
environment over file over defaults.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "Path to a YAML or JSON config file")
	root.PersistentFlags().Bool("log-json", false, "Emit JSON logs")
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")

	root.AddCommand(
		newServeCmd(a),
		newGenerateCmd(a),
		newStatusCmd(a),
		newMigrateCmd(a),
		newBanCmd(a),
		newTokenCmd(a),
	)
	return root
}

// load builds configuration and the logger. Flags bound to viper keys
// override file and environment values when set.
func (a *app) load(cmd *cobra.Command) error {
	v, err := config.New()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	for key, flag := range map[string]string{
		"log.json":    "log-json",
		"log.debug":   "debug",
		"server.port": "port",
	} {
		if f := flags.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return errors.Wrapf(err, "binding --%s", flag)
			}
		}
	}

	cfg, err := config.FromViper(v, a.cfgPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.JSON, cfg.Log.Debug)
	if err != nil {
		return errors.Wrap(err, "failed to build logger")
	}

	a.v = v
	a.cfg = cfg
	a.log = log
	a.out = cmd.OutOrStdout()
	return nil
}

// openDB connects to the configured database.
func (a *app) openDB(ctx context.Context) (*db.DB, error) {
	if err := a.cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	database, err := db.Connect(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	return database, nil
}
