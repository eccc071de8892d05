package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/commute-matcher/internal/db"
)

func newMigrateCmd(a *app) *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long:  "Create the tables and indexes used by match generation. Safe to run repeatedly.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), a, printOnly)
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the schema instead of applying it")
	return cmd
}

func runMigrate(ctx context.Context, a *app, printOnly bool) error {
	if printOnly {
		_, err := fmt.Fprint(a.out, db.Schema())
		return err
	}

	database, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "schema applied") //nolint:errcheck
	return nil
}
