package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"faceattend/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := store.Migrate(ctx, db); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", db.Dialect)
	return nil
}
