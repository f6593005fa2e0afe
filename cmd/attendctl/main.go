package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"faceattend/internal/config"
	"faceattend/internal/store"
)

var cfg config.App

var rootCmd = &cobra.Command{
	Use:   "attendctl",
	Short: "Operator tooling for the attendance service",
	Long: `attendctl runs maintenance tasks against the attendance database:
schema migrations, one-off absence sweeps and arrival scoring checks.`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		cfg = config.Load()
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(migrateCmd, sweepCmd, scoreCmd)
}

func openDB(ctx context.Context) (*store.DB, error) {
	db, err := store.NewDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
