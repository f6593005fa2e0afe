package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"faceattend/internal/absence"
	"faceattend/internal/attendance"
	"faceattend/internal/logging"
	"faceattend/internal/notify"
	"faceattend/internal/queue"
	"faceattend/internal/store"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one absence sweep now",
	Long: `Finds active students with no attendance in the configured window and raises
one alert per student. Notices go to the Redis queue when it is reachable,
otherwise straight to WhatsApp (or the log when WhatsApp is not configured).`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().Int("window", 0, "absence window in days (default ABSENCE_WINDOW_DAYS)")
	sweepCmd.Flags().Bool("no-dedup", false, "alert even if an alert was raised inside the window")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := logging.New(cfg.Env, cfg.LogLevel)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	window := mustGetInt(cmd, "window")
	if window <= 0 {
		window = cfg.AbsenceWindowDays
	}

	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	notifier := notify.Direct(notify.NewWhatsApp(cfg.WhatsAppAPIURL, cfg.WhatsAppPhoneID, cfg.WhatsAppToken), logger)
	if cfg.QueueBackend != queue.BackendMemory {
		if rdb, err := store.NewRedis(cfg.RedisAddr); err == nil && rdb.Healthy(ctx) {
			defer func() { _ = rdb.Close() }()
			notifier = notify.NewQueueNotifier(queue.NewRedisQueue(rdb.Client, queue.DefaultKey))
		}
	}

	monitor := absence.NewMonitor(attendance.NewRepository(db.Client), notifier, absence.Options{
		WindowDays:         window,
		SuppressDuplicates: cfg.AlertDedup && !mustGetBool(cmd, "no-dedup"),
		Location:           loc,
	}, logger)

	res, err := monitor.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
