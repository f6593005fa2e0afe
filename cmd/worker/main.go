package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"faceattend/internal/attendance"
	"faceattend/internal/config"
	"faceattend/internal/logging"
	"faceattend/internal/notify"
	"faceattend/internal/queue"
	"faceattend/internal/store"
)

// Worker consumes queued absence notices, delivers them and marks the alerts delivered.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("worker exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.App, logger zerolog.Logger) error {
	if cfg.QueueBackend == queue.BackendMemory {
		return errors.New("QUEUE_BACKEND=memory is drained inside the api process; the worker needs redis")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	rdb, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()
	if !rdb.Healthy(ctx) {
		logger.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable yet; consumer will keep retrying")
	}

	q, err := queue.New(cfg.QueueBackend, rdb.Client, queue.DefaultKey)
	if err != nil {
		return err
	}

	wa := notify.NewWhatsApp(cfg.WhatsAppAPIURL, cfg.WhatsAppPhoneID, cfg.WhatsAppToken)
	if !wa.Configured() {
		logger.Warn().Msg("WHATSAPP_TOKEN / WHATSAPP_PHONE_ID not set; notices will only be logged")
	}

	repo := attendance.NewRepository(db.Client)
	return notify.NewWorker(q, notify.Direct(wa, logger), repo, logger).Run(ctx)
}
