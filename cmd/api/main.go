package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"faceattend/internal/absence"
	"faceattend/internal/api"
	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/cloudinary"
	"faceattend/internal/config"
	"faceattend/internal/events"
	"faceattend/internal/faceclient"
	"faceattend/internal/httpmiddleware"
	"faceattend/internal/logging"
	"faceattend/internal/metrics"
	"faceattend/internal/notify"
	"faceattend/internal/pipeline"
	"faceattend/internal/queue"
	"faceattend/internal/recognition"
	"faceattend/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("api exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.App, logger zerolog.Logger) error {
	metrics.Register()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := store.NewDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := store.Migrate(ctx, db); err != nil {
		return err
	}

	rdb := connectRedis(ctx, cfg, logger)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	repo := attendance.NewRepository(db.Client)
	svc := attendance.NewService(repo, loc, logger)

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	face.EARThreshold = cfg.EARThreshold
	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			logger.Warn().Err(err).Msg("face service not available; frames will fail until it is")
		}
	}

	metric, err := recognition.ParseMetric(cfg.MatchMetric)
	if err != nil {
		return err
	}
	gallery := recognition.NewGallery(repo, logger)
	if _, err := gallery.Reload(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial gallery load failed")
	}
	matcher := recognition.NewMatcher(gallery, cfg.MatchThreshold, metric)

	enroller := recognition.NewEnroller(face, repo, logger)
	cdnCfg := cloudinary.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryFolder,
	}
	if cdnCfg.Configured() {
		archiver, err := cloudinary.New(cdnCfg, logger)
		if err != nil {
			return err
		}
		enroller.WithArchiver(archiver)
		logger.Info().Str("cloud", cfg.CloudinaryCloudName).Msg("enrollment archive configured")
	}

	hub := events.NewHub(logger)
	var relay *events.RedisRelay
	if rdb != nil {
		relay = events.NewRedisRelay(rdb.Client, cfg.EventsChannel, logger)
		hub.WithRelay(relay)
	}

	notifier, worker, err := buildNotifier(cfg, rdb, repo, logger)
	if err != nil {
		return err
	}
	monitor := absence.NewMonitor(repo, notifier, absence.Options{
		WindowDays:         cfg.AbsenceWindowDays,
		SuppressDuplicates: cfg.AlertDedup,
		Location:           loc,
	}, logger).WithPublisher(hub)

	cameras := make([]pipeline.Camera, 0, len(cfg.Cameras))
	for _, c := range cfg.Cameras {
		cameras = append(cameras, pipeline.Camera{Name: c.Name, Location: c.URL})
	}
	controller := pipeline.NewController(ctx, cameras, pipeline.Deps{
		Face:           face,
		Matcher:        matcher,
		Recorder:       svc,
		Publisher:      hub,
		RequiredBlinks: cfg.RequiredBlinks,
		Scheduler: pipeline.SchedulerConfig{
			Stride:      cfg.FrameStride,
			Interval:    cfg.FrameInterval,
			Backoff:     cfg.CaptureBackoff,
			MaxFailures: cfg.MaxCaptureFailures,
		},
		Logger: logger,
	})

	health := map[string]api.HealthCheck{"db": db.Healthy}
	if rdb != nil {
		health["redis"] = rdb.Healthy
	}
	router := api.NewRouter(api.Deps{
		Attendance: svc,
		Gallery:    gallery,
		Matcher:    matcher,
		Enroller:   enroller,
		Face:       face,
		Monitor:    monitor,
		System:     controller,
		Hub:        hub,
		Issuer:     auth.NewIssuer(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.AccessTTL, cfg.RefreshTTL),
		Limiter:    httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin),
		Health:     health,
		CORS:       cfg.CORSOrigins,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := controller.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("pipeline stop")
		}
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return monitor.Run(gctx, cfg.AbsenceSweepInterval) })
	if relay != nil {
		g.Go(func() error {
			relay.Run(gctx, hub.Deliver, nil)
			return nil
		})
	}
	if worker != nil {
		g.Go(func() error { return worker.Run(gctx) })
	}

	if cfg.AutoStart {
		if err := controller.Start(gctx); err != nil {
			logger.Error().Err(err).Msg("auto start failed")
		}
	}

	err = g.Wait()
	logger.Info().Msg("server exited")
	return err
}

// connectRedis returns nil when Redis is unreachable; the relay and Redis queue are then disabled.
func connectRedis(ctx context.Context, cfg config.App, logger zerolog.Logger) *store.Redis {
	if cfg.RedisAddr == "" {
		return nil
	}
	rdb, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid redis address")
		return nil
	}
	if !rdb.Healthy(ctx) {
		logger.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable; running single-node")
		_ = rdb.Close()
		return nil
	}
	return rdb
}

// buildNotifier routes alerts through the queue when one is usable. The in-memory queue is drained by an
// in-process worker; the Redis queue by cmd/worker.
func buildNotifier(cfg config.App, rdb *store.Redis, repo *attendance.Repository, logger zerolog.Logger) (notify.Notifier, *notify.Worker, error) {
	direct := notify.Direct(notify.NewWhatsApp(cfg.WhatsAppAPIURL, cfg.WhatsAppPhoneID, cfg.WhatsAppToken), logger)

	switch {
	case cfg.QueueBackend == queue.BackendMemory:
		q, err := queue.New(queue.BackendMemory, nil, "")
		if err != nil {
			return nil, nil, err
		}
		return notify.NewQueueNotifier(q), notify.NewWorker(q, direct, repo, logger), nil
	case rdb != nil:
		q, err := queue.New(cfg.QueueBackend, rdb.Client, queue.DefaultKey)
		if err != nil {
			return nil, nil, err
		}
		return notify.NewQueueNotifier(q), nil, nil
	default:
		return direct, nil, nil
	}
}
