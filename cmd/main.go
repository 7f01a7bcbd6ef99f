package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"gigster/internal/audit"
	"gigster/internal/bootstrap"
	"gigster/internal/config"
	cronpkg "gigster/internal/cron"
	"gigster/internal/media"
	"gigster/internal/metrics"
	"gigster/internal/middleware"
	"gigster/internal/ops"
	"gigster/internal/pkg/telegram"
	"gigster/internal/platform"
	"gigster/internal/queue"
	"gigster/internal/ratelimit"
	"gigster/internal/repository"
	"gigster/internal/router"
	"gigster/internal/usage"
)

func main() {
	// --- Logger ---
	logger, err := newLogger(os.Getenv("APP_ENV"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if hasArg("--bootstrap-db") {
		if err := runDBBootstrap(logger); err != nil {
			logger.Fatal("Database bootstrap failed", zap.Error(err))
		}
		logger.Info("Database bootstrap completed")
		return
	}

	runWorker := !hasArg("--no-worker")
	runServer := !hasArg("--worker-only")

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	seed := bootstrap.SeedOptions{
		WindowSeconds: cfg.RateLimit.DefaultWindowSeconds,
		MaxActions:    cfg.RateLimit.DefaultMaxActions,
	}
	if err := bootstrap.MigrateAndSeed(db, seed); err != nil {
		logger.Fatal("Failed to bootstrap database schema", zap.Error(err))
	}

	// --- Redis (optional; caches fall back to process memory) ---
	rdb, err := config.NewRedis(cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, using in-memory fallback", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// --- Repositories ---
	jobRepo := repository.NewSocialJobRepository(db)
	limitRepo := repository.NewRateLimitRepository(db, cfg.RateLimit.DefaultWindowSeconds, cfg.RateLimit.DefaultMaxActions)
	usageRepo := repository.NewUsageRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// --- Services ---
	auditor := audit.New(auditRepo, logger)
	validator := media.NewValidator(media.NewHeadCache(rdb, cfg.Media.HeadTTL), cfg.Media.MaxBytes, cfg.Media.HeadTimeout, logger)
	opsService := ops.NewService(jobRepo, limitRepo, validator, auditor, logger)
	reporter := metrics.NewReporter(jobRepo, limitRepo)

	var notifier metrics.Notifier
	if cfg.Alert.TelegramToken != "" {
		notifier = telegram.NewBotAPI(cfg.Alert.TelegramToken)
	}
	alerter := metrics.NewAlerter(reporter, notifier, cfg.Alert.TelegramChatID, logger)

	limiter := ratelimit.NewLimiter(limitRepo, func() time.Time { return time.Now().UTC() }, logger)
	worker := queue.NewWorker(jobRepo, limiter, platform.NewFromConfig(cfg.Relay, logger), auditor, queue.Options{
		PollInterval: cfg.Worker.PollInterval,
		BatchSize:    cfg.Worker.BatchSize,
		StaleAfter:   cfg.Worker.StaleAfter,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Workers ---
	var workers sync.WaitGroup
	if runWorker {
		for i := 0; i < cfg.Worker.Count; i++ {
			workers.Add(1)
			go func() {
				defer workers.Done()
				worker.Run(ctx)
			}()
		}
	}

	// --- Cron Scheduler ---
	var reaper cronpkg.Reaper
	if runWorker {
		reaper = worker
	}
	scheduler := cronpkg.New(reaper, alerter, []cronpkg.Retention{
		{Name: "social_rl_usage", Purger: usageRepo, MaxAge: days(cfg.Retention.UsageDays)},
		{Name: "audit_events", Purger: auditRepo, MaxAge: days(cfg.Retention.AuditDays)},
	}, logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("Failed to start cron scheduler", zap.Error(err))
	}

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true

	if runServer {
		router.Setup(e, router.Deps{
			Ops:           opsService,
			Usage:         usage.NewReporter(usageRepo),
			Audits:        auditRepo,
			Metrics:       reporter,
			APIKeys:       cfg.Ops.APIKeys,
			WebhookSecret: cfg.Webhook.Secret,
			Deduper:       middleware.NewDeliveryDeduper(rdb, 24*time.Hour),
			Logger:        logger,
		})

		// --- Start Server ---
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		go func() {
			logger.Info("Starting gigster server", zap.String("addr", addr))
			if err := e.Start(addr); err != nil {
				logger.Info("Server stopped", zap.Error(err))
			}
		}()
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Stop HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if runServer {
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
	}

	// Stop cron
	<-scheduler.Stop().Done()

	// Stop workers; an in-flight attempt finishes writing its outcome.
	cancel()
	workers.Wait()

	logger.Info("Server exited")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func hasArg(name string) bool {
	for _, arg := range os.Args[1:] {
		if arg == name {
			return true
		}
	}
	return false
}

func runDBBootstrap(logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := config.NewDatabase(&cfg.Database, logger)
	if err != nil {
		return err
	}
	if err := bootstrap.MigrateAndSeed(db, bootstrap.SeedOptions{
		WindowSeconds: cfg.RateLimit.DefaultWindowSeconds,
		MaxActions:    cfg.RateLimit.DefaultMaxActions,
	}); err != nil {
		return err
	}
	logger.Info("Schema migration and default seed completed")
	return nil
}
