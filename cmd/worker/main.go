package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/precifica/precifica/internal/app"
	jobmetrics "github.com/precifica/precifica/internal/jobs"
	"github.com/precifica/precifica/internal/mercadolivre"
	"github.com/precifica/precifica/internal/platform/cache"
	"github.com/precifica/precifica/internal/platform/db"
	"github.com/precifica/precifica/internal/platform/fetch"
	"github.com/precifica/precifica/internal/products"
	"github.com/precifica/precifica/internal/shared"
	"github.com/precifica/precifica/internal/tokens"
	"github.com/precifica/precifica/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig(app.WorkerRequired)
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.DatabaseURL, 4)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	syncLogs := shared.NewSyncLogger(pool)
	tokenRepo := tokens.NewRepository(pool)

	// The renewer owns the backoff for token refreshes, so the client makes a
	// single attempt per call.
	refreshClient := mercadolivre.NewClient(mercadolivre.ClientOptions{
		BaseURL:      cfg.MLBaseURL,
		Logger:       logger,
		Retry:        fetch.Options{Retries: 0, Timeout: cfg.MLRequestTimeout},
		ClientID:     cfg.MLClientID,
		ClientSecret: cfg.MLClientSecret,
	})
	renewer := tokens.NewRenewer(tokenRepo, refreshClient, syncLogs, logger, tokens.RenewerOptions{
		Window: cfg.TokenRenewalWindow,
		Retry:  fetch.Options{BaseDelay: cfg.MLRetryBaseDelay},
	})

	renewalJob := jobs.NewTokenRenewalJob(renewer, redisClient, logger, metrics)
	orphanJob := jobs.NewReconcileOrphansJob(products.NewRepository(pool), syncLogs, logger, metrics)
	securityJob := jobs.NewSecurityMonitorJob(tokenRepo, syncLogs, syncLogs, logger, metrics)

	securityTask, err := jobs.NewSecurityMonitorTask(jobs.SecurityMonitorPayload{WindowHours: 24, ErrorThreshold: 10})
	if err != nil {
		logger.Error("build security task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTokenRenewal, Handler: renewalJob.Handle},
			{Type: jobs.TaskReconcileOrphans, Handler: orphanJob.Handle},
			{Type: jobs.TaskSecurityMonitor, Handler: securityJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.TokenRenewalCron, Task: jobs.NewTokenRenewalTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: "15 3 * * *", Task: jobs.NewReconcileOrphansTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 6 * * *", Task: securityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
