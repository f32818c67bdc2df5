package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/precifica/precifica/cmd/precifica/cli"
	"github.com/precifica/precifica/internal/app"
	"github.com/precifica/precifica/internal/auth"
	"github.com/precifica/precifica/internal/mercadolivre"
	"github.com/precifica/precifica/internal/mlsync"
	"github.com/precifica/precifica/internal/observability"
	"github.com/precifica/precifica/internal/platform/cache"
	"github.com/precifica/precifica/internal/platform/db"
	"github.com/precifica/precifica/internal/platform/fetch"
	"github.com/precifica/precifica/internal/products"
	"github.com/precifica/precifica/internal/shared"
	"github.com/precifica/precifica/internal/tokens"
	"github.com/precifica/precifica/internal/webhook"
	"github.com/precifica/precifica/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobsCommand(ctx, os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := app.LoadConfig(app.ServerRequired)
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.DatabaseURL, 0)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// Categories are fetched directly when Redis is unavailable.
		logger.Warn("redis unavailable, category cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	syncLogs := metrics.CountSyncLogs(shared.NewSyncLogger(dbpool))

	mlClient := mercadolivre.NewClient(mercadolivre.ClientOptions{
		BaseURL:      cfg.MLBaseURL,
		HTTPClient:   &http.Client{},
		Logger:       logger,
		Retry:        fetch.Options{Retries: cfg.MLRetries, BaseDelay: cfg.MLRetryBaseDelay, Timeout: cfg.MLRequestTimeout},
		ClientID:     cfg.MLClientID,
		ClientSecret: cfg.MLClientSecret,
	})
	categories := mercadolivre.NewCategoryCache(mlClient, redisClient, cfg.CategoryCacheTTL, logger)

	productRepo := products.NewRepository(dbpool)
	tokenRepo := tokens.NewRepository(dbpool)
	guard := mlsync.NewWriteGuard(cfg.WriteEnabled())
	logger.Info("marketplace writes", slog.Bool("enabled", guard.Enabled()))

	syncService := mlsync.NewService(productRepo, tokenRepo, mlClient, categories, syncLogs, guard, logger, mlsync.Options{
		PriceMargin:       cfg.MLPriceMargin,
		ImportConcurrency: cfg.MLImportConcurrency,
		BatchConcurrency:  cfg.MLBatchConcurrency,
	})
	syncHandler := mlsync.NewHandler(logger, syncService, guard, cfg.SyncRateLimitPerMinute)

	webhookStore := webhook.NewStore(dbpool)
	processor := webhook.NewProcessor(webhookStore, tokenRepo, mlClient, syncService.Updater(), logger)
	webhookHandler := webhook.NewHandler(logger, cfg.MLWebhookSecret, tokenRepo, webhookStore, processor, syncLogs, cfg.WebhookRateLimit)

	authService := auth.NewService(auth.NewRepository(dbpool), cfg.JWTSecret)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Metrics:        metrics,
		Authenticate:   auth.Middleware(authService, logger),
		SyncHandler:    syncHandler,
		WebhookHandler: webhookHandler,
		JobHandler:     jobs.NewHandler(inspector, logger),
	})

	srv := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
}

func runJobsCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: precifica jobs <trigger NAME|stats>")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	jobsCLI, err := cli.NewJobsCLI(addr)
	if err != nil {
		return err
	}
	defer jobsCLI.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("usage: precifica jobs trigger NAME")
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s as %s\n", info.Type, info.ID)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		return fmt.Errorf("unknown jobs command %q", args[0])
	}
	return nil
}
