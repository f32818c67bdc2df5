package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/precifica/precifica/internal/jobs"
	"github.com/precifica/precifica/internal/shared"
	"github.com/precifica/precifica/internal/tokens"
)

// TokenRenewer refreshes every token inside the renewal window.
type TokenRenewer interface {
	RenewExpiring(ctx context.Context) (tokens.Result, error)
}

// TokenRenewalJob runs the renewal under a Redis lock so overlapping cron
// ticks or several workers never refresh the same token twice.
type TokenRenewalJob struct {
	Renewer TokenRenewer
	Redis   *redis.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	LockTTL time.Duration
}

// NewTokenRenewalJob initialises the renewal handler.
func NewTokenRenewalJob(renewer TokenRenewer, rdb *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *TokenRenewalJob {
	return &TokenRenewalJob{Renewer: renewer, Redis: rdb, Logger: logger, Metrics: metrics, LockTTL: 10 * time.Minute}
}

// Handle executes one renewal pass.
func (j *TokenRenewalJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Renewer == nil {
		return errors.New("token renewal: handler not configured")
	}
	logger := jobLogger(j.Logger, TaskTokenRenewal)

	release, err := shared.AcquireLock(ctx, j.Redis, shared.JobLockKey(TaskTokenRenewal), j.LockTTL)
	if errors.Is(err, shared.ErrLockHeld) {
		logger.Info("renewal already running, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release lock", slog.Any("error", err))
		}
	}()

	tracker := j.Metrics.Track(TaskTokenRenewal)
	start := time.Now()
	result, err := j.Renewer.RenewExpiring(ctx)
	if err != nil {
		logger.Error("renewal failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddTenants(TaskTokenRenewal, "ok", result.Renewed)
	j.Metrics.AddTenants(TaskTokenRenewal, "failed", result.Failed)
	logger.Info("renewal completed",
		slog.Int("renewed", result.Renewed),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}
