package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/precifica/precifica/internal/mercadolivre"
	"github.com/precifica/precifica/internal/platform/fetch"
	"github.com/precifica/precifica/internal/shared"
)

// DefaultWindow is how far ahead of expiry tokens are renewed.
const DefaultWindow = 2 * time.Hour

// Refresher exchanges a refresh token for new credentials.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (mercadolivre.TokenResponse, error)
}

// SyncLogWriter appends audit rows.
type SyncLogWriter interface {
	Record(ctx context.Context, log shared.SyncLog) error
}

// RenewerOptions tunes the renewal run.
type RenewerOptions struct {
	Window time.Duration
	Retry  fetch.Options
	Now    func() time.Time
}

// Renewer refreshes tokens that are about to expire.
type Renewer struct {
	repo      Repository
	refresher Refresher
	logs      SyncLogWriter
	logger    *slog.Logger
	window    time.Duration
	retry     fetch.Options
	now       func() time.Time
}

// NewRenewer constructs a Renewer. Zero options use a 2h window and 3 attempts
// (2 retries) starting at 500ms.
func NewRenewer(repo Repository, refresher Refresher, logs SyncLogWriter, logger *slog.Logger, opts RenewerOptions) *Renewer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Retry.Retries <= 0 {
		opts.Retry.Retries = 2
	}
	if opts.Retry.BaseDelay <= 0 {
		opts.Retry.BaseDelay = 500 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Renewer{
		repo:      repo,
		refresher: refresher,
		logs:      logs,
		logger:    logger,
		window:    opts.Window,
		retry:     opts.Retry,
		now:       opts.Now,
	}
}

// RenewExpiring refreshes every token expiring within the window. A failing
// tenant is logged and counted; the loop always moves on to the next one.
func (r *Renewer) RenewExpiring(ctx context.Context) (Result, error) {
	now := r.now().UTC()
	expiring, err := r.repo.ListExpiring(ctx, now.Add(r.window))
	if err != nil {
		return Result{}, fmt.Errorf("list expiring tokens: %w", err)
	}

	var result Result
	for _, token := range expiring {
		if !token.Renewable() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		started := time.Now()
		if err := r.renew(ctx, token); err != nil {
			result.Failed++
			r.logger.Error("token renewal failed",
				slog.String("tenant_id", token.TenantID.String()),
				slog.Any("error", err))
			r.record(ctx, shared.SyncLog{
				TenantID:      token.TenantID,
				OperationType: shared.OpTokenRefresh,
				EntityType:    "auth_token",
				EntityID:      token.TenantID.String(),
				Status:        shared.StatusError,
				ErrorMessage:  err.Error(),
				RequestData:   map[string]any{"expires_at": token.ExpiresAt},
				ExecutionTime: time.Since(started),
			})
			continue
		}
		result.Renewed++
	}
	r.logger.Info("token renewal finished",
		slog.Int("renewed", result.Renewed),
		slog.Int("failed", result.Failed))
	return result, nil
}

func (r *Renewer) renew(ctx context.Context, token Token) error {
	var fresh mercadolivre.TokenResponse
	err := fetch.Retry(ctx, r.retry, func(ctx context.Context) error {
		resp, err := r.refresher.RefreshToken(ctx, token.RefreshToken)
		if err != nil {
			var apiErr *mercadolivre.APIError
			if errors.As(err, &apiErr) && !apiErr.Temporary() {
				return fetch.Permanent(err)
			}
			return err
		}
		fresh = resp
		return nil
	})
	if err != nil {
		return err
	}
	if fresh.AccessToken == "" {
		return errors.New("refresh returned an empty access token")
	}

	updated := token
	updated.AccessToken = fresh.AccessToken
	if fresh.RefreshToken != "" {
		updated.RefreshToken = fresh.RefreshToken
	}
	updated.ExpiresAt = fresh.ExpiresAt(r.now().UTC())
	if fresh.UserID != 0 {
		updated.MLUserID = fresh.UserID
	}
	if err := r.repo.Replace(ctx, updated); err != nil {
		return fmt.Errorf("store renewed token: %w", err)
	}
	return nil
}

func (r *Renewer) record(ctx context.Context, entry shared.SyncLog) {
	if r.logs == nil {
		return
	}
	if err := r.logs.Record(ctx, entry); err != nil {
		r.logger.Warn("write sync log", slog.Any("error", err))
	}
}
