package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/precifica/precifica/internal/jobs"
	"github.com/precifica/precifica/internal/shared"
	"github.com/precifica/precifica/internal/tokens"
)

// TokenLister lists every connected marketplace account.
type TokenLister interface {
	ListAll(ctx context.Context) ([]tokens.Token, error)
}

// ErrorCounter counts error audit rows of a tenant.
type ErrorCounter interface {
	CountErrorsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (int, error)
}

// SecurityFinding is one issue reported for a tenant.
type SecurityFinding struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// SecurityReport is stored as response data of the security_report row.
type SecurityReport struct {
	WindowHours int               `json:"window_hours"`
	SyncErrors  int               `json:"sync_errors"`
	Findings    []SecurityFinding `json:"findings"`
}

// SecurityMonitorJob inspects each tenant's credentials and recent sync
// failures and records one report per tenant.
type SecurityMonitorJob struct {
	Tokens  TokenLister
	Errors  ErrorCounter
	Logs    SyncLogWriter
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSecurityMonitorJob initialises the security monitor handler.
func NewSecurityMonitorJob(tokenLister TokenLister, counter ErrorCounter, logs SyncLogWriter, logger *slog.Logger, metrics *jobmetrics.Metrics) *SecurityMonitorJob {
	return &SecurityMonitorJob{
		Tokens:  tokenLister,
		Errors:  counter,
		Logs:    logs,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the monitor.
func (j *SecurityMonitorJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Tokens == nil || j.Errors == nil || j.Logs == nil {
		return errors.New("security monitor: handler not configured")
	}
	var payload SecurityMonitorPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.WindowHours <= 0 {
		payload.WindowHours = 24
	}
	if payload.ErrorThreshold <= 0 {
		payload.ErrorThreshold = 10
	}

	logger := jobLogger(j.Logger, TaskSecurityMonitor)
	tracker := j.Metrics.Track(TaskSecurityMonitor)
	now := j.clock()

	all, err := j.Tokens.ListAll(ctx)
	if err != nil {
		logger.Error("list tokens", slog.Any("error", err))
		return tracker.End(err)
	}

	flagged, failed := 0, 0
	for _, token := range all {
		report, err := j.inspect(ctx, token, payload, now)
		if err != nil {
			failed++
			logger.Error("inspect tenant", slog.String("tenant_id", token.TenantID.String()), slog.Any("error", err))
			continue
		}
		status := shared.StatusSuccess
		message := ""
		if len(report.Findings) > 0 {
			flagged++
			status = shared.StatusError
			message = fmt.Sprintf("%d security findings", len(report.Findings))
			logger.Warn("tenant flagged",
				slog.String("tenant_id", token.TenantID.String()),
				slog.Any("findings", report.Findings))
		}
		err = j.Logs.Record(ctx, shared.SyncLog{
			TenantID:      token.TenantID,
			OperationType: shared.OpSecurityReport,
			EntityType:    "tenant",
			EntityID:      token.TenantID.String(),
			Status:        status,
			ResponseData:  report,
			ErrorMessage:  message,
			ExecutionTime: j.clock().Sub(now),
		})
		if err != nil {
			failed++
			logger.Error("record security report", slog.String("tenant_id", token.TenantID.String()), slog.Any("error", err))
		}
	}
	j.Metrics.AddTenants(TaskSecurityMonitor, "flagged", flagged)
	j.Metrics.AddTenants(TaskSecurityMonitor, "failed", failed)
	logger.Info("security monitor completed",
		slog.Int("tenants", len(all)),
		slog.Int("flagged", flagged),
		slog.Int("failed", failed))
	return tracker.End(nil)
}

func (j *SecurityMonitorJob) inspect(ctx context.Context, token tokens.Token, payload SecurityMonitorPayload, now time.Time) (SecurityReport, error) {
	report := SecurityReport{WindowHours: payload.WindowHours, Findings: []SecurityFinding{}}
	since := now.Add(-time.Duration(payload.WindowHours) * time.Hour)
	count, err := j.Errors.CountErrorsSince(ctx, token.TenantID, since)
	if err != nil {
		return report, err
	}
	report.SyncErrors = count
	if count >= payload.ErrorThreshold {
		report.Findings = append(report.Findings, SecurityFinding{
			Code:   "sync_errors",
			Detail: fmt.Sprintf("%d failed sync operations in the last %dh", count, payload.WindowHours),
		})
	}
	if !token.Renewable() {
		report.Findings = append(report.Findings, SecurityFinding{
			Code:   "missing_refresh_token",
			Detail: "token cannot be renewed; the account must be reconnected",
		})
	}
	if token.Expired(now) {
		report.Findings = append(report.Findings, SecurityFinding{
			Code:   "token_expired",
			Detail: "access token expired at " + token.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
	return report, nil
}
