package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/precifica/precifica/internal/jobs"
	"github.com/precifica/precifica/internal/products"
	"github.com/precifica/precifica/internal/shared"
)

// OrphanFinder lists imported products without a mapping row.
type OrphanFinder interface {
	ListOrphans(ctx context.Context) ([]products.Orphan, error)
}

// SyncLogWriter appends audit rows.
type SyncLogWriter interface {
	Record(ctx context.Context, log shared.SyncLog) error
}

// ReconcileOrphansJob reports marketplace products whose mapping is missing,
// one audit row per affected tenant.
type ReconcileOrphansJob struct {
	Products OrphanFinder
	Logs     SyncLogWriter
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewReconcileOrphansJob initialises the reconciliation handler.
func NewReconcileOrphansJob(finder OrphanFinder, logs SyncLogWriter, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileOrphansJob {
	return &ReconcileOrphansJob{Products: finder, Logs: logs, Logger: logger, Metrics: metrics}
}

// Handle executes one reconciliation pass. A failure to record one tenant's
// report does not stop the others.
func (j *ReconcileOrphansJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Products == nil || j.Logs == nil {
		return errors.New("reconcile orphans: handler not configured")
	}
	logger := jobLogger(j.Logger, TaskReconcileOrphans)
	tracker := j.Metrics.Track(TaskReconcileOrphans)
	start := time.Now()

	orphans, err := j.Products.ListOrphans(ctx)
	if err != nil {
		logger.Error("list orphans", slog.Any("error", err))
		return tracker.End(err)
	}

	byTenant := make(map[uuid.UUID][]products.Orphan)
	var order []uuid.UUID
	for _, o := range orphans {
		if _, ok := byTenant[o.TenantID]; !ok {
			order = append(order, o.TenantID)
		}
		byTenant[o.TenantID] = append(byTenant[o.TenantID], o)
	}

	failed := 0
	for _, tenantID := range order {
		found := byTenant[tenantID]
		ids := make([]string, 0, len(found))
		for _, o := range found {
			ids = append(ids, o.ProductID.String())
		}
		logger.Warn("imported products without mapping",
			slog.String("tenant_id", tenantID.String()),
			slog.Int("count", len(found)))
		err := j.Logs.Record(ctx, shared.SyncLog{
			TenantID:      tenantID,
			OperationType: shared.OpReconcileOrphans,
			EntityType:    "product",
			Status:        shared.StatusError,
			ResponseData:  map[string]any{"orphans": len(found), "product_ids": ids},
			ErrorMessage:  fmt.Sprintf("%d imported products have no marketplace mapping", len(found)),
			ExecutionTime: time.Since(start),
		})
		if err != nil {
			failed++
			logger.Error("record orphan report", slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
		}
	}
	j.Metrics.AddTenants(TaskReconcileOrphans, "orphans", len(order)-failed)
	j.Metrics.AddTenants(TaskReconcileOrphans, "failed", failed)
	logger.Info("reconciliation completed",
		slog.Int("orphans", len(orphans)),
		slog.Int("tenants", len(order)),
		slog.Duration("duration", time.Since(start)))
	return tracker.End(nil)
}
