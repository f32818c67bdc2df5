package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Operation types recorded in ml_sync_logs. Dashboards read these values.
const (
	OpCreateProduct    = "create_product"
	OpUpdateProduct    = "update_product"
	OpSyncBatch        = "sync_batch"
	OpImportFromML     = "import_from_ml"
	OpResyncProduct    = "resync_product"
	OpLinkProduct      = "link_product"
	OpCreateAd         = "create_ad"
	OpWebhook          = "webhook"
	OpTokenRefresh     = "token_refresh"
	OpReconcileOrphans = "reconcile_orphans"
	OpSecurityReport   = "security_report"
)

// Sync log statuses.
const (
	StatusSuccess        = "success"
	StatusError          = "error"
	StatusPartialSuccess = "partial_success"
)

// SyncLog represents an append-only row in ml_sync_logs.
type SyncLog struct {
	TenantID      uuid.UUID
	OperationType string
	EntityType    string
	EntityID      string
	Status        string
	RequestData   any
	ResponseData  any
	ErrorMessage  string
	ExecutionTime time.Duration
}

// SyncLogger writes records into ml_sync_logs.
type SyncLogger struct {
	pool *pgxpool.Pool
}

// NewSyncLogger returns a new SyncLogger.
func NewSyncLogger(pool *pgxpool.Pool) *SyncLogger {
	return &SyncLogger{pool: pool}
}

// Record persists the log entry.
func (l *SyncLogger) Record(ctx context.Context, log SyncLog) error {
	if l == nil {
		return errors.New("sync logger not initialised")
	}
	if log.TenantID == uuid.Nil || log.OperationType == "" || log.Status == "" {
		return errors.New("sync log requires tenant/operation/status")
	}
	request, err := marshalNullable(log.RequestData)
	if err != nil {
		return err
	}
	response, err := marshalNullable(log.ResponseData)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO ml_sync_logs
		(tenant_id, operation_type, entity_type, entity_id, status, request_data, response_data, error_message, execution_time_ms, created_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), $9, NOW())`,
		log.TenantID, log.OperationType, log.EntityType, log.EntityID, log.Status, request, response, log.ErrorMessage, log.ExecutionTime.Milliseconds())
	return err
}

// CountErrorsSince counts error rows for a tenant created after since.
func (l *SyncLogger) CountErrorsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := l.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ml_sync_logs WHERE tenant_id = $1 AND status = $2 AND created_at >= $3`,
		tenantID, StatusError, since).Scan(&count)
	return count, err
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
