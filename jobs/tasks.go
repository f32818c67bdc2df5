package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTokenRenewal refreshes marketplace tokens close to expiry.
	TaskTokenRenewal = "ml:token_renewal"
	// TaskReconcileOrphans reports imported products that lost their mapping.
	TaskReconcileOrphans = "ml:reconcile_orphans"
	// TaskSecurityMonitor summarises sync errors and credential health.
	TaskSecurityMonitor = "ml:security_monitor"
)

// SecurityMonitorPayload configures a security monitor run.
type SecurityMonitorPayload struct {
	WindowHours    int `json:"window_hours"`
	ErrorThreshold int `json:"error_threshold"`
}

// NewTokenRenewalTask constructs the renewal task. It carries no payload;
// the renewal window is part of the worker configuration.
func NewTokenRenewalTask() *asynq.Task {
	return asynq.NewTask(TaskTokenRenewal, nil, asynq.Queue(QueueDefault), asynq.Timeout(10*time.Minute))
}

// NewReconcileOrphansTask constructs the orphan reconciliation task.
func NewReconcileOrphansTask() *asynq.Task {
	return asynq.NewTask(TaskReconcileOrphans, nil, asynq.Queue(QueueDefault))
}

// NewSecurityMonitorTask constructs the security monitor task.
func NewSecurityMonitorTask(payload SecurityMonitorPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSecurityMonitor, data, asynq.Queue(QueueDefault)), nil
}
