package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/precifica/precifica/internal/jobs"
	"github.com/precifica/precifica/internal/products"
	"github.com/precifica/precifica/internal/shared"
	"github.com/precifica/precifica/internal/tokens"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingRenewer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingRenewer) RenewExpiring(context.Context) (tokens.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return tokens.Result{Renewed: 2, Failed: 1}, c.err
}

type recordingLogs struct {
	mu      sync.Mutex
	entries []shared.SyncLog
	failFor uuid.UUID
}

func (r *recordingLogs) Record(_ context.Context, log shared.SyncLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if log.TenantID == r.failFor {
		return errors.New("insert failed")
	}
	r.entries = append(r.entries, log)
	return nil
}

func TestTokenRenewalSkipsWhenLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	renewer := &countingRenewer{}
	job := NewTokenRenewalJob(renewer, rdb, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, mr.Set(shared.JobLockKey(TaskTokenRenewal), "other-worker"))
	require.NoError(t, job.Handle(context.Background(), NewTokenRenewalTask()))
	assert.Zero(t, renewer.calls)

	mr.Del(shared.JobLockKey(TaskTokenRenewal))
	require.NoError(t, job.Handle(context.Background(), NewTokenRenewalTask()))
	assert.Equal(t, 1, renewer.calls)
	assert.False(t, mr.Exists(shared.JobLockKey(TaskTokenRenewal)), "lock released after the run")
}

func TestTokenRenewalPropagatesListFailure(t *testing.T) {
	renewer := &countingRenewer{err: errors.New("db down")}
	job := NewTokenRenewalJob(renewer, nil, quietLogger(), nil)
	assert.Error(t, job.Handle(context.Background(), NewTokenRenewalTask()))
}

type stubOrphans []products.Orphan

func (s stubOrphans) ListOrphans(context.Context) ([]products.Orphan, error) {
	return s, nil
}

func TestReconcileOrphansWritesOneReportPerTenant(t *testing.T) {
	tenantA, tenantB, tenantC := uuid.New(), uuid.New(), uuid.New()
	orphans := stubOrphans{
		{TenantID: tenantA, ProductID: uuid.New()},
		{TenantID: tenantB, ProductID: uuid.New()},
		{TenantID: tenantA, ProductID: uuid.New()},
		{TenantID: tenantC, ProductID: uuid.New()},
	}
	logs := &recordingLogs{failFor: tenantB}
	job := NewReconcileOrphansJob(orphans, logs, quietLogger(), nil)

	require.NoError(t, job.Handle(context.Background(), NewReconcileOrphansTask()))

	require.Len(t, logs.entries, 2, "tenant B failure does not stop tenant C")
	assert.Equal(t, tenantA, logs.entries[0].TenantID)
	assert.Equal(t, shared.OpReconcileOrphans, logs.entries[0].OperationType)
	assert.Contains(t, logs.entries[0].ErrorMessage, "2 imported products")
	assert.Equal(t, tenantC, logs.entries[1].TenantID)
}

type stubTokenLister []tokens.Token

func (s stubTokenLister) ListAll(context.Context) ([]tokens.Token, error) {
	return s, nil
}

type stubErrorCounter map[uuid.UUID]int

func (s stubErrorCounter) CountErrorsSince(_ context.Context, tenantID uuid.UUID, _ time.Time) (int, error) {
	count, ok := s[tenantID]
	if !ok {
		return 0, errors.New("count failed")
	}
	return count, nil
}

func TestSecurityMonitorIsolatesTenants(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	healthy, noisy, broken := uuid.New(), uuid.New(), uuid.New()
	lister := stubTokenLister{
		{TenantID: healthy, RefreshToken: "r", ExpiresAt: now.Add(time.Hour)},
		{TenantID: broken, RefreshToken: "r", ExpiresAt: now.Add(time.Hour)},
		{TenantID: noisy, ExpiresAt: now.Add(-time.Hour)},
	}
	counter := stubErrorCounter{healthy: 1, noisy: 12}
	logs := &recordingLogs{}
	job := NewSecurityMonitorJob(lister, counter, logs, quietLogger(), nil)
	job.clock = func() time.Time { return now }

	task, err := NewSecurityMonitorTask(SecurityMonitorPayload{WindowHours: 24, ErrorThreshold: 10})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, logs.entries, 2)
	assert.Equal(t, healthy, logs.entries[0].TenantID)
	assert.Equal(t, shared.StatusSuccess, logs.entries[0].Status)

	assert.Equal(t, noisy, logs.entries[1].TenantID)
	assert.Equal(t, shared.StatusError, logs.entries[1].Status)
	report, ok := logs.entries[1].ResponseData.(SecurityReport)
	require.True(t, ok)
	codes := make([]string, 0, len(report.Findings))
	for _, f := range report.Findings {
		codes = append(codes, f.Code)
	}
	assert.ElementsMatch(t, []string{"sync_errors", "missing_refresh_token", "token_expired"}, codes)
}

func TestSecurityMonitorRejectsBadPayload(t *testing.T) {
	job := NewSecurityMonitorJob(stubTokenLister{}, stubErrorCounter{}, &recordingLogs{}, quietLogger(), nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskSecurityMonitor, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
