package tokens

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precifica/precifica/internal/mercadolivre"
	"github.com/precifica/precifica/internal/platform/fetch"
	"github.com/precifica/precifica/internal/shared"
)

type memoryRepo struct {
	mu     sync.Mutex
	tokens map[uuid.UUID]Token
}

func newMemoryRepo(tokens ...Token) *memoryRepo {
	repo := &memoryRepo{tokens: make(map[uuid.UUID]Token)}
	for _, t := range tokens {
		repo.tokens[t.TenantID] = t
	}
	return repo
}

func (m *memoryRepo) Get(_ context.Context, tenantID uuid.UUID) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tenantID]
	if !ok {
		return Token{}, ErrTokenMissing
	}
	return t, nil
}

func (m *memoryRepo) FindTenantByMLUser(_ context.Context, mlUserID int64) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.MLUserID == mlUserID {
			return t.TenantID, nil
		}
	}
	return uuid.Nil, ErrTokenMissing
}

func (m *memoryRepo) ListExpiring(_ context.Context, before time.Time) ([]Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Token
	for _, t := range m.tokens {
		if t.ExpiresAt.Before(before) && t.Renewable() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListAll(_ context.Context) ([]Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Token, 0, len(m.tokens))
	for _, t := range m.tokens {
		out = append(out, t)
	}
	return out, nil
}

func (m *memoryRepo) Replace(_ context.Context, token Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.TenantID] = token
	return nil
}

type stubRefresher struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(refresh string, call int) (mercadolivre.TokenResponse, error)
}

func (s *stubRefresher) RefreshToken(_ context.Context, refresh string) (mercadolivre.TokenResponse, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[refresh]++
	call := s.calls[refresh]
	s.mu.Unlock()
	return s.fn(refresh, call)
}

type logRecorder struct {
	mu   sync.Mutex
	logs []shared.SyncLog
}

func (l *logRecorder) Record(_ context.Context, log shared.SyncLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, log)
	return nil
}

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestRenewer(repo Repository, refresher Refresher, logs SyncLogWriter) *Renewer {
	return NewRenewer(repo, refresher, logs, slog.New(slog.NewTextHandler(io.Discard, nil)), RenewerOptions{
		Retry: fetch.Options{Retries: 2, BaseDelay: time.Millisecond},
		Now:   func() time.Time { return fixedNow },
	})
}

func TestRenewExpiringRefreshesTokensInsideWindow(t *testing.T) {
	soon := Token{TenantID: uuid.New(), AccessToken: "a1", RefreshToken: "r1", ExpiresAt: fixedNow.Add(time.Hour)}
	later := Token{TenantID: uuid.New(), AccessToken: "a2", RefreshToken: "r2", ExpiresAt: fixedNow.Add(5 * time.Hour)}
	repo := newMemoryRepo(soon, later)
	refresher := &stubRefresher{fn: func(refresh string, _ int) (mercadolivre.TokenResponse, error) {
		return mercadolivre.TokenResponse{AccessToken: "new-" + refresh, RefreshToken: "next-" + refresh, ExpiresIn: 21600}, nil
	}}

	result, err := newTestRenewer(repo, refresher, &logRecorder{}).RenewExpiring(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Renewed: 1, Failed: 0}, result)

	got, _ := repo.Get(context.Background(), soon.TenantID)
	assert.Equal(t, "new-r1", got.AccessToken)
	assert.Equal(t, "next-r1", got.RefreshToken)
	assert.Equal(t, fixedNow.Add(6*time.Hour), got.ExpiresAt)

	untouched, _ := repo.Get(context.Background(), later.TenantID)
	assert.Equal(t, "a2", untouched.AccessToken)
}

func TestRenewExpiringRetriesTransientFailures(t *testing.T) {
	tok := Token{TenantID: uuid.New(), AccessToken: "a", RefreshToken: "r", ExpiresAt: fixedNow.Add(30 * time.Minute)}
	repo := newMemoryRepo(tok)
	refresher := &stubRefresher{fn: func(_ string, call int) (mercadolivre.TokenResponse, error) {
		if call < 3 {
			return mercadolivre.TokenResponse{}, &mercadolivre.APIError{Status: http.StatusServiceUnavailable}
		}
		return mercadolivre.TokenResponse{AccessToken: "ok", ExpiresIn: 3600}, nil
	}}

	result, err := newTestRenewer(repo, refresher, &logRecorder{}).RenewExpiring(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Renewed)
	assert.Equal(t, 3, refresher.calls["r"])

	got, _ := repo.Get(context.Background(), tok.TenantID)
	assert.Equal(t, "ok", got.AccessToken)
	assert.Equal(t, "r", got.RefreshToken, "refresh token kept when the response omits it")
}

func TestRenewExpiringIsolatesTenantFailures(t *testing.T) {
	bad := Token{TenantID: uuid.New(), AccessToken: "a", RefreshToken: "revoked", ExpiresAt: fixedNow.Add(10 * time.Minute)}
	good := Token{TenantID: uuid.New(), AccessToken: "b", RefreshToken: "fine", ExpiresAt: fixedNow.Add(20 * time.Minute)}
	repo := newMemoryRepo(bad, good)
	refresher := &stubRefresher{fn: func(refresh string, _ int) (mercadolivre.TokenResponse, error) {
		if refresh == "revoked" {
			return mercadolivre.TokenResponse{}, &mercadolivre.APIError{Status: http.StatusBadRequest, Code: "invalid_grant"}
		}
		return mercadolivre.TokenResponse{AccessToken: "renewed", ExpiresIn: 3600}, nil
	}}
	logs := &logRecorder{}

	result, err := newTestRenewer(repo, refresher, logs).RenewExpiring(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Renewed: 1, Failed: 1}, result)
	assert.Equal(t, 1, refresher.calls["revoked"], "permanent errors are not retried")

	require.Len(t, logs.logs, 1)
	assert.Equal(t, bad.TenantID, logs.logs[0].TenantID)
	assert.Equal(t, shared.OpTokenRefresh, logs.logs[0].OperationType)
	assert.Equal(t, shared.StatusError, logs.logs[0].Status)
	assert.Contains(t, logs.logs[0].ErrorMessage, "invalid_grant")

	got, _ := repo.Get(context.Background(), good.TenantID)
	assert.Equal(t, "renewed", got.AccessToken)
}

func TestRenewExpiringGivesUpAfterThreeAttempts(t *testing.T) {
	tok := Token{TenantID: uuid.New(), AccessToken: "a", RefreshToken: "r", ExpiresAt: fixedNow.Add(time.Minute)}
	refresher := &stubRefresher{fn: func(string, int) (mercadolivre.TokenResponse, error) {
		return mercadolivre.TokenResponse{}, errors.New("connection reset")
	}}

	result, err := newTestRenewer(newMemoryRepo(tok), refresher, &logRecorder{}).RenewExpiring(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Failed: 1}, result)
	assert.Equal(t, 3, refresher.calls["r"])
}
