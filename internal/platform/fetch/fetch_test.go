package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func getFunc(url string) RequestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestDoRetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), srv.Client(), quietLogger(), getFunc(srv.URL), Options{Retries: 3, BaseDelay: time.Millisecond})
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
	assert.EqualValues(t, 3, calls.Load())
}

func TestDoReturnsLastFailedResponseWhenExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), srv.Client(), quietLogger(), getFunc(srv.URL), Options{Retries: 2, BaseDelay: time.Millisecond})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.EqualValues(t, 3, calls.Load())
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), srv.Client(), quietLogger(), getFunc(srv.URL), Options{Retries: 3, BaseDelay: time.Millisecond})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDoReturnsTransportErrorAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := Do(context.Background(), srv.Client(), quietLogger(), getFunc(srv.URL), Options{Retries: 1, BaseDelay: time.Millisecond, Timeout: 5 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDoSendsNonIdempotentRequestOnceOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	opts := Options{Retries: 3, BaseDelay: time.Millisecond, NonIdempotent: true}
	resp, err := Do(context.Background(), srv.Client(), quietLogger(), getFunc(srv.URL), opts)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDoRetriesNonIdempotentRequestOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	opts := Options{Retries: 3, BaseDelay: time.Millisecond, NonIdempotent: true}
	resp, err := Do(context.Background(), srv.Client(), quietLogger(), getFunc(srv.URL), opts)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 2, calls.Load())
}

func TestDoDoesNotRetryNonIdempotentTransportError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	opts := Options{Retries: 3, BaseDelay: time.Millisecond, Timeout: 5 * time.Millisecond, NonIdempotent: true}
	_, err := Do(context.Background(), srv.Client(), quietLogger(), getFunc(srv.URL), opts)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, calls.Load())
}

func TestBackoffDoubles(t *testing.T) {
	opts := Options{BaseDelay: 500 * time.Millisecond}
	assert.Equal(t, 500*time.Millisecond, opts.Backoff(0))
	assert.Equal(t, time.Second, opts.Backoff(1))
	assert.Equal(t, 2*time.Second, opts.Backoff(2))
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	sentinel := errors.New("invalid_grant")
	calls := 0
	err := Retry(context.Background(), Options{Retries: 3, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
	assert.False(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestRetryUsesAllAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), Options{Retries: 2, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithZeroRetriesCallsOnce(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), Options{BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return errors.New("temporary")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
