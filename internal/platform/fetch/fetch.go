// Package fetch wraps outbound HTTP calls with bounded exponential backoff.
package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Options controls retry behaviour. A zero BaseDelay or Timeout falls back to
// DefaultOptions; Retries is taken as given.
type Options struct {
	// Retries is the number of attempts made after the first one, in both Do
	// and Retry. Zero means a single attempt.
	Retries       int
	BaseDelay     time.Duration
	Timeout       time.Duration
	// NonIdempotent marks a request that must reach the upstream at most once.
	// Only 429 answers, rejected before processing, are retried; 5xx answers
	// and transport errors are returned after the first attempt.
	NonIdempotent bool
}

// DefaultOptions returns 3 retries, 500ms base delay and a 30s per-attempt timeout.
func DefaultOptions() Options {
	return Options{Retries: 3, BaseDelay: 500 * time.Millisecond, Timeout: 30 * time.Second}
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = def.BaseDelay
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	return o
}

// Backoff returns the delay before retry number attempt (0-based).
func (o Options) Backoff(attempt int) time.Duration {
	return o.normalized().BaseDelay * time.Duration(1<<attempt)
}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// RequestFunc builds a fresh request for every attempt so bodies can be replayed.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Retryable reports whether a status code should be retried.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func (o Options) retryStatus(status int) bool {
	if o.NonIdempotent {
		return status == http.StatusTooManyRequests
	}
	return Retryable(status)
}

// Do performs the request, retrying 429 and 5xx responses as well as transport
// errors. NonIdempotent requests narrow that to 429. When retries are exhausted
// on a failing status the last response is returned without an error, so
// callers must still check the status code.
func Do(ctx context.Context, client Doer, logger *slog.Logger, newReq RequestFunc, opts Options) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.normalized()

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		req, err := newReq(attemptCtx)
		if err != nil {
			cancel()
			return nil, err
		}
		started := time.Now()
		resp, err := client.Do(req)
		attrs := []any{
			slog.String("method", req.Method),
			slog.String("url", req.URL.Redacted()),
			slog.Int("attempt", attempt+1),
			slog.Duration("elapsed", time.Since(started)),
		}
		final := attempt == opts.Retries

		if err != nil {
			cancel()
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if final || opts.NonIdempotent {
				logger.Error("fetch failed", append(attrs, slog.Any("error", err))...)
				return nil, err
			}
			delay := opts.Backoff(attempt)
			logger.Warn("fetch error, retrying", append(attrs, slog.Any("error", err), slog.Duration("delay", delay))...)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		attrs = append(attrs, slog.Int("status", resp.StatusCode))
		if !opts.retryStatus(resp.StatusCode) || final {
			if opts.retryStatus(resp.StatusCode) {
				logger.Error("fetch retries exhausted", attrs...)
			} else {
				logger.Debug("fetch completed", attrs...)
			}
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
			return resp, nil
		}

		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		cancel()
		delay := opts.Backoff(attempt)
		logger.Warn("fetch retryable status", append(attrs, slog.Duration("delay", delay))...)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	if lastErr == nil {
		lastErr = errors.New("fetch: no attempts made")
	}
	return nil, lastErr
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
