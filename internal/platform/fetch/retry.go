package fetch

import (
	"context"
	"errors"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so Retry stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retry calls fn once plus up to opts.Retries more times with exponential
// backoff between attempts. Errors marked Permanent end the loop early. The
// last error is returned with the permanent marker removed.
func Retry(ctx context.Context, opts Options, fn func(context.Context) error) error {
	opts = opts.normalized()
	attempts := opts.Retries + 1
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
		if attempt == attempts-1 {
			break
		}
		if serr := sleep(ctx, opts.Backoff(attempt)); serr != nil {
			return serr
		}
	}
	return err
}
