package shared

import (
	"errors"

	"github.com/precifica/precifica/internal/platform/httpx"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = httpx.ErrNotFound
	// ErrLockHeld occurs when another worker owns a job lock.
	ErrLockHeld = errors.New("lock already held")
)
