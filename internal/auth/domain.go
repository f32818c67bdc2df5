// Package auth authenticates API callers from bearer tokens issued by the
// identity provider and resolves the tenant they act for.
package auth

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/precifica/precifica/internal/platform/httpx"
)

var (
	// ErrInvalidToken is returned for missing, malformed or expired tokens.
	ErrInvalidToken = fmt.Errorf("invalid or expired token: %w", httpx.ErrUnauthorized)
	// ErrNoProfile is returned when a valid user has no tenant profile.
	ErrNoProfile = fmt.Errorf("user has no tenant profile: %w", httpx.ErrUnauthorized)
)

// Profile links an identity provider user to a tenant.
type Profile struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
}
