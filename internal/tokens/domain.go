package tokens

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/precifica/precifica/internal/platform/httpx"
)

// ErrTokenMissing is returned when a tenant has no stored credentials.
var ErrTokenMissing = fmt.Errorf("marketplace account not connected: %w", httpx.ErrUnauthorized)

// Token holds the OAuth credentials of one tenant. There is at most one row per tenant.
type Token struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	MLUserID     int64     `json:"ml_user_id"`
	Nickname     string    `json:"nickname,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Expired reports whether the access token is no longer usable at now.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Renewable reports whether the token can be refreshed.
func (t Token) Renewable() bool {
	return t.RefreshToken != ""
}

// Result summarises a renewal run.
type Result struct {
	Renewed int `json:"renewed"`
	Failed  int `json:"failed"`
}
