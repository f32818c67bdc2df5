package shared

import (
	"context"

	"github.com/google/uuid"
)

type principalContextKey struct{}

// Principal identifies the authenticated caller and the tenant it acts for.
type Principal struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
