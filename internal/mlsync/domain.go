// Package mlsync reconciles local products with Mercado Livre listings.
package mlsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/precifica/precifica/internal/mercadolivre"
	"github.com/precifica/precifica/internal/platform/httpx"
	"github.com/precifica/precifica/internal/products"
	"github.com/precifica/precifica/internal/shared"
	"github.com/precifica/precifica/internal/tokens"
)

var (
	// ErrWriteDisabled is returned when outbound writes are switched off.
	ErrWriteDisabled = fmt.Errorf("marketplace writes are disabled: %w", httpx.ErrForbidden)
	// ErrTokenMissing means the tenant never connected an account.
	ErrTokenMissing = tokens.ErrTokenMissing
	// ErrTokenExpired means the stored access token must be renewed first.
	ErrTokenExpired = fmt.Errorf("marketplace token expired: %w", httpx.ErrUnauthorized)
	// ErrMappingNotFound is returned when an item no longer maps to any
	// product. Callers must not retry.
	ErrMappingNotFound = errors.New("no product mapped to marketplace item")
	// ErrNotLinked is returned when a product has no marketplace item yet.
	ErrNotLinked = fmt.Errorf("product is not linked to a marketplace item: %w", httpx.ErrNotFound)
)

// MissingFieldsError lists the product fields a listing cannot be published without.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// Unwrap maps the error to a validation failure.
func (e *MissingFieldsError) Unwrap() error {
	return httpx.ErrValidation
}

// Marketplace is the subset of the API client used by the sync service.
type Marketplace interface {
	GetMe(ctx context.Context, token string) (mercadolivre.User, error)
	SearchActiveItems(ctx context.Context, token string, sellerID int64, offset, limit int) (mercadolivre.SearchResult, error)
	GetItem(ctx context.Context, token, itemID string) (mercadolivre.Item, error)
	GetItemDescription(ctx context.Context, token, itemID string) (string, error)
	CreateItem(ctx context.Context, token string, payload any) (mercadolivre.Item, error)
	UpdateItem(ctx context.Context, token, itemID string, payload any) (mercadolivre.Item, error)
}

// ItemReader fetches the optional item details used to enrich products.
type ItemReader interface {
	GetItemDescription(ctx context.Context, token, itemID string) (string, error)
}

// CategoryLookup resolves category metadata, usually through the Redis cache.
type CategoryLookup interface {
	GetCategory(ctx context.Context, token, categoryID string) (mercadolivre.Category, error)
}

// TokenStore loads tenant credentials.
type TokenStore interface {
	Get(ctx context.Context, tenantID uuid.UUID) (tokens.Token, error)
}

// SyncLogWriter appends audit rows.
type SyncLogWriter interface {
	Record(ctx context.Context, log shared.SyncLog) error
}

// Action tells what a sync did with the listing.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
)

// SyncResult is the outcome of syncing a single product.
type SyncResult struct {
	ProductID uuid.UUID `json:"product_id"`
	MLItemID  string    `json:"ml_item_id,omitempty"`
	Action    Action    `json:"action"`
	Price     float64   `json:"price,omitempty"`
	Permalink string    `json:"permalink,omitempty"`
}

// BatchItem is the per-product entry of a batch sync.
type BatchItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Success   bool      `json:"success"`
	Action    Action    `json:"action,omitempty"`
	MLItemID  string    `json:"ml_item_id,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// BatchResult aggregates a batch sync.
type BatchResult struct {
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Results   []BatchItem `json:"results"`
}

// ImportResult summarises an import run.
type ImportResult struct {
	TotalProcessed int      `json:"total_processed"`
	Succeeded      int      `json:"succeeded"`
	Skipped        int      `json:"skipped"`
	Failed         int      `json:"failed"`
	Pages          int      `json:"pages"`
	Errors         []string `json:"errors"`
}

// ResyncResult describes what a pull refresh changed locally.
type ResyncResult struct {
	ProductID     uuid.UUID `json:"product_id"`
	MLItemID      string    `json:"ml_item_id"`
	UpdatedFields []string  `json:"updated_fields"`
}

// StatusReport describes the tenant's connection to the marketplace.
type StatusReport struct {
	Connected    bool                        `json:"connected"`
	Expired      bool                        `json:"expired"`
	Nickname     string                      `json:"nickname,omitempty"`
	MLUserID     int64                       `json:"ml_user_id,omitempty"`
	ExpiresAt    *time.Time                  `json:"expires_at,omitempty"`
	WriteEnabled bool                        `json:"write_enabled"`
	Mappings     map[products.SyncStatus]int `json:"mappings"`
}
