package mlsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/precifica/precifica/internal/mercadolivre"
	"github.com/precifica/precifica/internal/products"
	"github.com/precifica/precifica/internal/shared"
)

// Status reports whether the tenant is connected and how its mappings stand.
func (s *Service) Status(ctx context.Context, tenantID uuid.UUID) (StatusReport, error) {
	report := StatusReport{WriteEnabled: s.guard.Enabled()}
	tok, err := s.tokens.Get(ctx, tenantID)
	switch {
	case errors.Is(err, ErrTokenMissing):
	case err != nil:
		return StatusReport{}, err
	default:
		report.Connected = true
		report.Expired = tok.Expired(s.now())
		report.Nickname = tok.Nickname
		report.MLUserID = tok.MLUserID
		expires := tok.ExpiresAt
		report.ExpiresAt = &expires
	}

	counts, err := s.products.CountByStatus(ctx, tenantID)
	if err != nil {
		return StatusReport{}, fmt.Errorf("count mappings: %w", err)
	}
	report.Mappings = counts
	return report, nil
}

// ListProducts returns the tenant's mapped products.
func (s *Service) ListProducts(ctx context.Context, tenantID uuid.UUID) ([]products.Listing, error) {
	listings, err := s.products.ListListings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if listings == nil {
		listings = []products.Listing{}
	}
	return listings, nil
}

// LinkProduct associates an existing listing with a local product. The
// listing is read to confirm it exists; nothing is written upstream.
func (s *Service) LinkProduct(ctx context.Context, tenantID, productID uuid.UUID, itemID string) (products.Mapping, error) {
	itemID = strings.TrimSpace(itemID)
	token, _, err := s.accessToken(ctx, tenantID)
	if err != nil {
		return products.Mapping{}, err
	}
	started := time.Now()
	if _, err := s.products.GetProduct(ctx, tenantID, productID); err != nil {
		return products.Mapping{}, err
	}
	item, err := s.ml.GetItem(ctx, token, itemID)
	if err != nil {
		return products.Mapping{}, fmt.Errorf("load item %s: %w", itemID, err)
	}

	saved, err := s.products.UpsertMapping(ctx, mappingFromItem(tenantID, productID, item, s.now().UTC()))
	status, msg := shared.StatusSuccess, ""
	if err != nil {
		status, msg = shared.StatusError, err.Error()
	}
	s.record(ctx, shared.SyncLog{
		TenantID:      tenantID,
		OperationType: shared.OpLinkProduct,
		EntityType:    "product",
		EntityID:      productID.String(),
		Status:        status,
		RequestData:   map[string]any{"ml_item_id": itemID},
		ErrorMessage:  msg,
		ExecutionTime: time.Since(started),
	})
	if err != nil {
		return products.Mapping{}, err
	}
	return saved, nil
}

// CreateAd publishes a raw listing payload. It is guarded like every other write.
func (s *Service) CreateAd(ctx context.Context, tenantID uuid.UUID, adData map[string]any) (mercadolivre.Item, error) {
	if err := s.guard.Check(); err != nil {
		return mercadolivre.Item{}, err
	}
	token, _, err := s.accessToken(ctx, tenantID)
	if err != nil {
		return mercadolivre.Item{}, err
	}
	started := time.Now()
	item, err := s.ml.CreateItem(ctx, token, adData)
	entry := shared.SyncLog{
		TenantID:      tenantID,
		OperationType: shared.OpCreateAd,
		EntityType:    "item",
		EntityID:      item.ID,
		Status:        shared.StatusSuccess,
		RequestData:   adData,
		ExecutionTime: time.Since(started),
	}
	if err != nil {
		entry.Status = shared.StatusError
		entry.ErrorMessage = errorMessage(err)
		s.record(ctx, entry)
		return mercadolivre.Item{}, err
	}
	entry.ResponseData = map[string]any{"id": item.ID, "permalink": item.Permalink}
	s.record(ctx, entry)
	return item, nil
}
