package mlsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/precifica/precifica/internal/mercadolivre"
	"github.com/precifica/precifica/internal/products"
	"github.com/precifica/precifica/internal/shared"
)

// BuildResyncUpdate returns the product columns a pull refresh may write. A
// local name is only filled when empty, and a positive local cost_unit is
// never overridden by the listing price.
func BuildResyncUpdate(p products.Product, item mercadolivre.Item, now time.Time) products.Update {
	update := products.Update{}
	if strings.TrimSpace(p.Name) == "" && item.Title != "" {
		update["name"] = item.Title
	}
	if !p.HasCost() && item.Price > 0 {
		update["cost_unit"] = item.Price
	}
	if len(update) > 0 {
		update["updated_at"] = now
	}
	return update
}

// ResyncProduct pulls the linked listing and refreshes the local product and
// mapping. Nothing is written to the marketplace.
func (s *Service) ResyncProduct(ctx context.Context, tenantID, productID uuid.UUID) (ResyncResult, error) {
	token, _, err := s.accessToken(ctx, tenantID)
	if err != nil {
		return ResyncResult{}, err
	}
	started := time.Now()
	mapping, err := s.products.GetMapping(ctx, tenantID, productID)
	if err != nil {
		return ResyncResult{}, fmt.Errorf("load mapping: %w", err)
	}
	if !mapping.Linked() {
		return ResyncResult{}, ErrNotLinked
	}
	product, err := s.products.GetProduct(ctx, tenantID, productID)
	if err != nil {
		return ResyncResult{}, err
	}

	result := ResyncResult{ProductID: productID, MLItemID: mapping.MLItemID}
	item, err := s.ml.GetItem(ctx, token, mapping.MLItemID)
	if err != nil {
		s.resyncFailed(ctx, tenantID, productID, mapping.MLItemID, err, time.Since(started))
		return result, err
	}

	now := s.now().UTC()
	update := BuildResyncUpdate(product, item, now)
	if err := s.products.UpdateProduct(ctx, tenantID, productID, update); err != nil {
		return result, fmt.Errorf("update product: %w", err)
	}
	if _, err := s.products.UpsertMapping(ctx, mappingFromItem(tenantID, productID, item, now)); err != nil {
		return result, fmt.Errorf("refresh mapping: %w", err)
	}

	result.UpdatedFields = update.Columns()
	s.record(ctx, shared.SyncLog{
		TenantID:      tenantID,
		OperationType: shared.OpResyncProduct,
		EntityType:    "product",
		EntityID:      productID.String(),
		Status:        shared.StatusSuccess,
		RequestData:   map[string]any{"ml_item_id": mapping.MLItemID},
		ResponseData:  result,
		ExecutionTime: time.Since(started),
	})
	return result, nil
}

func (s *Service) resyncFailed(ctx context.Context, tenantID, productID uuid.UUID, itemID string, cause error, elapsed time.Duration) {
	ctx, cancel := detached(ctx)
	defer cancel()
	msg := errorMessage(cause)
	if _, err := s.products.UpsertMapping(ctx, products.Mapping{
		TenantID:     tenantID,
		ProductID:    productID,
		SyncStatus:   products.SyncStatusError,
		ErrorMessage: msg,
	}); err != nil {
		s.logger.ErrorContext(ctx, "store mapping error", slog.String("product_id", productID.String()), slog.Any("error", err))
	}
	s.record(ctx, shared.SyncLog{
		TenantID:      tenantID,
		OperationType: shared.OpResyncProduct,
		EntityType:    "product",
		EntityID:      productID.String(),
		Status:        shared.StatusError,
		RequestData:   map[string]any{"ml_item_id": itemID},
		ErrorMessage:  msg,
		ExecutionTime: elapsed,
	})
}
