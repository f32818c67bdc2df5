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
)

// ItemUpdate reports which product columns an item refresh wrote.
type ItemUpdate struct {
	ProductID uuid.UUID `json:"product_id"`
	Fields    []string  `json:"fields"`
}

// Updater applies a marketplace item payload to the product mapped to it.
type Updater struct {
	products   products.Repository
	items      ItemReader
	categories CategoryLookup
	logger     *slog.Logger
	now        func() time.Time
}

// NewUpdater constructs an Updater.
func NewUpdater(repo products.Repository, items ItemReader, categories CategoryLookup, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{products: repo, items: items, categories: categories, logger: logger, now: time.Now}
}

// UpdateFromItem refreshes the local product and mapping from item. It
// returns ErrMappingNotFound when no product maps to the item, which happens
// after an account was disconnected or the item remapped.
func (u *Updater) UpdateFromItem(ctx context.Context, tenantID uuid.UUID, token string, item mercadolivre.Item) (ItemUpdate, error) {
	mapping, err := u.products.FindMappingByItem(ctx, tenantID, item.ID)
	if err != nil {
		return ItemUpdate{}, fmt.Errorf("lookup mapping: %w", err)
	}
	if mapping == nil {
		return ItemUpdate{}, fmt.Errorf("item %s: %w", item.ID, ErrMappingNotFound)
	}
	product, err := u.products.GetProduct(ctx, tenantID, mapping.ProductID)
	if err != nil {
		return ItemUpdate{}, err
	}

	now := u.now().UTC()
	update := BuildItemUpdate(item, product.MLVariationID, now)

	if u.items != nil {
		desc := enrich(ctx, u.logger, "description", func(ctx context.Context) (string, error) {
			return u.items.GetItemDescription(ctx, token, item.ID)
		})
		if desc.OK() && strings.TrimSpace(desc.Value) != "" {
			update["description"] = desc.Value
		}
	}
	if u.categories != nil && item.CategoryID != "" {
		category := enrich(ctx, u.logger, "category", func(ctx context.Context) (mercadolivre.Category, error) {
			return u.categories.GetCategory(ctx, token, item.CategoryID)
		})
		if category.OK() && category.Value.Path() != "" {
			update["ml_category_path"] = category.Value.Path()
		}
	}

	if err := u.products.UpdateProduct(ctx, tenantID, product.ID, update); err != nil {
		return ItemUpdate{}, fmt.Errorf("update product: %w", err)
	}
	if _, err := u.products.UpsertMapping(ctx, mappingFromItem(tenantID, product.ID, item, now)); err != nil {
		return ItemUpdate{}, fmt.Errorf("refresh mapping: %w", err)
	}
	return ItemUpdate{ProductID: product.ID, Fields: update.Columns()}, nil
}

// BuildItemUpdate returns the columns every item refresh writes.
func BuildItemUpdate(item mercadolivre.Item, storedVariationID string, now time.Time) products.Update {
	sku := DeriveSKU(item, storedVariationID)
	update := products.Update{
		"pictures":        picturesJSON(item),
		"attributes":      attributesJSON(item),
		"stock":           item.AvailableQuantity,
		"sku_source":      string(sku.Source),
		"ml_variation_id": nullable(sku.VariationID),
		"sku":             nullable(sku.Value),
		"updated_at":      now,
	}
	if grams, ok := itemWeightGrams(item.Attributes); ok {
		update["weight_grams"] = grams
	}
	return update
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
