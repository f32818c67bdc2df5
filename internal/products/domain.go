package products

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SKUSource records where a product SKU came from.
type SKUSource string

const (
	SKUSourceManual       SKUSource = "manual"
	SKUSourceMercadoLivre SKUSource = "mercado_livre"
	SKUSourceNone         SKUSource = "none"
)

// Origin records how a product entered the catalog.
type Origin string

const (
	OriginManual       Origin = "manual"
	OriginMercadoLivre Origin = "mercado_livre"
)

// SyncStatus is the state of a product mapping.
type SyncStatus string

const (
	SyncStatusNotSynced SyncStatus = "not_synced"
	SyncStatusSyncing   SyncStatus = "syncing"
	SyncStatusSynced    SyncStatus = "synced"
	SyncStatusError     SyncStatus = "error"
	SyncStatusConflict  SyncStatus = "conflict"
	SyncStatusPending   SyncStatus = "pending"
)

// DefaultCategoryID is used when a local category has no marketplace mapping.
const DefaultCategoryID = "MLB3530"

// Product is a local catalog entry.
type Product struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	Name           string          `json:"name"`
	SKU            string          `json:"sku,omitempty"`
	SKUSource      SKUSource       `json:"sku_source"`
	Origin         Origin          `json:"origin"`
	CostUnit       *float64        `json:"cost_unit,omitempty"`
	Price          *float64        `json:"price,omitempty"`
	Description    string          `json:"description,omitempty"`
	CategoryID     *uuid.UUID      `json:"category_id,omitempty"`
	CategoryName   string          `json:"category_name,omitempty"`
	MLCategoryPath string          `json:"ml_category_path,omitempty"`
	Stock          *int            `json:"stock,omitempty"`
	Pictures       json.RawMessage `json:"pictures,omitempty"`
	Attributes     json.RawMessage `json:"attributes,omitempty"`
	MLVariationID  string          `json:"ml_variation_id,omitempty"`
	WeightGrams    *float64        `json:"weight_grams,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// FromMarketplace reports whether the product was imported from the marketplace.
func (p Product) FromMarketplace() bool {
	return p.Origin == OriginMercadoLivre
}

// HasCost reports whether the product carries a positive unit cost.
func (p Product) HasCost() bool {
	return p.CostUnit != nil && *p.CostUnit > 0
}

// Image is a locally stored product picture.
type Image struct {
	URL      string `json:"url"`
	Position int    `json:"position"`
}

// Mapping links a product to a marketplace item. Marketplace fields are
// denormalised for dashboard reads.
type Mapping struct {
	ID            uuid.UUID  `json:"id"`
	TenantID      uuid.UUID  `json:"tenant_id"`
	ProductID     uuid.UUID  `json:"product_id"`
	MLItemID      string     `json:"ml_item_id,omitempty"`
	SyncStatus    SyncStatus `json:"sync_status"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	MLTitle       string     `json:"ml_title,omitempty"`
	MLPrice       *float64   `json:"ml_price,omitempty"`
	MLPermalink   string     `json:"ml_permalink,omitempty"`
	MLCategoryID  string     `json:"ml_category_id,omitempty"`
	MLListingType string     `json:"ml_listing_type,omitempty"`
	MLCondition   string     `json:"ml_condition,omitempty"`
	MLStatus      string     `json:"ml_status,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Linked reports whether the mapping points at a marketplace item.
func (m *Mapping) Linked() bool {
	return m != nil && m.MLItemID != ""
}

// Listing joins a mapping with product columns for dashboard listing.
type Listing struct {
	Mapping
	ProductName string   `json:"product_name"`
	SKU         string   `json:"sku,omitempty"`
	CostUnit    *float64 `json:"cost_unit,omitempty"`
}

// Update is a column to value patch applied to a product row. Only columns in
// updatableColumns are accepted by the repository.
type Update map[string]any

// Has reports whether column is part of the patch.
func (u Update) Has(column string) bool {
	_, ok := u[column]
	return ok
}

// Columns returns the patched column names in sorted order.
func (u Update) Columns() []string {
	cols := make([]string, 0, len(u))
	for c := range u {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

var updatableColumns = map[string]struct{}{
	"name":             {},
	"sku":              {},
	"sku_source":       {},
	"cost_unit":        {},
	"price":            {},
	"description":      {},
	"ml_category_path": {},
	"stock":            {},
	"pictures":         {},
	"attributes":       {},
	"ml_variation_id":  {},
	"weight_grams":     {},
	"updated_at":       {},
}

// Orphan is a marketplace-sourced product without a mapping row.
type Orphan struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
