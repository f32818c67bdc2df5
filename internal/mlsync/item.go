package mlsync

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/precifica/precifica/internal/mercadolivre"
	"github.com/precifica/precifica/internal/products"
)

func pictureLinks(item mercadolivre.Item) []string {
	links := make([]string, 0, len(item.Pictures))
	for _, p := range item.Pictures {
		if link := p.Link(); link != "" {
			links = append(links, link)
		}
	}
	return links
}

func picturesJSON(item mercadolivre.Item) json.RawMessage {
	raw, err := json.Marshal(pictureLinks(item))
	if err != nil {
		return json.RawMessage(`[]`)
	}
	return raw
}

func attributesJSON(item mercadolivre.Item) json.RawMessage {
	attrs := item.Attributes
	if attrs == nil {
		attrs = []mercadolivre.Attribute{}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return json.RawMessage(`[]`)
	}
	return raw
}

// mappingFromItem builds a synced mapping carrying the listing's denormalised fields.
func mappingFromItem(tenantID, productID uuid.UUID, item mercadolivre.Item, now time.Time) products.Mapping {
	m := products.Mapping{
		TenantID:      tenantID,
		ProductID:     productID,
		MLItemID:      item.ID,
		SyncStatus:    products.SyncStatusSynced,
		LastSyncAt:    &now,
		MLTitle:       item.Title,
		MLPermalink:   item.Permalink,
		MLCategoryID:  item.CategoryID,
		MLListingType: item.ListingTypeID,
		MLCondition:   item.Condition,
		MLStatus:      item.Status,
	}
	if item.Price > 0 {
		price := item.Price
		m.MLPrice = &price
	}
	return m
}
