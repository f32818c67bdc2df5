package mlsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precifica/precifica/internal/mercadolivre"
	"github.com/precifica/precifica/internal/products"
)

func TestUpdateFromItemUsesVariationSKU(t *testing.T) {
	f := newFixture(false)
	prod := completeProduct(f.tenant)
	prod.SKU = ""
	prod.SKUSource = products.SKUSourceNone
	p := f.repo.add(prod)
	f.repo.setMapping(products.Mapping{TenantID: f.tenant, ProductID: p.ID, MLItemID: "MLB8", SyncStatus: products.SyncStatusSynced})

	item := mercadolivre.Item{
		ID:                "MLB8",
		Title:             "Jogo de panelas",
		AvailableQuantity: 12,
		Variations: []mercadolivre.Variation{
			{ID: 17735123456, SellerSKU: "JOGO-5P", AvailableQuantity: 12},
		},
	}
	res, err := f.service.Updater().UpdateFromItem(context.Background(), f.tenant, "tok", item)
	require.NoError(t, err)
	assert.Equal(t, p.ID, res.ProductID)
	assert.Contains(t, res.Fields, "sku")
	assert.Contains(t, res.Fields, "description")

	stored := f.repo.product(p.ID)
	assert.Equal(t, "JOGO-5P", stored.SKU)
	assert.Equal(t, products.SKUSourceMercadoLivre, stored.SKUSource)
	assert.Equal(t, "17735123456", stored.MLVariationID)
	require.NotNil(t, stored.Stock)
	assert.Equal(t, 12, *stored.Stock)

	m, _ := f.repo.mapping(p.ID)
	assert.Equal(t, "Jogo de panelas", m.MLTitle)
}

func TestUpdateFromItemClearsSKUWhenNoneFound(t *testing.T) {
	f := newFixture(false)
	p := f.repo.add(completeProduct(f.tenant))
	f.repo.setMapping(products.Mapping{TenantID: f.tenant, ProductID: p.ID, MLItemID: "MLB8"})

	_, err := f.service.Updater().UpdateFromItem(context.Background(), f.tenant, "tok", mercadolivre.Item{ID: "MLB8"})
	require.NoError(t, err)
	stored := f.repo.product(p.ID)
	assert.Empty(t, stored.SKU)
	assert.Equal(t, products.SKUSourceNone, stored.SKUSource)
}

func TestUpdateFromItemFailsForUnmappedItem(t *testing.T) {
	f := newFixture(false)
	f.repo.add(completeProduct(f.tenant))

	_, err := f.service.Updater().UpdateFromItem(context.Background(), f.tenant, "tok", mercadolivre.Item{ID: "MLB404"})
	assert.ErrorIs(t, err, ErrMappingNotFound)
	assert.Empty(t, f.repo.updates, "no product may be touched")
}
