package mlsync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precifica/precifica/internal/mercadolivre"
	"github.com/precifica/precifica/internal/products"
	"github.com/precifica/precifica/internal/shared"
)

func itemIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("MLB%07d", i+1)
	}
	return ids
}

func TestImportFromMLPaginatesLargeCatalog(t *testing.T) {
	f := newFixture(false)
	f.ml.searchIDs = itemIDs(1050)

	res, err := f.service.ImportFromML(context.Background(), f.tenant)
	require.NoError(t, err)
	assert.EqualValues(t, 21, f.ml.searchCalls.Load())
	assert.Equal(t, 21, res.Pages)
	assert.Equal(t, 1050, res.TotalProcessed)
	assert.Equal(t, 1050, res.Succeeded)
	assert.Zero(t, res.Failed)

	productsCount, mappingsCount := f.repo.count()
	assert.Equal(t, 1050, productsCount)
	assert.Equal(t, 1050, mappingsCount)
	assert.Equal(t, []string{shared.OpImportFromML + ":" + shared.StatusSuccess}, f.logs.ops())
}

func TestImportFromMLIsIdempotent(t *testing.T) {
	f := newFixture(false)
	f.ml.searchIDs = itemIDs(120)

	_, err := f.service.ImportFromML(context.Background(), f.tenant)
	require.NoError(t, err)
	fetched := f.ml.itemCalls.Load()

	res, err := f.service.ImportFromML(context.Background(), f.tenant)
	require.NoError(t, err)
	assert.Equal(t, 120, res.TotalProcessed)
	assert.Equal(t, 120, res.Skipped)
	assert.Zero(t, res.Succeeded)
	assert.Equal(t, fetched, f.ml.itemCalls.Load(), "mapped items are not fetched again")

	productsCount, mappingsCount := f.repo.count()
	assert.Equal(t, 120, productsCount)
	assert.Equal(t, 120, mappingsCount)
}

func TestImportFromMLDeduplicatesAndIsolatesFailures(t *testing.T) {
	f := newFixture(false)
	f.ml.searchIDs = []string{"MLB1", "MLB2", "MLB1", "MLB3"}
	f.ml.itemErr["MLB2"] = errors.New("boom")

	res, err := f.service.ImportFromML(context.Background(), f.tenant)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalProcessed)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "MLB2")
	assert.Equal(t, []string{shared.OpImportFromML + ":" + shared.StatusPartialSuccess}, f.logs.ops())
}

func TestImportFromMLMapsItemFields(t *testing.T) {
	f := newFixture(false)
	f.ml.searchIDs = []string{"MLB5"}
	f.ml.items["MLB5"] = mercadolivre.Item{
		ID:                "MLB5",
		Title:             "Chaleira inox",
		Price:             64.9,
		AvailableQuantity: 7,
		Permalink:         "https://produto.mercadolivre.com.br/MLB5",
		Attributes:        []mercadolivre.Attribute{{ID: "PACKAGE_WEIGHT", ValueName: "1,2 kg"}},
		Variations:        []mercadolivre.Variation{{ID: 17735123456, SellerSKU: "CHA-01"}},
	}

	_, err := f.service.ImportFromML(context.Background(), f.tenant)
	require.NoError(t, err)

	mapping, err := f.repo.FindMappingByItem(context.Background(), f.tenant, "MLB5")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, products.SyncStatusSynced, mapping.SyncStatus)
	assert.Equal(t, "Chaleira inox", mapping.MLTitle)

	p := f.repo.product(mapping.ProductID)
	assert.Equal(t, products.OriginMercadoLivre, p.Origin)
	assert.Equal(t, "CHA-01", p.SKU)
	assert.Equal(t, products.SKUSourceMercadoLivre, p.SKUSource)
	assert.Equal(t, "17735123456", p.MLVariationID)
	assert.Equal(t, "descricao do anuncio", p.Description)
	require.NotNil(t, p.WeightGrams)
	assert.InDelta(t, 1200, *p.WeightGrams, 1e-6)
	require.NotNil(t, p.Stock)
	assert.Equal(t, 7, *p.Stock)
}
