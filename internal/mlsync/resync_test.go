package mlsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precifica/precifica/internal/mercadolivre"
	"github.com/precifica/precifica/internal/products"
)

func TestBuildResyncUpdateKeepsLocalCost(t *testing.T) {
	item := mercadolivre.Item{ID: "MLB1", Title: "Titulo ML", Price: 199.9}

	update := BuildResyncUpdate(products.Product{Name: "Local", CostUnit: ptr(42.0)}, item, testNow)
	assert.False(t, update.Has("cost_unit"))
	assert.False(t, update.Has("name"))
	assert.Empty(t, update)

	for _, cost := range []*float64{nil, ptr(0.0)} {
		update = BuildResyncUpdate(products.Product{Name: "Local", CostUnit: cost}, item, testNow)
		require.True(t, update.Has("cost_unit"))
		assert.Equal(t, 199.9, update["cost_unit"])
	}

	update = BuildResyncUpdate(products.Product{CostUnit: ptr(1.0)}, item, testNow)
	assert.Equal(t, "Titulo ML", update["name"])
}

func TestResyncProductPullsWithoutWriting(t *testing.T) {
	f := newFixture(false)
	prod := completeProduct(f.tenant)
	prod.CostUnit = ptr(42.0)
	p := f.repo.add(prod)
	f.repo.setMapping(products.Mapping{TenantID: f.tenant, ProductID: p.ID, MLItemID: "MLB3", SyncStatus: products.SyncStatusSynced})
	f.ml.items["MLB3"] = mercadolivre.Item{ID: "MLB3", Title: "Novo titulo", Price: 300, Status: "paused"}

	res, err := f.service.ResyncProduct(context.Background(), f.tenant, p.ID)
	require.NoError(t, err)
	assert.Empty(t, res.UpdatedFields)
	assert.Zero(t, f.ml.writes())

	stored := f.repo.product(p.ID)
	assert.InDelta(t, 42.0, *stored.CostUnit, 1e-9)
	m, _ := f.repo.mapping(p.ID)
	assert.Equal(t, "Novo titulo", m.MLTitle)
	assert.Equal(t, "paused", m.MLStatus)
	assert.InDelta(t, 300.0, *m.MLPrice, 1e-9)
}

func TestResyncProductRequiresLink(t *testing.T) {
	f := newFixture(false)
	p := f.repo.add(completeProduct(f.tenant))

	_, err := f.service.ResyncProduct(context.Background(), f.tenant, p.ID)
	assert.ErrorIs(t, err, ErrNotLinked)
}

func TestResyncProductRecordsFailureOnCancelledRequest(t *testing.T) {
	f := newFixture(false)
	p := f.repo.add(completeProduct(f.tenant))
	f.repo.setMapping(products.Mapping{TenantID: f.tenant, ProductID: p.ID, MLItemID: "MLB3", SyncStatus: products.SyncStatusSynced})
	f.ml.itemErr["MLB3"] = context.Canceled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.ResyncProduct(ctx, f.tenant, p.ID)
	require.ErrorIs(t, err, context.Canceled)

	m, _ := f.repo.mapping(p.ID)
	assert.Equal(t, products.SyncStatusError, m.SyncStatus)
	assert.Equal(t, []string{"resync_product:error"}, f.logs.ops())
}
