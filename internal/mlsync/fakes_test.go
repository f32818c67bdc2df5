package mlsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/precifica/precifica/internal/mercadolivre"
	"github.com/precifica/precifica/internal/products"
	"github.com/precifica/precifica/internal/shared"
	"github.com/precifica/precifica/internal/tokens"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memProducts struct {
	mu         sync.Mutex
	products   map[uuid.UUID]products.Product
	images     map[uuid.UUID][]products.Image
	mappings   map[uuid.UUID]products.Mapping
	categories map[uuid.UUID]string
	updates    []products.Update
}

func newMemProducts() *memProducts {
	return &memProducts{
		products:   make(map[uuid.UUID]products.Product),
		images:     make(map[uuid.UUID][]products.Image),
		mappings:   make(map[uuid.UUID]products.Mapping),
		categories: make(map[uuid.UUID]string),
	}
}

func (m *memProducts) add(p products.Product, images ...string) products.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = testNow.Add(-time.Hour)
	}
	m.products[p.ID] = p
	for i, url := range images {
		m.images[p.ID] = append(m.images[p.ID], products.Image{URL: url, Position: i})
	}
	return p
}

func (m *memProducts) setMapping(mp products.Mapping) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings[mp.ProductID] = mp
}

func (m *memProducts) mapping(productID uuid.UUID) (products.Mapping, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.mappings[productID]
	return mp, ok
}

func (m *memProducts) product(productID uuid.UUID) products.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[productID]
}

func (m *memProducts) count() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.products), len(m.mappings)
}

func (m *memProducts) GetProduct(_ context.Context, tenantID, productID uuid.UUID) (products.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok || p.TenantID != tenantID {
		return products.Product{}, fmt.Errorf("product %s: %w", productID, shared.ErrNotFound)
	}
	return p, nil
}

func (m *memProducts) ListImages(_ context.Context, _, productID uuid.UUID) ([]products.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]products.Image(nil), m.images[productID]...), nil
}

func (m *memProducts) GetMapping(_ context.Context, tenantID, productID uuid.UUID) (*products.Mapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.mappings[productID]
	if !ok || mp.TenantID != tenantID {
		return nil, nil
	}
	return &mp, nil
}

func (m *memProducts) FindMappingByItem(_ context.Context, tenantID uuid.UUID, itemID string) (*products.Mapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mp := range m.mappings {
		if mp.TenantID == tenantID && mp.MLItemID == itemID {
			found := mp
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memProducts) UpsertMapping(ctx context.Context, in products.Mapping) (products.Mapping, error) {
	if err := ctx.Err(); err != nil {
		return products.Mapping{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for pid, mp := range m.mappings {
		if pid != in.ProductID && mp.TenantID == in.TenantID && in.MLItemID != "" && mp.MLItemID == in.MLItemID {
			return products.Mapping{}, products.ErrItemLinked
		}
	}
	cur, ok := m.mappings[in.ProductID]
	if !ok {
		cur = products.Mapping{ID: uuid.New(), TenantID: in.TenantID, ProductID: in.ProductID}
	}
	cur.SyncStatus = in.SyncStatus
	cur.ErrorMessage = in.ErrorMessage
	if in.MLItemID != "" {
		cur.MLItemID = in.MLItemID
	}
	if in.LastSyncAt != nil {
		cur.LastSyncAt = in.LastSyncAt
	}
	if in.MLTitle != "" {
		cur.MLTitle = in.MLTitle
	}
	if in.MLPrice != nil {
		cur.MLPrice = in.MLPrice
	}
	if in.MLPermalink != "" {
		cur.MLPermalink = in.MLPermalink
	}
	if in.MLCategoryID != "" {
		cur.MLCategoryID = in.MLCategoryID
	}
	if in.MLStatus != "" {
		cur.MLStatus = in.MLStatus
	}
	m.mappings[in.ProductID] = cur
	return cur, nil
}

func (m *memProducts) UpdateProduct(_ context.Context, _ uuid.UUID, productID uuid.UUID, update products.Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return shared.ErrNotFound
	}
	m.updates = append(m.updates, update)
	for col, v := range update {
		switch col {
		case "name":
			p.Name = v.(string)
		case "description":
			p.Description = v.(string)
		case "cost_unit":
			c := v.(float64)
			p.CostUnit = &c
		case "sku":
			if v == nil {
				p.SKU = ""
			} else {
				p.SKU = v.(string)
			}
		case "sku_source":
			p.SKUSource = products.SKUSource(v.(string))
		case "ml_variation_id":
			if v == nil {
				p.MLVariationID = ""
			} else {
				p.MLVariationID = v.(string)
			}
		case "stock":
			s := v.(int)
			p.Stock = &s
		case "ml_category_path":
			p.MLCategoryPath = v.(string)
		case "updated_at":
			p.UpdatedAt = v.(time.Time)
		}
	}
	m.products[productID] = p
	return nil
}

func (m *memProducts) MarketplaceCategory(_ context.Context, _ uuid.UUID, categoryID uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.categories[categoryID], nil
}

func (m *memProducts) CreateImported(_ context.Context, p products.Product, mp products.Mapping) (products.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.mappings {
		if existing.TenantID == p.TenantID && existing.MLItemID == mp.MLItemID {
			return products.Product{}, products.ErrAlreadyImported
		}
	}
	p.ID = uuid.New()
	p.CreatedAt, p.UpdatedAt = testNow, testNow
	m.products[p.ID] = p
	mp.ID = uuid.New()
	mp.TenantID = p.TenantID
	mp.ProductID = p.ID
	m.mappings[p.ID] = mp
	return p, nil
}

func (m *memProducts) ListListings(_ context.Context, tenantID uuid.UUID) ([]products.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []products.Listing
	for pid, mp := range m.mappings {
		if mp.TenantID != tenantID {
			continue
		}
		p := m.products[pid]
		out = append(out, products.Listing{Mapping: mp, ProductName: p.Name, SKU: p.SKU, CostUnit: p.CostUnit})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductName < out[j].ProductName })
	return out, nil
}

func (m *memProducts) CountByStatus(_ context.Context, tenantID uuid.UUID) (map[products.SyncStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[products.SyncStatus]int)
	for _, mp := range m.mappings {
		if mp.TenantID == tenantID {
			counts[mp.SyncStatus]++
		}
	}
	return counts, nil
}

func (m *memProducts) ListOrphans(context.Context) ([]products.Orphan, error) {
	return nil, nil
}

type memTokens map[uuid.UUID]tokens.Token

func (m memTokens) Get(_ context.Context, tenantID uuid.UUID) (tokens.Token, error) {
	t, ok := m[tenantID]
	if !ok {
		return tokens.Token{}, tokens.ErrTokenMissing
	}
	return t, nil
}

type fakeMarketplace struct {
	mu          sync.Mutex
	items       map[string]mercadolivre.Item
	searchIDs   []string
	itemErr     map[string]error
	writeErr    error
	onWrite     func()
	searchCalls atomic.Int32
	itemCalls   atomic.Int32
	creates     []any
	updates     map[string]any
}

func newFakeMarketplace() *fakeMarketplace {
	return &fakeMarketplace{
		items:   make(map[string]mercadolivre.Item),
		itemErr: make(map[string]error),
		updates: make(map[string]any),
	}
}

func (f *fakeMarketplace) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates) + len(f.updates)
}

func (f *fakeMarketplace) GetMe(context.Context, string) (mercadolivre.User, error) {
	return mercadolivre.User{ID: 777, Nickname: "LOJA"}, nil
}

func (f *fakeMarketplace) SearchActiveItems(_ context.Context, _ string, _ int64, offset, limit int) (mercadolivre.SearchResult, error) {
	f.searchCalls.Add(1)
	end := offset + limit
	if end > len(f.searchIDs) {
		end = len(f.searchIDs)
	}
	var page []string
	if offset < end {
		page = append(page, f.searchIDs[offset:end]...)
	}
	return mercadolivre.SearchResult{
		Results: page,
		Paging:  mercadolivre.Paging{Total: len(f.searchIDs), Offset: offset, Limit: limit},
	}, nil
}

func (f *fakeMarketplace) GetItem(_ context.Context, _ string, itemID string) (mercadolivre.Item, error) {
	f.itemCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.itemErr[itemID]; err != nil {
		return mercadolivre.Item{}, err
	}
	if item, ok := f.items[itemID]; ok {
		return item, nil
	}
	return mercadolivre.Item{ID: itemID, Title: "Item " + itemID, Price: 10, Status: "active"}, nil
}

func (f *fakeMarketplace) GetItemDescription(context.Context, string, string) (string, error) {
	return "descricao do anuncio", nil
}

func (f *fakeMarketplace) CreateItem(_ context.Context, _ string, payload any) (mercadolivre.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onWrite != nil {
		f.onWrite()
	}
	if f.writeErr != nil {
		return mercadolivre.Item{}, f.writeErr
	}
	f.creates = append(f.creates, payload)
	id := fmt.Sprintf("MLB%d", 1000+len(f.creates))
	return mercadolivre.Item{ID: id, Permalink: "https://produto.mercadolivre.com.br/" + id, Status: "active"}, nil
}

func (f *fakeMarketplace) UpdateItem(_ context.Context, _ string, itemID string, payload any) (mercadolivre.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onWrite != nil {
		f.onWrite()
	}
	if f.writeErr != nil {
		return mercadolivre.Item{}, f.writeErr
	}
	f.updates[itemID] = payload
	return mercadolivre.Item{ID: itemID, Status: "active"}, nil
}

type logSink struct {
	mu   sync.Mutex
	logs []shared.SyncLog
}

func (l *logSink) Record(ctx context.Context, log shared.SyncLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, log)
	return nil
}

func (l *logSink) ops() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.logs))
	for _, entry := range l.logs {
		out = append(out, entry.OperationType+":"+entry.Status)
	}
	return out
}

type fixture struct {
	tenant  uuid.UUID
	repo    *memProducts
	ml      *fakeMarketplace
	logs    *logSink
	service *Service
}

func newFixture(writeEnabled bool) *fixture {
	tenant := uuid.New()
	f := &fixture{
		tenant: tenant,
		repo:   newMemProducts(),
		ml:     newFakeMarketplace(),
		logs:   &logSink{},
	}
	store := memTokens{tenant: {TenantID: tenant, AccessToken: "APP_USR-1", RefreshToken: "TG-1", ExpiresAt: testNow.Add(4 * time.Hour), MLUserID: 777}}
	f.service = NewService(f.repo, store, f.ml, nil, f.logs, NewWriteGuard(writeEnabled), discardLogger(), Options{})
	f.service.SetClock(func() time.Time { return testNow })
	return f
}

func ptr[T any](v T) *T {
	return &v
}
