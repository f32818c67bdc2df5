package mlsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/precifica/precifica/internal/mercadolivre"
	"github.com/precifica/precifica/internal/products"
	"github.com/precifica/precifica/internal/shared"
)

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	PriceMargin       float64
	ImportPageSize    int
	ImportConcurrency int
	BatchConcurrency  int
	CurrencyID        string
	ListingTypeID     string
}

func (o Options) normalized() Options {
	if o.PriceMargin <= 0 {
		o.PriceMargin = 1
	}
	if o.ImportPageSize <= 0 {
		o.ImportPageSize = 50
	}
	if o.ImportConcurrency <= 0 {
		o.ImportConcurrency = 5
	}
	if o.BatchConcurrency <= 0 {
		o.BatchConcurrency = 1
	}
	if o.CurrencyID == "" {
		o.CurrencyID = "BRL"
	}
	if o.ListingTypeID == "" {
		o.ListingTypeID = "gold_special"
	}
	return o
}

// Service runs the marketplace sync operations for a tenant.
type Service struct {
	products   products.Repository
	tokens     TokenStore
	ml         Marketplace
	categories CategoryLookup
	logs       SyncLogWriter
	guard      WriteGuard
	updater    *Updater
	logger     *slog.Logger
	opts       Options
	now        func() time.Time
}

// NewService wires the sync service.
func NewService(repo products.Repository, tokenStore TokenStore, ml Marketplace, categories CategoryLookup,
	logs SyncLogWriter, guard WriteGuard, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "mlsync"))
	return &Service{
		products:   repo,
		tokens:     tokenStore,
		ml:         ml,
		categories: categories,
		logs:       logs,
		guard:      guard,
		updater:    NewUpdater(repo, ml, categories, logger),
		logger:     logger,
		opts:       opts.normalized(),
		now:        time.Now,
	}
}

// Updater exposes the item to product routine shared with the webhook.
func (s *Service) Updater() *Updater {
	return s.updater
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.updater.now = now
}

func (s *Service) accessToken(ctx context.Context, tenantID uuid.UUID) (string, int64, error) {
	tok, err := s.tokens.Get(ctx, tenantID)
	if err != nil {
		return "", 0, err
	}
	if tok.AccessToken == "" {
		return "", 0, ErrTokenMissing
	}
	if tok.Expired(s.now()) {
		return "", 0, ErrTokenExpired
	}
	return tok.AccessToken, tok.MLUserID, nil
}

// SyncProduct pushes one product to the marketplace.
func (s *Service) SyncProduct(ctx context.Context, tenantID, productID uuid.UUID, force bool) (SyncResult, error) {
	if err := s.guard.Check(); err != nil {
		return SyncResult{}, err
	}
	token, _, err := s.accessToken(ctx, tenantID)
	if err != nil {
		return SyncResult{}, err
	}
	return s.syncOne(ctx, tenantID, productID, token, force)
}

// SyncBatch syncs products through the batch limiter, serial by default, and
// records one aggregate log row. Per-product failures never abort the batch.
func (s *Service) SyncBatch(ctx context.Context, tenantID uuid.UUID, productIDs []uuid.UUID, force bool) (BatchResult, error) {
	if err := s.guard.Check(); err != nil {
		return BatchResult{}, err
	}
	token, _, err := s.accessToken(ctx, tenantID)
	if err != nil {
		return BatchResult{}, err
	}

	started := time.Now()
	productIDs = uniqueIDs(productIDs)
	items := make([]BatchItem, len(productIDs))
	forEach(ctx, s.opts.BatchConcurrency, productIDs, func(ctx context.Context, i int, id uuid.UUID) {
		res, err := s.syncOne(ctx, tenantID, id, token, force)
		item := BatchItem{ProductID: id, Success: err == nil, Action: res.Action, MLItemID: res.MLItemID}
		if err != nil {
			item.Error = err.Error()
		}
		items[i] = item
	})

	result := BatchResult{Total: len(productIDs), Results: items}
	for i := range items {
		if items[i].ProductID == uuid.Nil {
			items[i] = BatchItem{ProductID: productIDs[i], Error: "not attempted: " + errString(ctx.Err())}
		}
		if items[i].Success {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	status := shared.StatusSuccess
	switch {
	case result.Failed > 0 && result.Succeeded > 0:
		status = shared.StatusPartialSuccess
	case result.Failed > 0:
		status = shared.StatusError
	}
	s.record(ctx, shared.SyncLog{
		TenantID:      tenantID,
		OperationType: shared.OpSyncBatch,
		EntityType:    "product",
		Status:        status,
		RequestData:   map[string]any{"product_ids": productIDs, "force_update": force},
		ResponseData:  result,
		ExecutionTime: time.Since(started),
	})
	return result, nil
}

// uniqueIDs drops repeated ids, keeping first-seen order. Two concurrent syncs
// of one unlinked product would both create a listing.
func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *Service) syncOne(ctx context.Context, tenantID, productID uuid.UUID, token string, force bool) (SyncResult, error) {
	started := time.Now()
	product, err := s.products.GetProduct(ctx, tenantID, productID)
	if err != nil {
		return SyncResult{}, err
	}
	mapping, err := s.products.GetMapping(ctx, tenantID, productID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("load mapping: %w", err)
	}

	result := SyncResult{ProductID: productID}
	if upToDate(product, mapping) && !force {
		result.Action = ActionSkipped
		result.MLItemID = mapping.MLItemID
		result.Permalink = mapping.MLPermalink
		return result, nil
	}

	if _, err := s.products.UpsertMapping(ctx, products.Mapping{
		TenantID:   tenantID,
		ProductID:  productID,
		SyncStatus: products.SyncStatusSyncing,
	}); err != nil {
		return SyncResult{}, fmt.Errorf("mark syncing: %w", err)
	}

	result, payload, err := s.push(ctx, product, mapping, token)
	if err != nil {
		s.fail(ctx, tenantID, productID, mapping, payload, err, time.Since(started))
		return result, err
	}
	return result, nil
}

// upToDate reports whether a linked product has not changed since its last
// successful sync.
func upToDate(p products.Product, m *products.Mapping) bool {
	if !m.Linked() || m.SyncStatus != products.SyncStatusSynced || m.LastSyncAt == nil {
		return false
	}
	return !m.LastSyncAt.Before(p.UpdatedAt)
}

func (s *Service) push(ctx context.Context, product products.Product, mapping *products.Mapping, token string) (SyncResult, map[string]any, error) {
	started := time.Now()
	result := SyncResult{ProductID: product.ID}

	categoryID, err := s.marketplaceCategory(ctx, product)
	if err != nil {
		return result, nil, err
	}
	images, err := s.products.ListImages(ctx, product.TenantID, product.ID)
	if err != nil {
		return result, nil, fmt.Errorf("load images: %w", err)
	}
	pictures := make([]string, 0, len(images))
	for _, img := range images {
		pictures = append(pictures, img.URL)
	}

	if product.FromMarketplace() && mapping.Linked() && needsBackfill(product, pictures) {
		product, pictures = s.backfill(ctx, product, pictures, mapping.MLItemID, token)
	}

	if missing := missingFields(product, pictures); len(missing) > 0 {
		return result, nil, &MissingFieldsError{Fields: missing}
	}

	price := s.listingPrice(product)
	result.Price = price
	payload := s.itemPayload(product, categoryID, price, pictures, mapping.Linked())

	var item mercadolivre.Item
	op := shared.OpCreateProduct
	if mapping.Linked() {
		op = shared.OpUpdateProduct
		result.Action = ActionUpdated
		item, err = s.ml.UpdateItem(ctx, token, mapping.MLItemID, payload)
	} else {
		result.Action = ActionCreated
		item, err = s.ml.CreateItem(ctx, token, payload)
	}
	if err != nil {
		return result, payload, err
	}
	if item.ID == "" && mapping.Linked() {
		item.ID = mapping.MLItemID
	}
	if item.ID == "" {
		return result, payload, errors.New("marketplace returned an item without id")
	}

	// The listing exists upstream now; losing the mapping to a cancelled
	// request would make the next sync publish it again.
	storeCtx, cancel := detached(ctx)
	defer cancel()
	now := s.now().UTC()
	saved := mappingFromItem(product.TenantID, product.ID, item, now)
	if saved.MLPrice == nil {
		saved.MLPrice = &price
	}
	if saved.MLCategoryID == "" {
		saved.MLCategoryID = categoryID
	}
	if _, err := s.products.UpsertMapping(storeCtx, saved); err != nil {
		return result, payload, fmt.Errorf("store mapping: %w", err)
	}

	result.MLItemID = item.ID
	result.Permalink = item.Permalink
	s.record(storeCtx, shared.SyncLog{
		TenantID:      product.TenantID,
		OperationType: op,
		EntityType:    "product",
		EntityID:      product.ID.String(),
		Status:        shared.StatusSuccess,
		RequestData:   payload,
		ResponseData:  map[string]any{"id": item.ID, "permalink": item.Permalink, "status": item.Status},
		ExecutionTime: time.Since(started),
	})
	return result, payload, nil
}

func (s *Service) marketplaceCategory(ctx context.Context, product products.Product) (string, error) {
	if product.CategoryID == nil {
		return products.DefaultCategoryID, nil
	}
	id, err := s.products.MarketplaceCategory(ctx, product.TenantID, *product.CategoryID)
	if err != nil {
		return "", fmt.Errorf("resolve category: %w", err)
	}
	if id == "" {
		return products.DefaultCategoryID, nil
	}
	return id, nil
}

func needsBackfill(p products.Product, pictures []string) bool {
	return p.Description == "" || p.SKU == "" || !p.HasCost() || len(pictures) == 0
}

// backfill fills missing fields from the existing listing. Only fields that
// are still empty are touched and the lookup never fails the sync.
func (s *Service) backfill(ctx context.Context, p products.Product, pictures []string, itemID, token string) (products.Product, []string) {
	item := enrich(ctx, s.logger, "item", func(ctx context.Context) (mercadolivre.Item, error) {
		return s.ml.GetItem(ctx, token, itemID)
	})
	if !item.OK() {
		return p, pictures
	}

	update := products.Update{}
	if p.Description == "" {
		desc := enrich(ctx, s.logger, "description", func(ctx context.Context) (string, error) {
			return s.ml.GetItemDescription(ctx, token, itemID)
		})
		if desc.OK() && strings.TrimSpace(desc.Value) != "" {
			p.Description = desc.Value
			update["description"] = desc.Value
		}
	}
	if p.SKU == "" {
		sku := DeriveSKU(item.Value, p.MLVariationID)
		if sku.Value != "" {
			p.SKU, p.SKUSource = sku.Value, sku.Source
			update["sku"] = sku.Value
			update["sku_source"] = string(sku.Source)
		}
	}
	if !p.HasCost() && item.Value.Price > 0 {
		cost := item.Value.Price
		p.CostUnit = &cost
		update["cost_unit"] = cost
	}
	if len(pictures) == 0 {
		pictures = pictureLinks(item.Value)
	}

	if len(update) > 0 {
		if err := s.products.UpdateProduct(ctx, p.TenantID, p.ID, update); err != nil {
			s.logger.WarnContext(ctx, "persist backfilled fields", slog.String("product_id", p.ID.String()), slog.Any("error", err))
		}
	}
	return p, pictures
}

func missingFields(p products.Product, pictures []string) []string {
	var missing []string
	if strings.TrimSpace(p.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(p.SKU) == "" {
		missing = append(missing, "sku")
	}
	if strings.TrimSpace(p.Description) == "" {
		missing = append(missing, "description")
	}
	if !p.HasCost() {
		missing = append(missing, "cost_unit")
	}
	if len(pictures) == 0 {
		missing = append(missing, "images")
	}
	return missing
}

// listingPrice uses the explicit price when set, otherwise cost times margin.
func (s *Service) listingPrice(p products.Product) float64 {
	if p.Price != nil && *p.Price > 0 {
		return roundCents(*p.Price)
	}
	return roundCents(*p.CostUnit * s.opts.PriceMargin)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func (s *Service) itemPayload(p products.Product, categoryID string, price float64, pictures []string, update bool) map[string]any {
	pics := make([]map[string]string, 0, len(pictures))
	for _, url := range pictures {
		pics = append(pics, map[string]string{"source": url})
	}
	quantity := 1
	if p.Stock != nil && *p.Stock > 0 {
		quantity = *p.Stock
	}
	payload := map[string]any{
		"title":               p.Name,
		"price":               price,
		"available_quantity":  quantity,
		"pictures":            pics,
		"seller_custom_field": p.SKU,
	}
	if update {
		return payload
	}
	payload["category_id"] = categoryID
	payload["currency_id"] = s.opts.CurrencyID
	payload["buying_mode"] = "buy_it_now"
	payload["listing_type_id"] = s.opts.ListingTypeID
	payload["condition"] = "new"
	payload["description"] = map[string]string{"plain_text": p.Description}
	payload["attributes"] = []map[string]string{{"id": sellerSKUAttribute, "value_name": p.SKU}}
	return payload
}

// fail leaves the mapping in error state with the upstream message, so a
// mapping is never stuck in syncing. It still writes when ctx was cancelled.
func (s *Service) fail(ctx context.Context, tenantID, productID uuid.UUID, mapping *products.Mapping, payload map[string]any, cause error, elapsed time.Duration) {
	ctx, cancel := detached(ctx)
	defer cancel()
	m := products.Mapping{
		TenantID:     tenantID,
		ProductID:    productID,
		SyncStatus:   products.SyncStatusError,
		ErrorMessage: errorMessage(cause),
	}
	if _, err := s.products.UpsertMapping(ctx, m); err != nil {
		s.logger.ErrorContext(ctx, "store mapping error", slog.String("product_id", productID.String()), slog.Any("error", err))
	}

	op := shared.OpCreateProduct
	if mapping.Linked() {
		op = shared.OpUpdateProduct
	}
	response := map[string]any{"error": m.ErrorMessage}
	var missing *MissingFieldsError
	if errors.As(cause, &missing) {
		response["missing_fields"] = missing.Fields
	}
	var apiErr *mercadolivre.APIError
	if errors.As(cause, &apiErr) {
		response["status"] = apiErr.Status
		response["cause"] = apiErr.Cause
	}
	s.record(ctx, shared.SyncLog{
		TenantID:      tenantID,
		OperationType: op,
		EntityType:    "product",
		EntityID:      productID.String(),
		Status:        shared.StatusError,
		RequestData:   payload,
		ResponseData:  response,
		ErrorMessage:  m.ErrorMessage,
		ExecutionTime: elapsed,
	})
}

func errorMessage(err error) string {
	var apiErr *mercadolivre.APIError
	if errors.As(err, &apiErr) && len(apiErr.Cause) > 0 {
		parts := make([]string, 0, len(apiErr.Cause)+1)
		parts = append(parts, apiErr.Error())
		for _, c := range apiErr.Cause {
			parts = append(parts, c.Message)
		}
		return strings.Join(parts, "; ")
	}
	return err.Error()
}

func errString(err error) string {
	if err == nil {
		return "cancelled"
	}
	return err.Error()
}

// bookkeepingTimeout bounds writes that outlive the request context.
const bookkeepingTimeout = 5 * time.Second

// detached keeps the values of ctx but not its cancellation, for state and log
// writes that must land after an upstream call was made.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}

// record appends a sync log row even when ctx is already cancelled.
func (s *Service) record(ctx context.Context, entry shared.SyncLog) {
	if s.logs == nil {
		return
	}
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := s.logs.Record(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "write sync log",
			slog.String("operation", entry.OperationType),
			slog.Any("error", err))
	}
}
