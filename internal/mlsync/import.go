package mlsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/precifica/precifica/internal/mercadolivre"
	"github.com/precifica/precifica/internal/products"
	"github.com/precifica/precifica/internal/shared"
)

type importOutcome int

const (
	importCreated importOutcome = iota
	importSkipped
)

// importTally collects per-item outcomes from concurrent workers.
type importTally struct {
	mu     sync.Mutex
	result ImportResult
}

func (t *importTally) add(itemID string, outcome importOutcome, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result.TotalProcessed++
	switch {
	case err != nil:
		t.result.Failed++
		t.result.Errors = append(t.result.Errors, fmt.Sprintf("%s: %v", itemID, err))
	case outcome == importSkipped:
		t.result.Skipped++
	default:
		t.result.Succeeded++
	}
}

// ImportFromML pages through the seller's active listings and creates a
// product and mapping for every item not mapped yet. Mapped items are skipped
// without being fetched.
func (s *Service) ImportFromML(ctx context.Context, tenantID uuid.UUID) (ImportResult, error) {
	token, sellerID, err := s.accessToken(ctx, tenantID)
	if err != nil {
		return ImportResult{}, err
	}
	started := time.Now()
	if sellerID == 0 {
		me, err := s.ml.GetMe(ctx, token)
		if err != nil {
			return ImportResult{}, fmt.Errorf("resolve seller: %w", err)
		}
		sellerID = me.ID
	}

	tally := &importTally{}
	seen := make(map[string]struct{})
	limit := s.opts.ImportPageSize
	var searchErr error
	for offset := 0; ; offset += limit {
		page, err := s.ml.SearchActiveItems(ctx, token, sellerID, offset, limit)
		if err != nil {
			searchErr = fmt.Errorf("search offset %d: %w", offset, err)
			break
		}
		tally.result.Pages++

		ids := make([]string, 0, len(page.Results))
		for _, id := range page.Results {
			if _, dup := seen[id]; dup || id == "" {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		forEach(ctx, s.opts.ImportConcurrency, ids, func(ctx context.Context, _ int, itemID string) {
			outcome, err := s.importItem(ctx, tenantID, token, itemID)
			tally.add(itemID, outcome, err)
		})

		if len(page.Results) == 0 || offset+limit >= page.Paging.Total {
			break
		}
		if err := ctx.Err(); err != nil {
			searchErr = err
			break
		}
	}

	result := tally.result
	if searchErr != nil {
		result.Errors = append(result.Errors, searchErr.Error())
	}
	status := shared.StatusSuccess
	if result.Failed > 0 || searchErr != nil {
		status = shared.StatusPartialSuccess
	}
	if searchErr != nil && result.TotalProcessed == 0 {
		status = shared.StatusError
	}
	s.record(ctx, shared.SyncLog{
		TenantID:      tenantID,
		OperationType: shared.OpImportFromML,
		EntityType:    "seller",
		EntityID:      fmt.Sprint(sellerID),
		Status:        status,
		ResponseData:  result,
		ErrorMessage:  strings.Join(result.Errors, "; "),
		ExecutionTime: time.Since(started),
	})
	s.logger.InfoContext(ctx, "import finished",
		slog.String("tenant_id", tenantID.String()),
		slog.Int("total_processed", result.TotalProcessed),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed),
		slog.Int("pages", result.Pages))

	if status == shared.StatusError {
		return result, searchErr
	}
	return result, nil
}

func (s *Service) importItem(ctx context.Context, tenantID uuid.UUID, token, itemID string) (importOutcome, error) {
	existing, err := s.products.FindMappingByItem(ctx, tenantID, itemID)
	if err != nil {
		return importSkipped, fmt.Errorf("lookup mapping: %w", err)
	}
	if existing != nil {
		return importSkipped, nil
	}

	item, err := s.ml.GetItem(ctx, token, itemID)
	if err != nil {
		return importCreated, err
	}
	product := s.productFromItem(ctx, tenantID, token, item)
	mapping := mappingFromItem(tenantID, uuid.Nil, item, s.now().UTC())

	if _, err := s.products.CreateImported(ctx, product, mapping); err != nil {
		if errors.Is(err, products.ErrAlreadyImported) {
			return importSkipped, nil
		}
		return importCreated, err
	}
	return importCreated, nil
}

// productFromItem maps a listing onto a new local product. Description and
// category path are optional enrichments.
func (s *Service) productFromItem(ctx context.Context, tenantID uuid.UUID, token string, item mercadolivre.Item) products.Product {
	sku := DeriveSKU(item, "")
	p := products.Product{
		TenantID:      tenantID,
		Name:          item.Title,
		SKU:           sku.Value,
		SKUSource:     sku.Source,
		Origin:        products.OriginMercadoLivre,
		Pictures:      picturesJSON(item),
		Attributes:    attributesJSON(item),
		MLVariationID: sku.VariationID,
	}
	if item.Price > 0 {
		cost := item.Price
		p.CostUnit = &cost
	}
	stock := item.AvailableQuantity
	p.Stock = &stock
	if grams, ok := itemWeightGrams(item.Attributes); ok {
		p.WeightGrams = &grams
	}

	desc := enrich(ctx, s.logger, "description", func(ctx context.Context) (string, error) {
		return s.ml.GetItemDescription(ctx, token, item.ID)
	})
	if desc.OK() {
		p.Description = desc.Value
	}
	if item.CategoryID != "" && s.categories != nil {
		category := enrich(ctx, s.logger, "category", func(ctx context.Context) (mercadolivre.Category, error) {
			return s.categories.GetCategory(ctx, token, item.CategoryID)
		})
		if category.OK() {
			p.MLCategoryPath = category.Value.Path()
		}
	}
	return p
}
