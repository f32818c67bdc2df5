package mlsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/precifica/precifica/internal/mercadolivre"
	"github.com/precifica/precifica/internal/platform/httpx"
	"github.com/precifica/precifica/internal/products"
	"github.com/precifica/precifica/internal/shared"
)

const maxActionBody = 1 << 20

// Operations is the contract the action endpoint dispatches to.
type Operations interface {
	Status(ctx context.Context, tenantID uuid.UUID) (StatusReport, error)
	SyncProduct(ctx context.Context, tenantID, productID uuid.UUID, force bool) (SyncResult, error)
	SyncBatch(ctx context.Context, tenantID uuid.UUID, productIDs []uuid.UUID, force bool) (BatchResult, error)
	ImportFromML(ctx context.Context, tenantID uuid.UUID) (ImportResult, error)
	LinkProduct(ctx context.Context, tenantID, productID uuid.UUID, itemID string) (products.Mapping, error)
	ListProducts(ctx context.Context, tenantID uuid.UUID) ([]products.Listing, error)
	CreateAd(ctx context.Context, tenantID uuid.UUID, adData map[string]any) (mercadolivre.Item, error)
	ResyncProduct(ctx context.Context, tenantID, productID uuid.UUID) (ResyncResult, error)
}

// Handler serves the single action endpoint of the sync API.
type Handler struct {
	logger    *slog.Logger
	ops       Operations
	guard     WriteGuard
	validator *validator.Validate
	limit     int
}

// NewHandler constructs the action handler. requestsPerMinute bounds calls per
// tenant; zero disables the limit.
func NewHandler(logger *slog.Logger, ops Operations, guard WriteGuard, requestsPerMinute int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		ops:       ops,
		guard:     guard,
		validator: validator.New(),
		limit:     requestsPerMinute,
	}
}

// MountRoutes registers the endpoint on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(gr chi.Router) {
		if h.limit > 0 {
			gr.Use(httprate.Limit(h.limit, time.Minute,
				httprate.WithKeyFuncs(tenantKey),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "")
				}),
			))
		}
		gr.Post("/api/ml/sync", h.handleAction)
	})
}

func tenantKey(r *http.Request) (string, error) {
	if p, ok := shared.PrincipalFromContext(r.Context()); ok {
		return "tenant:" + p.TenantID.String(), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

// Action names accepted by the endpoint.
const (
	ActionGetStatus     = "get_status"
	ActionSyncProduct   = "sync_product"
	ActionSyncBatch     = "sync_batch"
	ActionImportFromML  = "import_from_ml"
	ActionLinkProduct   = "link_product"
	ActionGetProducts   = "get_products"
	ActionCreateAd      = "create_ad"
	ActionResyncProduct = "resync_product"
)

type actionEnvelope struct {
	Action string `json:"action" validate:"required,oneof=get_status sync_product sync_batch import_from_ml link_product get_products create_ad resync_product"`
}

type syncProductRequest struct {
	ProductID   string `json:"product_id" validate:"required,uuid"`
	ForceUpdate bool   `json:"force_update"`
}

type syncBatchRequest struct {
	ProductIDs  []string `json:"product_ids" validate:"required,min=1,max=200,unique,dive,uuid"`
	ForceUpdate bool     `json:"force_update"`
}

type linkProductRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	MLItemID  string `json:"ml_item_id" validate:"required,min=3,max=40"`
}

type createAdRequest struct {
	AdData map[string]any `json:"ad_data" validate:"required"`
}

type resyncProductRequest struct {
	ProductID string `json:"productId" validate:"required,uuid"`
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxActionBody))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unable to read body")
		return
	}
	var envelope actionEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(envelope); err != nil {
		h.respondValidation(w, err)
		return
	}

	switch envelope.Action {
	case ActionSyncProduct, ActionSyncBatch, ActionCreateAd:
		if err := h.guard.Check(); err != nil {
			h.logger.Warn("marketplace write blocked",
				slog.String("action", envelope.Action),
				slog.String("tenant_id", principal.TenantID.String()))
			httpx.RespondError(w, err)
			return
		}
	}

	ctx := r.Context()
	tenantID := principal.TenantID
	var result any
	switch envelope.Action {
	case ActionGetStatus:
		result, err = h.ops.Status(ctx, tenantID)
	case ActionGetProducts:
		result, err = h.ops.ListProducts(ctx, tenantID)
	case ActionImportFromML:
		result, err = h.ops.ImportFromML(ctx, tenantID)
	case ActionSyncProduct:
		var req syncProductRequest
		if !h.decode(w, body, &req) {
			return
		}
		result, err = h.ops.SyncProduct(ctx, tenantID, uuid.MustParse(req.ProductID), req.ForceUpdate)
	case ActionSyncBatch:
		var req syncBatchRequest
		if !h.decode(w, body, &req) {
			return
		}
		ids := make([]uuid.UUID, 0, len(req.ProductIDs))
		for _, id := range req.ProductIDs {
			ids = append(ids, uuid.MustParse(id))
		}
		result, err = h.ops.SyncBatch(ctx, tenantID, ids, req.ForceUpdate)
	case ActionLinkProduct:
		var req linkProductRequest
		if !h.decode(w, body, &req) {
			return
		}
		result, err = h.ops.LinkProduct(ctx, tenantID, uuid.MustParse(req.ProductID), req.MLItemID)
	case ActionCreateAd:
		var req createAdRequest
		if !h.decode(w, body, &req) {
			return
		}
		result, err = h.ops.CreateAd(ctx, tenantID, req.AdData)
	case ActionResyncProduct:
		var req resyncProductRequest
		if !h.decode(w, body, &req) {
			return
		}
		result, err = h.ops.ResyncProduct(ctx, tenantID, uuid.MustParse(req.ProductID))
	}
	if err != nil {
		h.respondError(w, envelope.Action, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"success": true, "data": result})
}

// decode unmarshals and validates the action payload, answering 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, body []byte, dest any) bool {
	if err := json.Unmarshal(body, dest); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if err := h.validator.Struct(dest); err != nil {
		h.respondValidation(w, err)
		return false
	}
	return true
}

func (h *Handler) respondValidation(w http.ResponseWriter, err error) {
	fields := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
	}
	httpx.ProblemWithExtra(w, http.StatusBadRequest, "Validation Failed", err.Error(), map[string]any{"fields": fields})
}

func (h *Handler) respondError(w http.ResponseWriter, action string, err error) {
	var missing *MissingFieldsError
	if errors.As(err, &missing) {
		httpx.ProblemWithExtra(w, http.StatusBadRequest, "Incomplete Product", err.Error(),
			map[string]any{"missing_fields": missing.Fields})
		return
	}
	status := httpx.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("sync action failed", slog.String("action", action), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
