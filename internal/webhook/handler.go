package webhook

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

	"github.com/precifica/precifica/internal/platform/httpx"
	"github.com/precifica/precifica/internal/shared"
	"github.com/precifica/precifica/internal/tokens"
)

const maxWebhookBody = 256 << 10

// TenantResolver maps a marketplace account to its tenant.
type TenantResolver interface {
	FindTenantByMLUser(ctx context.Context, mlUserID int64) (uuid.UUID, error)
}

// SyncLogWriter appends audit rows.
type SyncLogWriter interface {
	Record(ctx context.Context, log shared.SyncLog) error
}

// Handler receives marketplace notifications.
type Handler struct {
	logger    *slog.Logger
	secret    string
	tenants   TenantResolver
	store     Store
	processor *Processor
	logs      SyncLogWriter
	validator *validator.Validate
	limit     int
	now       func() time.Time
}

// NewHandler constructs the webhook handler. requestsPerMinute limits calls
// per source IP; zero disables it.
func NewHandler(logger *slog.Logger, secret string, tenants TenantResolver, store Store, processor *Processor, logs SyncLogWriter, requestsPerMinute int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger.With(slog.String("component", "webhook")),
		secret:    secret,
		tenants:   tenants,
		store:     store,
		processor: processor,
		logs:      logs,
		validator: validator.New(),
		limit:     requestsPerMinute,
		now:       time.Now,
	}
}

// MountRoutes registers the webhook endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(gr chi.Router) {
		if h.limit > 0 {
			gr.Use(httprate.LimitByIP(h.limit, time.Minute))
		}
		gr.Post("/api/ml/webhook", h.handleNotification)
	})
}

func (h *Handler) handleNotification(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unable to read body")
		return
	}
	// The signature covers the exact bytes received, so it is checked before decoding.
	if !VerifySignature(body, r.Header.Get(SignatureHeader), h.secret) {
		h.logger.Warn("webhook signature rejected", slog.String("remote", r.RemoteAddr))
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid signature")
		return
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(n); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	ctx := r.Context()
	tenantID, err := h.tenants.FindTenantByMLUser(ctx, n.UserID)
	if err != nil {
		if errors.Is(err, tokens.ErrTokenMissing) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown marketplace account")
			return
		}
		h.logger.Error("resolve webhook tenant", slog.Int64("ml_user_id", n.UserID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	eventID, err := h.store.RecordEvent(ctx, Event{
		TenantID:      tenantID,
		Topic:         n.Topic,
		Resource:      n.Resource,
		MLUserID:      n.UserID,
		ApplicationID: n.ApplicationID,
		Attempts:      n.Attempts,
		Payload:       body,
		ReceivedAt:    h.now(),
	})
	if err != nil {
		h.logger.Warn("record webhook event", slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
		eventID = uuid.Nil
	}

	outcome := h.processor.Process(ctx, tenantID, n)

	if eventID != uuid.Nil {
		if err := h.store.MarkProcessed(ctx, eventID, outcome); err != nil {
			h.logger.Warn("mark webhook event processed", slog.String("event_id", eventID.String()), slog.Any("error", err))
		}
	}
	h.record(ctx, tenantID, n, outcome, time.Since(started))

	httpx.JSON(w, http.StatusOK, map[string]any{"received": true, "outcome": outcome})
}

func (h *Handler) record(ctx context.Context, tenantID uuid.UUID, n Notification, outcome Outcome, elapsed time.Duration) {
	if h.logs == nil {
		return
	}
	status := shared.StatusSuccess
	if outcome.Failed() {
		status = shared.StatusError
	}
	err := h.logs.Record(ctx, shared.SyncLog{
		TenantID:      tenantID,
		OperationType: shared.OpWebhook,
		EntityType:    n.Topic,
		EntityID:      n.ResourceID(),
		Status:        status,
		RequestData:   n,
		ResponseData:  outcome,
		ErrorMessage:  outcome.Error,
		ExecutionTime: elapsed,
	})
	if err != nil {
		h.logger.Warn("write sync log", slog.Any("error", err))
	}
}
