package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/precifica/precifica/internal/mercadolivre"
	"github.com/precifica/precifica/internal/mlsync"
	"github.com/precifica/precifica/internal/tokens"
)

// Marketplace fetches the resources notifications point at.
type Marketplace interface {
	GetItem(ctx context.Context, token, itemID string) (mercadolivre.Item, error)
	GetOrder(ctx context.Context, token, orderID string) (mercadolivre.Order, error)
}

// ItemUpdater applies an item to the product mapped to it.
type ItemUpdater interface {
	UpdateFromItem(ctx context.Context, tenantID uuid.UUID, token string, item mercadolivre.Item) (mlsync.ItemUpdate, error)
}

// TokenStore loads tenant credentials.
type TokenStore interface {
	Get(ctx context.Context, tenantID uuid.UUID) (tokens.Token, error)
}

// Processor dispatches verified notifications by topic.
type Processor struct {
	store   Store
	tokens  TokenStore
	ml      Marketplace
	updater ItemUpdater
	logger  *slog.Logger
}

// NewProcessor constructs a Processor.
func NewProcessor(store Store, tokenStore TokenStore, ml Marketplace, updater ItemUpdater, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: store, tokens: tokenStore, ml: ml, updater: updater, logger: logger}
}

// Process runs the topic handler. Handler failures end up in Outcome.Error.
func (p *Processor) Process(ctx context.Context, tenantID uuid.UUID, n Notification) Outcome {
	outcome := Outcome{Topic: n.Topic}
	var (
		updated any
		err     error
	)
	switch n.Topic {
	case TopicOrders:
		updated, err = p.handleOrder(ctx, tenantID, n.ResourceID())
	case TopicItems:
		updated, err = p.handleItem(ctx, tenantID, n.ResourceID())
	default:
		p.logger.InfoContext(ctx, "webhook topic ignored",
			slog.String("topic", n.Topic),
			slog.String("resource", n.Resource))
		outcome.Ignored = true
		return outcome
	}
	if err != nil {
		p.logger.WarnContext(ctx, "webhook handler failed",
			slog.String("topic", n.Topic),
			slog.String("resource", n.Resource),
			slog.String("tenant_id", tenantID.String()),
			slog.Bool("mapping_missing", errors.Is(err, mlsync.ErrMappingNotFound)),
			slog.Any("error", err))
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Updated = updated
	return outcome
}

func (p *Processor) token(ctx context.Context, tenantID uuid.UUID) (string, error) {
	tok, err := p.tokens.Get(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (p *Processor) handleOrder(ctx context.Context, tenantID uuid.UUID, orderID string) (any, error) {
	if orderID == "" {
		return nil, errors.New("order id missing from resource")
	}
	token, err := p.token(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	order, err := p.ml.GetOrder(ctx, token, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", orderID, err)
	}
	raw, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}

	items := make([]string, 0, len(order.OrderItems))
	for _, oi := range order.OrderItems {
		line := OrderLine{
			TenantID:      tenantID,
			MLOrderID:     strconv.FormatInt(order.ID, 10),
			MLItemID:      oi.Item.ID,
			Title:         oi.Item.Title,
			Status:        order.Status,
			Quantity:      oi.Quantity,
			UnitPrice:     oi.UnitPrice,
			TotalAmount:   order.TotalAmount,
			CurrencyID:    order.CurrencyID,
			BuyerNickname: order.Buyer.Nickname,
			DateCreated:   order.DateCreated,
			Raw:           raw,
		}
		if oi.Item.VariationID != 0 {
			line.VariationID = strconv.FormatInt(oi.Item.VariationID, 10)
		}
		if order.ID == 0 {
			line.MLOrderID = orderID
		}
		if err := p.store.UpsertOrderLine(ctx, line); err != nil {
			return nil, fmt.Errorf("store order %s item %s: %w", orderID, oi.Item.ID, err)
		}
		items = append(items, oi.Item.ID)
	}
	return map[string]any{"order_id": orderID, "status": order.Status, "items": items}, nil
}

func (p *Processor) handleItem(ctx context.Context, tenantID uuid.UUID, itemID string) (any, error) {
	if itemID == "" {
		return nil, errors.New("item id missing from resource")
	}
	token, err := p.token(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	item, err := p.ml.GetItem(ctx, token, itemID)
	if err != nil {
		return nil, fmt.Errorf("fetch item %s: %w", itemID, err)
	}
	update, err := p.updater.UpdateFromItem(ctx, tenantID, token, item)
	if err != nil {
		return nil, err
	}
	return update, nil
}
