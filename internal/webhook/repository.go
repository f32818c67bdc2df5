package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists webhook events and the orders they carry.
type Store interface {
	RecordEvent(ctx context.Context, e Event) (uuid.UUID, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, outcome Outcome) error
	UpsertOrderLine(ctx context.Context, line OrderLine) error
}

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a PGStore.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// recordEventSQL keeps the first delivery's payload, attempts and received_at.
// A redelivery of the same (tenant, topic, resource) only bumps deliveries and
// last_received_at; processing state is rewritten by MarkProcessed.
const recordEventSQL = `INSERT INTO ml_webhook_events
	(tenant_id, topic, resource, ml_user_id, application_id, attempts, payload, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (tenant_id, topic, resource) DO UPDATE SET
		deliveries = ml_webhook_events.deliveries + 1,
		last_received_at = EXCLUDED.received_at
	RETURNING id`

// RecordEvent inserts the event, or returns the id of the stored one on a
// redelivery.
func (s *PGStore) RecordEvent(ctx context.Context, e Event) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, recordEventSQL,
		e.TenantID, e.Topic, e.Resource, e.MLUserID, e.ApplicationID, e.Attempts, e.Payload, e.ReceivedAt.UTC(),
	).Scan(&id)
	return id, err
}

// MarkProcessed stamps processed_at and stores the update or error detail.
func (s *PGStore) MarkProcessed(ctx context.Context, id uuid.UUID, outcome Outcome) error {
	var details []byte
	if outcome.Updated != nil {
		raw, err := json.Marshal(outcome.Updated)
		if err != nil {
			return err
		}
		details = raw
	}
	_, err := s.pool.Exec(ctx, `UPDATE ml_webhook_events
		SET processed_at = $2, update_details = $3, error_details = NULLIF($4, '')
		WHERE id = $1`, id, time.Now().UTC(), details, outcome.Error)
	return err
}

// UpsertOrderLine writes one order line keyed by (tenant, order, item).
func (s *PGStore) UpsertOrderLine(ctx context.Context, line OrderLine) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO ml_orders
		(tenant_id, ml_order_id, ml_item_id, ml_variation_id, title, status, quantity, unit_price,
		 total_amount, currency_id, buyer_nickname, date_created, raw, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13, NOW())
		ON CONFLICT (tenant_id, ml_order_id, ml_item_id) DO UPDATE SET
			ml_variation_id = EXCLUDED.ml_variation_id,
			title = EXCLUDED.title,
			status = EXCLUDED.status,
			quantity = EXCLUDED.quantity,
			unit_price = EXCLUDED.unit_price,
			total_amount = EXCLUDED.total_amount,
			buyer_nickname = EXCLUDED.buyer_nickname,
			raw = EXCLUDED.raw,
			updated_at = NOW()`,
		line.TenantID, line.MLOrderID, line.MLItemID, line.VariationID, line.Title, line.Status, line.Quantity,
		line.UnitPrice, line.TotalAmount, line.CurrencyID, line.BuyerNickname, line.DateCreated.UTC(), line.Raw)
	return err
}

var _ Store = (*PGStore)(nil)
