// Package webhook receives marketplace notifications.
package webhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Topics handled by the processor. Anything else is recorded and ignored.
const (
	TopicOrders = "orders_v2"
	TopicItems  = "items"
)

// Notification is the body the marketplace posts for every event.
type Notification struct {
	ID            string `json:"_id,omitempty"`
	Resource      string `json:"resource" validate:"required,startswith=/"`
	UserID        int64  `json:"user_id" validate:"required,gt=0"`
	Topic         string `json:"topic" validate:"required,max=64"`
	ApplicationID int64  `json:"application_id" validate:"required,gt=0"`
	Attempts      int    `json:"attempts" validate:"gte=0"`
	Sent          string `json:"sent,omitempty"`
	Received      string `json:"received,omitempty"`
}

// ResourceID returns the last path element of the resource, e.g. the order
// id of "/orders/2000001234".
func (n Notification) ResourceID() string {
	trimmed := strings.TrimRight(n.Resource, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

// Event is a stored notification keyed by (tenant, topic, resource).
type Event struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Topic         string
	Resource      string
	MLUserID      int64
	ApplicationID int64
	Attempts      int
	Payload       json.RawMessage
	ReceivedAt    time.Time
}

// Outcome is what processing a notification produced. Error is set when the
// topic handler failed; the failure is stored, not returned to the caller.
type Outcome struct {
	Topic   string `json:"topic"`
	Ignored bool   `json:"ignored,omitempty"`
	Updated any    `json:"updated,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Failed reports whether the topic handler failed.
func (o Outcome) Failed() bool {
	return o.Error != ""
}

// OrderLine is one row of ml_orders.
type OrderLine struct {
	TenantID      uuid.UUID
	MLOrderID     string
	MLItemID      string
	VariationID   string
	Title         string
	Status        string
	Quantity      int
	UnitPrice     float64
	TotalAmount   float64
	CurrencyID    string
	BuyerNickname string
	DateCreated   time.Time
	Raw           json.RawMessage
}
