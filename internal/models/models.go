package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Provider identifies an external fulfillment provider
type Provider string

const (
	ProviderRide    Provider = "ride"
	ProviderFood    Provider = "food"
	ProviderGrocery Provider = "grocery"
)

// Valid reports whether p is a known provider
func (p Provider) Valid() bool {
	switch p {
	case ProviderRide, ProviderFood, ProviderGrocery:
		return true
	}
	return false
}

// CatalogItem represents a purchasable upsell offering, optionally bound
// to an external fulfillment provider. Prices are in minor currency units.
type CatalogItem struct {
	ID               string            `json:"id"`
	Category         string            `json:"category"`
	Name             string            `json:"name"`
	Price            int64             `json:"price"`
	Currency         string            `json:"currency"`
	Available        bool              `json:"available"`
	Provider         Provider          `json:"provider,omitempty"`
	ProviderMetadata map[string]string `json:"provider_metadata,omitempty"`
}

// Order is the aggregate root for a guest upsell order
type Order struct {
	ID            string `db:"id" json:"id"`
	ReservationID string `db:"reservation_id" json:"reservation_id"`
	PropertyID    string `db:"property_id" json:"property_id"`
	GuestID       string `db:"guest_id" json:"guest_id"`
	TotalAmount   int64  `db:"total_amount" json:"total_amount"`
	Currency      string `db:"currency" json:"currency"`
	Status        string `db:"status" json:"status"`
	// Mirror of the first successful dispatch; per-line provider state
	// lives in Dispatch rows.
	ExternalOrderID  string     `db:"external_order_id" json:"external_order_id,omitempty"`
	ExternalProvider string     `db:"external_provider" json:"external_provider,omitempty"`
	Priority         string     `db:"priority" json:"priority"`
	Rating           int        `db:"rating" json:"rating,omitempty"`
	ScheduledFor     *time.Time `db:"scheduled_for" json:"scheduled_for,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt      *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	RefundedAt       *time.Time `db:"refunded_at" json:"refunded_at,omitempty"`
}

// OrderLine is a priced line within an order. UnitPrice is a snapshot of the
// catalog price at creation time, never recomputed from guest input.
type OrderLine struct {
	ID            string         `db:"id" json:"id"`
	OrderID       string         `db:"order_id" json:"order_id"`
	CatalogItemID string         `db:"catalog_item_id" json:"catalog_item_id"`
	Quantity      int            `db:"quantity" json:"quantity"`
	UnitPrice     int64          `db:"unit_price" json:"unit_price"`
	Metadata      types.JSONText `db:"metadata" json:"metadata,omitempty"`
}

// Dispatch tracks one provider-bound line's external fulfillment: the
// provider, its assigned reference, and the last applied webhook state.
type Dispatch struct {
	ID          string     `db:"id" json:"id"`
	OrderID     string     `db:"order_id" json:"order_id"`
	LineID      string     `db:"line_id" json:"line_id"`
	Provider    Provider   `db:"provider" json:"provider"`
	ExternalRef string     `db:"external_ref" json:"external_ref"`
	Status      string     `db:"status" json:"status"`
	LastEventAt *time.Time `db:"last_event_at" json:"last_event_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Order statuses
const (
	OrderStatusPending    = "PENDING"
	OrderStatusConfirmed  = "CONFIRMED"
	OrderStatusInProgress = "IN_PROGRESS"
	OrderStatusCompleted  = "COMPLETED"
	OrderStatusCancelled  = "CANCELLED"
	OrderStatusRefunded   = "REFUNDED"
)

var statusRank = map[string]int{
	OrderStatusPending:    0,
	OrderStatusConfirmed:  1,
	OrderStatusInProgress: 2,
	OrderStatusCompleted:  3,
}

// IsValidStatus reports whether s is a known order status
func IsValidStatus(s string) bool {
	if _, ok := statusRank[s]; ok {
		return true
	}
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// IsTerminalStatus reports whether a status admits no further transitions
func IsTerminalStatus(status string) bool {
	switch status {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// CanTransition reports whether an order may move from one status to another.
// Forward movement along PENDING -> CONFIRMED -> IN_PROGRESS -> COMPLETED may
// skip intermediate states: a provider can report "delivered" without us ever
// having seen "picked_up". CANCELLED and REFUNDED are reachable from any
// non-terminal state. Regressions are rejected.
func CanTransition(from, to string) bool {
	if from == to {
		return false
	}
	if IsTerminalStatus(from) {
		return false
	}
	if to == OrderStatusCancelled || to == OrderStatusRefunded {
		return true
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// Priorities for dispatch urgency
const (
	PriorityLow    = "LOW"
	PriorityNormal = "NORMAL"
	PriorityHigh   = "HIGH"
	PriorityUrgent = "URGENT"
)

var slaMinutes = map[string]int{
	PriorityLow:    1440,
	PriorityNormal: 240,
	PriorityHigh:   60,
	PriorityUrgent: 15,
}

// SLADeadline computes the fulfillment deadline for a priority
func SLADeadline(createdAt time.Time, priority string) time.Time {
	minutes, ok := slaMinutes[priority]
	if !ok {
		minutes = slaMinutes[PriorityNormal]
	}
	return createdAt.Add(time.Duration(minutes) * time.Minute)
}

// IsOverdue reports whether an order has blown its SLA deadline
func IsOverdue(o *Order, now time.Time) bool {
	if o.Status == OrderStatusCompleted || o.Status == OrderStatusCancelled {
		return false
	}
	return now.After(SLADeadline(o.CreatedAt, o.Priority))
}

// ProcessedEvent is one row of the webhook idempotency ledger
type ProcessedEvent struct {
	Provider    Provider  `db:"provider"`
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
