package models

import "time"

// Event types published to the fulfillment event stream
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeLineDispatched     = "LINE_DISPATCHED"
	EventTypeLineDispatchFailed = "LINE_DISPATCH_FAILED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeOrderOverdue       = "ORDER_OVERDUE"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order passes catalog validation
// and is persisted
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     string          `json:"order_id"`
	GuestID     string          `json:"guest_id"`
	PropertyID  string          `json:"property_id"`
	TotalAmount int64           `json:"total_amount"`
	Currency    string          `json:"currency"`
	Lines       []OrderLineData `json:"lines"`
}

// LineDispatchedEvent published when a provider accepts a line
// and assigns an external reference
type LineDispatchedEvent struct {
	BaseEvent
	OrderID     string   `json:"order_id"`
	LineID      string   `json:"line_id"`
	Provider    Provider `json:"provider"`
	ExternalRef string   `json:"external_ref"`
}

// LineDispatchFailedEvent published when provider dispatch for a line fails.
// The order itself survives; this is the channel through which staff tooling
// learns about unresolved lines.
type LineDispatchFailedEvent struct {
	BaseEvent
	OrderID  string   `json:"order_id"`
	LineID   string   `json:"line_id"`
	Provider Provider `json:"provider"`
	Reason   string   `json:"reason"`
}

// OrderStatusChangedEvent published on every applied status transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID    string   `json:"order_id"`
	FromStatus string   `json:"from_status"`
	ToStatus   string   `json:"to_status"`
	Provider   Provider `json:"provider,omitempty"`
}

// OrderOverdueEvent published by the sweeper when an order passes its
// SLA deadline without reaching a terminal state
type OrderOverdueEvent struct {
	BaseEvent
	OrderID  string    `json:"order_id"`
	Priority string    `json:"priority"`
	Deadline time.Time `json:"deadline"`
}

// OrderLineData represents line data in events
type OrderLineData struct {
	LineID        string   `json:"line_id"`
	CatalogItemID string   `json:"catalog_item_id"`
	Quantity      int      `json:"quantity"`
	UnitPrice     int64    `json:"unit_price"`
	Provider      Provider `json:"provider,omitempty"`
}
