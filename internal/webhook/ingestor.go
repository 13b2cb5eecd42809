package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/provider"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Typed ingestion failures
var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnknownProvider  = errors.New("unknown webhook provider")
)

// Store is the persistence contract the ingestor depends on
type Store interface {
	IsEventProcessed(ctx context.Context, provider models.Provider, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, provider models.Provider, eventID, eventType string) (bool, error)
	GetDispatchByExternalRef(ctx context.Context, provider models.Provider, ref string) (*models.Dispatch, error)
	UpdateDispatchStatus(ctx context.Context, dispatchID, status string, eventAt time.Time) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID, status string) error
}

// EventSink publishes status changes driven by webhook events
type EventSink interface {
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// Ack is the success acknowledgement returned to the provider
type Ack struct {
	EventID     string    `json:"eventId"`
	ProcessedAt time.Time `json:"processedAt"`
}

// envelope is the normalized view of one provider callback
type envelope struct {
	eventID    string
	eventType  string
	ref        string
	occurredAt time.Time
}

// per-provider event vocabulary mapped onto internal order statuses
var statusMaps = map[models.Provider]map[string]string{
	models.ProviderRide: {
		"created":     models.OrderStatusConfirmed,
		"accepted":    models.OrderStatusConfirmed,
		"arriving":    models.OrderStatusInProgress,
		"picked_up":   models.OrderStatusInProgress,
		"in_progress": models.OrderStatusInProgress,
		"dropped_off": models.OrderStatusCompleted,
		"completed":   models.OrderStatusCompleted,
		"cancelled":   models.OrderStatusCancelled,
	},
	models.ProviderFood: {
		"created":            models.OrderStatusConfirmed,
		"confirmed":          models.OrderStatusConfirmed,
		"picked_up":          models.OrderStatusInProgress,
		"enroute_to_dropoff": models.OrderStatusInProgress,
		"delivering":         models.OrderStatusInProgress,
		"delivered":          models.OrderStatusCompleted,
		"cancelled":          models.OrderStatusCancelled,
	},
	models.ProviderGrocery: {
		"created":    models.OrderStatusConfirmed,
		"confirmed":  models.OrderStatusConfirmed,
		"shopping":   models.OrderStatusInProgress,
		"delivering": models.OrderStatusInProgress,
		"delivered":  models.OrderStatusCompleted,
		"cancelled":  models.OrderStatusCancelled,
	},
}

// Ingestor authenticates inbound provider callbacks, maps provider event
// vocabulary onto internal status transitions and applies them exactly once
// per physical event. Providers deliver at-least-once; replays and stale
// events are acknowledged without side effects.
type Ingestor struct {
	store   Store
	events  EventSink
	clients map[models.Provider]provider.Client
	logger  *zap.Logger
}

// NewIngestor creates a webhook ingestor
func NewIngestor(store Store, events EventSink, clients map[models.Provider]provider.Client) *Ingestor {
	return &Ingestor{
		store:   store,
		events:  events,
		clients: clients,
		logger:  util.GetLogger(),
	}
}

// Receive processes one raw provider callback. Signature verification runs
// before any parsing; a failure there never reaches status-mapping logic.
func (in *Ingestor) Receive(ctx context.Context, prov models.Provider, rawBody []byte, signature string) (*Ack, error) {
	ctx, span := util.StartSpan(ctx, "Ingestor.Receive")
	defer span.End()

	client, ok := in.clients[prov]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, prov)
	}

	if !client.VerifySignature(rawBody, signature) {
		util.WebhooksRejectedTotal.WithLabelValues(string(prov), "invalid_signature").Inc()
		return nil, ErrInvalidSignature
	}

	env, err := parseEnvelope(prov, rawBody)
	if err != nil {
		util.WebhooksRejectedTotal.WithLabelValues(string(prov), "malformed").Inc()
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	processed, err := in.store.IsEventProcessed(ctx, prov, env.eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to check event ledger: %w", err)
	}
	if processed {
		util.WebhooksDuplicateTotal.WithLabelValues(string(prov)).Inc()
		in.logger.Info("Duplicate webhook event skipped",
			zap.String("provider", string(prov)),
			zap.String("event_id", env.eventID))
		return &Ack{EventID: env.eventID, ProcessedAt: time.Now()}, nil
	}

	if err := in.apply(ctx, prov, env); err != nil {
		return nil, err
	}

	if _, err := in.store.MarkEventProcessed(ctx, prov, env.eventID, env.eventType); err != nil {
		in.logger.Error("Failed to mark event processed",
			zap.String("event_id", env.eventID), zap.Error(err))
	}

	return &Ack{EventID: env.eventID, ProcessedAt: time.Now()}, nil
}

// apply maps the event onto a status transition and applies it to the
// dispatch and its order
func (in *Ingestor) apply(ctx context.Context, prov models.Provider, env *envelope) error {
	newStatus, ok := statusMaps[prov][env.eventType]
	if !ok {
		// unknown vocabulary: ack so the provider stops retrying
		util.WebhooksRejectedTotal.WithLabelValues(string(prov), "unknown_event_type").Inc()
		in.logger.Warn("Unknown webhook event type",
			zap.String("provider", string(prov)),
			zap.String("event_type", env.eventType))
		return nil
	}

	dispatch, err := in.store.GetDispatchByExternalRef(ctx, prov, env.ref)
	if err != nil {
		return fmt.Errorf("failed to correlate webhook: %w", err)
	}

	// ordering guard: providers retry and reorder; never apply an event older
	// than the last one we applied for this dispatch
	if dispatch.LastEventAt != nil && !env.occurredAt.After(*dispatch.LastEventAt) {
		util.WebhooksOutOfOrderTotal.WithLabelValues(string(prov)).Inc()
		in.logger.Info("Stale webhook event skipped",
			zap.String("provider", string(prov)),
			zap.String("event_id", env.eventID),
			zap.Time("occurred_at", env.occurredAt))
		return nil
	}

	if err := in.store.UpdateDispatchStatus(ctx, dispatch.ID, newStatus, env.occurredAt); err != nil {
		return fmt.Errorf("failed to update dispatch: %w", err)
	}

	order, err := in.store.GetOrderByID(ctx, dispatch.OrderID)
	if err != nil {
		return err
	}
	if models.CanTransition(order.Status, newStatus) {
		if err := in.store.UpdateOrderStatus(ctx, order.ID, newStatus); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		event := &models.OrderStatusChangedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderStatusChanged,
				Timestamp: time.Now(),
			},
			OrderID:    order.ID,
			FromStatus: order.Status,
			ToStatus:   newStatus,
			Provider:   prov,
		}
		if err := in.events.PublishOrderStatusChanged(ctx, event); err != nil {
			in.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
		}
	}

	util.WebhooksProcessedTotal.WithLabelValues(string(prov), env.eventType).Inc()
	in.logger.Info("Webhook event applied",
		zap.String("provider", string(prov)),
		zap.String("event_id", env.eventID),
		zap.String("order_id", order.ID),
		zap.String("status", newStatus))
	return nil
}

type rideWebhookPayload struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	RideID     string    `json:"ride_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type foodWebhookPayload struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	DeliveryID string    `json:"delivery_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type groceryWebhookPayload struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	OrderRef  string    `json:"order_ref"`
	Timestamp time.Time `json:"timestamp"`
}

func parseEnvelope(prov models.Provider, rawBody []byte) (*envelope, error) {
	switch prov {
	case models.ProviderRide:
		var p rideWebhookPayload
		if err := json.Unmarshal(rawBody, &p); err != nil {
			return nil, err
		}
		return newEnvelope(p.EventID, p.EventType, p.RideID, p.OccurredAt)
	case models.ProviderFood:
		var p foodWebhookPayload
		if err := json.Unmarshal(rawBody, &p); err != nil {
			return nil, err
		}
		return newEnvelope(p.EventID, p.EventType, p.DeliveryID, p.CreatedAt)
	case models.ProviderGrocery:
		var p groceryWebhookPayload
		if err := json.Unmarshal(rawBody, &p); err != nil {
			return nil, err
		}
		return newEnvelope(p.EventID, p.EventType, p.OrderRef, p.Timestamp)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, prov)
}

func newEnvelope(eventID, eventType, ref string, occurredAt time.Time) (*envelope, error) {
	if eventID == "" || eventType == "" || ref == "" {
		return nil, errors.New("missing required webhook fields")
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	return &envelope{
		eventID:    eventID,
		eventType:  eventType,
		ref:        ref,
		occurredAt: occurredAt,
	}, nil
}
