package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes fulfillment domain events. The per-line dispatch
// events are the side channel through which callers observe provider state
// the Order aggregate itself cannot carry.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID string) string {
	return "order-" + orderID
}

// PublishOrderCreated publishes an OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishLineDispatched publishes a LineDispatched event
func (ep *EventPublisher) PublishLineDispatched(ctx context.Context, event *models.LineDispatchedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishLineDispatchFailed publishes a LineDispatchFailed event
func (ep *EventPublisher) PublishLineDispatchFailed(ctx context.Context, event *models.LineDispatchFailedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderStatusChanged publishes an OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderOverdue publishes an OrderOverdue event
func (ep *EventPublisher) PublishOrderOverdue(ctx context.Context, event *models.OrderOverdueEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// EventHandler routes consumed events to registered handlers
type EventHandler struct {
	logger               *zap.Logger
	onLineDispatchFailed func(context.Context, *models.LineDispatchFailedEvent) error
	onOrderOverdue       func(context.Context, *models.OrderOverdueEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnLineDispatchFailed registers a handler for LineDispatchFailed events
func (eh *EventHandler) OnLineDispatchFailed(handler func(context.Context, *models.LineDispatchFailedEvent) error) {
	eh.onLineDispatchFailed = handler
}

// OnOrderOverdue registers a handler for OrderOverdue events
func (eh *EventHandler) OnOrderOverdue(handler func(context.Context, *models.OrderOverdueEvent) error) {
	eh.onOrderOverdue = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeLineDispatchFailed:
		if eh.onLineDispatchFailed != nil {
			var event models.LineDispatchFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal LineDispatchFailed event: %w", err)
			}
			return eh.onLineDispatchFailed(ctx, &event)
		}

	case models.EventTypeOrderOverdue:
		if eh.onOrderOverdue != nil {
			var event models.OrderOverdueEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderOverdue event: %w", err)
			}
			return eh.onOrderOverdue(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type",
			zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
