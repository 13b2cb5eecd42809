package worker

import (
	"context"
	"time"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertWorker consumes per-line dispatch failures and raises staff alerts.
// Guest-facing order creation succeeds even when every dispatch fails, so
// this channel is what keeps unresolved lines from going unnoticed.
type AlertWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewAlertWorker creates an alert worker
func NewAlertWorker(consumer *broker.Consumer) *AlertWorker {
	logger := util.GetLogger()
	eventHandler := broker.NewEventHandler()

	w := &AlertWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       logger,
	}

	eventHandler.OnLineDispatchFailed(w.handleDispatchFailed)
	eventHandler.OnOrderOverdue(w.handleOrderOverdue)
	return w
}

func (w *AlertWorker) handleDispatchFailed(ctx context.Context, event *models.LineDispatchFailedEvent) error {
	util.StaffAlertsTotal.WithLabelValues(string(event.Provider)).Inc()
	w.logger.Warn("STAFF ALERT: order line needs manual fulfillment",
		zap.String("order_id", event.OrderID),
		zap.String("line_id", event.LineID),
		zap.String("provider", string(event.Provider)),
		zap.String("reason", event.Reason))
	return nil
}

func (w *AlertWorker) handleOrderOverdue(ctx context.Context, event *models.OrderOverdueEvent) error {
	w.logger.Warn("STAFF ALERT: order past its SLA deadline",
		zap.String("order_id", event.OrderID),
		zap.String("priority", event.Priority),
		zap.Time("deadline", event.Deadline))
	return nil
}

// Start starts the worker
func (w *AlertWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting alert worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AlertWorker) Stop() error {
	w.logger.Info("Stopping alert worker")
	return w.consumer.Close()
}

// OverdueSweeper periodically scans for non-terminal orders past their SLA
// deadline and publishes overdue events
type OverdueSweeper struct {
	orderService *service.OrderService
	events       *broker.EventPublisher
	interval     time.Duration
	logger       *zap.Logger
}

// NewOverdueSweeper creates an overdue sweeper
func NewOverdueSweeper(orderService *service.OrderService, events *broker.EventPublisher, interval time.Duration) *OverdueSweeper {
	return &OverdueSweeper{
		orderService: orderService,
		events:       events,
		interval:     interval,
		logger:       util.GetLogger(),
	}
}

// Start runs the sweep loop until ctx is cancelled
func (s *OverdueSweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting overdue sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Overdue sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *OverdueSweeper) sweep(ctx context.Context) {
	now := time.Now()
	overdue, err := s.orderService.ListOverdue(ctx, now)
	if err != nil {
		s.logger.Error("Overdue sweep failed", zap.Error(err))
		return
	}

	for i := range overdue {
		order := &overdue[i]
		util.OrdersOverdueTotal.Inc()

		event := &models.OrderOverdueEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderOverdue,
				Timestamp: now,
			},
			OrderID:  order.ID,
			Priority: order.Priority,
			Deadline: models.SLADeadline(order.CreatedAt, order.Priority),
		}
		if err := s.events.PublishOrderOverdue(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderOverdue event",
				zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	if len(overdue) > 0 {
		s.logger.Warn("Overdue sweep found stale orders", zap.Int("count", len(overdue)))
	}
}
