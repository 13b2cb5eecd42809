package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/catalog"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/provider"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Typed failures surfaced to callers
var (
	ErrItemNotFound      = errors.New("catalog item not found")
	ErrItemUnavailable   = errors.New("catalog item unavailable")
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrInvalidTransition = errors.New("illegal status transition")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5")
	ErrNotRateable       = errors.New("only completed orders can be rated")
)

// OrderStore is the persistence contract the orchestrator depends on
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrdersByGuestID(ctx context.Context, guestID string) ([]models.Order, error)
	ListActiveOrders(ctx context.Context) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID, status string) error
	SetOrderExternalRef(ctx context.Context, orderID string, provider models.Provider, externalRef string) error
	SetOrderRating(ctx context.Context, orderID string, rating int) error
	CreateOrderLine(ctx context.Context, line *models.OrderLine) error
	GetOrderLinesByOrderID(ctx context.Context, orderID string) ([]models.OrderLine, error)
	CreateDispatch(ctx context.Context, d *models.Dispatch) error
	GetDispatchesByOrderID(ctx context.Context, orderID string) ([]models.Dispatch, error)
	SetDispatchPlaced(ctx context.Context, dispatchID, externalRef string) error
}

// CatalogSource resolves the property-scoped upsell catalog
type CatalogSource interface {
	Get(ctx context.Context, propertyID string) ([]models.CatalogItem, error)
}

// EventSink publishes fulfillment domain events
type EventSink interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishLineDispatched(ctx context.Context, event *models.LineDispatchedEvent) error
	PublishLineDispatchFailed(ctx context.Context, event *models.LineDispatchFailedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// OrderService orchestrates upsell orders: catalog validation, pricing,
// persistence and per-line fan-out to the fulfillment providers
type OrderService struct {
	store    OrderStore
	catalog  CatalogSource
	events   EventSink
	clients  map[models.Provider]provider.Client
	executor *provider.Executor
	logger   *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	store OrderStore,
	catalogSource CatalogSource,
	events EventSink,
	clients map[models.Provider]provider.Client,
	executor *provider.Executor,
) *OrderService {
	return &OrderService{
		store:    store,
		catalog:  catalogSource,
		events:   events,
		clients:  clients,
		executor: executor,
		logger:   util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	ReservationID string             `json:"reservation_id" binding:"required"`
	Priority      string             `json:"priority,omitempty"`
	ScheduledFor  *time.Time         `json:"scheduled_for,omitempty"`
	Items         []OrderItemRequest `json:"items" binding:"required,min=1"`
}

// OrderItemRequest represents an item in an order. Callers supply quantities
// only; prices always come from the catalog.
type OrderItemRequest struct {
	UpsellID string `json:"upsell_id" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}

// CreateOrder validates the request against the property catalog, prices it
// from catalog snapshots, persists it as PENDING and then dispatches each
// provider-bound line. A dispatch failure for one line never fails the call
// or rolls back siblings; the order always exists once validation passes.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest, guestID, propertyID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	items, err := s.catalog.Get(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve catalog: %w", err)
	}

	// whole-order validation: every line must exist and be available
	resolved := make([]*models.CatalogItem, 0, len(req.Items))
	var total int64
	currency := "USD"
	for _, line := range req.Items {
		item, ok := catalog.ItemByID(items, line.UpsellID)
		if !ok {
			util.OrdersRejectedTotal.WithLabelValues("item_not_found").Inc()
			return nil, fmt.Errorf("%w: %s", ErrItemNotFound, line.UpsellID)
		}
		if !item.Available {
			util.OrdersRejectedTotal.WithLabelValues("item_unavailable").Inc()
			return nil, fmt.Errorf("%w: %s", ErrItemUnavailable, line.UpsellID)
		}
		resolved = append(resolved, item)
		total += item.Price * int64(line.Quantity)
		currency = item.Currency
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	order := &models.Order{
		ID:            uuid.New().String(),
		ReservationID: req.ReservationID,
		PropertyID:    propertyID,
		GuestID:       guestID,
		TotalAmount:   total,
		Currency:      currency,
		Status:        models.OrderStatusPending,
		Priority:      priority,
		ScheduledFor:  req.ScheduledFor,
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.Int64("total_amount", total))

	type pendingDispatch struct {
		line     *models.OrderLine
		item     *models.CatalogItem
		dispatch *models.Dispatch
	}

	lineData := make([]models.OrderLineData, 0, len(req.Items))
	dispatches := make([]pendingDispatch, 0, len(req.Items))

	for i, reqLine := range req.Items {
		item := resolved[i]

		line := &models.OrderLine{
			ID:            uuid.New().String(),
			OrderID:       order.ID,
			CatalogItemID: item.ID,
			Quantity:      reqLine.Quantity,
			UnitPrice:     item.Price,
			Metadata:      marshalMetadata(item.ProviderMetadata),
		}
		if err := s.store.CreateOrderLine(ctx, line); err != nil {
			return nil, fmt.Errorf("failed to create order line: %w", err)
		}

		lineData = append(lineData, models.OrderLineData{
			LineID:        line.ID,
			CatalogItemID: item.ID,
			Quantity:      line.Quantity,
			UnitPrice:     line.UnitPrice,
			Provider:      item.Provider,
		})

		if item.Provider == "" {
			continue
		}

		d := &models.Dispatch{
			ID:       uuid.New().String(),
			OrderID:  order.ID,
			LineID:   line.ID,
			Provider: item.Provider,
			Status:   models.OrderStatusPending,
		}
		if err := s.store.CreateDispatch(ctx, d); err != nil {
			return nil, fmt.Errorf("failed to create dispatch record: %w", err)
		}
		dispatches = append(dispatches, pendingDispatch{line: line, item: item, dispatch: d})
	}

	s.publishOrderCreated(ctx, order, lineData)

	// provider fan-out: independent and unordered across lines
	g, gctx := errgroup.WithContext(ctx)
	for _, pd := range dispatches {
		pd := pd
		g.Go(func() error {
			s.dispatchLine(gctx, order, pd.line, pd.item, pd.dispatch)
			return nil
		})
	}
	_ = g.Wait()

	return s.store.GetOrderByID(ctx, order.ID)
}

// dispatchLine places one provider-bound line. Failures are logged and
// published, never propagated: the line simply stays PENDING.
func (s *OrderService) dispatchLine(ctx context.Context, order *models.Order, line *models.OrderLine, item *models.CatalogItem, d *models.Dispatch) {
	client, ok := s.clients[item.Provider]
	if !ok {
		s.recordDispatchFailure(ctx, order, line, item.Provider,
			errors.New("no client configured for provider"))
		return
	}

	util.DispatchAttemptsTotal.WithLabelValues(string(item.Provider)).Inc()
	start := time.Now()

	req := &provider.Request{
		OrderID:      order.ID,
		LineID:       line.ID,
		GuestID:      order.GuestID,
		PropertyID:   order.PropertyID,
		ItemID:       item.ID,
		Quantity:     line.Quantity,
		Amount:       line.UnitPrice * int64(line.Quantity),
		Currency:     order.Currency,
		ScheduledFor: order.ScheduledFor,
		Metadata:     item.ProviderMetadata,
	}

	var ref *provider.Reference
	err := s.executor.Do(ctx, string(item.Provider)+".place", func(ctx context.Context) error {
		var placeErr error
		ref, placeErr = client.Place(ctx, req)
		return placeErr
	})
	util.ProviderRequestLatency.WithLabelValues(string(item.Provider), "place").
		Observe(time.Since(start).Seconds())

	if err != nil {
		s.recordDispatchFailure(ctx, order, line, item.Provider, err)
		return
	}

	if err := s.store.SetDispatchPlaced(ctx, d.ID, ref.ID); err != nil {
		s.logger.Error("Failed to record placed dispatch",
			zap.String("dispatch_id", d.ID), zap.Error(err))
	}
	if err := s.store.SetOrderExternalRef(ctx, order.ID, item.Provider, ref.ID); err != nil {
		s.logger.Error("Failed to mirror external ref onto order",
			zap.String("order_id", order.ID), zap.Error(err))
	}

	s.applyTransition(ctx, order.ID, models.OrderStatusConfirmed, item.Provider)

	s.logger.Info("Line dispatched",
		zap.String("order_id", order.ID),
		zap.String("line_id", line.ID),
		zap.String("provider", string(item.Provider)),
		zap.String("external_ref", ref.ID))

	event := &models.LineDispatchedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeLineDispatched),
		OrderID:     order.ID,
		LineID:      line.ID,
		Provider:    item.Provider,
		ExternalRef: ref.ID,
	}
	if err := s.events.PublishLineDispatched(ctx, event); err != nil {
		s.logger.Error("Failed to publish LineDispatched event", zap.Error(err))
	}
}

func (s *OrderService) recordDispatchFailure(ctx context.Context, order *models.Order, line *models.OrderLine, prov models.Provider, cause error) {
	util.DispatchFailuresTotal.WithLabelValues(string(prov), dispatchFailureReason(cause)).Inc()
	s.logger.Warn("Provider dispatch failed, line left undispatched",
		zap.String("order_id", order.ID),
		zap.String("line_id", line.ID),
		zap.String("provider", string(prov)),
		zap.Error(cause))

	event := &models.LineDispatchFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypeLineDispatchFailed),
		OrderID:   order.ID,
		LineID:    line.ID,
		Provider:  prov,
		Reason:    cause.Error(),
	}
	if err := s.events.PublishLineDispatchFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish LineDispatchFailed event", zap.Error(err))
	}
}

// applyTransition advances the order status if the transition is legal,
// silently skipping otherwise. Concurrent line dispatches race to CONFIRMED;
// the losers find the transition already applied and no-op.
func (s *OrderService) applyTransition(ctx context.Context, orderID, newStatus string, prov models.Provider) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		s.logger.Error("Failed to load order for transition",
			zap.String("order_id", orderID), zap.Error(err))
		return
	}
	if !models.CanTransition(order.Status, newStatus) {
		return
	}
	if err := s.store.UpdateOrderStatus(ctx, orderID, newStatus); err != nil {
		s.logger.Error("Failed to update order status",
			zap.String("order_id", orderID), zap.Error(err))
		return
	}
	s.publishStatusChanged(ctx, orderID, order.Status, newStatus, prov)
}

// UpdateStatus applies an explicit status transition, stamping terminal
// timestamps. Illegal regressions are rejected.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID, newStatus string, externalRef string, prov models.Provider) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	if !models.IsValidStatus(newStatus) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, newStatus)
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !models.CanTransition(order.Status, newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, newStatus)
	}

	if err := s.store.UpdateOrderStatus(ctx, orderID, newStatus); err != nil {
		return nil, err
	}
	if externalRef != "" && prov != "" {
		if err := s.store.SetOrderExternalRef(ctx, orderID, prov, externalRef); err != nil {
			return nil, err
		}
	}

	s.publishStatusChanged(ctx, orderID, order.Status, newStatus, prov)
	return s.store.GetOrderByID(ctx, orderID)
}

// CancelOrder cancels the order and every placed, non-terminal dispatch at
// its provider. Provider-side cancellation is best effort; the internal
// cancellation applies regardless.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(order.Status, models.OrderStatusCancelled) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, models.OrderStatusCancelled)
	}

	dispatches, err := s.store.GetDispatchesByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dispatches: %w", err)
	}

	for _, d := range dispatches {
		if d.ExternalRef == "" || models.IsTerminalStatus(d.Status) {
			continue
		}
		client, ok := s.clients[d.Provider]
		if !ok {
			continue
		}
		d := d
		cancelErr := s.executor.Do(ctx, string(d.Provider)+".cancel", func(ctx context.Context) error {
			return client.Cancel(ctx, order.GuestID, d.ExternalRef)
		})
		if cancelErr != nil {
			s.logger.Warn("Provider-side cancel failed",
				zap.String("order_id", orderID),
				zap.String("provider", string(d.Provider)),
				zap.String("external_ref", d.ExternalRef),
				zap.Error(cancelErr))
		}
	}

	return s.UpdateStatus(ctx, orderID, models.OrderStatusCancelled, "", "")
}

// QuoteItem prices a single catalog item against its provider
func (s *OrderService) QuoteItem(ctx context.Context, propertyID, guestID, itemID string, quantity int) (*provider.Estimate, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.QuoteItem")
	defer span.End()

	items, err := s.catalog.Get(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve catalog: %w", err)
	}
	item, ok := catalog.ItemByID(items, itemID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if item.Provider == "" {
		// no provider bound: the catalog price is the quote
		return &provider.Estimate{
			Amount:   item.Price * int64(quantity),
			Currency: item.Currency,
		}, nil
	}

	client, ok := s.clients[item.Provider]
	if !ok {
		return nil, fmt.Errorf("no client configured for provider %s", item.Provider)
	}

	req := &provider.Request{
		GuestID:    guestID,
		PropertyID: propertyID,
		ItemID:     item.ID,
		Quantity:   quantity,
		Amount:     item.Price * int64(quantity),
		Currency:   item.Currency,
		Metadata:   item.ProviderMetadata,
	}

	start := time.Now()
	var estimate *provider.Estimate
	err = s.executor.Do(ctx, string(item.Provider)+".quote", func(ctx context.Context) error {
		var quoteErr error
		estimate, quoteErr = client.Quote(ctx, req)
		return quoteErr
	})
	util.ProviderRequestLatency.WithLabelValues(string(item.Provider), "quote").
		Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return estimate, nil
}

// RateOrder records post-completion guest feedback
func (s *OrderService) RateOrder(ctx context.Context, orderID string, rating int) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != models.OrderStatusCompleted {
		return ErrNotRateable
	}
	return s.store.SetOrderRating(ctx, orderID, rating)
}

// GetOrder retrieves an order with its lines and dispatch records
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, []models.OrderLine, []models.Dispatch, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}
	lines, err := s.store.GetOrderLinesByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}
	dispatches, err := s.store.GetDispatchesByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}
	return order, lines, dispatches, nil
}

// GetOrdersForGuest retrieves a guest's order history
func (s *OrderService) GetOrdersForGuest(ctx context.Context, guestID string) ([]models.Order, error) {
	return s.store.GetOrdersByGuestID(ctx, guestID)
}

// ListOverdue returns non-terminal orders past their SLA deadline
func (s *OrderService) ListOverdue(ctx context.Context, now time.Time) ([]models.Order, error) {
	active, err := s.store.ListActiveOrders(ctx)
	if err != nil {
		return nil, err
	}
	var overdue []models.Order
	for i := range active {
		if models.IsOverdue(&active[i], now) {
			overdue = append(overdue, active[i])
		}
	}
	return overdue, nil
}

func (s *OrderService) publishOrderCreated(ctx context.Context, order *models.Order, lines []models.OrderLineData) {
	event := &models.OrderCreatedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		GuestID:     order.GuestID,
		PropertyID:  order.PropertyID,
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
		Lines:       lines,
	}
	if err := s.events.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

func (s *OrderService) publishStatusChanged(ctx context.Context, orderID, from, to string, prov models.Provider) {
	event := &models.OrderStatusChangedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		Provider:   prov,
	}
	if err := s.events.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// dispatchFailureReason maps a failure message to a bounded metric label
func dispatchFailureReason(err error) string {
	if kind := provider.KindOf(err); kind != "" {
		return string(kind)
	}
	return "other"
}

func marshalMetadata(m map[string]string) types.JSONText {
	if len(m) == 0 {
		return types.JSONText("{}")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return types.JSONText("{}")
	}
	return types.JSONText(data)
}
