package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStubOrderNotFound = errors.New("order not found")

// stubStore is an in-memory OrderStore. Dispatch fan-out runs concurrently,
// so every method takes the lock.
type stubStore struct {
	mu         sync.Mutex
	orders     map[string]*models.Order
	lines      map[string][]models.OrderLine
	dispatches map[string]*models.Dispatch
}

func newStubStore() *stubStore {
	return &stubStore{
		orders:     map[string]*models.Order{},
		lines:      map[string][]models.OrderLine{},
		dispatches: map[string]*models.Dispatch{},
	}
}

func (s *stubStore) CreateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

func (s *stubStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, errStubOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *stubStore) GetOrdersByGuestID(ctx context.Context, guestID string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.GuestID == guestID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *stubStore) ListActiveOrders(ctx context.Context) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if !models.IsTerminalStatus(o.Status) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *stubStore) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return errStubOrderNotFound
	}
	o.Status = status
	return nil
}

func (s *stubStore) SetOrderExternalRef(ctx context.Context, orderID string, prov models.Provider, externalRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return errStubOrderNotFound
	}
	if o.ExternalOrderID == "" {
		o.ExternalOrderID = externalRef
		o.ExternalProvider = string(prov)
	}
	return nil
}

func (s *stubStore) SetOrderRating(ctx context.Context, orderID string, rating int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return errStubOrderNotFound
	}
	o.Rating = rating
	return nil
}

func (s *stubStore) CreateOrderLine(ctx context.Context, line *models.OrderLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines[line.OrderID] = append(s.lines[line.OrderID], *line)
	return nil
}

func (s *stubStore) GetOrderLinesByOrderID(ctx context.Context, orderID string) ([]models.OrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OrderLine(nil), s.lines[orderID]...), nil
}

func (s *stubStore) CreateDispatch(ctx context.Context, d *models.Dispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.dispatches[d.ID] = &cp
	return nil
}

func (s *stubStore) GetDispatchesByOrderID(ctx context.Context, orderID string) ([]models.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Dispatch
	for _, d := range s.dispatches {
		if d.OrderID == orderID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *stubStore) SetDispatchPlaced(ctx context.Context, dispatchID, externalRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dispatches[dispatchID]
	if !ok {
		return errors.New("dispatch not found")
	}
	d.ExternalRef = externalRef
	d.Status = models.OrderStatusConfirmed
	return nil
}

type stubCatalog struct {
	items []models.CatalogItem
}

func (c *stubCatalog) Get(ctx context.Context, propertyID string) ([]models.CatalogItem, error) {
	return c.items, nil
}

type stubEvents struct {
	mu             sync.Mutex
	created        []*models.OrderCreatedEvent
	dispatched     []*models.LineDispatchedEvent
	dispatchFailed []*models.LineDispatchFailedEvent
	statusChanged  []*models.OrderStatusChangedEvent
}

func (e *stubEvents) PublishOrderCreated(ctx context.Context, ev *models.OrderCreatedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.created = append(e.created, ev)
	return nil
}

func (e *stubEvents) PublishLineDispatched(ctx context.Context, ev *models.LineDispatchedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatched = append(e.dispatched, ev)
	return nil
}

func (e *stubEvents) PublishLineDispatchFailed(ctx context.Context, ev *models.LineDispatchFailedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatchFailed = append(e.dispatchFailed, ev)
	return nil
}

func (e *stubEvents) PublishOrderStatusChanged(ctx context.Context, ev *models.OrderStatusChangedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statusChanged = append(e.statusChanged, ev)
	return nil
}

// stubClient is a scripted provider.Client
type stubClient struct {
	mu       sync.Mutex
	name     models.Provider
	placeErr error
	placed   []*provider.Request
	cancels  []string
}

func (c *stubClient) Name() models.Provider { return c.name }

func (c *stubClient) Quote(ctx context.Context, req *provider.Request) (*provider.Estimate, error) {
	return &provider.Estimate{Provider: c.name, Amount: req.Amount, Currency: req.Currency, EtaMinutes: 10}, nil
}

func (c *stubClient) Place(ctx context.Context, req *provider.Request) (*provider.Reference, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.placeErr != nil {
		return nil, c.placeErr
	}
	c.placed = append(c.placed, req)
	return &provider.Reference{Provider: c.name, ID: string(c.name) + "-ext-" + req.LineID, State: "created"}, nil
}

func (c *stubClient) GetStatus(ctx context.Context, ref string) (*provider.Status, error) {
	return &provider.Status{Provider: c.name, Reference: ref, State: "created"}, nil
}

func (c *stubClient) Cancel(ctx context.Context, guestID, ref string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels = append(c.cancels, ref)
	return nil
}

func (c *stubClient) VerifySignature(payload []byte, signature string) bool { return true }

func testCatalogItems() []models.CatalogItem {
	return []models.CatalogItem{
		{ID: "early-checkin", Category: "hotel", Name: "Early check-in", Price: 5000, Currency: "USD", Available: true},
		{ID: "airport-ride", Category: "transport", Name: "Airport transfer", Price: 6500, Currency: "USD", Available: true,
			Provider: models.ProviderRide, ProviderMetadata: map[string]string{"ride_type": "standard"}},
		{ID: "dinner-delivery", Category: "dining", Name: "Dinner delivery", Price: 3500, Currency: "USD", Available: true,
			Provider: models.ProviderFood, ProviderMetadata: map[string]string{"item_name": "dinner"}},
		{ID: "champagne-welcome", Category: "hotel", Name: "Champagne welcome", Price: 9000, Currency: "USD", Available: false},
	}
}

type testEnv struct {
	store   *stubStore
	events  *stubEvents
	ride    *stubClient
	food    *stubClient
	service *OrderService
}

func newTestEnv() *testEnv {
	st := newStubStore()
	ev := &stubEvents{}
	ride := &stubClient{name: models.ProviderRide}
	food := &stubClient{name: models.ProviderFood}
	clients := map[models.Provider]provider.Client{
		models.ProviderRide: ride,
		models.ProviderFood: food,
	}
	executor := provider.NewExecutor(0, time.Millisecond, time.Millisecond)
	svc := NewOrderService(st, &stubCatalog{items: testCatalogItems()}, ev, clients, executor)
	return &testEnv{store: st, events: ev, ride: ride, food: food, service: svc}
}

func TestCreateOrderPricesFromCatalog(t *testing.T) {
	env := newTestEnv()

	// client-side amounts are never accepted; totals come from catalog prices
	order, err := env.service.CreateOrder(context.Background(), &CreateOrderRequest{
		ReservationID: "res-1",
		Items: []OrderItemRequest{
			{UpsellID: "early-checkin", Quantity: 1},
			{UpsellID: "dinner-delivery", Quantity: 2},
		},
	}, "guest-1", "prop-1")
	require.NoError(t, err)

	assert.Equal(t, int64(5000+2*3500), order.TotalAmount)
	assert.Equal(t, "USD", order.Currency)
	assert.Equal(t, models.PriorityNormal, order.Priority)

	lines, err := env.store.GetOrderLinesByOrderID(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, int64(5000), lines[0].UnitPrice)
	assert.Equal(t, int64(3500), lines[1].UnitPrice)
}

func TestCreateOrderRejectsUnknownItem(t *testing.T) {
	env := newTestEnv()

	_, err := env.service.CreateOrder(context.Background(), &CreateOrderRequest{
		ReservationID: "res-1",
		Items: []OrderItemRequest{
			{UpsellID: "early-checkin", Quantity: 1},
			{UpsellID: "jetpack-rental", Quantity: 1},
		},
	}, "guest-1", "prop-1")

	assert.ErrorIs(t, err, ErrItemNotFound)
	// whole-order validation: nothing persisted
	assert.Empty(t, env.store.orders)
}

func TestCreateOrderRejectsUnavailableItem(t *testing.T) {
	env := newTestEnv()

	_, err := env.service.CreateOrder(context.Background(), &CreateOrderRequest{
		ReservationID: "res-1",
		Items:         []OrderItemRequest{{UpsellID: "champagne-welcome", Quantity: 1}},
	}, "guest-1", "prop-1")

	assert.ErrorIs(t, err, ErrItemUnavailable)
	assert.Empty(t, env.store.orders)
}

func TestCreateOrderDispatchesProviderLines(t *testing.T) {
	env := newTestEnv()

	order, err := env.service.CreateOrder(context.Background(), &CreateOrderRequest{
		ReservationID: "res-1",
		Items:         []OrderItemRequest{{UpsellID: "airport-ride", Quantity: 1}},
	}, "guest-1", "prop-1")
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusConfirmed, order.Status)

	require.Len(t, env.ride.placed, 1)
	assert.Equal(t, order.ID, env.ride.placed[0].OrderID)
	assert.Equal(t, int64(6500), env.ride.placed[0].Amount)

	dispatches, err := env.store.GetDispatchesByOrderID(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, dispatches, 1)
	assert.Equal(t, models.OrderStatusConfirmed, dispatches[0].Status)
	assert.NotEmpty(t, dispatches[0].ExternalRef)
	assert.Equal(t, dispatches[0].ExternalRef, order.ExternalOrderID)

	require.Len(t, env.events.created, 1)
	require.Len(t, env.events.dispatched, 1)
	assert.Equal(t, dispatches[0].ExternalRef, env.events.dispatched[0].ExternalRef)
}

func TestCreateOrderNoDispatchForUnboundItems(t *testing.T) {
	env := newTestEnv()

	order, err := env.service.CreateOrder(context.Background(), &CreateOrderRequest{
		ReservationID: "res-1",
		Items:         []OrderItemRequest{{UpsellID: "early-checkin", Quantity: 1}},
	}, "guest-1", "prop-1")
	require.NoError(t, err)

	// hotel-fulfilled items stay PENDING with no dispatch record
	assert.Equal(t, models.OrderStatusPending, order.Status)
	dispatches, _ := env.store.GetDispatchesByOrderID(context.Background(), order.ID)
	assert.Empty(t, dispatches)
	assert.Empty(t, env.ride.placed)
}

func TestCreateOrderPartialDispatchFailure(t *testing.T) {
	env := newTestEnv()
	env.food.placeErr = &provider.Error{Kind: provider.KindValidation, Status: 422, Message: "bad address"}

	order, err := env.service.CreateOrder(context.Background(), &CreateOrderRequest{
		ReservationID: "res-1",
		Items: []OrderItemRequest{
			{UpsellID: "airport-ride", Quantity: 1},
			{UpsellID: "dinner-delivery", Quantity: 1},
		},
	}, "guest-1", "prop-1")

	// one line failing never fails the create
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)

	dispatches, err := env.store.GetDispatchesByOrderID(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, dispatches, 2)

	byProvider := map[models.Provider]models.Dispatch{}
	for _, d := range dispatches {
		byProvider[d.Provider] = d
	}
	assert.Equal(t, models.OrderStatusConfirmed, byProvider[models.ProviderRide].Status)
	assert.Equal(t, models.OrderStatusPending, byProvider[models.ProviderFood].Status)
	assert.Empty(t, byProvider[models.ProviderFood].ExternalRef)

	require.Len(t, env.events.dispatchFailed, 1)
	assert.Equal(t, models.ProviderFood, env.events.dispatchFailed[0].Provider)
	assert.Contains(t, env.events.dispatchFailed[0].Reason, "bad address")
}

func TestCreateOrderAllDispatchesFailStaysPending(t *testing.T) {
	env := newTestEnv()
	env.ride.placeErr = &provider.Error{Kind: provider.KindForbidden, Status: 403}

	order, err := env.service.CreateOrder(context.Background(), &CreateOrderRequest{
		ReservationID: "res-1",
		Items:         []OrderItemRequest{{UpsellID: "airport-ride", Quantity: 1}},
	}, "guest-1", "prop-1")
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Empty(t, order.ExternalOrderID)
	require.Len(t, env.events.dispatchFailed, 1)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	env := newTestEnv()

	_, err := env.service.UpdateStatus(context.Background(), "order-x", "SHIPPED", "", "")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestUpdateStatusRejectsRegression(t *testing.T) {
	env := newTestEnv()
	env.store.orders["o-1"] = &models.Order{ID: "o-1", Status: models.OrderStatusCompleted}

	_, err := env.service.UpdateStatus(context.Background(), "o-1", models.OrderStatusInProgress, "", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateStatusAppliesAndPublishes(t *testing.T) {
	env := newTestEnv()
	env.store.orders["o-1"] = &models.Order{ID: "o-1", Status: models.OrderStatusConfirmed}

	order, err := env.service.UpdateStatus(context.Background(), "o-1", models.OrderStatusInProgress, "", "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusInProgress, order.Status)

	require.Len(t, env.events.statusChanged, 1)
	assert.Equal(t, models.OrderStatusConfirmed, env.events.statusChanged[0].FromStatus)
	assert.Equal(t, models.OrderStatusInProgress, env.events.statusChanged[0].ToStatus)
}

func TestCancelOrderCancelsPlacedDispatches(t *testing.T) {
	env := newTestEnv()

	order, err := env.service.CreateOrder(context.Background(), &CreateOrderRequest{
		ReservationID: "res-1",
		Items:         []OrderItemRequest{{UpsellID: "airport-ride", Quantity: 1}},
	}, "guest-1", "prop-1")
	require.NoError(t, err)

	cancelled, err := env.service.CancelOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	require.Len(t, env.ride.cancels, 1)
	assert.Equal(t, order.ExternalOrderID, env.ride.cancels[0])
}

func TestCancelOrderRejectsTerminal(t *testing.T) {
	env := newTestEnv()
	env.store.orders["o-1"] = &models.Order{ID: "o-1", Status: models.OrderStatusCompleted}

	_, err := env.service.CancelOrder(context.Background(), "o-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestQuoteItemWithoutProviderUsesCatalogPrice(t *testing.T) {
	env := newTestEnv()

	est, err := env.service.QuoteItem(context.Background(), "prop-1", "guest-1", "early-checkin", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), est.Amount)
	assert.Equal(t, "USD", est.Currency)
	assert.Empty(t, env.ride.placed)
}

func TestRateOrder(t *testing.T) {
	env := newTestEnv()
	env.store.orders["o-1"] = &models.Order{ID: "o-1", Status: models.OrderStatusCompleted}
	env.store.orders["o-2"] = &models.Order{ID: "o-2", Status: models.OrderStatusPending}

	assert.ErrorIs(t, env.service.RateOrder(context.Background(), "o-1", 0), ErrInvalidRating)
	assert.ErrorIs(t, env.service.RateOrder(context.Background(), "o-1", 6), ErrInvalidRating)
	assert.ErrorIs(t, env.service.RateOrder(context.Background(), "o-2", 5), ErrNotRateable)

	require.NoError(t, env.service.RateOrder(context.Background(), "o-1", 5))
	assert.Equal(t, 5, env.store.orders["o-1"].Rating)
}

func TestListOverdue(t *testing.T) {
	env := newTestEnv()
	createdAt := time.Now().Add(-2 * time.Hour)

	env.store.orders["late"] = &models.Order{
		ID: "late", Status: models.OrderStatusPending,
		Priority: models.PriorityHigh, CreatedAt: createdAt,
	}
	env.store.orders["fine"] = &models.Order{
		ID: "fine", Status: models.OrderStatusPending,
		Priority: models.PriorityLow, CreatedAt: createdAt,
	}
	env.store.orders["done"] = &models.Order{
		ID: "done", Status: models.OrderStatusCompleted,
		Priority: models.PriorityUrgent, CreatedAt: createdAt,
	}

	overdue, err := env.service.ListOverdue(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "late", overdue[0].ID)
}
