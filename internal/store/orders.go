package store

import (
	"context"
	"database/sql"
	"fmt"

	"fulfillment-service/internal/models"
)

// ErrOrderNotFound is returned when an order id does not exist
var ErrOrderNotFound = fmt.Errorf("order not found")

// CreateOrder creates a new order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, reservation_id, property_id, guest_id, total_amount,
			currency, status, priority, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		order.ID, order.ReservationID, order.PropertyID, order.GuestID,
		order.TotalAmount, order.Currency, order.Status, order.Priority,
		order.ScheduledFor)
	return row.Scan(&order.CreatedAt, &order.UpdatedAt)
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByGuestID retrieves orders for a guest
func (s *Store) GetOrdersByGuestID(ctx context.Context, guestID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE guest_id = $1 ORDER BY created_at DESC", guestID)
	return orders, err
}

// ListActiveOrders retrieves all orders in a non-terminal status
func (s *Store) ListActiveOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		`SELECT * FROM orders
		 WHERE status NOT IN ($1, $2, $3)
		 ORDER BY created_at`,
		models.OrderStatusCompleted, models.OrderStatusCancelled, models.OrderStatusRefunded)
	return orders, err
}

// UpdateOrderStatus updates order status, stamping the matching terminal
// timestamp for COMPLETED, CANCELLED and REFUNDED
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	query := `
		UPDATE orders SET
			status = $1,
			updated_at = NOW(),
			completed_at = CASE WHEN $1 = 'COMPLETED' THEN NOW() ELSE completed_at END,
			cancelled_at = CASE WHEN $1 = 'CANCELLED' THEN NOW() ELSE cancelled_at END,
			refunded_at  = CASE WHEN $1 = 'REFUNDED'  THEN NOW() ELSE refunded_at  END
		WHERE id = $2`

	res, err := s.db.ExecContext(ctx, query, status, orderID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return nil
}

// SetOrderExternalRef mirrors the first successful dispatch onto the order
func (s *Store) SetOrderExternalRef(ctx context.Context, orderID string, provider models.Provider, externalRef string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orders SET external_order_id = $1, external_provider = $2, updated_at = NOW()
		 WHERE id = $3 AND external_order_id = ''`,
		externalRef, provider, orderID)
	return err
}

// SetOrderRating records post-completion guest feedback
func (s *Store) SetOrderRating(ctx context.Context, orderID string, rating int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET rating = $1, updated_at = NOW() WHERE id = $2",
		rating, orderID)
	return err
}

// CreateOrderLine creates a new order line
func (s *Store) CreateOrderLine(ctx context.Context, line *models.OrderLine) error {
	query := `
		INSERT INTO order_lines (id, order_id, catalog_item_id, quantity, unit_price, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		line.ID, line.OrderID, line.CatalogItemID, line.Quantity, line.UnitPrice, line.Metadata)
	return err
}

// GetOrderLinesByOrderID retrieves all lines for an order
func (s *Store) GetOrderLinesByOrderID(ctx context.Context, orderID string) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := s.db.SelectContext(ctx, &lines,
		"SELECT * FROM order_lines WHERE order_id = $1", orderID)
	return lines, err
}
