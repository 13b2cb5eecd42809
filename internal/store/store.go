package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// CreateDispatch creates a dispatch record for a provider-bound order line
func (s *Store) CreateDispatch(ctx context.Context, d *models.Dispatch) error {
	query := `
		INSERT INTO dispatches (id, order_id, line_id, provider, external_ref, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		d.ID, d.OrderID, d.LineID, d.Provider, d.ExternalRef, d.Status)
	return row.Scan(&d.CreatedAt, &d.UpdatedAt)
}

// GetDispatchByExternalRef resolves a dispatch from a provider's reference,
// the correlation key carried by webhook events
func (s *Store) GetDispatchByExternalRef(ctx context.Context, provider models.Provider, ref string) (*models.Dispatch, error) {
	var d models.Dispatch
	err := s.db.GetContext(ctx, &d,
		"SELECT * FROM dispatches WHERE provider = $1 AND external_ref = $2", provider, ref)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("dispatch not found: provider=%s ref=%s", provider, ref)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDispatchesByOrderID retrieves all dispatch records for an order
func (s *Store) GetDispatchesByOrderID(ctx context.Context, orderID string) ([]models.Dispatch, error) {
	var dispatches []models.Dispatch
	err := s.db.SelectContext(ctx, &dispatches,
		"SELECT * FROM dispatches WHERE order_id = $1 ORDER BY created_at", orderID)
	return dispatches, err
}

// SetDispatchPlaced records the external reference assigned by a provider
func (s *Store) SetDispatchPlaced(ctx context.Context, dispatchID, externalRef string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE dispatches SET external_ref = $1, status = $2, updated_at = NOW() WHERE id = $3",
		externalRef, models.OrderStatusConfirmed, dispatchID)
	return err
}

// UpdateDispatchStatus applies a webhook-driven status to a dispatch and
// advances its ordering watermark
func (s *Store) UpdateDispatchStatus(ctx context.Context, dispatchID, status string, eventAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE dispatches SET status = $1, last_event_at = $2, updated_at = NOW() WHERE id = $3",
		status, eventAt, dispatchID)
	return err
}

// IsEventProcessed checks the idempotency ledger for a webhook event
func (s *Store) IsEventProcessed(ctx context.Context, provider models.Provider, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2)",
		provider, eventID)
	return exists, err
}

// MarkEventProcessed records a webhook event in the idempotency ledger.
// Returns false when the event was already recorded (replay).
func (s *Store) MarkEventProcessed(ctx context.Context, provider models.Provider, eventID, eventType string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_events (provider, event_id, event_type)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (provider, event_id) DO NOTHING`,
		provider, eventID, eventType)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
