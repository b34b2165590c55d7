package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shipment-service/internal/models"

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

// GetShipmentByID retrieves a shipment by ID
func (s *Store) GetShipmentByID(ctx context.Context, id int64) (*models.Shipment, error) {
	var shipment models.Shipment
	err := s.db.GetContext(ctx, &shipment, "SELECT * FROM shipments WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// GetShipmentByOverrideToken retrieves a shipment by its buyer-facing
// authorization token
func (s *Store) GetShipmentByOverrideToken(ctx context.Context, token string) (*models.Shipment, error) {
	var shipment models.Shipment
	err := s.db.GetContext(ctx, &shipment, "SELECT * FROM shipments WHERE override_token = $1", token)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// GetShipmentByStatusToken retrieves a shipment by its buyer-facing
// status token
func (s *Store) GetShipmentByStatusToken(ctx context.Context, token string) (*models.Shipment, error) {
	var shipment models.Shipment
	err := s.db.GetContext(ctx, &shipment, "SELECT * FROM shipments WHERE buyer_status_token = $1", token)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// GetShipmentByCheckoutReference retrieves the shipment tied to a
// payment checkout session
func (s *Store) GetShipmentByCheckoutReference(ctx context.Context, ref string) (*models.Shipment, error) {
	var shipment models.Shipment
	err := s.db.GetContext(ctx, &shipment, "SELECT * FROM shipments WHERE checkout_reference = $1", ref)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// GetShipmentByTrackingAndEmail retrieves a shipment by the refund-flow
// lookup pair
func (s *Store) GetShipmentByTrackingAndEmail(ctx context.Context, trackingNumber, buyerEmail string) (*models.Shipment, error) {
	var shipment models.Shipment
	err := s.db.GetContext(ctx, &shipment,
		"SELECT * FROM shipments WHERE tracking_number = $1 AND buyer_email = $2",
		trackingNumber, buyerEmail)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// GetShipmentByCarrierAndTracking retrieves a shipment by the pair a
// carrier webhook identifies it with
func (s *Store) GetShipmentByCarrierAndTracking(ctx context.Context, carrier, trackingNumber string) (*models.Shipment, error) {
	var shipment models.Shipment
	err := s.db.GetContext(ctx, &shipment,
		"SELECT * FROM shipments WHERE carrier = $1 AND tracking_number = $2",
		carrier, trackingNumber)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// ListActiveShipments retrieves in-flight shipments for polling, oldest
// update first so worst-case staleness stays bounded under rate limits
func (s *Store) ListActiveShipments(ctx context.Context, limit int) ([]models.Shipment, error) {
	var shipments []models.Shipment
	err := s.db.SelectContext(ctx, &shipments,
		"SELECT * FROM shipments WHERE carrier_status <> $1 ORDER BY updated_at ASC LIMIT $2",
		models.CarrierStatusDelivered, limit)
	return shipments, err
}

// GetSignatureAuthorization retrieves the authorization record for a
// shipment, nil when none exists yet
func (s *Store) GetSignatureAuthorization(ctx context.Context, shipmentID int64) (*models.SignatureAuthorization, error) {
	var auth models.SignatureAuthorization
	err := s.db.GetContext(ctx, &auth,
		"SELECT * FROM signature_authorizations WHERE shipment_id = $1", shipmentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &auth, nil
}

// GetPayoutCreditByCheckoutReference retrieves the accrual for a
// checkout session, nil when none exists
func (s *Store) GetPayoutCreditByCheckoutReference(ctx context.Context, ref string) (*models.PayoutCredit, error) {
	var credit models.PayoutCredit
	err := s.db.GetContext(ctx, &credit,
		"SELECT * FROM payout_credits WHERE checkout_reference = $1", ref)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &credit, nil
}
