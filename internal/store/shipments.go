package store

import (
	"context"
	"database/sql"
	"fmt"

	"shipment-service/internal/models"

	"github.com/lib/pq"
)

// Every mutation in this file is a single conditional statement: the
// precondition lives in the WHERE clause, so concurrent callers race on
// rows-affected instead of on a read-then-write pair.

// CreateShipment inserts a shipment idempotently on the natural key
// (merchant_id, tracking_number, carrier). Returns created=false when a
// duplicate fulfillment delivery finds the row already present, with the
// existing row loaded into the struct either way.
func (s *Store) CreateShipment(ctx context.Context, shipment *models.Shipment) (bool, error) {
	query := `
		INSERT INTO shipments (
			merchant_id, tracking_number, carrier, buyer_name, buyer_email,
			item_value_cents, requires_signature, signature_type,
			carrier_status, override_status, override_locked,
			override_token, buyer_status_token, refund_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, $11, $12, $13)
		ON CONFLICT (merchant_id, tracking_number, carrier) DO NOTHING
		RETURNING id, created_at, updated_at`

	err := s.db.GetContext(ctx, shipment, query,
		shipment.MerchantID, shipment.TrackingNumber, shipment.Carrier,
		shipment.BuyerName, shipment.BuyerEmail, shipment.ItemValueCents,
		shipment.RequiresSignature, shipment.SignatureType,
		shipment.CarrierStatus, shipment.OverrideStatus,
		shipment.OverrideToken, shipment.BuyerStatusToken, shipment.RefundStatus)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("failed to create shipment: %w", err)
	}

	existing, err := s.getShipmentByNaturalKey(ctx, shipment.MerchantID, shipment.TrackingNumber, shipment.Carrier)
	if err != nil {
		return false, err
	}
	*shipment = *existing
	return false, nil
}

func (s *Store) getShipmentByNaturalKey(ctx context.Context, merchantID int64, trackingNumber, carrier string) (*models.Shipment, error) {
	var shipment models.Shipment
	err := s.db.GetContext(ctx, &shipment,
		"SELECT * FROM shipments WHERE merchant_id = $1 AND tracking_number = $2 AND carrier = $3",
		merchantID, trackingNumber, carrier)
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// AdvanceCarrierStatus moves carrier_status forward and, when latch is
// set, closes the override lock in the same statement. The guard only
// matches rows whose current status ranks strictly below the new one, so
// duplicate and out-of-order deliveries collapse to advanced=false.
// Keeping the latch inside the advance means no moment exists where the
// package is out for delivery but still authorizable, and a crash can
// never strand the row in that state. The self-join surfaces the
// pre-update lock so the caller learns whether this call latched it.
func (s *Store) AdvanceCarrierStatus(ctx context.Context, shipmentID int64, newStatus string, latch bool) (advanced bool, latched bool, overrideStatus string, err error) {
	lower := models.CarrierStatusesBelow(newStatus)
	if len(lower) == 0 {
		return false, false, "", nil
	}

	var row struct {
		WasLocked      bool   `db:"was_locked"`
		OverrideStatus string `db:"override_status"`
	}
	err = s.db.GetContext(ctx, &row, `
		UPDATE shipments s
		SET carrier_status = $1, override_locked = s.override_locked OR $2, updated_at = NOW()
		FROM shipments prev
		WHERE s.id = $3 AND prev.id = s.id AND s.carrier_status = ANY($4)
		RETURNING prev.override_locked AS was_locked, s.override_status`,
		newStatus, latch, shipmentID, pq.Array(lower))
	if err == sql.ErrNoRows {
		return false, false, "", nil
	}
	if err != nil {
		return false, false, "", fmt.Errorf("failed to advance carrier status: %w", err)
	}
	return true, latch && !row.WasLocked, row.OverrideStatus, nil
}

// TouchShipment bumps updated_at so an unchanged poll still pushes the
// shipment to the back of the staleness queue.
func (s *Store) TouchShipment(ctx context.Context, shipmentID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE shipments SET updated_at = NOW() WHERE id = $1", shipmentID)
	return err
}

// BeginAuthorization flips override_status NONE -> REQUESTED when the
// shipment requires a signature and is not locked. Exactly one of any
// set of concurrent callers observes started=true.
func (s *Store) BeginAuthorization(ctx context.Context, shipmentID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shipments SET override_status = $1, updated_at = NOW()
		WHERE id = $2 AND override_status = $3 AND requires_signature AND NOT override_locked`,
		models.OverrideStatusRequested, shipmentID, models.OverrideStatusNone)
	if err != nil {
		return false, fmt.Errorf("failed to begin authorization: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CreateSignatureAuthorization inserts the single audit record for a
// shipment. The unique index on shipment_id makes the second writer a
// no-op rather than a duplicate.
func (s *Store) CreateSignatureAuthorization(ctx context.Context, auth *models.SignatureAuthorization) (bool, error) {
	query := `
		INSERT INTO signature_authorizations (shipment_id, typed_name, ip_address, user_agent, signed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (shipment_id) DO NOTHING
		RETURNING id`

	err := s.db.GetContext(ctx, &auth.ID, query,
		auth.ShipmentID, auth.TypedName, auth.IPAddress, auth.UserAgent, auth.SignedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create signature authorization: %w", err)
	}
	return true, nil
}

// ClaimCheckoutReference attaches a payment checkout session to a
// shipment at most once.
func (s *Store) ClaimCheckoutReference(ctx context.Context, shipmentID int64, ref string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE shipments SET checkout_reference = $1, updated_at = NOW() WHERE id = $2 AND checkout_reference IS NULL",
		ref, shipmentID)
	if err != nil {
		return false, fmt.Errorf("failed to claim checkout reference: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CompleteAuthorization flips override_status to COMPLETED and records
// the per-authorization earnings. Replayed confirmations find no
// matching row and report completed=false.
func (s *Store) CompleteAuthorization(ctx context.Context, shipmentID int64, earningsCents int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shipments SET override_status = $1, merchant_earnings_cents = $2, updated_at = NOW()
		WHERE id = $3 AND override_status <> $1`,
		models.OverrideStatusCompleted, earningsCents, shipmentID)
	if err != nil {
		return false, fmt.Errorf("failed to complete authorization: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CreatePayoutCredit accrues the earnings credit, unique per checkout
// reference so webhook replays cannot double-credit.
func (s *Store) CreatePayoutCredit(ctx context.Context, credit *models.PayoutCredit) (bool, error) {
	query := `
		INSERT INTO payout_credits (shipment_id, merchant_id, checkout_reference, amount_cents)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (checkout_reference) DO NOTHING
		RETURNING id, created_at`

	err := s.db.GetContext(ctx, credit, query,
		credit.ShipmentID, credit.MerchantID, credit.CheckoutReference, credit.AmountCents)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create payout credit: %w", err)
	}
	return true, nil
}

// SetAuthorizationPDF records the certificate URL at most once.
func (s *Store) SetAuthorizationPDF(ctx context.Context, shipmentID int64, url string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE shipments SET authorization_pdf_url = $1, updated_at = NOW() WHERE id = $2 AND authorization_pdf_url IS NULL",
		url, shipmentID)
	return err
}

// RequestRefund opens a refund request, gated on a completed override
// and no prior request.
func (s *Store) RequestRefund(ctx context.Context, shipmentID int64, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shipments SET refund_status = $1, refund_reason = $2, refund_requested_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND override_status = $4 AND refund_status = $5`,
		models.RefundStatusRequested, reason, shipmentID,
		models.OverrideStatusCompleted, models.RefundStatusNone)
	if err != nil {
		return false, fmt.Errorf("failed to request refund: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ApproveRefund adjudicates a requested refund, zeroing the merchant's
// earnings and voiding the payout credit in one transaction so the
// status flip and the clawback commit or fail together.
func (s *Store) ApproveRefund(ctx context.Context, shipmentID int64) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE shipments SET refund_status = $1, merchant_earnings_cents = 0, updated_at = NOW()
		WHERE id = $2 AND refund_status = $3`,
		models.RefundStatusApproved, shipmentID, models.RefundStatusRequested)
	if err != nil {
		return false, fmt.Errorf("failed to approve refund: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil || n != 1 {
		return false, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE payout_credits SET voided_at = NOW() WHERE shipment_id = $1 AND voided_at IS NULL",
		shipmentID)
	if err != nil {
		return false, fmt.Errorf("failed to void payout credit: %w", err)
	}

	return true, tx.Commit()
}

// DenyRefund adjudicates a requested refund with a verdict reason.
func (s *Store) DenyRefund(ctx context.Context, shipmentID int64, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shipments SET refund_status = $1, refund_reason = $2, updated_at = NOW()
		WHERE id = $3 AND refund_status = $4`,
		models.RefundStatusDenied, reason, shipmentID, models.RefundStatusRequested)
	if err != nil {
		return false, fmt.Errorf("failed to deny refund: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
