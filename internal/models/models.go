package models

import (
	"database/sql"
	"time"
)

// Shipment represents one carrier-trackable package and its
// authorization lifecycle state.
type Shipment struct {
	ID                    int64          `db:"id" json:"id"`
	MerchantID            int64          `db:"merchant_id" json:"merchant_id"`
	TrackingNumber        string         `db:"tracking_number" json:"tracking_number"`
	Carrier               string         `db:"carrier" json:"carrier"`
	BuyerName             string         `db:"buyer_name" json:"buyer_name"`
	BuyerEmail            string         `db:"buyer_email" json:"buyer_email"`
	ItemValueCents        int64          `db:"item_value_cents" json:"item_value_cents"`
	MerchantEarningsCents sql.NullInt64  `db:"merchant_earnings_cents" json:"merchant_earnings_cents"`
	RequiresSignature     bool           `db:"requires_signature" json:"requires_signature"`
	SignatureType         string         `db:"signature_type" json:"signature_type"`
	CarrierStatus         string         `db:"carrier_status" json:"carrier_status"`
	OverrideStatus        string         `db:"override_status" json:"override_status"`
	OverrideLocked        bool           `db:"override_locked" json:"override_locked"`
	OverrideToken         string         `db:"override_token" json:"-"`
	BuyerStatusToken      string         `db:"buyer_status_token" json:"-"`
	CheckoutReference     sql.NullString `db:"checkout_reference" json:"-"`
	RefundStatus          string         `db:"refund_status" json:"refund_status"`
	RefundReason          sql.NullString `db:"refund_reason" json:"refund_reason"`
	RefundRequestedAt     sql.NullTime   `db:"refund_requested_at" json:"refund_requested_at"`
	AuthorizationPDFURL   sql.NullString `db:"authorization_pdf_url" json:"authorization_pdf_url"`
	CreatedAt             time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at" json:"updated_at"`
}

// SignatureAuthorization is the append-only audit record of the buyer's
// release authorization. At most one exists per shipment.
type SignatureAuthorization struct {
	ID         int64     `db:"id" json:"id"`
	ShipmentID int64     `db:"shipment_id" json:"shipment_id"`
	TypedName  string    `db:"typed_name" json:"typed_name"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	SignedAt   time.Time `db:"signed_at" json:"signed_at"`
}

// PayoutCredit is a merchant-earnings accrual created when an
// authorization is paid. Unique per checkout reference.
type PayoutCredit struct {
	ID                int64        `db:"id" json:"id"`
	ShipmentID        int64        `db:"shipment_id" json:"shipment_id"`
	MerchantID        int64        `db:"merchant_id" json:"merchant_id"`
	CheckoutReference string       `db:"checkout_reference" json:"checkout_reference"`
	AmountCents       int64        `db:"amount_cents" json:"amount_cents"`
	VoidedAt          sql.NullTime `db:"voided_at" json:"voided_at"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
}

// Carrier statuses, in transit order
const (
	CarrierStatusPreTransit     = "PRE_TRANSIT"
	CarrierStatusInTransit      = "IN_TRANSIT"
	CarrierStatusOutForDelivery = "OUT_FOR_DELIVERY"
	CarrierStatusDelivered      = "DELIVERED"
)

// carrierStatusRank orders statuses for the monotonic advance guard.
var carrierStatusRank = map[string]int{
	CarrierStatusPreTransit:     0,
	CarrierStatusInTransit:      1,
	CarrierStatusOutForDelivery: 2,
	CarrierStatusDelivered:      3,
}

// CarrierStatusRank returns the transit-order rank of a status and
// whether the status is known.
func CarrierStatusRank(status string) (int, bool) {
	rank, ok := carrierStatusRank[status]
	return rank, ok
}

// CarrierStatusesBelow returns every status strictly lower-ranked than
// the given one. Empty for an unknown status.
func CarrierStatusesBelow(status string) []string {
	target, ok := carrierStatusRank[status]
	if !ok {
		return nil
	}
	below := make([]string, 0, target)
	for s, rank := range carrierStatusRank {
		if rank < target {
			below = append(below, s)
		}
	}
	return below
}

// Override statuses
const (
	OverrideStatusNone      = "NONE"
	OverrideStatusRequested = "REQUESTED"
	OverrideStatusCompleted = "COMPLETED"
)

// Refund statuses
const (
	RefundStatusNone      = "NONE"
	RefundStatusRequested = "REQUESTED"
	RefundStatusApproved  = "APPROVED"
	RefundStatusDenied    = "DENIED"
)

// Signature requirement classifications
const (
	SignatureTypeNone   = "NONE"
	SignatureTypeDirect = "DIRECT"
	SignatureTypeAdult  = "ADULT"
)
