package models

import "time"

// Event types
const (
	EventTypeShipmentCreated        = "SHIPMENT_CREATED"
	EventTypeCarrierStatusChanged   = "CARRIER_STATUS_CHANGED"
	EventTypeOverrideLocked         = "OVERRIDE_LOCKED"
	EventTypeAuthorizationStarted   = "AUTHORIZATION_STARTED"
	EventTypeAuthorizationCompleted = "AUTHORIZATION_COMPLETED"
	EventTypePayoutAccrued          = "PAYOUT_ACCRUED"
	EventTypeRefundRequested        = "REFUND_REQUESTED"
	EventTypeRefundApproved         = "REFUND_APPROVED"
	EventTypeRefundDenied           = "REFUND_DENIED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ShipmentCreatedEvent published when a fulfillment creates a shipment
type ShipmentCreatedEvent struct {
	BaseEvent
	ShipmentID        int64  `json:"shipment_id"`
	MerchantID        int64  `json:"merchant_id"`
	TrackingNumber    string `json:"tracking_number"`
	Carrier           string `json:"carrier"`
	RequiresSignature bool   `json:"requires_signature"`
	SignatureType     string `json:"signature_type"`
}

// CarrierStatusChangedEvent published when a poll or carrier webhook
// advances the carrier status
type CarrierStatusChangedEvent struct {
	BaseEvent
	ShipmentID int64  `json:"shipment_id"`
	MerchantID int64  `json:"merchant_id"`
	OldStatus  string `json:"old_status"`
	NewStatus  string `json:"new_status"`
}

// OverrideLockedEvent published when the out-for-delivery cutoff latches
type OverrideLockedEvent struct {
	BaseEvent
	ShipmentID     int64  `json:"shipment_id"`
	MerchantID     int64  `json:"merchant_id"`
	TrackingNumber string `json:"tracking_number"`
	BuyerEmail     string `json:"buyer_email"`
	// NotifyBuyer is false when the buyer had already started
	// authorizing before the lock landed.
	NotifyBuyer bool `json:"notify_buyer"`
}

// AuthorizationStartedEvent published when the buyer signs
type AuthorizationStartedEvent struct {
	BaseEvent
	ShipmentID     int64  `json:"shipment_id"`
	MerchantID     int64  `json:"merchant_id"`
	TrackingNumber string `json:"tracking_number"`
	BuyerEmail     string `json:"buyer_email"`
	TypedName      string `json:"typed_name"`
}

// AuthorizationCompletedEvent published when payment confirmation
// completes the override
type AuthorizationCompletedEvent struct {
	BaseEvent
	ShipmentID        int64  `json:"shipment_id"`
	MerchantID        int64  `json:"merchant_id"`
	TrackingNumber    string `json:"tracking_number"`
	BuyerEmail        string `json:"buyer_email"`
	CheckoutReference string `json:"checkout_reference"`
	EarningsCents     int64  `json:"earnings_cents"`
}

// PayoutAccruedEvent published when the per-authorization earnings
// credit is created
type PayoutAccruedEvent struct {
	BaseEvent
	ShipmentID        int64  `json:"shipment_id"`
	MerchantID        int64  `json:"merchant_id"`
	CheckoutReference string `json:"checkout_reference"`
	AmountCents       int64  `json:"amount_cents"`
}

// RefundRequestedEvent published when a buyer opens a refund request
type RefundRequestedEvent struct {
	BaseEvent
	ShipmentID     int64  `json:"shipment_id"`
	MerchantID     int64  `json:"merchant_id"`
	TrackingNumber string `json:"tracking_number"`
	BuyerEmail     string `json:"buyer_email"`
	Reason         string `json:"reason"`
}

// RefundAdjudicatedEvent published on approve or deny
type RefundAdjudicatedEvent struct {
	BaseEvent
	ShipmentID int64  `json:"shipment_id"`
	MerchantID int64  `json:"merchant_id"`
	BuyerEmail string `json:"buyer_email"`
	Verdict    string `json:"verdict"`
	Reason     string `json:"reason,omitempty"`
}
