package service

import (
	"context"
	"time"

	"shipment-service/internal/models"
)

// ShipmentStore is the persistence surface the lifecycle consumes. All
// mutations are conditional: the bool result reports whether this call
// won the transition. *store.Store satisfies it.
type ShipmentStore interface {
	CreateShipment(ctx context.Context, shipment *models.Shipment) (bool, error)
	GetShipmentByID(ctx context.Context, id int64) (*models.Shipment, error)
	GetShipmentByOverrideToken(ctx context.Context, token string) (*models.Shipment, error)
	GetShipmentByStatusToken(ctx context.Context, token string) (*models.Shipment, error)
	GetShipmentByCheckoutReference(ctx context.Context, ref string) (*models.Shipment, error)
	GetShipmentByTrackingAndEmail(ctx context.Context, trackingNumber, buyerEmail string) (*models.Shipment, error)
	GetShipmentByCarrierAndTracking(ctx context.Context, carrier, trackingNumber string) (*models.Shipment, error)
	ListActiveShipments(ctx context.Context, limit int) ([]models.Shipment, error)
	GetSignatureAuthorization(ctx context.Context, shipmentID int64) (*models.SignatureAuthorization, error)

	AdvanceCarrierStatus(ctx context.Context, shipmentID int64, newStatus string, latch bool) (advanced bool, latched bool, overrideStatus string, err error)
	TouchShipment(ctx context.Context, shipmentID int64) error
	BeginAuthorization(ctx context.Context, shipmentID int64) (bool, error)
	CreateSignatureAuthorization(ctx context.Context, auth *models.SignatureAuthorization) (bool, error)
	ClaimCheckoutReference(ctx context.Context, shipmentID int64, ref string) (bool, error)
	CompleteAuthorization(ctx context.Context, shipmentID int64, earningsCents int64) (bool, error)
	CreatePayoutCredit(ctx context.Context, credit *models.PayoutCredit) (bool, error)
	SetAuthorizationPDF(ctx context.Context, shipmentID int64, url string) error
	RequestRefund(ctx context.Context, shipmentID int64, reason string) (bool, error)
	ApproveRefund(ctx context.Context, shipmentID int64) (bool, error)
	DenyRefund(ctx context.Context, shipmentID int64, reason string) (bool, error)
}

// IdempotencyStore short-circuits webhook replays before they reach
// Postgres. Best-effort: an error reads as "not seen yet"; the SQL
// conditional updates stay the source of truth. The redis client
// satisfies it.
type IdempotencyStore interface {
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CarrierLookup queries a carrier's tracking API. An empty status means
// absent; implementations must degrade errors to absence rather than
// propagate them into poll loops.
type CarrierLookup interface {
	LookupStatus(ctx context.Context, carrier, trackingNumber string) (string, error)
}

// DocumentStore renders and stores the authorization certificate. An
// empty URL is a valid, non-fatal outcome.
type DocumentStore interface {
	CreateAuthorizationDocument(ctx context.Context, shipment *models.Shipment, auth *models.SignatureAuthorization) (string, error)
}

// PaymentReverser reverses an upstream charge on refund approval.
// Best-effort: the administrative decision stands regardless.
type PaymentReverser interface {
	ReversePayment(ctx context.Context, checkoutReference string) error
}

// EventPublisher publishes post-commit lifecycle events. The concrete
// Kafka publisher in internal/broker satisfies it.
type EventPublisher interface {
	PublishShipmentCreated(ctx context.Context, event *models.ShipmentCreatedEvent) error
	PublishCarrierStatusChanged(ctx context.Context, event *models.CarrierStatusChangedEvent) error
	PublishOverrideLocked(ctx context.Context, event *models.OverrideLockedEvent) error
	PublishAuthorizationStarted(ctx context.Context, event *models.AuthorizationStartedEvent) error
	PublishAuthorizationCompleted(ctx context.Context, event *models.AuthorizationCompletedEvent) error
	PublishPayoutAccrued(ctx context.Context, event *models.PayoutAccruedEvent) error
	PublishRefundRequested(ctx context.Context, event *models.RefundRequestedEvent) error
	PublishRefundAdjudicated(ctx context.Context, event *models.RefundAdjudicatedEvent) error
}
