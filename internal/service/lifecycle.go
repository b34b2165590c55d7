package service

import (
	"context"
	"fmt"
	"time"

	"shipment-service/internal/models"
	"shipment-service/internal/signature"
	"shipment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LifecycleService owns the shipment authorization state machine. Every
// transition is a single conditional update in the store; this layer
// decides which transition to attempt, translates lost races into
// specific rejections, and emits post-commit events. Side-effect
// failures (events, PDF) are logged and swallowed: they never revert or
// fail a persisted transition.
type LifecycleService struct {
	store          ShipmentStore
	documents      DocumentStore
	publisher      EventPublisher
	idempotency    IdempotencyStore
	logger         *zap.Logger
	earningsCents  int64
	thresholdCents int64
}

// paymentIdempotencyTTL bounds the redis fast path for replayed payment
// webhooks. Replays arriving after expiry still no-op through the
// conditional updates.
const paymentIdempotencyTTL = 24 * time.Hour

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(
	store ShipmentStore,
	documents DocumentStore,
	publisher EventPublisher,
	idempotency IdempotencyStore,
	earningsCents int64,
	thresholdCents int64,
) *LifecycleService {
	return &LifecycleService{
		store:          store,
		documents:      documents,
		publisher:      publisher,
		idempotency:    idempotency,
		logger:         util.GetLogger(),
		earningsCents:  earningsCents,
		thresholdCents: thresholdCents,
	}
}

// FulfillmentEvent is the raw payload of the fulfillment-created
// webhook, delivered at least once.
type FulfillmentEvent struct {
	MerchantID         int64    `json:"merchant_id" binding:"required"`
	TrackingNumber     string   `json:"tracking_number" binding:"required"`
	Carrier            string   `json:"carrier" binding:"required"`
	BuyerName          string   `json:"buyer_name"`
	BuyerEmail         string   `json:"buyer_email"`
	ItemValueCents     int64    `json:"item_value_cents"`
	CarrierACode       string   `json:"carrier_a_code"`
	CarrierBDescriptor string   `json:"carrier_b_descriptor"`
	ShippingRateTitles []string `json:"shipping_rate_titles"`
}

// CreateShipment creates a shipment from a fulfillment event. The
// signature requirement is classified exactly once here and is
// immutable afterward. Duplicate deliveries of the same
// (merchant, tracking number, carrier) return the existing shipment
// with created=false.
func (s *LifecycleService) CreateShipment(ctx context.Context, req *FulfillmentEvent) (*models.Shipment, bool, error) {
	ctx, span := util.StartSpan(ctx, "LifecycleService.CreateShipment")
	defer span.End()

	requirement := signature.Classify(signature.Signals{
		CarrierACode:        req.CarrierACode,
		CarrierBDescriptor:  req.CarrierBDescriptor,
		ShippingRateTitles:  req.ShippingRateTitles,
		ItemValueCents:      req.ItemValueCents,
		ValueThresholdCents: s.thresholdCents,
	})

	shipment := &models.Shipment{
		MerchantID:        req.MerchantID,
		TrackingNumber:    req.TrackingNumber,
		Carrier:           req.Carrier,
		BuyerName:         req.BuyerName,
		BuyerEmail:        req.BuyerEmail,
		ItemValueCents:    req.ItemValueCents,
		RequiresSignature: requirement.Required(),
		SignatureType:     string(requirement),
		CarrierStatus:     models.CarrierStatusPreTransit,
		OverrideStatus:    models.OverrideStatusNone,
		RefundStatus:      models.RefundStatusNone,
		OverrideToken:     uuid.New().String(),
		BuyerStatusToken:  uuid.New().String(),
	}

	created, err := s.store.CreateShipment(ctx, shipment)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create shipment: %w", err)
	}
	if !created {
		s.logger.Info("Duplicate fulfillment delivery",
			zap.Int64("merchant_id", req.MerchantID),
			zap.String("tracking_number", req.TrackingNumber))
		return shipment, false, nil
	}

	util.ShipmentsCreatedTotal.Inc()
	s.logger.Info("Shipment created",
		zap.Int64("shipment_id", shipment.ID),
		zap.Bool("requires_signature", shipment.RequiresSignature),
		zap.String("signature_type", shipment.SignatureType))

	event := &models.ShipmentCreatedEvent{
		BaseEvent:         newBaseEvent(models.EventTypeShipmentCreated),
		ShipmentID:        shipment.ID,
		MerchantID:        shipment.MerchantID,
		TrackingNumber:    shipment.TrackingNumber,
		Carrier:           shipment.Carrier,
		RequiresSignature: shipment.RequiresSignature,
		SignatureType:     shipment.SignatureType,
	}
	if err := s.publisher.PublishShipmentCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish ShipmentCreated event", zap.Error(err))
	}

	return shipment, true, nil
}

// AdvanceCarrierStatus applies a newly observed carrier status. The
// status only ever moves forward; a duplicate or out-of-order
// observation is a logged no-op, not an error, because polls and
// webhooks race by design. Reaching the out-for-delivery cutoff latches
// the override lock inside the same conditional update, so the advance
// and the latch commit as one step and a buyer can never slip an
// authorization in between them.
func (s *LifecycleService) AdvanceCarrierStatus(ctx context.Context, shipment *models.Shipment, newStatus string) (advanced bool, locked bool, err error) {
	ctx, span := util.StartSpan(ctx, "LifecycleService.AdvanceCarrierStatus")
	defer span.End()

	newRank, ok := models.CarrierStatusRank(newStatus)
	if !ok {
		return false, false, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, newStatus)
	}
	cutoffRank, _ := models.CarrierStatusRank(models.CarrierStatusOutForDelivery)
	latch := newRank >= cutoffRank

	advanced, latched, overrideStatus, err := s.store.AdvanceCarrierStatus(ctx, shipment.ID, newStatus, latch)
	if err != nil {
		return false, false, err
	}
	if !advanced {
		s.logger.Debug("Carrier status unchanged or regressed, skipping",
			zap.Int64("shipment_id", shipment.ID),
			zap.String("stored", shipment.CarrierStatus),
			zap.String("observed", newStatus))
		return false, false, nil
	}

	util.CarrierStatusUpdatesTotal.WithLabelValues(newStatus).Inc()
	s.logger.Info("Carrier status advanced",
		zap.Int64("shipment_id", shipment.ID),
		zap.String("old_status", shipment.CarrierStatus),
		zap.String("new_status", newStatus))

	changeEvent := &models.CarrierStatusChangedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeCarrierStatusChanged),
		ShipmentID: shipment.ID,
		MerchantID: shipment.MerchantID,
		OldStatus:  shipment.CarrierStatus,
		NewStatus:  newStatus,
	}
	if err := s.publisher.PublishCarrierStatusChanged(ctx, changeEvent); err != nil {
		s.logger.Error("Failed to publish CarrierStatusChanged event", zap.Error(err))
	}

	if latched {
		util.OverridesLockedTotal.Inc()
		s.logger.Info("Override locked at delivery cutoff",
			zap.Int64("shipment_id", shipment.ID),
			zap.String("override_status", overrideStatus))

		lockEvent := &models.OverrideLockedEvent{
			BaseEvent:      newBaseEvent(models.EventTypeOverrideLocked),
			ShipmentID:     shipment.ID,
			MerchantID:     shipment.MerchantID,
			TrackingNumber: shipment.TrackingNumber,
			BuyerEmail:     shipment.BuyerEmail,
			NotifyBuyer:    overrideStatus == models.OverrideStatusNone,
		}
		if err := s.publisher.PublishOverrideLocked(ctx, lockEvent); err != nil {
			s.logger.Error("Failed to publish OverrideLocked event", zap.Error(err))
		}
	}

	return advanced, latched, nil
}

// AuthorizationRequest carries the buyer's signed release.
type AuthorizationRequest struct {
	TypedName string `json:"typed_name" binding:"required"`
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

// StartBuyerAuthorization records the buyer's release authorization for
// the shipment behind the override token. Exactly one caller wins under
// concurrent duplicate submission; everyone else gets a specific
// rejection. PDF rendering and notifications are best-effort and never
// abort the transition.
func (s *LifecycleService) StartBuyerAuthorization(ctx context.Context, token string, req *AuthorizationRequest) (*models.Shipment, error) {
	ctx, span := util.StartSpan(ctx, "LifecycleService.StartBuyerAuthorization")
	defer span.End()

	shipment, err := s.store.GetShipmentByOverrideToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve override token: %w", err)
	}
	if shipment == nil {
		util.AuthorizationsRejectedTotal.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}
	if !shipment.RequiresSignature {
		util.AuthorizationsRejectedTotal.WithLabelValues("not_required").Inc()
		return nil, ErrSignatureNotRequired
	}

	started, err := s.store.BeginAuthorization(ctx, shipment.ID)
	if err != nil {
		return nil, err
	}
	if !started {
		return nil, s.rejectAuthorization(ctx, shipment.ID)
	}

	auth := &models.SignatureAuthorization{
		ShipmentID: shipment.ID,
		TypedName:  req.TypedName,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
		SignedAt:   time.Now(),
	}
	if _, err := s.store.CreateSignatureAuthorization(ctx, auth); err != nil {
		// The override transition already won; the audit insert must
		// surface so the caller can alert on it.
		return nil, fmt.Errorf("failed to record signature authorization: %w", err)
	}

	shipment.OverrideStatus = models.OverrideStatusRequested
	util.AuthorizationsStartedTotal.Inc()
	s.logger.Info("Buyer authorization started",
		zap.Int64("shipment_id", shipment.ID),
		zap.String("typed_name", req.TypedName))

	s.generateCertificate(ctx, shipment, auth)

	event := &models.AuthorizationStartedEvent{
		BaseEvent:      newBaseEvent(models.EventTypeAuthorizationStarted),
		ShipmentID:     shipment.ID,
		MerchantID:     shipment.MerchantID,
		TrackingNumber: shipment.TrackingNumber,
		BuyerEmail:     shipment.BuyerEmail,
		TypedName:      req.TypedName,
	}
	if err := s.publisher.PublishAuthorizationStarted(ctx, event); err != nil {
		s.logger.Error("Failed to publish AuthorizationStarted event", zap.Error(err))
	}

	return shipment, nil
}

// rejectAuthorization re-reads the row that beat us to explain why.
func (s *LifecycleService) rejectAuthorization(ctx context.Context, shipmentID int64) error {
	current, err := s.store.GetShipmentByID(ctx, shipmentID)
	if err != nil {
		return err
	}
	if current == nil {
		util.AuthorizationsRejectedTotal.WithLabelValues("not_found").Inc()
		return ErrNotFound
	}
	if current.OverrideStatus != models.OverrideStatusNone {
		util.AuthorizationsRejectedTotal.WithLabelValues("already_processed").Inc()
		return ErrAlreadyProcessed
	}
	util.AuthorizationsRejectedTotal.WithLabelValues("already_locked").Inc()
	return ErrAlreadyLocked
}

// generateCertificate renders the authorization PDF, best-effort.
func (s *LifecycleService) generateCertificate(ctx context.Context, shipment *models.Shipment, auth *models.SignatureAuthorization) {
	url, err := s.documents.CreateAuthorizationDocument(ctx, shipment, auth)
	if err != nil {
		s.logger.Warn("Authorization certificate render failed",
			zap.Int64("shipment_id", shipment.ID),
			zap.Error(err))
		return
	}
	if url == "" {
		return
	}
	if err := s.store.SetAuthorizationPDF(ctx, shipment.ID, url); err != nil {
		s.logger.Warn("Failed to store certificate URL",
			zap.Int64("shipment_id", shipment.ID),
			zap.Error(err))
	}
}

// PaymentConfirmation is the payment provider's asynchronous
// confirmation payload, delivered at least once.
type PaymentConfirmation struct {
	CheckoutReference string    `json:"checkout_reference" binding:"required"`
	OverrideToken     string    `json:"override_token"`
	TypedName         string    `json:"typed_name"`
	IPAddress         string    `json:"ip_address"`
	UserAgent         string    `json:"user_agent"`
	ConfirmedAt       time.Time `json:"confirmed_at"`
}

// ConfirmPayment completes the authorization for the shipment tied to a
// checkout session. Idempotent on the checkout reference: a replayed
// webhook neither double-credits earnings nor creates a second payout
// accrual. Supports both integration flows; when payment arrives before
// the buyer's signing step the authorization record is created here
// from the confirmation details.
func (s *LifecycleService) ConfirmPayment(ctx context.Context, conf *PaymentConfirmation) error {
	ctx, span := util.StartSpan(ctx, "LifecycleService.ConfirmPayment")
	defer span.End()

	idempotencyKey := "payment:" + conf.CheckoutReference
	seen, err := s.idempotency.CheckIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		s.logger.Warn("Payment idempotency check failed, falling through to store",
			zap.String("checkout_reference", conf.CheckoutReference),
			zap.Error(err))
	} else if seen {
		s.logger.Info("Payment confirmation replayed, short-circuiting",
			zap.String("checkout_reference", conf.CheckoutReference))
		return nil
	}

	shipment, err := s.resolveCheckout(ctx, conf)
	if err != nil {
		return err
	}

	signedAt := conf.ConfirmedAt
	if signedAt.IsZero() {
		signedAt = time.Now()
	}
	auth := &models.SignatureAuthorization{
		ShipmentID: shipment.ID,
		TypedName:  conf.TypedName,
		IPAddress:  conf.IPAddress,
		UserAgent:  conf.UserAgent,
		SignedAt:   signedAt,
	}
	if _, err := s.store.CreateSignatureAuthorization(ctx, auth); err != nil {
		return fmt.Errorf("failed to ensure signature authorization: %w", err)
	}

	completed, err := s.store.CompleteAuthorization(ctx, shipment.ID, s.earningsCents)
	if err != nil {
		return err
	}
	if completed {
		util.AuthorizationsCompletedTotal.Inc()
		s.logger.Info("Authorization completed",
			zap.Int64("shipment_id", shipment.ID),
			zap.String("checkout_reference", conf.CheckoutReference))

		event := &models.AuthorizationCompletedEvent{
			BaseEvent:         newBaseEvent(models.EventTypeAuthorizationCompleted),
			ShipmentID:        shipment.ID,
			MerchantID:        shipment.MerchantID,
			TrackingNumber:    shipment.TrackingNumber,
			BuyerEmail:        shipment.BuyerEmail,
			CheckoutReference: conf.CheckoutReference,
			EarningsCents:     s.earningsCents,
		}
		if err := s.publisher.PublishAuthorizationCompleted(ctx, event); err != nil {
			s.logger.Error("Failed to publish AuthorizationCompleted event", zap.Error(err))
		}
	} else {
		s.logger.Info("Payment confirmation replayed, authorization already completed",
			zap.Int64("shipment_id", shipment.ID),
			zap.String("checkout_reference", conf.CheckoutReference))
	}

	// Accrual is attempted on replays too: the unique checkout
	// reference makes it land exactly once even if an earlier delivery
	// crashed between completion and accrual.
	credit := &models.PayoutCredit{
		ShipmentID:        shipment.ID,
		MerchantID:        shipment.MerchantID,
		CheckoutReference: conf.CheckoutReference,
		AmountCents:       s.earningsCents,
	}
	accrued, err := s.store.CreatePayoutCredit(ctx, credit)
	if err != nil {
		return err
	}
	if accrued {
		util.PayoutAccrualsTotal.Inc()
		event := &models.PayoutAccruedEvent{
			BaseEvent:         newBaseEvent(models.EventTypePayoutAccrued),
			ShipmentID:        shipment.ID,
			MerchantID:        shipment.MerchantID,
			CheckoutReference: conf.CheckoutReference,
			AmountCents:       s.earningsCents,
		}
		if err := s.publisher.PublishPayoutAccrued(ctx, event); err != nil {
			s.logger.Error("Failed to publish PayoutAccrued event", zap.Error(err))
		}
	}

	// The key is set only once everything above has committed, so a
	// crash mid-handler leaves the replay free to repair the gap.
	if err := s.idempotency.SetIdempotencyKey(ctx, idempotencyKey, "1", paymentIdempotencyTTL); err != nil {
		s.logger.Warn("Failed to record payment idempotency key",
			zap.String("checkout_reference", conf.CheckoutReference),
			zap.Error(err))
	}

	return nil
}

// resolveCheckout finds the shipment for a confirmation, claiming the
// checkout reference on first contact so it becomes the stable dedup
// key for every replay after it.
func (s *LifecycleService) resolveCheckout(ctx context.Context, conf *PaymentConfirmation) (*models.Shipment, error) {
	shipment, err := s.store.GetShipmentByCheckoutReference(ctx, conf.CheckoutReference)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve checkout reference: %w", err)
	}
	if shipment != nil {
		return shipment, nil
	}

	if conf.OverrideToken == "" {
		return nil, ErrNotFound
	}
	shipment, err = s.store.GetShipmentByOverrideToken(ctx, conf.OverrideToken)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve override token: %w", err)
	}
	if shipment == nil {
		return nil, ErrNotFound
	}

	claimed, err := s.store.ClaimCheckoutReference(ctx, shipment.ID, conf.CheckoutReference)
	if err != nil {
		return nil, err
	}
	if !claimed {
		current, err := s.store.GetShipmentByID(ctx, shipment.ID)
		if err != nil {
			return nil, err
		}
		if current == nil || !current.CheckoutReference.Valid || current.CheckoutReference.String != conf.CheckoutReference {
			// A different checkout session already owns this shipment.
			return nil, ErrAlreadyProcessed
		}
		return current, nil
	}
	return shipment, nil
}

// Snapshot returns the lifecycle state behind a buyer status token.
func (s *LifecycleService) Snapshot(ctx context.Context, statusToken string) (*models.Shipment, *models.SignatureAuthorization, error) {
	shipment, err := s.store.GetShipmentByStatusToken(ctx, statusToken)
	if err != nil {
		return nil, nil, err
	}
	if shipment == nil {
		return nil, nil, ErrNotFound
	}

	auth, err := s.store.GetSignatureAuthorization(ctx, shipment.ID)
	if err != nil {
		return nil, nil, err
	}
	return shipment, auth, nil
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
