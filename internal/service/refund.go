package service

import (
	"context"
	"fmt"
	"strings"

	"shipment-service/internal/models"
	"shipment-service/internal/util"

	"go.uber.org/zap"
)

// RefundService is the adjudication machine over refund_status. Gated
// on a completed override; forward-only once adjudicated.
type RefundService struct {
	store     ShipmentStore
	reverser  PaymentReverser
	publisher EventPublisher
	logger    *zap.Logger
}

// NewRefundService creates a new refund service
func NewRefundService(store ShipmentStore, reverser PaymentReverser, publisher EventPublisher) *RefundService {
	return &RefundService{
		store:     store,
		reverser:  reverser,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// RefundRequest is the buyer's refund submission. Lookup is by the
// tracking number and email pair rather than a token; the buyer often
// no longer has the original link at refund time.
type RefundRequest struct {
	TrackingNumber string `json:"tracking_number" binding:"required"`
	BuyerEmail     string `json:"buyer_email" binding:"required,email"`
	Reason         string `json:"reason" binding:"required"`
}

// RequestRefund opens a refund request on a completed authorization.
func (rs *RefundService) RequestRefund(ctx context.Context, req *RefundRequest) (*models.Shipment, error) {
	ctx, span := util.StartSpan(ctx, "RefundService.RequestRefund")
	defer span.End()

	if strings.TrimSpace(req.Reason) == "" {
		return nil, ErrReasonRequired
	}

	shipment, err := rs.store.GetShipmentByTrackingAndEmail(ctx, req.TrackingNumber, req.BuyerEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to look up shipment: %w", err)
	}
	if shipment == nil {
		return nil, ErrNotFound
	}

	requested, err := rs.store.RequestRefund(ctx, shipment.ID, req.Reason)
	if err != nil {
		return nil, err
	}
	if !requested {
		if shipment.OverrideStatus != models.OverrideStatusCompleted {
			return nil, ErrRefundNotEligible
		}
		return nil, ErrRefundAlreadyOpen
	}

	shipment.RefundStatus = models.RefundStatusRequested
	util.RefundRequestsTotal.Inc()
	rs.logger.Info("Refund requested",
		zap.Int64("shipment_id", shipment.ID),
		zap.String("tracking_number", shipment.TrackingNumber))

	event := &models.RefundRequestedEvent{
		BaseEvent:      newBaseEvent(models.EventTypeRefundRequested),
		ShipmentID:     shipment.ID,
		MerchantID:     shipment.MerchantID,
		TrackingNumber: shipment.TrackingNumber,
		BuyerEmail:     shipment.BuyerEmail,
		Reason:         req.Reason,
	}
	if err := rs.publisher.PublishRefundRequested(ctx, event); err != nil {
		rs.logger.Error("Failed to publish RefundRequested event", zap.Error(err))
	}

	return shipment, nil
}

// ApproveRefund grants a requested refund: refund_status moves to
// APPROVED and the merchant's earnings for the shipment are voided. The
// upstream payment reversal is best-effort; the administrative decision
// is authoritative regardless of payment-rail success.
func (rs *RefundService) ApproveRefund(ctx context.Context, shipmentID int64) error {
	ctx, span := util.StartSpan(ctx, "RefundService.ApproveRefund")
	defer span.End()

	shipment, err := rs.store.GetShipmentByID(ctx, shipmentID)
	if err != nil {
		return err
	}
	if shipment == nil {
		return ErrNotFound
	}

	approved, err := rs.store.ApproveRefund(ctx, shipmentID)
	if err != nil {
		return err
	}
	if !approved {
		return ErrAlreadyAdjudicated
	}

	util.RefundsAdjudicatedTotal.WithLabelValues("approved").Inc()
	rs.logger.Info("Refund approved", zap.Int64("shipment_id", shipmentID))

	if shipment.CheckoutReference.Valid {
		if err := rs.reverser.ReversePayment(ctx, shipment.CheckoutReference.String); err != nil {
			rs.logger.Error("Payment reversal failed, refund approval stands",
				zap.Int64("shipment_id", shipmentID),
				zap.Error(err))
		}
	}

	event := &models.RefundAdjudicatedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeRefundApproved),
		ShipmentID: shipment.ID,
		MerchantID: shipment.MerchantID,
		BuyerEmail: shipment.BuyerEmail,
		Verdict:    models.RefundStatusApproved,
	}
	if err := rs.publisher.PublishRefundAdjudicated(ctx, event); err != nil {
		rs.logger.Error("Failed to publish RefundApproved event", zap.Error(err))
	}

	return nil
}

// DenyRefund rejects a requested refund with a stated reason.
func (rs *RefundService) DenyRefund(ctx context.Context, shipmentID int64, reason string) error {
	ctx, span := util.StartSpan(ctx, "RefundService.DenyRefund")
	defer span.End()

	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}

	shipment, err := rs.store.GetShipmentByID(ctx, shipmentID)
	if err != nil {
		return err
	}
	if shipment == nil {
		return ErrNotFound
	}

	denied, err := rs.store.DenyRefund(ctx, shipmentID, reason)
	if err != nil {
		return err
	}
	if !denied {
		return ErrAlreadyAdjudicated
	}

	util.RefundsAdjudicatedTotal.WithLabelValues("denied").Inc()
	rs.logger.Info("Refund denied",
		zap.Int64("shipment_id", shipmentID),
		zap.String("reason", reason))

	event := &models.RefundAdjudicatedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeRefundDenied),
		ShipmentID: shipment.ID,
		MerchantID: shipment.MerchantID,
		BuyerEmail: shipment.BuyerEmail,
		Verdict:    models.RefundStatusDenied,
		Reason:     reason,
	}
	if err := rs.publisher.PublishRefundAdjudicated(ctx, event); err != nil {
		rs.logger.Error("Failed to publish RefundDenied event", zap.Error(err))
	}

	return nil
}
