package service

import (
	"context"
	"testing"

	"shipment-service/internal/models"
	"shipment-service/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type refundFixture struct {
	lifecycle *LifecycleService
	refunds   *RefundService
	store     *testutil.MemStore
	publisher *testutil.RecordingPublisher
	reverser  *testutil.StubReverser
}

func newRefundFixture() *refundFixture {
	store := testutil.NewMemStore()
	publisher := &testutil.RecordingPublisher{}
	reverser := &testutil.StubReverser{}
	return &refundFixture{
		lifecycle: NewLifecycleService(store, &testutil.StubDocuments{}, publisher, testutil.NewMemIdempotency(), testEarningsCents, testThresholdCents),
		refunds:   NewRefundService(store, reverser, publisher),
		store:     store,
		publisher: publisher,
		reverser:  reverser,
	}
}

// completedShipment walks a shipment through authorization and payment
// so refunds become eligible.
func (f *refundFixture) completedShipment(t *testing.T) *models.Shipment {
	t.Helper()
	ctx := context.Background()

	shipment, _, err := f.lifecycle.CreateShipment(ctx, highValueFulfillment())
	require.NoError(t, err)
	_, err = f.lifecycle.StartBuyerAuthorization(ctx, shipment.OverrideToken, &AuthorizationRequest{TypedName: "John Smith"})
	require.NoError(t, err)
	require.NoError(t, f.lifecycle.ConfirmPayment(ctx, &PaymentConfirmation{
		CheckoutReference: "cs_123",
		OverrideToken:     shipment.OverrideToken,
	}))
	return f.store.Shipment(shipment.ID)
}

func refundRequestFor(shipment *models.Shipment) *RefundRequest {
	return &RefundRequest{
		TrackingNumber: shipment.TrackingNumber,
		BuyerEmail:     shipment.BuyerEmail,
		Reason:         "signature never requested by courier",
	}
}

func TestRequestRefund(t *testing.T) {
	f := newRefundFixture()
	shipment := f.completedShipment(t)

	updated, err := f.refunds.RequestRefund(context.Background(), refundRequestFor(shipment))
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusRequested, updated.RefundStatus)

	stored := f.store.Shipment(shipment.ID)
	assert.Equal(t, models.RefundStatusRequested, stored.RefundStatus)
	require.True(t, stored.RefundReason.Valid)
	assert.True(t, stored.RefundRequestedAt.Valid)
	assert.Equal(t, 1, f.publisher.Count(models.EventTypeRefundRequested))
}

func TestRequestRefundGatedOnCompletedOverride(t *testing.T) {
	f := newRefundFixture()
	ctx := context.Background()

	shipment, _, err := f.lifecycle.CreateShipment(ctx, highValueFulfillment())
	require.NoError(t, err)

	// No authorization yet.
	_, err = f.refunds.RequestRefund(ctx, refundRequestFor(shipment))
	assert.ErrorIs(t, err, ErrRefundNotEligible)

	// Started but unpaid is still not eligible.
	_, err = f.lifecycle.StartBuyerAuthorization(ctx, shipment.OverrideToken, &AuthorizationRequest{TypedName: "John Smith"})
	require.NoError(t, err)
	_, err = f.refunds.RequestRefund(ctx, refundRequestFor(shipment))
	assert.ErrorIs(t, err, ErrRefundNotEligible)
}

func TestRequestRefundValidation(t *testing.T) {
	f := newRefundFixture()
	shipment := f.completedShipment(t)
	ctx := context.Background()

	_, err := f.refunds.RequestRefund(ctx, &RefundRequest{
		TrackingNumber: shipment.TrackingNumber,
		BuyerEmail:     shipment.BuyerEmail,
		Reason:         "   ",
	})
	assert.ErrorIs(t, err, ErrReasonRequired)

	_, err = f.refunds.RequestRefund(ctx, &RefundRequest{
		TrackingNumber: shipment.TrackingNumber,
		BuyerEmail:     "someone-else@example.com",
		Reason:         "wrong buyer",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRequestRefundAlreadyOpen(t *testing.T) {
	f := newRefundFixture()
	shipment := f.completedShipment(t)
	ctx := context.Background()

	_, err := f.refunds.RequestRefund(ctx, refundRequestFor(shipment))
	require.NoError(t, err)

	_, err = f.refunds.RequestRefund(ctx, refundRequestFor(shipment))
	assert.ErrorIs(t, err, ErrRefundAlreadyOpen)
}

func TestApproveRefund(t *testing.T) {
	f := newRefundFixture()
	shipment := f.completedShipment(t)
	ctx := context.Background()

	_, err := f.refunds.RequestRefund(ctx, refundRequestFor(shipment))
	require.NoError(t, err)

	require.NoError(t, f.refunds.ApproveRefund(ctx, shipment.ID))

	stored := f.store.Shipment(shipment.ID)
	assert.Equal(t, models.RefundStatusApproved, stored.RefundStatus)
	require.True(t, stored.MerchantEarningsCents.Valid)
	assert.Equal(t, int64(0), stored.MerchantEarningsCents.Int64)

	credit := f.store.Credit("cs_123")
	require.NotNil(t, credit)
	assert.True(t, credit.VoidedAt.Valid, "payout credit must be voided on approval")
	assert.Equal(t, []string{"cs_123"}, f.reverser.Reversed)
	assert.Equal(t, 1, f.publisher.Count(models.EventTypeRefundApproved))
}

func TestApproveRefundSurvivesReversalFailure(t *testing.T) {
	f := newRefundFixture()
	f.reverser.Fail = true
	shipment := f.completedShipment(t)
	ctx := context.Background()

	_, err := f.refunds.RequestRefund(ctx, refundRequestFor(shipment))
	require.NoError(t, err)

	require.NoError(t, f.refunds.ApproveRefund(ctx, shipment.ID))
	assert.Equal(t, models.RefundStatusApproved, f.store.Shipment(shipment.ID).RefundStatus)
	assert.Equal(t, 0, f.reverser.ReversalCount())
}

func TestDenyRefund(t *testing.T) {
	f := newRefundFixture()
	shipment := f.completedShipment(t)
	ctx := context.Background()

	_, err := f.refunds.RequestRefund(ctx, refundRequestFor(shipment))
	require.NoError(t, err)

	require.NoError(t, f.refunds.DenyRefund(ctx, shipment.ID, "courier scan shows signature captured"))

	stored := f.store.Shipment(shipment.ID)
	assert.Equal(t, models.RefundStatusDenied, stored.RefundStatus)
	assert.Equal(t, int64(testEarningsCents), stored.MerchantEarningsCents.Int64,
		"denial leaves earnings intact")
	assert.Equal(t, 1, f.publisher.Count(models.EventTypeRefundDenied))
}

func TestDenyRefundRequiresReason(t *testing.T) {
	f := newRefundFixture()
	shipment := f.completedShipment(t)

	err := f.refunds.DenyRefund(context.Background(), shipment.ID, "")
	assert.ErrorIs(t, err, ErrReasonRequired)
}

func TestAdjudicationIsForwardOnly(t *testing.T) {
	f := newRefundFixture()
	shipment := f.completedShipment(t)
	ctx := context.Background()

	_, err := f.refunds.RequestRefund(ctx, refundRequestFor(shipment))
	require.NoError(t, err)
	require.NoError(t, f.refunds.ApproveRefund(ctx, shipment.ID))

	assert.ErrorIs(t, f.refunds.ApproveRefund(ctx, shipment.ID), ErrAlreadyAdjudicated)
	assert.ErrorIs(t, f.refunds.DenyRefund(ctx, shipment.ID, "too late"), ErrAlreadyAdjudicated)
	assert.Equal(t, models.RefundStatusApproved, f.store.Shipment(shipment.ID).RefundStatus)
}

func TestAdjudicationRequiresOpenRequest(t *testing.T) {
	f := newRefundFixture()
	shipment := f.completedShipment(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.refunds.ApproveRefund(ctx, shipment.ID), ErrAlreadyAdjudicated)
	assert.ErrorIs(t, f.refunds.ApproveRefund(ctx, 9999), ErrNotFound)
}
