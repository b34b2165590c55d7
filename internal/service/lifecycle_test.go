package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"shipment-service/internal/models"
	"shipment-service/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEarningsCents  = 100
	testThresholdCents = 50000
)

type lifecycleFixture struct {
	svc         *LifecycleService
	store       *testutil.MemStore
	publisher   *testutil.RecordingPublisher
	documents   *testutil.StubDocuments
	idempotency *testutil.MemIdempotency
}

func newLifecycleFixture() *lifecycleFixture {
	store := testutil.NewMemStore()
	publisher := &testutil.RecordingPublisher{}
	documents := &testutil.StubDocuments{URL: "https://docs.example.com/auth/1.pdf"}
	idempotency := testutil.NewMemIdempotency()
	return &lifecycleFixture{
		svc:         NewLifecycleService(store, documents, publisher, idempotency, testEarningsCents, testThresholdCents),
		store:       store,
		publisher:   publisher,
		documents:   documents,
		idempotency: idempotency,
	}
}

func highValueFulfillment() *FulfillmentEvent {
	return &FulfillmentEvent{
		MerchantID:     42,
		TrackingNumber: "1Z999AA10123456784",
		Carrier:        "carrier_a",
		BuyerName:      "John Smith",
		BuyerEmail:     "john@example.com",
		ItemValueCents: 89999,
	}
}

func TestCreateShipmentClassifiesSignatureRequirement(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	shipment, created, err := f.svc.CreateShipment(ctx, highValueFulfillment())
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, shipment.RequiresSignature)
	assert.Equal(t, models.SignatureTypeDirect, shipment.SignatureType)
	assert.Equal(t, models.CarrierStatusPreTransit, shipment.CarrierStatus)
	assert.Equal(t, models.OverrideStatusNone, shipment.OverrideStatus)
	assert.NotEmpty(t, shipment.OverrideToken)
	assert.NotEmpty(t, shipment.BuyerStatusToken)
	assert.NotEqual(t, shipment.OverrideToken, shipment.BuyerStatusToken)
	assert.Equal(t, 1, f.publisher.Count(models.EventTypeShipmentCreated))

	low, created, err := f.svc.CreateShipment(ctx, &FulfillmentEvent{
		MerchantID:     42,
		TrackingNumber: "1Z999AA10123456799",
		Carrier:        "carrier_a",
		BuyerEmail:     "jane@example.com",
		ItemValueCents: 2500,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, low.RequiresSignature)
	assert.Equal(t, models.SignatureTypeNone, low.SignatureType)
}

func TestCreateShipmentDuplicateDelivery(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	first, created, err := f.svc.CreateShipment(ctx, highValueFulfillment())
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := f.svc.CreateShipment(ctx, highValueFulfillment())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.OverrideToken, second.OverrideToken,
		"duplicate delivery must not remint tokens")
	assert.Equal(t, 1, f.publisher.Count(models.EventTypeShipmentCreated))
}

func TestAdvanceCarrierStatusForwardOnly(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	shipment, _, err := f.svc.CreateShipment(ctx, highValueFulfillment())
	require.NoError(t, err)

	advanced, locked, err := f.svc.AdvanceCarrierStatus(ctx, shipment, models.CarrierStatusInTransit)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.False(t, locked)

	// A replayed observation is a no-op, not an error.
	advanced, _, err = f.svc.AdvanceCarrierStatus(ctx, shipment, models.CarrierStatusInTransit)
	require.NoError(t, err)
	assert.False(t, advanced)

	// An out-of-order regression never moves the status backward.
	advanced, _, err = f.svc.AdvanceCarrierStatus(ctx, shipment, models.CarrierStatusPreTransit)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, models.CarrierStatusInTransit, f.store.Shipment(shipment.ID).CarrierStatus)
	assert.Equal(t, 1, f.publisher.Count(models.EventTypeCarrierStatusChanged))
}

func TestAdvanceCarrierStatusRejectsUnknownStatus(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	shipment, _, err := f.svc.CreateShipment(ctx, highValueFulfillment())
	require.NoError(t, err)

	_, _, err = f.svc.AdvanceCarrierStatus(ctx, shipment, "RETURNED_TO_SENDER")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.CarrierStatusPreTransit, f.store.Shipment(shipment.ID).CarrierStatus)
}

func TestOutForDeliveryLatchesOverrideLock(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	shipment, _, err := f.svc.CreateShipment(ctx, highValueFulfillment())
	require.NoError(t, err)

	advanced, locked, err := f.svc.AdvanceCarrierStatus(ctx, shipment, models.CarrierStatusOutForDelivery)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.True(t, locked)
	assert.True(t, f.store.Shipment(shipment.ID).OverrideLocked)

	// Delivery after the cutoff advances the status but the latch only
	// fires once.
	advanced, locked, err = f.svc.AdvanceCarrierStatus(ctx, shipment, models.CarrierStatusDelivered)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.False(t, locked)
	assert.Equal(t, 1, f.publisher.Count(models.EventTypeOverrideLocked))
}

func TestSkipToDeliveredStillLatchesLock(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	shipment, _, err := f.svc.CreateShipment(ctx, highValueFulfillment())
	require.NoError(t, err)

	// Some carriers never report the out-for-delivery scan.
	advanced, locked, err := f.svc.AdvanceCarrierStatus(ctx, shipment, models.CarrierStatusDelivered)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.True(t, locked)
	assert.True(t, f.store.Shipment(shipment.ID).OverrideLocked)
}

func TestStartBuyerAuthorization(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	shipment, _, err := f.svc.CreateShipment(ctx, highValueFulfillment())
	require.NoError(t, err)

	updated, err := f.svc.StartBuyerAuthorization(ctx, shipment.OverrideToken, &AuthorizationRequest{
		TypedName: "John Smith",
		IPAddress: "203.0.113.7",
		UserAgent: "Mozilla/5.0",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OverrideStatusRequested, updated.OverrideStatus)
	assert.Equal(t, 1, f.store.AuthorizationCount())

	stored := f.store.Shipment(shipment.ID)
	assert.Equal(t, models.OverrideStatusRequested, stored.OverrideStatus)
	require.True(t, stored.AuthorizationPDFURL.Valid)
	assert.Equal(t, f.documents.URL, stored.AuthorizationPDFURL.String)

	auth, err := f.store.GetSignatureAuthorization(ctx, shipment.ID)
	require.NoError(t, err)
	require.NotNil(t, auth)
	assert.Equal(t, "John Smith", auth.TypedName)
	assert.Equal(t, "203.0.113.7", auth.IPAddress)
	assert.False(t, auth.SignedAt.IsZero())
	assert.Equal(t, 1, f.publisher.Count(models.EventTypeAuthorizationStarted))
}

func TestStartBuyerAuthorizationRejections(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	_, err := f.svc.StartBuyerAuthorization(ctx, "no-such-token", &AuthorizationRequest{TypedName: "X"})
	assert.ErrorIs(t, err, ErrNotFound)

	noSig, _, err := f.svc.CreateShipment(ctx, &FulfillmentEvent{
		MerchantID:     42,
		TrackingNumber: "TRACK-PLAIN",
		Carrier:        "carrier_b",
		ItemValueCents: 1000,
	})
	require.NoError(t, err)
	_, err = f.svc.StartBuyerAuthorization(ctx, noSig.OverrideToken, &AuthorizationRequest{TypedName: "X"})
	assert.ErrorIs(t, err, ErrSignatureNotRequired)
}

func TestStartBuyerAuthorizationAfterLock(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	shipment, _, err := f.svc.CreateShipment(ctx, highValueFulfillment())
	require.NoError(t, err)

	_, _, err = f.svc.AdvanceCarrierStatus(ctx, shipment, models.CarrierStatusOutForDelivery)
	require.NoError(t, err)

	_, err = f.svc.StartBuyerAuthorization(ctx, shipment.OverrideToken, &AuthorizationRequest{TypedName: "John Smith"})
	assert.ErrorIs(t, err, ErrAlreadyLocked)
	assert.Equal(t, models.OverrideStatusNone, f.store.Shipment(shipment.ID).OverrideStatus)
}

func TestAuthorizationRacingDeliveryCutoff(t *testing.T) {
	// A buyer submitting while the out-for-delivery scan arrives must
	// land on one side of the latch or the other. Either the
	// authorization commits first and the lock notice is suppressed, or
	// the lock wins and the submission is rejected outright.
	for i := 0; i < 50; i++ {
		f := newLifecycleFixture()
		ctx := context.Background()

		shipment, _, err := f.svc.CreateShipment(ctx, highValueFulfillment())
		require.NoError(t, err)

		var authErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, authErr = f.svc.StartBuyerAuthorization(ctx, shipment.OverrideToken, &AuthorizationRequest{
				TypedName: "John Smith",
			})
		}()
		go func() {
			defer wg.Done()
			_, _, advErr := f.svc.AdvanceCarrierStatus(ctx, shipment, models.CarrierStatusOutForDelivery)
			assert.NoError(t, advErr)
		}()
		wg.Wait()

		require.Equal(t, 1, f.publisher.Count(models.EventTypeOverrideLocked))
		lockEvent := f.publisher.LastLockEvent()
		require.NotNil(t, lockEvent)

		stored := f.store.Shipment(shipment.ID)
		require.True(t, stored.OverrideLocked)
		if authErr == nil {
			assert.Equal(t, models.OverrideStatusRequested, stored.OverrideStatus)
			assert.False(t, lockEvent.NotifyBuyer,
				"a committed authorization must suppress the lock notice")
		} else {
			assert.ErrorIs(t, authErr, ErrAlreadyLocked)
			assert.Equal(t, models.OverrideStatusNone, stored.OverrideStatus)
			assert.True(t, lockEvent.NotifyBuyer)
		}
	}
}

func TestStartBuyerAuthorizationReplay(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	shipment, _, err := f.svc.CreateShipment(ctx, highValueFulfillment())
	require.NoError(t, err)

	_, err = f.svc.StartBuyerAuthorization(ctx, shipment.OverrideToken, &AuthorizationRequest{TypedName: "John Smith"})
	require.NoError(t, err)

	_, err = f.svc.StartBuyerAuthorization(ctx, shipment.OverrideToken, &AuthorizationRequest{TypedName: "John Smith"})
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.Equal(t, 1, f.store.AuthorizationCount())
}

func TestStartBuyerAuthorizationConcurrentDuplicates(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	shipment, _, err := f.svc.CreateShipment(ctx, highValueFulfillment())
	require.NoError(t, err)

	const submitters = 8
	results := make([]error, submitters)
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.StartBuyerAuthorization(ctx, shipment.OverrideToken, &AuthorizationRequest{
				TypedName: "John Smith",
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyProcessed)
		}
	}
	assert.Equal(t, 1, wins, "exactly one submission may win")
	assert.Equal(t, 1, f.store.AuthorizationCount())
	assert.Equal(t, 1, f.publisher.Count(models.EventTypeAuthorizationStarted))
}

func TestCertificateFailureDoesNotAbortAuthorization(t *testing.T) {
	f := newLifecycleFixture()
	f.documents.Fail = true
	ctx := context.Background()

	shipment, _, err := f.svc.CreateShipment(ctx, highValueFulfillment())
	require.NoError(t, err)

	_, err = f.svc.StartBuyerAuthorization(ctx, shipment.OverrideToken, &AuthorizationRequest{TypedName: "John Smith"})
	require.NoError(t, err)

	stored := f.store.Shipment(shipment.ID)
	assert.Equal(t, models.OverrideStatusRequested, stored.OverrideStatus)
	assert.False(t, stored.AuthorizationPDFURL.Valid)
}

func TestConfirmPaymentCompletesAuthorization(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	shipment, _, err := f.svc.CreateShipment(ctx, highValueFulfillment())
	require.NoError(t, err)
	_, err = f.svc.StartBuyerAuthorization(ctx, shipment.OverrideToken, &AuthorizationRequest{TypedName: "John Smith"})
	require.NoError(t, err)

	err = f.svc.ConfirmPayment(ctx, &PaymentConfirmation{
		CheckoutReference: "cs_123",
		OverrideToken:     shipment.OverrideToken,
	})
	require.NoError(t, err)

	stored := f.store.Shipment(shipment.ID)
	assert.Equal(t, models.OverrideStatusCompleted, stored.OverrideStatus)
	require.True(t, stored.MerchantEarningsCents.Valid)
	assert.Equal(t, int64(testEarningsCents), stored.MerchantEarningsCents.Int64)
	require.True(t, stored.CheckoutReference.Valid)
	assert.Equal(t, "cs_123", stored.CheckoutReference.String)

	credit := f.store.Credit("cs_123")
	require.NotNil(t, credit)
	assert.Equal(t, shipment.ID, credit.ShipmentID)
	assert.Equal(t, int64(testEarningsCents), credit.AmountCents)
	assert.Equal(t, 1, f.publisher.Count(models.EventTypeAuthorizationCompleted))
	assert.Equal(t, 1, f.publisher.Count(models.EventTypePayoutAccrued))
}

func TestConfirmPaymentIsIdempotentOnCheckoutReference(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	shipment, _, err := f.svc.CreateShipment(ctx, highValueFulfillment())
	require.NoError(t, err)
	_, err = f.svc.StartBuyerAuthorization(ctx, shipment.OverrideToken, &AuthorizationRequest{TypedName: "John Smith"})
	require.NoError(t, err)

	conf := &PaymentConfirmation{
		CheckoutReference: "cs_123",
		OverrideToken:     shipment.OverrideToken,
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.ConfirmPayment(ctx, conf))
	}

	stored := f.store.Shipment(shipment.ID)
	assert.Equal(t, int64(testEarningsCents), stored.MerchantEarningsCents.Int64)
	assert.Equal(t, 1, f.store.CreditCount())
	assert.Equal(t, 1, f.store.AuthorizationCount())
	assert.Equal(t, 1, f.publisher.Count(models.EventTypeAuthorizationCompleted))
	assert.Equal(t, 1, f.publisher.Count(models.EventTypePayoutAccrued))

	// The first confirmation records the key; the replays short-circuit
	// on it without touching the store again.
	assert.Equal(t, 1, f.idempotency.Sets)
	assert.Equal(t, 3, f.idempotency.Checks)
}

func TestConfirmPaymentShortCircuitsOnSeenReference(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	// The reference maps to no shipment at all, so only the cached key
	// can explain a clean return.
	f.idempotency.Seed("payment:cs_replayed")

	err := f.svc.ConfirmPayment(ctx, &PaymentConfirmation{CheckoutReference: "cs_replayed"})
	require.NoError(t, err)
	assert.Equal(t, 0, f.store.CreditCount())
	assert.Equal(t, 0, f.publisher.Count(models.EventTypeAuthorizationCompleted))
}

func TestConfirmPaymentBeforeSigningStep(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	shipment, _, err := f.svc.CreateShipment(ctx, highValueFulfillment())
	require.NoError(t, err)

	// Payment-first flow: the confirmation carries the signing details
	// because no authorization record exists yet.
	err = f.svc.ConfirmPayment(ctx, &PaymentConfirmation{
		CheckoutReference: "cs_456",
		OverrideToken:     shipment.OverrideToken,
		TypedName:         "John Smith",
		IPAddress:         "203.0.113.7",
	})
	require.NoError(t, err)

	stored := f.store.Shipment(shipment.ID)
	assert.Equal(t, models.OverrideStatusCompleted, stored.OverrideStatus)
	assert.Equal(t, 1, f.store.AuthorizationCount())

	auth, err := f.store.GetSignatureAuthorization(ctx, shipment.ID)
	require.NoError(t, err)
	require.NotNil(t, auth)
	assert.Equal(t, "John Smith", auth.TypedName)
}

func TestConfirmPaymentUnknownReference(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	err := f.svc.ConfirmPayment(ctx, &PaymentConfirmation{CheckoutReference: "cs_unknown"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfirmPaymentRejectsForeignCheckoutReference(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	shipment, _, err := f.svc.CreateShipment(ctx, highValueFulfillment())
	require.NoError(t, err)

	require.NoError(t, f.svc.ConfirmPayment(ctx, &PaymentConfirmation{
		CheckoutReference: "cs_first",
		OverrideToken:     shipment.OverrideToken,
		TypedName:         "John Smith",
	}))

	// A second session cannot attach to a shipment another checkout
	// already owns.
	err = f.svc.ConfirmPayment(ctx, &PaymentConfirmation{
		CheckoutReference: "cs_second",
		OverrideToken:     shipment.OverrideToken,
		TypedName:         "John Smith",
	})
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.Equal(t, 1, f.store.CreditCount())
}

func TestSnapshot(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	shipment, _, err := f.svc.CreateShipment(ctx, highValueFulfillment())
	require.NoError(t, err)

	got, auth, err := f.svc.Snapshot(ctx, shipment.BuyerStatusToken)
	require.NoError(t, err)
	assert.Equal(t, shipment.ID, got.ID)
	assert.Nil(t, auth)

	_, err = f.svc.StartBuyerAuthorization(ctx, shipment.OverrideToken, &AuthorizationRequest{TypedName: "John Smith"})
	require.NoError(t, err)

	_, auth, err = f.svc.Snapshot(ctx, shipment.BuyerStatusToken)
	require.NoError(t, err)
	require.NotNil(t, auth)
	assert.Equal(t, "John Smith", auth.TypedName)

	_, _, err = f.svc.Snapshot(ctx, "bogus")
	assert.True(t, errors.Is(err, ErrNotFound))
}
