package worker

import (
	"context"
	"log"
	"strconv"
	"time"

	"shipment-service/internal/broker"
	"shipment-service/internal/models"
	"shipment-service/internal/notify"
	"shipment-service/internal/redisclient"
)

const eventDedupTTL = 24 * time.Hour

// NotificationWorker consumes lifecycle events and turns them into
// outbound notifications. Event ids are deduplicated through redis so
// redelivered messages do not re-notify; dispatch failures are already
// swallowed by the dispatcher.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	dispatcher   notify.Dispatcher
	redis        *redisclient.Client
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(
	consumer *broker.Consumer,
	dispatcher notify.Dispatcher,
	redis *redisclient.Client,
) *NotificationWorker {
	w := &NotificationWorker{
		consumer:   consumer,
		dispatcher: dispatcher,
		redis:      redis,
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOverrideLocked(w.handleOverrideLocked)
	eventHandler.OnAuthorizationStarted(w.handleAuthorizationStarted)
	eventHandler.OnAuthorizationCompleted(w.handleAuthorizationCompleted)
	eventHandler.OnRefundRequested(w.handleRefundRequested)
	eventHandler.OnRefundAdjudicated(w.handleRefundAdjudicated)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	log.Println("Starting notification worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	log.Println("Stopping notification worker...")
	return w.consumer.Close()
}

// firstSighting reports whether this event id has not been handled yet.
// Redis trouble errs on the side of notifying.
func (w *NotificationWorker) firstSighting(ctx context.Context, eventID string) bool {
	first, err := w.redis.MarkEventSeen(ctx, eventID, eventDedupTTL)
	if err != nil {
		log.Printf("Event dedup check failed for %s: %v", eventID, err)
		return true
	}
	return first
}

func (w *NotificationWorker) handleOverrideLocked(ctx context.Context, event *models.OverrideLockedEvent) error {
	if !w.firstSighting(ctx, event.EventID) || !event.NotifyBuyer {
		return nil
	}
	_ = w.dispatcher.Send(ctx, notify.KindCutoffLocked, map[string]string{
		"buyer_email":     event.BuyerEmail,
		"tracking_number": event.TrackingNumber,
	})
	return nil
}

func (w *NotificationWorker) handleAuthorizationStarted(ctx context.Context, event *models.AuthorizationStartedEvent) error {
	if !w.firstSighting(ctx, event.EventID) {
		return nil
	}
	_ = w.dispatcher.Send(ctx, notify.KindBuyerConfirmation, map[string]string{
		"buyer_email":     event.BuyerEmail,
		"tracking_number": event.TrackingNumber,
		"typed_name":      event.TypedName,
	})
	_ = w.dispatcher.Send(ctx, notify.KindMerchantAuthorized, map[string]string{
		"merchant_id":     formatInt(event.MerchantID),
		"tracking_number": event.TrackingNumber,
	})
	return nil
}

func (w *NotificationWorker) handleAuthorizationCompleted(ctx context.Context, event *models.AuthorizationCompletedEvent) error {
	if !w.firstSighting(ctx, event.EventID) {
		return nil
	}
	_ = w.dispatcher.Send(ctx, notify.KindAuthorizationCompleted, map[string]string{
		"buyer_email":     event.BuyerEmail,
		"tracking_number": event.TrackingNumber,
	})
	return nil
}

func (w *NotificationWorker) handleRefundRequested(ctx context.Context, event *models.RefundRequestedEvent) error {
	if !w.firstSighting(ctx, event.EventID) {
		return nil
	}
	_ = w.dispatcher.Send(ctx, notify.KindRefundRequested, map[string]string{
		"shipment_id":     formatInt(event.ShipmentID),
		"tracking_number": event.TrackingNumber,
		"buyer_email":     event.BuyerEmail,
		"reason":          event.Reason,
	})
	return nil
}

func (w *NotificationWorker) handleRefundAdjudicated(ctx context.Context, event *models.RefundAdjudicatedEvent) error {
	if !w.firstSighting(ctx, event.EventID) {
		return nil
	}
	kind := notify.KindRefundDenied
	if event.Verdict == models.RefundStatusApproved {
		kind = notify.KindRefundApproved
	}
	_ = w.dispatcher.Send(ctx, kind, map[string]string{
		"buyer_email": event.BuyerEmail,
		"reason":      event.Reason,
	})
	return nil
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
