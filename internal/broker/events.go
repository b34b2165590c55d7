package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"shipment-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing lifecycle events. Events are
// emitted after the authoritative state change is persisted; publish
// failures are the caller's to log and swallow.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func shipmentKey(shipmentID int64) string {
	return fmt.Sprintf("shipment-%d", shipmentID)
}

// PublishShipmentCreated publishes ShipmentCreated event
func (ep *EventPublisher) PublishShipmentCreated(ctx context.Context, event *models.ShipmentCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, shipmentKey(event.ShipmentID), event)
}

// PublishCarrierStatusChanged publishes CarrierStatusChanged event
func (ep *EventPublisher) PublishCarrierStatusChanged(ctx context.Context, event *models.CarrierStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, shipmentKey(event.ShipmentID), event)
}

// PublishOverrideLocked publishes OverrideLocked event
func (ep *EventPublisher) PublishOverrideLocked(ctx context.Context, event *models.OverrideLockedEvent) error {
	return ep.producer.PublishEvent(ctx, shipmentKey(event.ShipmentID), event)
}

// PublishAuthorizationStarted publishes AuthorizationStarted event
func (ep *EventPublisher) PublishAuthorizationStarted(ctx context.Context, event *models.AuthorizationStartedEvent) error {
	return ep.producer.PublishEvent(ctx, shipmentKey(event.ShipmentID), event)
}

// PublishAuthorizationCompleted publishes AuthorizationCompleted event
func (ep *EventPublisher) PublishAuthorizationCompleted(ctx context.Context, event *models.AuthorizationCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, shipmentKey(event.ShipmentID), event)
}

// PublishPayoutAccrued publishes PayoutAccrued event
func (ep *EventPublisher) PublishPayoutAccrued(ctx context.Context, event *models.PayoutAccruedEvent) error {
	return ep.producer.PublishEvent(ctx, shipmentKey(event.ShipmentID), event)
}

// PublishRefundRequested publishes RefundRequested event
func (ep *EventPublisher) PublishRefundRequested(ctx context.Context, event *models.RefundRequestedEvent) error {
	return ep.producer.PublishEvent(ctx, shipmentKey(event.ShipmentID), event)
}

// PublishRefundAdjudicated publishes RefundApproved or RefundDenied
func (ep *EventPublisher) PublishRefundAdjudicated(ctx context.Context, event *models.RefundAdjudicatedEvent) error {
	return ep.producer.PublishEvent(ctx, shipmentKey(event.ShipmentID), event)
}

// EventHandler routes consumed lifecycle events to registered callbacks
type EventHandler struct {
	onOverrideLocked         func(context.Context, *models.OverrideLockedEvent) error
	onAuthorizationStarted   func(context.Context, *models.AuthorizationStartedEvent) error
	onAuthorizationCompleted func(context.Context, *models.AuthorizationCompletedEvent) error
	onRefundRequested        func(context.Context, *models.RefundRequestedEvent) error
	onRefundAdjudicated      func(context.Context, *models.RefundAdjudicatedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnOverrideLocked registers a handler for OverrideLocked events
func (eh *EventHandler) OnOverrideLocked(handler func(context.Context, *models.OverrideLockedEvent) error) {
	eh.onOverrideLocked = handler
}

// OnAuthorizationStarted registers a handler for AuthorizationStarted events
func (eh *EventHandler) OnAuthorizationStarted(handler func(context.Context, *models.AuthorizationStartedEvent) error) {
	eh.onAuthorizationStarted = handler
}

// OnAuthorizationCompleted registers a handler for AuthorizationCompleted events
func (eh *EventHandler) OnAuthorizationCompleted(handler func(context.Context, *models.AuthorizationCompletedEvent) error) {
	eh.onAuthorizationCompleted = handler
}

// OnRefundRequested registers a handler for RefundRequested events
func (eh *EventHandler) OnRefundRequested(handler func(context.Context, *models.RefundRequestedEvent) error) {
	eh.onRefundRequested = handler
}

// OnRefundAdjudicated registers a handler for RefundApproved/RefundDenied events
func (eh *EventHandler) OnRefundAdjudicated(handler func(context.Context, *models.RefundAdjudicatedEvent) error) {
	eh.onRefundAdjudicated = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypeOverrideLocked:
		if eh.onOverrideLocked != nil {
			var event models.OverrideLockedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OverrideLocked event: %w", err)
			}
			return eh.onOverrideLocked(ctx, &event)
		}

	case models.EventTypeAuthorizationStarted:
		if eh.onAuthorizationStarted != nil {
			var event models.AuthorizationStartedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal AuthorizationStarted event: %w", err)
			}
			return eh.onAuthorizationStarted(ctx, &event)
		}

	case models.EventTypeAuthorizationCompleted:
		if eh.onAuthorizationCompleted != nil {
			var event models.AuthorizationCompletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal AuthorizationCompleted event: %w", err)
			}
			return eh.onAuthorizationCompleted(ctx, &event)
		}

	case models.EventTypeRefundRequested:
		if eh.onRefundRequested != nil {
			var event models.RefundRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal RefundRequested event: %w", err)
			}
			return eh.onRefundRequested(ctx, &event)
		}

	case models.EventTypeRefundApproved, models.EventTypeRefundDenied:
		if eh.onRefundAdjudicated != nil {
			var event models.RefundAdjudicatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal RefundAdjudicated event: %w", err)
			}
			return eh.onRefundAdjudicated(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
