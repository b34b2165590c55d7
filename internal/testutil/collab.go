package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"shipment-service/internal/models"
)

// RecordingPublisher captures published event types in order, plus the
// full lock events so tests can inspect the notify flag.
type RecordingPublisher struct {
	mu         sync.Mutex
	Events     []string
	LockEvents []*models.OverrideLockedEvent
}

func (p *RecordingPublisher) record(eventType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, eventType)
	return nil
}

// Count returns how many events of a type were published.
func (p *RecordingPublisher) Count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.Events {
		if e == eventType {
			n++
		}
	}
	return n
}

func (p *RecordingPublisher) PublishShipmentCreated(_ context.Context, e *models.ShipmentCreatedEvent) error {
	return p.record(e.EventType)
}

func (p *RecordingPublisher) PublishCarrierStatusChanged(_ context.Context, e *models.CarrierStatusChangedEvent) error {
	return p.record(e.EventType)
}

func (p *RecordingPublisher) PublishOverrideLocked(_ context.Context, e *models.OverrideLockedEvent) error {
	p.mu.Lock()
	p.LockEvents = append(p.LockEvents, e)
	p.mu.Unlock()
	return p.record(e.EventType)
}

// LastLockEvent returns the most recent OverrideLocked event, nil when
// none was published.
func (p *RecordingPublisher) LastLockEvent() *models.OverrideLockedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.LockEvents) == 0 {
		return nil
	}
	return p.LockEvents[len(p.LockEvents)-1]
}

func (p *RecordingPublisher) PublishAuthorizationStarted(_ context.Context, e *models.AuthorizationStartedEvent) error {
	return p.record(e.EventType)
}

func (p *RecordingPublisher) PublishAuthorizationCompleted(_ context.Context, e *models.AuthorizationCompletedEvent) error {
	return p.record(e.EventType)
}

func (p *RecordingPublisher) PublishPayoutAccrued(_ context.Context, e *models.PayoutAccruedEvent) error {
	return p.record(e.EventType)
}

func (p *RecordingPublisher) PublishRefundRequested(_ context.Context, e *models.RefundRequestedEvent) error {
	return p.record(e.EventType)
}

func (p *RecordingPublisher) PublishRefundAdjudicated(_ context.Context, e *models.RefundAdjudicatedEvent) error {
	return p.record(e.EventType)
}

// StubDocuments returns a fixed certificate URL, or fails on demand.
type StubDocuments struct {
	URL  string
	Fail bool
}

func (d *StubDocuments) CreateAuthorizationDocument(_ context.Context, _ *models.Shipment, _ *models.SignatureAuthorization) (string, error) {
	if d.Fail {
		return "", errors.New("render service unavailable")
	}
	return d.URL, nil
}

// StubReverser records reversal attempts, or fails on demand.
type StubReverser struct {
	mu       sync.Mutex
	Fail     bool
	Reversed []string
}

func (r *StubReverser) ReversePayment(_ context.Context, checkoutReference string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail {
		return errors.New("payment provider unavailable")
	}
	r.Reversed = append(r.Reversed, checkoutReference)
	return nil
}

// ReversalCount reports how many reversals succeeded.
func (r *StubReverser) ReversalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Reversed)
}

// MemIdempotency is an in-memory idempotency key set with call
// counters for asserting the fast path.
type MemIdempotency struct {
	mu     sync.Mutex
	keys   map[string]struct{}
	Checks int
	Sets   int
}

// NewMemIdempotency creates an empty MemIdempotency.
func NewMemIdempotency() *MemIdempotency {
	return &MemIdempotency{keys: make(map[string]struct{})}
}

func (m *MemIdempotency) CheckIdempotencyKey(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Checks++
	_, ok := m.keys[key]
	return ok, nil
}

func (m *MemIdempotency) SetIdempotencyKey(_ context.Context, key string, _ interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sets++
	m.keys[key] = struct{}{}
	return nil
}

// Seed marks a key as already seen.
func (m *MemIdempotency) Seed(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = struct{}{}
}

// StaticCarrier serves tracking statuses from a fixed map. Missing
// tracking numbers read as absent, matching the degrade-to-absence
// contract of the real client.
type StaticCarrier struct {
	mu       sync.Mutex
	Statuses map[string]string
	Errs     map[string]error
	Lookups  int
}

func (c *StaticCarrier) LookupStatus(_ context.Context, _ string, trackingNumber string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Lookups++
	if err, ok := c.Errs[trackingNumber]; ok {
		return "", err
	}
	return c.Statuses[trackingNumber], nil
}
