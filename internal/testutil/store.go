// Package testutil provides in-memory collaborator implementations for
// exercising the lifecycle without Postgres, Redis, or Kafka. MemStore
// mirrors the conditional-update semantics of the real store so race
// properties can be tested with plain goroutines.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"shipment-service/internal/models"
)

// MemStore is an in-memory ShipmentStore.
type MemStore struct {
	mu        sync.Mutex
	nextID    int64
	shipments map[int64]*models.Shipment
	auths     map[int64]*models.SignatureAuthorization
	credits   map[string]*models.PayoutCredit
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		shipments: make(map[int64]*models.Shipment),
		auths:     make(map[int64]*models.SignatureAuthorization),
		credits:   make(map[string]*models.PayoutCredit),
	}
}

func copyShipment(s *models.Shipment) *models.Shipment {
	cp := *s
	return &cp
}

// CreateShipment inserts idempotently on (merchant, tracking, carrier).
func (m *MemStore) CreateShipment(_ context.Context, shipment *models.Shipment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.shipments {
		if existing.MerchantID == shipment.MerchantID &&
			existing.TrackingNumber == shipment.TrackingNumber &&
			existing.Carrier == shipment.Carrier {
			*shipment = *existing
			return false, nil
		}
	}

	m.nextID++
	shipment.ID = m.nextID
	shipment.CreatedAt = time.Now()
	shipment.UpdatedAt = time.Now()
	m.shipments[shipment.ID] = copyShipment(shipment)
	return true, nil
}

func (m *MemStore) GetShipmentByID(_ context.Context, id int64) (*models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.shipments[id]; ok {
		return copyShipment(s), nil
	}
	return nil, nil
}

func (m *MemStore) findShipment(match func(*models.Shipment) bool) *models.Shipment {
	for _, s := range m.shipments {
		if match(s) {
			return copyShipment(s)
		}
	}
	return nil
}

func (m *MemStore) GetShipmentByOverrideToken(_ context.Context, token string) (*models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findShipment(func(s *models.Shipment) bool { return s.OverrideToken == token }), nil
}

func (m *MemStore) GetShipmentByStatusToken(_ context.Context, token string) (*models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findShipment(func(s *models.Shipment) bool { return s.BuyerStatusToken == token }), nil
}

func (m *MemStore) GetShipmentByCheckoutReference(_ context.Context, ref string) (*models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findShipment(func(s *models.Shipment) bool {
		return s.CheckoutReference.Valid && s.CheckoutReference.String == ref
	}), nil
}

func (m *MemStore) GetShipmentByTrackingAndEmail(_ context.Context, trackingNumber, buyerEmail string) (*models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findShipment(func(s *models.Shipment) bool {
		return s.TrackingNumber == trackingNumber && s.BuyerEmail == buyerEmail
	}), nil
}

func (m *MemStore) GetShipmentByCarrierAndTracking(_ context.Context, carrier, trackingNumber string) (*models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findShipment(func(s *models.Shipment) bool {
		return s.Carrier == carrier && s.TrackingNumber == trackingNumber
	}), nil
}

func (m *MemStore) ListActiveShipments(_ context.Context, limit int) ([]models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var active []models.Shipment
	for _, s := range m.shipments {
		if s.CarrierStatus != models.CarrierStatusDelivered {
			active = append(active, *s)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].UpdatedAt.Before(active[j].UpdatedAt)
	})
	if len(active) > limit {
		active = active[:limit]
	}
	return active, nil
}

func (m *MemStore) GetSignatureAuthorization(_ context.Context, shipmentID int64) (*models.SignatureAuthorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.auths[shipmentID]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

// AdvanceCarrierStatus advances the status and applies the lock latch
// in the same critical section, matching the single-statement update of
// the real store.
func (m *MemStore) AdvanceCarrierStatus(_ context.Context, shipmentID int64, newStatus string, latch bool) (bool, bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.shipments[shipmentID]
	if !ok {
		return false, false, "", nil
	}
	newRank, ok := models.CarrierStatusRank(newStatus)
	if !ok {
		return false, false, "", nil
	}
	curRank, _ := models.CarrierStatusRank(s.CarrierStatus)
	if curRank >= newRank {
		return false, false, "", nil
	}
	s.CarrierStatus = newStatus
	wasLocked := s.OverrideLocked
	if latch {
		s.OverrideLocked = true
	}
	s.UpdatedAt = time.Now()
	return true, latch && !wasLocked, s.OverrideStatus, nil
}

func (m *MemStore) TouchShipment(_ context.Context, shipmentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.shipments[shipmentID]; ok {
		s.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MemStore) BeginAuthorization(_ context.Context, shipmentID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.shipments[shipmentID]
	if !ok {
		return false, nil
	}
	if s.OverrideStatus != models.OverrideStatusNone || !s.RequiresSignature || s.OverrideLocked {
		return false, nil
	}
	s.OverrideStatus = models.OverrideStatusRequested
	s.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemStore) CreateSignatureAuthorization(_ context.Context, auth *models.SignatureAuthorization) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.auths[auth.ShipmentID]; exists {
		return false, nil
	}
	m.nextID++
	auth.ID = m.nextID
	cp := *auth
	m.auths[auth.ShipmentID] = &cp
	return true, nil
}

func (m *MemStore) ClaimCheckoutReference(_ context.Context, shipmentID int64, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.shipments[shipmentID]
	if !ok || s.CheckoutReference.Valid {
		return false, nil
	}
	s.CheckoutReference.Valid = true
	s.CheckoutReference.String = ref
	s.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemStore) CompleteAuthorization(_ context.Context, shipmentID int64, earningsCents int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.shipments[shipmentID]
	if !ok || s.OverrideStatus == models.OverrideStatusCompleted {
		return false, nil
	}
	s.OverrideStatus = models.OverrideStatusCompleted
	s.MerchantEarningsCents.Valid = true
	s.MerchantEarningsCents.Int64 = earningsCents
	s.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemStore) CreatePayoutCredit(_ context.Context, credit *models.PayoutCredit) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.credits[credit.CheckoutReference]; exists {
		return false, nil
	}
	m.nextID++
	credit.ID = m.nextID
	credit.CreatedAt = time.Now()
	cp := *credit
	m.credits[credit.CheckoutReference] = &cp
	return true, nil
}

func (m *MemStore) SetAuthorizationPDF(_ context.Context, shipmentID int64, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.shipments[shipmentID]
	if !ok || s.AuthorizationPDFURL.Valid {
		return nil
	}
	s.AuthorizationPDFURL.Valid = true
	s.AuthorizationPDFURL.String = url
	return nil
}

func (m *MemStore) RequestRefund(_ context.Context, shipmentID int64, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.shipments[shipmentID]
	if !ok {
		return false, nil
	}
	if s.OverrideStatus != models.OverrideStatusCompleted || s.RefundStatus != models.RefundStatusNone {
		return false, nil
	}
	s.RefundStatus = models.RefundStatusRequested
	s.RefundReason.Valid = true
	s.RefundReason.String = reason
	s.RefundRequestedAt.Valid = true
	s.RefundRequestedAt.Time = time.Now()
	s.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemStore) ApproveRefund(_ context.Context, shipmentID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.shipments[shipmentID]
	if !ok || s.RefundStatus != models.RefundStatusRequested {
		return false, nil
	}
	s.RefundStatus = models.RefundStatusApproved
	s.MerchantEarningsCents.Valid = true
	s.MerchantEarningsCents.Int64 = 0
	s.UpdatedAt = time.Now()
	for _, c := range m.credits {
		if c.ShipmentID == shipmentID && !c.VoidedAt.Valid {
			c.VoidedAt.Valid = true
			c.VoidedAt.Time = time.Now()
		}
	}
	return true, nil
}

func (m *MemStore) DenyRefund(_ context.Context, shipmentID int64, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.shipments[shipmentID]
	if !ok || s.RefundStatus != models.RefundStatusRequested {
		return false, nil
	}
	s.RefundStatus = models.RefundStatusDenied
	s.RefundReason.Valid = true
	s.RefundReason.String = reason
	s.UpdatedAt = time.Now()
	return true, nil
}

// Shipment returns a copy of a stored shipment for assertions.
func (m *MemStore) Shipment(id int64) *models.Shipment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.shipments[id]; ok {
		return copyShipment(s)
	}
	return nil
}

// AuthorizationCount reports how many authorization records exist.
func (m *MemStore) AuthorizationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.auths)
}

// CreditCount reports how many payout credits exist.
func (m *MemStore) CreditCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.credits)
}

// Credit returns a copy of the credit for a checkout reference.
func (m *MemStore) Credit(ref string) *models.PayoutCredit {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.credits[ref]; ok {
		cp := *c
		return &cp
	}
	return nil
}
