package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"shipment-service/internal/models"
	"shipment-service/internal/util"

	"go.uber.org/zap"
)

// DocumentClient renders authorization certificates through the
// document render service. Satisfies DocumentStore. Absence (empty URL)
// is a valid outcome; the lifecycle treats it as "no certificate yet".
type DocumentClient struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewDocumentClient creates a document render client. An empty endpoint
// means rendering is disabled.
func NewDocumentClient(endpoint string) *DocumentClient {
	return &DocumentClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   util.GetLogger(),
	}
}

type renderRequest struct {
	ShipmentID     int64     `json:"shipment_id"`
	TrackingNumber string    `json:"tracking_number"`
	Carrier        string    `json:"carrier"`
	BuyerName      string    `json:"buyer_name"`
	TypedName      string    `json:"typed_name"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	SignedAt       time.Time `json:"signed_at"`
}

type renderResponse struct {
	URL string `json:"url"`
}

// CreateAuthorizationDocument renders the signed-release certificate
// and returns its URL, "" when rendering is unavailable.
func (dc *DocumentClient) CreateAuthorizationDocument(ctx context.Context, shipment *models.Shipment, auth *models.SignatureAuthorization) (string, error) {
	if dc.endpoint == "" {
		return "", nil
	}

	body, err := json.Marshal(renderRequest{
		ShipmentID:     shipment.ID,
		TrackingNumber: shipment.TrackingNumber,
		Carrier:        shipment.Carrier,
		BuyerName:      shipment.BuyerName,
		TypedName:      auth.TypedName,
		IPAddress:      auth.IPAddress,
		UserAgent:      auth.UserAgent,
		SignedAt:       auth.SignedAt,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dc.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := dc.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("document render request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("document render returned %d", resp.StatusCode)
	}

	var rr renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", err
	}

	dc.logger.Info("Authorization certificate rendered",
		zap.Int64("shipment_id", shipment.ID))
	return rr.URL, nil
}

// PaymentClient reverses charges through the payment provider.
// Satisfies PaymentReverser.
type PaymentClient struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewPaymentClient creates a payment reversal client.
func NewPaymentClient(endpoint string) *PaymentClient {
	return &PaymentClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   util.GetLogger(),
	}
}

// ReversePayment asks the provider to refund the checkout session.
func (pc *PaymentClient) ReversePayment(ctx context.Context, checkoutReference string) error {
	if pc.endpoint == "" {
		return fmt.Errorf("payment reversal endpoint not configured")
	}

	body, err := json.Marshal(map[string]string{"checkout_reference": checkoutReference})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pc.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := pc.client.Do(req)
	if err != nil {
		return fmt.Errorf("payment reversal request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("payment reversal returned %d", resp.StatusCode)
	}

	pc.logger.Info("Payment reversed",
		zap.String("checkout_reference", checkoutReference))
	return nil
}
