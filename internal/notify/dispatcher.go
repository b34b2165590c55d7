// Package notify is the outbound notification boundary. Dispatch is
// fire-and-forget: failures are logged and swallowed, never surfaced to
// the lifecycle that triggered them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"shipment-service/internal/util"

	"go.uber.org/zap"
)

// Notification kinds
const (
	KindCutoffLocked           = "cutoff_locked"
	KindBuyerConfirmation      = "buyer_confirmation"
	KindMerchantAuthorized     = "merchant_authorized"
	KindAuthorizationCompleted = "authorization_completed"
	KindRefundRequested        = "refund_requested"
	KindRefundApproved         = "refund_approved"
	KindRefundDenied           = "refund_denied"
)

// Dispatcher sends a notification of the given kind. Implementations
// own their retry policy; callers treat errors as already handled.
type Dispatcher interface {
	Send(ctx context.Context, kind string, payload map[string]string) error
}

// RelayDispatcher posts notifications to the email/notification relay
// service over HTTP.
type RelayDispatcher struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewRelayDispatcher creates a dispatcher targeting the relay endpoint.
// An empty endpoint yields a dispatcher that logs and drops everything.
func NewRelayDispatcher(endpoint string) *RelayDispatcher {
	return &RelayDispatcher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   util.GetLogger(),
	}
}

type relayRequest struct {
	Kind    string            `json:"kind"`
	Payload map[string]string `json:"payload"`
}

// Send posts the notification to the relay. Errors are logged and
// returned for the caller's accounting but carry no retry obligation.
func (d *RelayDispatcher) Send(ctx context.Context, kind string, payload map[string]string) error {
	if d.endpoint == "" {
		d.logger.Info("Notification relay not configured, dropping",
			zap.String("kind", kind))
		return nil
	}

	body, err := json.Marshal(relayRequest{Kind: kind, Payload: payload})
	if err != nil {
		d.logger.Error("Failed to marshal notification", zap.String("kind", kind), zap.Error(err))
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		d.logger.Error("Failed to build notification request", zap.String("kind", kind), zap.Error(err))
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Error("Notification relay unreachable", zap.String("kind", kind), zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		err := fmt.Errorf("notification relay returned %d", resp.StatusCode)
		d.logger.Error("Notification rejected by relay",
			zap.String("kind", kind),
			zap.Int("status", resp.StatusCode))
		return err
	}

	d.logger.Info("Notification dispatched", zap.String("kind", kind))
	return nil
}
