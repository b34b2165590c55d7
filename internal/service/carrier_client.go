package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"shipment-service/internal/models"
	"shipment-service/internal/redisclient"
	"shipment-service/internal/util"

	"go.uber.org/zap"
)

// Carrier identifiers accepted by the lookup client.
const (
	CarrierA = "carrier_a"
	CarrierB = "carrier_b"
)

// CarrierClient queries carrier tracking APIs with a Redis cache in
// front for rate-limit relief. It satisfies CarrierLookup. Errors and
// unconfigured carriers degrade to an absent status; the poller must
// never see a lookup failure.
type CarrierClient struct {
	redis     *redisclient.Client
	client    *http.Client
	logger    *zap.Logger
	endpoints map[string]carrierEndpoint
	cacheTTL  time.Duration
}

type carrierEndpoint struct {
	baseURL string
	apiKey  string
}

// NewCarrierClient creates a carrier lookup client. Carriers with an
// empty endpoint are treated as unconfigured and always report absent.
func NewCarrierClient(redis *redisclient.Client, carrierAEndpoint, carrierAKey, carrierBEndpoint, carrierBKey string, timeout, cacheTTL time.Duration) *CarrierClient {
	endpoints := make(map[string]carrierEndpoint)
	if carrierAEndpoint != "" {
		endpoints[CarrierA] = carrierEndpoint{baseURL: carrierAEndpoint, apiKey: carrierAKey}
	}
	if carrierBEndpoint != "" {
		endpoints[CarrierB] = carrierEndpoint{baseURL: carrierBEndpoint, apiKey: carrierBKey}
	}

	return &CarrierClient{
		redis:     redis,
		client:    &http.Client{Timeout: timeout},
		logger:    util.GetLogger(),
		endpoints: endpoints,
		cacheTTL:  cacheTTL,
	}
}

type trackingResponse struct {
	Status string `json:"status"`
}

// carrierStatusMap normalizes provider status strings.
var carrierStatusMap = map[string]string{
	"pre_transit":      models.CarrierStatusPreTransit,
	"in_transit":       models.CarrierStatusInTransit,
	"out_for_delivery": models.CarrierStatusOutForDelivery,
	"delivered":        models.CarrierStatusDelivered,
}

// LookupStatus returns the normalized tracking status for a shipment,
// "" when the carrier is unconfigured, rate-limited, or erroring.
func (cc *CarrierClient) LookupStatus(ctx context.Context, carrier, trackingNumber string) (string, error) {
	ctx, span := util.StartSpan(ctx, "CarrierClient.LookupStatus")
	defer span.End()

	cached, err := cc.redis.GetCachedCarrierStatus(ctx, carrier, trackingNumber)
	if err != nil {
		cc.logger.Warn("Carrier cache read failed",
			zap.String("carrier", carrier),
			zap.Error(err))
	} else if cached != "" {
		return cached, nil
	}

	endpoint, ok := cc.endpoints[carrier]
	if !ok {
		return "", nil
	}

	start := time.Now()
	status := cc.fetch(ctx, endpoint, trackingNumber)
	util.CarrierLookupLatency.Observe(time.Since(start).Seconds())

	if status == "" {
		return "", nil
	}

	if err := cc.redis.SetCachedCarrierStatus(ctx, carrier, trackingNumber, status, cc.cacheTTL); err != nil {
		cc.logger.Warn("Carrier cache write failed",
			zap.String("carrier", carrier),
			zap.Error(err))
	}
	return status, nil
}

func (cc *CarrierClient) fetch(ctx context.Context, endpoint carrierEndpoint, trackingNumber string) string {
	url := fmt.Sprintf("%s/track/%s", endpoint.baseURL, trackingNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cc.logger.Warn("Failed to build carrier request", zap.Error(err))
		return ""
	}
	if endpoint.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+endpoint.apiKey)
	}

	resp, err := cc.client.Do(req)
	if err != nil {
		cc.logger.Warn("Carrier lookup failed",
			zap.String("tracking_number", trackingNumber),
			zap.Error(err))
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		cc.logger.Warn("Carrier lookup returned non-OK",
			zap.String("tracking_number", trackingNumber),
			zap.Int("status", resp.StatusCode))
		return ""
	}

	var tr trackingResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		cc.logger.Warn("Failed to decode carrier response", zap.Error(err))
		return ""
	}

	normalized, ok := carrierStatusMap[tr.Status]
	if !ok {
		cc.logger.Warn("Unknown carrier status",
			zap.String("tracking_number", trackingNumber),
			zap.String("status", tr.Status))
		return ""
	}
	return normalized
}
