package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"shipment-service/internal/models"
	"shipment-service/internal/service"
	"shipment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	lifecycle *service.LifecycleService
	refunds   *service.RefundService
	store     service.ShipmentStore
}

// NewHandler creates a new HTTP handler
func NewHandler(lifecycle *service.LifecycleService, refunds *service.RefundService, store service.ShipmentStore) *Handler {
	return &Handler{
		lifecycle: lifecycle,
		refunds:   refunds,
		store:     store,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/fulfillments", h.fulfillmentCreated)
		webhooks.POST("/payments", h.paymentConfirmed)
		webhooks.POST("/carriers/:carrier", h.carrierStatusPushed)
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/shipments/status/:token", h.shipmentStatus)
		v1.POST("/shipments/authorize/:token", h.authorizeRelease)
		v1.POST("/refunds", h.requestRefund)
		v1.POST("/refunds/:id/approve", h.approveRefund)
		v1.POST("/refunds/:id/deny", h.denyRefund)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// fulfillmentCreated handles the fulfillment-created webhook. Duplicate
// deliveries return the existing shipment with 200 instead of 201.
func (h *Handler) fulfillmentCreated(c *gin.Context) {
	var req service.FulfillmentEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	shipment, created, err := h.lifecycle.CreateShipment(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to create shipment",
			"details": err.Error(),
		})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"shipment_id":        shipment.ID,
		"requires_signature": shipment.RequiresSignature,
		"signature_type":     shipment.SignatureType,
	})
}

// paymentConfirmed handles the payment provider's confirmation webhook
func (h *Handler) paymentConfirmed(c *gin.Context) {
	var conf service.PaymentConfirmation
	if err := c.ShouldBindJSON(&conf); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.lifecycle.ConfirmPayment(c.Request.Context(), &conf); err != nil {
		h.rejectOrFail(c, err, "Failed to confirm payment")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
}

type carrierPush struct {
	TrackingNumber string `json:"tracking_number" binding:"required"`
	Status         string `json:"status" binding:"required"`
}

// carrierStatusPushed handles carrier push updates. Replays and
// out-of-order deliveries are 200 no-ops by contract.
func (h *Handler) carrierStatusPushed(c *gin.Context) {
	var push carrierPush
	if err := c.ShouldBindJSON(&push); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	shipment, err := h.store.GetShipmentByCarrierAndTracking(c.Request.Context(), c.Param("carrier"), push.TrackingNumber)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed"})
		return
	}
	if shipment == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Shipment not found"})
		return
	}

	advanced, locked, err := h.lifecycle.AdvanceCarrierStatus(c.Request.Context(), shipment, push.Status)
	if err != nil {
		if errors.Is(err, service.ErrInvalidTransition) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Unknown carrier status"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to apply status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"advanced": advanced,
		"locked":   locked,
	})
}

// shipmentStatus returns the lifecycle snapshot behind a buyer status
// token
func (h *Handler) shipmentStatus(c *gin.Context) {
	shipment, auth, err := h.lifecycle.Snapshot(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.rejectOrFail(c, err, "Failed to load shipment status")
		return
	}

	resp := gin.H{
		"carrier_status":     shipment.CarrierStatus,
		"override_status":    shipment.OverrideStatus,
		"override_locked":    shipment.OverrideLocked,
		"requires_signature": shipment.RequiresSignature,
		"refund_status":      shipment.RefundStatus,
		"tracking_number":    shipment.TrackingNumber,
		"carrier":            shipment.Carrier,
	}
	if shipment.AuthorizationPDFURL.Valid {
		resp["authorization_pdf_url"] = shipment.AuthorizationPDFURL.String
	}
	if auth != nil {
		resp["signed_at"] = auth.SignedAt
	}
	c.JSON(http.StatusOK, resp)
}

// authorizeRelease performs the buyer's signature-release authorization
func (h *Handler) authorizeRelease(c *gin.Context) {
	var req service.AuthorizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	req.IPAddress = c.ClientIP()
	req.UserAgent = c.Request.UserAgent()

	shipment, err := h.lifecycle.StartBuyerAuthorization(c.Request.Context(), c.Param("token"), &req)
	if err != nil {
		h.rejectOrFail(c, err, "Failed to authorize release")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"override_status": shipment.OverrideStatus,
		"tracking_number": shipment.TrackingNumber,
	})
}

// requestRefund opens a buyer refund request
func (h *Handler) requestRefund(c *gin.Context) {
	var req service.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	shipment, err := h.refunds.RequestRefund(c.Request.Context(), &req)
	if err != nil {
		h.rejectOrFail(c, err, "Failed to request refund")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"shipment_id":   shipment.ID,
		"refund_status": shipment.RefundStatus,
	})
}

// approveRefund handles admin approval
func (h *Handler) approveRefund(c *gin.Context) {
	shipmentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid shipment ID"})
		return
	}

	if err := h.refunds.ApproveRefund(c.Request.Context(), shipmentID); err != nil {
		h.rejectOrFail(c, err, "Failed to approve refund")
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund_status": models.RefundStatusApproved})
}

type denyRefundRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// denyRefund handles admin denial
func (h *Handler) denyRefund(c *gin.Context) {
	shipmentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid shipment ID"})
		return
	}

	var req denyRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.refunds.DenyRefund(c.Request.Context(), shipmentID, req.Reason); err != nil {
		h.rejectOrFail(c, err, "Failed to deny refund")
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund_status": models.RefundStatusDenied})
}

// rejectOrFail maps lifecycle rejections to specific client responses;
// anything else is a 500.
func (h *Handler) rejectOrFail(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": service.ErrNotFound.Error()})
	case errors.Is(err, service.ErrAlreadyLocked):
		c.JSON(http.StatusConflict, gin.H{"error": service.ErrAlreadyLocked.Error(), "reason": "locked"})
	case errors.Is(err, service.ErrAlreadyProcessed):
		c.JSON(http.StatusConflict, gin.H{"error": service.ErrAlreadyProcessed.Error(), "reason": "already_processed"})
	case errors.Is(err, service.ErrSignatureNotRequired):
		c.JSON(http.StatusConflict, gin.H{"error": service.ErrSignatureNotRequired.Error(), "reason": "not_required"})
	case errors.Is(err, service.ErrRefundNotEligible):
		c.JSON(http.StatusConflict, gin.H{"error": service.ErrRefundNotEligible.Error(), "reason": "not_eligible"})
	case errors.Is(err, service.ErrRefundAlreadyOpen):
		c.JSON(http.StatusConflict, gin.H{"error": service.ErrRefundAlreadyOpen.Error(), "reason": "already_requested"})
	case errors.Is(err, service.ErrAlreadyAdjudicated):
		c.JSON(http.StatusConflict, gin.H{"error": service.ErrAlreadyAdjudicated.Error(), "reason": "already_adjudicated"})
	case errors.Is(err, service.ErrReasonRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": service.ErrReasonRequired.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   fallback,
			"details": err.Error(),
		})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
