package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ShipmentsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shipments_created_total",
		Help: "Total number of shipments created from fulfillment events",
	})

	CarrierStatusUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carrier_status_updates_total",
		Help: "Total number of carrier status advances applied",
	}, []string{"status"})

	OverridesLockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "overrides_locked_total",
		Help: "Total number of shipments latched by the out-for-delivery cutoff",
	})

	AuthorizationsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authorizations_started_total",
		Help: "Total number of buyer release authorizations started",
	})

	AuthorizationsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authorizations_completed_total",
		Help: "Total number of authorizations completed by payment confirmation",
	})

	AuthorizationsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authorizations_rejected_total",
		Help: "Total number of rejected authorization attempts",
	}, []string{"reason"})

	PayoutAccrualsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payout_accruals_total",
		Help: "Total number of merchant earnings credits accrued",
	})

	RefundRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refund_requests_total",
		Help: "Total number of buyer refund requests accepted",
	})

	RefundsAdjudicatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_adjudicated_total",
		Help: "Total number of refund requests adjudicated",
	}, []string{"verdict"})

	PollCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poll_cycles_total",
		Help: "Total number of carrier poll cycles run",
	})

	PollShipmentsCheckedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poll_shipments_checked_total",
		Help: "Total number of shipments checked by the carrier poller",
	})

	PollFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poll_failures_total",
		Help: "Total number of per-shipment poll failures",
	})

	CarrierLookupLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "carrier_lookup_latency_seconds",
		Help:    "Latency of carrier tracking lookups",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
