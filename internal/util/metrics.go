package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FulfillmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_fulfillments_total",
		Help: "Total number of orders settled",
	})

	FulfillmentsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_fulfillments_failed_total",
		Help: "Total number of rejected fulfillment attempts",
	}, []string{"reason"})

	CancellationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_cancellations_total",
		Help: "Total number of cancelled orders",
	})

	CancellationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_cancellations_failed_total",
		Help: "Total number of rejected cancellation attempts",
	}, []string{"reason"})

	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_latency_seconds",
		Help:    "Latency of fulfillment from validation to ledger commit",
		Buckets: prometheus.DefBuckets,
	})

	TransfersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_transfers_failed_total",
		Help: "Total number of transfer batches rejected by the custodian",
	}, []string{"item_type"})

	SettledVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_volume_total",
		Help: "Settled price volume in the currency's smallest unit (float approximation)",
	}, []string{"currency"})

	AuditRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_audit_records_total",
		Help: "Total number of settlement audit records written",
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
