package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_orders_rejected_total",
		Help: "Total number of order requests rejected at catalog validation",
	}, []string{"reason"})

	DispatchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_dispatch_attempts_total",
		Help: "Total number of provider dispatch attempts per line",
	}, []string{"provider"})

	DispatchFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_dispatch_failures_total",
		Help: "Total number of failed provider dispatches per line",
	}, []string{"provider", "reason"})

	ProviderRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fulfillment_provider_request_latency_seconds",
		Help:    "Latency of outbound provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})

	ProviderRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_provider_retries_total",
		Help: "Total number of retried provider calls",
	}, []string{"operation"})

	WebhooksProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_webhooks_processed_total",
		Help: "Total number of webhook events applied",
	}, []string{"provider", "event_type"})

	WebhooksRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_webhooks_rejected_total",
		Help: "Total number of webhook events rejected before processing",
	}, []string{"provider", "reason"})

	WebhooksDuplicateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_webhooks_duplicate_total",
		Help: "Total number of replayed webhook events skipped by the dedup ledger",
	}, []string{"provider"})

	WebhooksOutOfOrderTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_webhooks_out_of_order_total",
		Help: "Total number of webhook events older than the last applied one",
	}, []string{"provider"})

	CatalogCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_catalog_cache_hits_total",
		Help: "Total number of catalog cache hits",
	})

	CatalogCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_catalog_cache_misses_total",
		Help: "Total number of catalog cache misses",
	})

	StaffAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_staff_alerts_total",
		Help: "Total number of staff alerts raised for unresolved dispatches",
	}, []string{"provider"})

	OrdersOverdueTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_orders_overdue_total",
		Help: "Total number of orders detected past their SLA deadline",
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
