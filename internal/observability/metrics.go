package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seats_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seats_ledger_tx_seconds",
			Help:    "Duration of ledger transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	HoldOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seats_hold_requests_total",
			Help: "Hold attempts by outcome",
		},
		[]string{"outcome"},
	)

	ExpiryEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seats_expiry_events_total",
			Help: "Hold expirations seen by the watcher and sweeper, by outcome",
		},
		[]string{"source", "outcome"},
	)

	NotifyFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seats_notify_failures_total",
			Help: "Change events that could not be published",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seats_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
