package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payrecon_chain_events_received_total",
		Help: "Payment events delivered by the chain listener",
	})

	ListenerReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payrecon_listener_reconnects_total",
		Help: "Times the listener re-established its chain subscription",
	})

	WatermarkBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payrecon_watermark_block",
		Help: "Last block number fully processed by the listener",
	})

	VerificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payrecon_verification_failures_total",
		Help: "Transaction verifications that did not produce a valid result",
	}, []string{"reason"})

	PaymentsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payrecon_payments_completed_total",
		Help: "Orders transitioned to COMPLETED",
	})

	PaymentsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payrecon_payments_failed_total",
		Help: "Orders transitioned to FAILED",
	})

	RateRefreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payrecon_rate_refresh_failures_total",
		Help: "Scheduled exchange rate refreshes that failed",
	})
)
