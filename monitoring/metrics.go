package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batcherBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_batch_size",
			Help:    "Number of items drained into one ledger submission",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
		[]string{"operation"},
	)

	orderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order status transitions",
		},
		[]string{"from", "to"},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Payment webhook deliveries by outcome",
		},
		[]string{"event", "outcome"},
	)

	sweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Timeout sweep passes by outcome",
		},
		[]string{"outcome"},
	)

	sweepExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_orders_expired_total",
			Help: "Orders moved to TIMEOUT by the sweep",
		},
	)

	checkoutRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_rate_limited_total",
			Help: "Checkout requests rejected by the fixed-window rate limiter",
		},
	)

	ledgerRoundTrip = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_round_trip_seconds",
			Help:    "Latency of one ledger submission per batcher operation, excluding batch wait",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// BatcherMetrics records per-flush batch sizes for each ledger worker kind.
// A thin wrapper rather than package vars directly so the ledger package
// stays free of a prometheus import in its hot path and can be driven by a
// nil *BatcherMetrics in tests.
type BatcherMetrics struct{}

func NewBatcherMetrics() *BatcherMetrics { return &BatcherMetrics{} }

func (m *BatcherMetrics) Observe(operation string, batchSize int) {
	batcherBatchSize.WithLabelValues(operation).Observe(float64(batchSize))
}

// TrackOrderTransition records an order moving between FSM states.
func TrackOrderTransition(from, to string) {
	orderTransitions.WithLabelValues(from, to).Inc()
}

// TrackWebhookEvent records a webhook delivery outcome, e.g. "accepted",
// "duplicate", "rejected", "unknown_intent".
func TrackWebhookEvent(event, outcome string) {
	webhookEvents.WithLabelValues(event, outcome).Inc()
}

// TrackSweep records one sweep pass and how many orders it expired.
func TrackSweep(outcome string, expired int) {
	sweepRuns.WithLabelValues(outcome).Inc()
	if expired > 0 {
		sweepExpired.Add(float64(expired))
	}
}

// TrackCheckoutRateLimited records a checkout rejected by the rate limiter.
func TrackCheckoutRateLimited() {
	checkoutRateLimited.Inc()
}

// TrackLedgerRoundTrip records how long one ledger submission of a batcher
// operation kind took.
func TrackLedgerRoundTrip(operation string, d time.Duration) {
	ledgerRoundTrip.WithLabelValues(operation).Observe(d.Seconds())
}
