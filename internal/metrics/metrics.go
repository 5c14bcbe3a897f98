package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "servicehub"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking state machine actions by outcome.",
		},
		[]string{"action", "result"},
	)

	entitlementConsumptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_consumptions_total",
			Help:      "Package credit consumption attempts by outcome.",
		},
		[]string{"result"},
	)

	payoutsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payouts_created_total",
			Help:      "Payout rows written, by kind.",
		},
		[]string{"kind"},
	)

	payoutBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_batches_total",
			Help:      "Payout batch transitions by type and resulting status.",
		},
		[]string{"type", "status"},
	)

	reconciliationDiscrepancies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_discrepancies_total",
			Help:      "Reconciliation reports that exceeded the tolerance.",
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_forwarded_total",
			Help:      "Events handed to the external dispatcher, by outcome.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			bookingTransitions,
			entitlementConsumptions,
			payoutsCreated,
			payoutBatches,
			reconciliationDiscrepancies,
			notifications,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncTransition records a booking action; result is "ok" or an error class.
func IncTransition(action, result string) {
	bookingTransitions.WithLabelValues(action, result).Inc()
}

func IncConsumption(result string) {
	entitlementConsumptions.WithLabelValues(result).Inc()
}

func IncPayout(kind string) {
	payoutsCreated.WithLabelValues(kind).Inc()
}

func IncBatch(batchType, status string) {
	payoutBatches.WithLabelValues(batchType, status).Inc()
}

func IncDiscrepancy() {
	reconciliationDiscrepancies.Inc()
}

// IncNotification records a forwarding outcome: sent, retry, dead_letter, dropped.
func IncNotification(result string) {
	notifications.WithLabelValues(result).Inc()
}
