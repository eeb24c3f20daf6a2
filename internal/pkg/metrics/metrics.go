package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEventsTotal counts billing webhook deliveries by provider, type and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "turbopic",
		Subsystem: "billing",
		Name:      "webhook_events_total",
		Help:      "Billing webhook deliveries by provider, event type and outcome.",
	}, []string{"provider", "event_type", "outcome"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "turbopic",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Billing webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	// ReconcileDecisionsTotal counts reconciler decisions (create, renew, same_cycle, zero, reactivate).
	ReconcileDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "turbopic",
		Subsystem: "billing",
		Name:      "reconcile_decisions_total",
		Help:      "Subscription reconciliation decisions by kind.",
	}, []string{"decision"})

	// RenewalRefreshTotal counts subscriptions visited by the renewal refresh by outcome.
	RenewalRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "turbopic",
		Subsystem: "billing",
		Name:      "renewal_refresh_total",
		Help:      "Subscriptions visited by the renewal refresh by outcome.",
	}, []string{"outcome"})

	// DeductionsTotal counts deductions by kind and outcome (ok, overage, rejected, error).
	DeductionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "turbopic",
		Subsystem: "usage",
		Name:      "deductions_total",
		Help:      "Usage deductions by kind and outcome.",
	}, []string{"kind", "outcome"})

	// DeductedAmountTotal sums requested deduction amounts by kind.
	DeductedAmountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "turbopic",
		Subsystem: "usage",
		Name:      "deducted_amount_total",
		Help:      "Requested usage amounts recorded in the ledger by kind.",
	}, []string{"kind"})

	// DeductionConflictsTotal counts optimistic-concurrency retries.
	DeductionConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "turbopic",
		Subsystem: "usage",
		Name:      "deduction_conflicts_total",
		Help:      "Deduction attempts retried after a version conflict.",
	})

	// JobsTotal counts background jobs by type and outcome.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "turbopic",
		Subsystem: "jobs",
		Name:      "jobs_total",
		Help:      "Background jobs by type and outcome.",
	}, []string{"type", "outcome"})

	// JobDuration tracks background job processing latency.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "turbopic",
		Subsystem: "jobs",
		Name:      "job_duration_seconds",
		Help:      "Background job processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})
)

// RegisterDBInFlight exposes the database limiter occupancy as a gauge.
func RegisterDBInFlight(inFlight func() int64) prometheus.GaugeFunc {
	return promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "turbopic",
		Subsystem: "db",
		Name:      "statements_in_flight",
		Help:      "Database statements currently holding a limiter slot.",
	}, func() float64 { return float64(inFlight()) })
}
