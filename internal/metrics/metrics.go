package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	alertsIngestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "argus_alerts_ingested_total",
		Help: "Threat events inserted from sensor batches",
	})
	alertsDedupedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "argus_alerts_deduped_total",
		Help: "Sensor items skipped because their idempotency key already exists",
	})
	alertsInvalidTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "argus_alerts_invalid_total",
		Help: "Sensor items rejected during normalization",
	})
	assessmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "argus_assessments_total",
		Help: "Risk assessments by model path",
	}, []string{"model", "degraded"})
	blockAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "argus_block_attempts_total",
		Help: "Device block attempts by outcome",
	}, []string{"outcome"})
	blockAttemptLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "argus_block_attempt_duration_seconds",
		Help:    "Latency of device block calls",
		Buckets: prometheus.DefBuckets,
	})
	tasksFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "argus_tasks_finished_total",
		Help: "Execution tasks that reached a terminal state",
	}, []string{"state"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		alertsIngestedTotal,
		alertsDedupedTotal,
		alertsInvalidTotal,
		assessmentsTotal,
		blockAttemptsTotal,
		blockAttemptLatency,
		tasksFinishedTotal,
	)
}

// AddIngestOutcome records the per-batch ingestion counts.
func AddIngestOutcome(ingested, deduped, invalid int) {
	alertsIngestedTotal.Add(float64(ingested))
	alertsDedupedTotal.Add(float64(deduped))
	alertsInvalidTotal.Add(float64(invalid))
}

// IncAssessment counts one risk assessment.
func IncAssessment(model string, degraded bool) {
	d := "false"
	if degraded {
		d = "true"
	}
	assessmentsTotal.WithLabelValues(model, d).Inc()
}

// ObserveBlockAttempt records one device call.
func ObserveBlockAttempt(success bool, elapsed time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	blockAttemptsTotal.WithLabelValues(outcome).Inc()
	blockAttemptLatency.Observe(elapsed.Seconds())
}

// IncTaskFinished counts a task reaching state.
func IncTaskFinished(state string) {
	tasksFinishedTotal.WithLabelValues(state).Inc()
}
