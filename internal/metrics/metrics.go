package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels evaluations that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels evaluations abandoned on an error.
	OutcomeError = "error"
)

var (
	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outage_engine",
			Name:      "evaluations_total",
			Help:      "Per-service anomaly evaluations, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	evaluationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "outage_engine",
			Name:      "evaluation_seconds",
			Help:      "Per-service evaluation latency in seconds.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outage_engine",
			Name:      "cycles_total",
			Help:      "Detection cycles run, partitioned by kind (health, anomaly, baseline).",
		},
		[]string{"kind"},
	)

	reportsIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "outage_engine",
			Name:      "reports_ingested_total",
			Help:      "Reports accepted by the ingestion pipeline.",
		},
	)

	ongoingOutages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "outage_engine",
			Name:      "ongoing_outages",
			Help:      "Number of currently ongoing outage events.",
		},
	)

	outagesOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outage_engine",
			Name:      "outages_opened_total",
			Help:      "Outage events opened, partitioned by severity.",
		},
		[]string{"severity"},
	)
)

// Register attaches the engine collectors to the supplied Prometheus
// registerer, tolerating duplicate registration.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		evaluationsTotal,
		evaluationDurationSeconds,
		cyclesTotal,
		reportsIngestedTotal,
		ongoingOutages,
		outagesOpenedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveEvaluation records one per-service evaluation.
func ObserveEvaluation(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	evaluationsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	evaluationDurationSeconds.Observe(duration.Seconds())
}

// CycleRun counts one completed scheduler cycle of the given kind.
func CycleRun(kind string) {
	cyclesTotal.WithLabelValues(kind).Inc()
}

// ReportIngested counts one accepted report.
func ReportIngested() {
	reportsIngestedTotal.Inc()
}

// SetOngoingOutages updates the ongoing-outage gauge.
func SetOngoingOutages(n int) {
	ongoingOutages.Set(float64(n))
}

// OutageOpened counts a newly opened outage event.
func OutageOpened(severity string) {
	outagesOpenedTotal.WithLabelValues(severity).Inc()
}
