package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector for Prometheus.
type PrometheusCollector struct {
	submissions       *prometheus.CounterVec
	submissionLatency *prometheus.HistogramVec
	balanceSyncs      *prometheus.CounterVec
	sequencing        *prometheus.CounterVec
}

// NewPrometheusCollector creates collectors under namespace.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Total number of ledger submissions per kind and result",
			},
			[]string{"kind", "result"},
		),
		submissionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "submission_seconds",
				Help:      "Time from submission to final outcome",
				Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60, 90},
			},
			[]string{"kind"},
		),
		balanceSyncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "balance_sync_total",
				Help:      "Total number of balance refreshes per result",
			},
			[]string{"result"},
		),
		sequencing: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sequencing_attempts_total",
				Help:      "Total number of sequencing info reads per result",
			},
			[]string{"result"},
		),
	}
}

// Register registers all metrics with the given registry.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{pc.submissions, pc.submissionLatency, pc.balanceSyncs, pc.sequencing} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (pc *PrometheusCollector) RecordSubmission(kind, result string, duration time.Duration) {
	pc.submissions.WithLabelValues(kind, result).Inc()
	pc.submissionLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

func (pc *PrometheusCollector) RecordBalanceSync(success bool) {
	pc.balanceSyncs.WithLabelValues(resultLabel(success)).Inc()
}

func (pc *PrometheusCollector) RecordSequencingAttempt(success bool) {
	pc.sequencing.WithLabelValues(resultLabel(success)).Inc()
}
