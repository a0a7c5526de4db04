package billingrun

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics captures billing run health signals.
type Metrics struct {
	runs        prometheus.Counter
	runDuration prometheus.Histogram
	generated   prometheus.Counter
	failures    prometheus.Counter
}

// NewMetrics registers the billing run collectors. Pass nil to use the
// default registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duecycle_billing_runs_total",
			Help: "Completed billing run passes.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "duecycle_billing_run_duration_seconds",
			Help:    "Wall-clock duration of one billing run pass.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		generated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duecycle_billing_charges_generated_total",
			Help: "Charges generated by billing runs.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duecycle_billing_run_item_errors_total",
			Help: "Per-item failures inside billing runs.",
		}),
	}

	registerer.MustRegister(m.runs, m.runDuration, m.generated, m.failures)
	return m
}

// ObserveRun records the outcome of one pass.
func (m *Metrics) ObserveRun(summary Summary, elapsed time.Duration) {
	m.runs.Inc()
	m.runDuration.Observe(elapsed.Seconds())
	m.generated.Add(float64(summary.SuccessCount))
	m.failures.Add(float64(summary.ErrorCount))
}
