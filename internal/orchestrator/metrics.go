package orchestrator

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for retrain orchestration.
// All metrics use the prefengine_retrain_ namespace.
type Metrics struct {
	DecisionsTotal    *prometheus.CounterVec
	TrainingTotal     *prometheus.CounterVec
	TrainingDuration  prometheus.Histogram
	PairsMaterialized prometheus.Counter
}

// NewMetrics creates and registers orchestration metrics on the given registry.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prefengine",
			Subsystem: "retrain",
			Name:      "decisions_total",
			Help:      "Orchestrator invocations by resulting status.",
		}, []string{"status"}),

		TrainingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prefengine",
			Subsystem: "retrain",
			Name:      "training_total",
			Help:      "Reward model training runs by trainer status.",
		}, []string{"status"}),

		TrainingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "prefengine",
			Subsystem: "retrain",
			Name:      "duration_seconds",
			Help:      "Duration of invocations that reached training, in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),

		PairsMaterialized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prefengine",
			Subsystem: "retrain",
			Name:      "pairs_materialized_total",
			Help:      "Comparison pairs newly stored.",
		}),
	}

	reg.MustRegister(
		m.DecisionsTotal,
		m.TrainingTotal,
		m.TrainingDuration,
		m.PairsMaterialized,
	)

	return m
}
