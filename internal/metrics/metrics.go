// Package metrics exposes the engine's prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine collectors, registered against the given
// registerer so tests can use private registries.
type Metrics struct {
	BarsProcessed    *prometheus.CounterVec
	SignalsFired     *prometheus.CounterVec
	SignalsRejected  *prometheus.CounterVec
	OutcomesResolved *prometheus.CounterVec
	RerankVerdicts   *prometheus.CounterVec
	ProcessLatency   prometheus.Histogram
}

// New registers the engine collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BarsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "confluence",
			Name:      "bars_processed_total",
			Help:      "Bars accepted into the per-instrument history.",
		}, []string{"instrument"}),
		SignalsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "confluence",
			Name:      "signals_fired_total",
			Help:      "Signals created after aggregation and sizing.",
		}, []string{"instrument", "direction"}),
		SignalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "confluence",
			Name:      "signals_rejected_total",
			Help:      "Aggregations that did not fire, by holdoff reason.",
		}, []string{"reason"}),
		OutcomesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "confluence",
			Name:      "outcomes_resolved_total",
			Help:      "Signals resolved to a terminal status.",
		}, []string{"status"}),
		RerankVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "confluence",
			Name:      "rerank_verdicts_total",
			Help:      "Ranking verdicts emitted per pass.",
		}, []string{"verdict"}),
		ProcessLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "confluence",
			Name:      "process_bar_seconds",
			Help:      "Latency of the per-bar pipeline.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.BarsProcessed, m.SignalsFired, m.SignalsRejected,
		m.OutcomesResolved, m.RerankVerdicts, m.ProcessLatency,
	)
	return m
}
