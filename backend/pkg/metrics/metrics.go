package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector is the interface for metrics collection. Implementations are the
// Prometheus-backed collector and the no-op collector selected by config.
type Collector interface {
	RecordResolution(tier string, isNew bool, seconds float64)
	RecordExplore(status string, seconds float64)
	RecordStage(stage string, seconds float64)
	RecordSignalDegraded(signal string)
	RecordError(operation string, errorType string)
}

// PrometheusCollector provides Prometheus metrics for engine operations
type PrometheusCollector struct {
	resolutionsTotal    *prometheus.CounterVec
	resolveDuration     prometheus.Histogram
	exploreTotal        *prometheus.CounterVec
	exploreStageSeconds *prometheus.HistogramVec
	signalsDegraded     *prometheus.CounterVec
	errorsTotal         *prometheus.CounterVec
	registry            *prometheus.Registry
}

// NewPrometheusCollector creates a Prometheus-backed collector with its own registry
func NewPrometheusCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()

	resolutionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_resolutions_total",
			Help: "Total entity resolutions by matching tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	resolveDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engram_resolve_duration_seconds",
			Help:    "Duration of entity resolution calls",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
	)

	exploreTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_explore_total",
			Help: "Total explore calls by status",
		},
		[]string{"status"},
	)

	exploreStageSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engram_explore_stage_duration_seconds",
			Help:    "Duration of explore stages (gather, fuse, expand)",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"stage"},
	)

	signalsDegraded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_signals_degraded_total",
			Help: "Gather-phase signals degraded to empty by timeout or failure",
		},
		[]string{"signal"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_errors_total",
			Help: "Total errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)

	registry.MustRegister(resolutionsTotal)
	registry.MustRegister(resolveDuration)
	registry.MustRegister(exploreTotal)
	registry.MustRegister(exploreStageSeconds)
	registry.MustRegister(signalsDegraded)
	registry.MustRegister(errorsTotal)

	return &PrometheusCollector{
		resolutionsTotal:    resolutionsTotal,
		resolveDuration:     resolveDuration,
		exploreTotal:        exploreTotal,
		exploreStageSeconds: exploreStageSeconds,
		signalsDegraded:     signalsDegraded,
		errorsTotal:         errorsTotal,
		registry:            registry,
	}
}

// RecordResolution records a completed resolution with the tier that matched
func (m *PrometheusCollector) RecordResolution(tier string, isNew bool, seconds float64) {
	outcome := "matched"
	if isNew {
		outcome = "created"
	}
	m.resolutionsTotal.WithLabelValues(tier, outcome).Inc()
	m.resolveDuration.Observe(seconds)
}

// RecordExplore records a completed explore call
func (m *PrometheusCollector) RecordExplore(status string, seconds float64) {
	m.exploreTotal.WithLabelValues(status).Inc()
	m.exploreStageSeconds.WithLabelValues("total").Observe(seconds)
}

// RecordStage records the duration of one explore stage
func (m *PrometheusCollector) RecordStage(stage string, seconds float64) {
	m.exploreStageSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordSignalDegraded records a signal dropped from fusion
func (m *PrometheusCollector) RecordSignalDegraded(signal string) {
	m.signalsDegraded.WithLabelValues(signal).Inc()
}

// RecordError records an error occurrence
func (m *PrometheusCollector) RecordError(operation string, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// Registry returns the Prometheus registry for HTTP exposure
func (m *PrometheusCollector) Registry() *prometheus.Registry {
	return m.registry
}
