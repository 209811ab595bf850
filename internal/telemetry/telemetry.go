// Package telemetry exposes Prometheus metrics for ingestion and scoring.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signalindex"

// Metrics holds every collector the service records to. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	observationsWritten *prometheus.CounterVec
	observationsSkipped *prometheus.CounterVec
	ingestFailures      *prometheus.CounterVec
	collectDuration     *prometheus.HistogramVec

	compositeRuns     prometheus.Counter
	compositeDuration prometheus.Histogram
	personsScored     prometheus.Gauge
	staleMetrics      prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	auto := promauto.With(reg)

	return &Metrics{
		registry: reg,
		observationsWritten: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "observations_written_total",
			Help:      "Observations upserted, by metric key.",
		}, []string{"metric"}),
		observationsSkipped: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "observations_skipped_total",
			Help:      "Observations dropped before persistence, by reason.",
		}, []string{"reason"}),
		ingestFailures: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "failures_total",
			Help:      "Collection or ingestion passes that failed, by source.",
		}, []string{"source"}),
		collectDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "collect_duration_seconds",
			Help:      "Time spent collecting from each source.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		compositeRuns: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "score",
			Name:      "composite_runs_total",
			Help:      "Composite score computations.",
		}),
		compositeDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "score",
			Name:      "composite_duration_seconds",
			Help:      "Time spent computing one composite ranking.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		personsScored: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "score",
			Name:      "persons_scored",
			Help:      "Persons in the latest composite ranking.",
		}),
		staleMetrics: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "stale_metrics",
			Help:      "Metrics flagged stale by the last health check.",
		}),
	}
}

func (m *Metrics) ObservationWritten(metricKey string) {
	if m == nil {
		return
	}
	m.observationsWritten.WithLabelValues(metricKey).Inc()
}

func (m *Metrics) ObservationSkipped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.observationsSkipped.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) IngestFailed(source string) {
	if m == nil {
		return
	}
	m.ingestFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) CollectDuration(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.collectDuration.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Metrics) CompositeComputed(persons int, d time.Duration) {
	if m == nil {
		return
	}
	m.compositeRuns.Inc()
	m.compositeDuration.Observe(d.Seconds())
	m.personsScored.Set(float64(persons))
}

func (m *Metrics) StaleMetrics(n int) {
	if m == nil {
		return
	}
	m.staleMetrics.Set(float64(n))
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
