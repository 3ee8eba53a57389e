// Package telemetry exports search and quality-sweep measurements as
// Prometheus metrics. Batch commands write them to a node-exporter textfile
// when telemetry.textfile is set.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relindex"

// Metrics holds every collector on a private registry, so several
// instances can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	searchRequests *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec

	decisions   *prometheus.CounterVec
	runs        prometheus.Counter
	examined    prometheus.Counter
	removed     prometheus.Counter
	failures    prometheus.Counter
	runDuration prometheus.Histogram
	lastRun     prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		searchRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Search requests by index and outcome.",
		}, []string{"index", "outcome"}),
		searchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"index"}),

		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quality_decisions_total",
			Help:      "Releases matched by a quality rule, by rule and action.",
		}, []string{"rule", "action"}),
		runs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quality_runs_total",
			Help:      "Completed quality sweeps.",
		}),
		examined: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quality_examined_total",
			Help:      "Releases examined by quality sweeps.",
		}),
		removed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quality_removed_total",
			Help:      "Releases removed from the catalog by quality sweeps.",
		}),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quality_failures_total",
			Help:      "Removals that failed on at least one side.",
		}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quality_run_duration_seconds",
			Help:      "Quality sweep duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quality_last_run_timestamp_seconds",
			Help:      "Unix time the last quality sweep finished.",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSearch records one search request.
func (m *Metrics) ObserveSearch(index, outcome string, elapsed time.Duration) {
	m.searchRequests.WithLabelValues(index, outcome).Inc()
	m.searchDuration.WithLabelValues(index).Observe(elapsed.Seconds())
}

// ObserveDecision records one matched release.
func (m *Metrics) ObserveDecision(rule, action string) {
	m.decisions.WithLabelValues(rule, action).Inc()
}

// ObserveRun records one finished sweep.
func (m *Metrics) ObserveRun(examined, removed, failures int, elapsed time.Duration) {
	m.runs.Inc()
	m.examined.Add(float64(examined))
	m.removed.Add(float64(removed))
	m.failures.Add(float64(failures))
	m.runDuration.Observe(elapsed.Seconds())
	m.lastRun.SetToCurrentTime()
}

// WriteTextfile writes the current metrics in the text exposition format.
// The file is replaced atomically. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
