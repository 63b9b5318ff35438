// Package metrics exposes capture run counters in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the snapshot archiver.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	slotsTotal       *prometheus.CounterVec
	filesTotal       *prometheus.CounterVec
	acquireFailures  prometheus.Counter
	monochromeTotal  prometheus.Counter
	writeErrorsTotal prometheus.Counter
	mirrorErrors     prometheus.Counter
	runDuration      prometheus.Histogram
	lastRunTimestamp prometheus.Gauge
	runActive        prometheus.Gauge

	acquireAttempts *prometheus.GaugeVec
	acquireErrors   *prometheus.GaugeVec

	requestsTotal prometheus.Counter
	errorsTotal   prometheus.Counter
}

// New creates and registers the archiver metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oviss_runs_total",
			Help: "Capture runs by result (success, cancelled, failed)",
		}, []string{"result"}),
		slotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oviss_slots_total",
			Help: "Processed slots by decision",
		}, []string{"decision"}),
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oviss_files_written_total",
			Help: "Archived files by kind (frame, placeholder)",
		}, []string{"kind"}),
		acquireFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oviss_acquire_failures_total",
			Help: "Channel acquisitions that exhausted every retry",
		}),
		monochromeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oviss_frames_rejected_monochrome_total",
			Help: "Acquired frames classified as monochrome",
		}),
		writeErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oviss_archive_write_errors_total",
			Help: "Slots with at least one failed file write",
		}),
		mirrorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oviss_mirror_errors_total",
			Help: "Failed mirror uploads",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oviss_run_duration_seconds",
			Help:    "Wall time of finished capture runs",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800},
		}),
		lastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oviss_last_run_timestamp_seconds",
			Help: "Unix time the last capture run finished",
		}),
		runActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oviss_run_active",
			Help: "1 while a capture run is in progress",
		}),
		acquireAttempts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oviss_acquire_attempts",
			Help: "Cumulative stream attempts by outcome since start",
		}, []string{"outcome"}),
		acquireErrors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oviss_acquire_errors",
			Help: "Cumulative failed attempts by error category since start",
		}, []string{"category"}),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oviss_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oviss_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
	}

	registry.MustRegister(
		m.runsTotal,
		m.slotsTotal,
		m.filesTotal,
		m.acquireFailures,
		m.monochromeTotal,
		m.writeErrorsTotal,
		m.mirrorErrors,
		m.runDuration,
		m.lastRunTimestamp,
		m.runActive,
		m.acquireAttempts,
		m.acquireErrors,
		m.requestsTotal,
		m.errorsTotal,
	)
	return m
}

// RunStarted marks a run as active
func (m *Metrics) RunStarted() {
	m.runActive.Set(1)
}

// RunFinished records the result and duration of a run
func (m *Metrics) RunFinished(result string, duration time.Duration, finishedAt time.Time) {
	m.runActive.Set(0)
	m.runsTotal.WithLabelValues(result).Inc()
	m.runDuration.Observe(duration.Seconds())
	m.lastRunTimestamp.Set(float64(finishedAt.Unix()))
}

// SlotProcessed records one slot's decision and the files it produced
func (m *Metrics) SlotProcessed(decision string, frames, placeholders, acquireFailures, rejected int, writeFailed bool) {
	m.slotsTotal.WithLabelValues(decision).Inc()
	m.filesTotal.WithLabelValues("frame").Add(float64(frames))
	m.filesTotal.WithLabelValues("placeholder").Add(float64(placeholders))
	m.acquireFailures.Add(float64(acquireFailures))
	m.monochromeTotal.Add(float64(rejected))
	if writeFailed {
		m.writeErrorsTotal.Inc()
	}
}

// IncMirrorErrors increments the failed mirror upload counter
func (m *Metrics) IncMirrorErrors() {
	m.mirrorErrors.Inc()
}

// SetAcquireStats publishes the acquirer's cumulative counters
func (m *Metrics) SetAcquireStats(attempts, frames, exhausted uint64, errors map[string]uint64) {
	m.acquireAttempts.WithLabelValues("total").Set(float64(attempts))
	m.acquireAttempts.WithLabelValues("frame").Set(float64(frames))
	m.acquireAttempts.WithLabelValues("exhausted").Set(float64(exhausted))
	for category, n := range errors {
		m.acquireErrors.WithLabelValues(category).Set(float64(n))
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
