// Package metrics provides Prometheus metrics for the podium pipeline.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector podium exports.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// External commands
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	// Normalization
	normalizeRuns     prometheus.Counter
	entriesKept       prometheus.Gauge
	entriesDropped    prometheus.Gauge
	fieldsAnonymized  prometheus.Gauge
	normalizeFailures prometheus.Counter

	// Job cleanup
	pendingJobs       prometheus.Gauge
	releasedResources prometheus.Counter
	pollIterations    prometheus.Counter

	// Publishing
	publishes     *prometheus.CounterVec
	cycles        *prometheus.CounterVec
	lastSuccessTS prometheus.Gauge

	// Serve mode
	storeEntries        prometheus.Gauge
	storeReloads        *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "podium",
		subsystem:        "pipeline",
		histogramBuckets: []float64{10, 50, 100, 250, 500, 1000, 5000, 15000, 60000, 300000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for all collectors
	auto := promauto.With(m.registry)

	m.commands = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "commands_total",
		Help:      "External commands executed, by tool and exit code",
	}, []string{"tool", "exit_code"})

	m.commandDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "command_duration_milliseconds",
		Help:      "Wall time of external commands in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"tool"})

	m.normalizeRuns = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "normalize_runs_total",
		Help:      "Successful leaderboard normalizations",
	})

	m.normalizeFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "normalize_failures_total",
		Help:      "Leaderboard normalizations that failed on malformed input",
	})

	m.entriesKept = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "entries_kept",
		Help:      "Entries with a numeric primary score in the last normalization",
	})

	m.entriesDropped = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "entries_dropped",
		Help:      "Entries dropped by the last normalization",
	})

	m.fieldsAnonymized = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "fields_anonymized",
		Help:      "Description fields rewritten to the anonymous label in the last normalization",
	})

	m.pendingJobs = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pending_jobs",
		Help:      "Evaluation jobs not yet finished at the last cleanup pass",
	})

	m.releasedResources = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "released_resources_total",
		Help:      "Prediction bundles removed after their evaluation finished",
	})

	m.pollIterations = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "poll_iterations_total",
		Help:      "Completion polling iterations",
	})

	m.publishes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "publishes_total",
		Help:      "Publish attempts by target and result",
	}, []string{"target", "result"})

	m.cycles = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cycles_total",
		Help:      "Competition cycles by result",
	}, []string{"result"})

	m.lastSuccessTS = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful cycle",
	})

	m.storeEntries = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "serve",
		Name:      "store_entries",
		Help:      "Rows currently served from the published leaderboard",
	})

	m.storeReloads = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "serve",
		Name:      "store_reloads_total",
		Help:      "Published leaderboard reloads by result",
	}, []string{"result"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "serve",
		Name:      "http_requests_total",
		Help:      "HTTP requests by endpoint, method and status",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "serve",
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"endpoint", "method", "status_code"})
}

// RecordCommand records one external command execution.
func RecordCommand(tool string, exitCode int, d time.Duration) {
	globalManager.commands.WithLabelValues(tool, strconv.Itoa(exitCode)).Inc()
	globalManager.commandDuration.WithLabelValues(tool).Observe(float64(d.Milliseconds()))
}

// RecordNormalize stores the outcome of a successful normalization.
func RecordNormalize(kept, dropped, anonymized int) {
	globalManager.normalizeRuns.Inc()
	globalManager.entriesKept.Set(float64(kept))
	globalManager.entriesDropped.Set(float64(dropped))
	globalManager.fieldsAnonymized.Set(float64(anonymized))
}

// RecordNormalizeFailure counts a normalization rejected as malformed.
func RecordNormalizeFailure() {
	globalManager.normalizeFailures.Inc()
}

// UpdatePendingJobs sets the pending job gauge.
func UpdatePendingJobs(n int) {
	globalManager.pendingJobs.Set(float64(n))
}

// RecordReleasedResource counts one removed prediction bundle.
func RecordReleasedResource() {
	globalManager.releasedResources.Inc()
}

// RecordPollIteration counts one completion polling iteration.
func RecordPollIteration() {
	globalManager.pollIterations.Inc()
}

// RecordPublish counts a publish attempt. target is "storage" or "git".
func RecordPublish(target string, err error) {
	globalManager.publishes.WithLabelValues(target, result(err)).Inc()
}

// RecordCycle counts a finished cycle and stamps the success gauge.
func RecordCycle(err error) {
	globalManager.cycles.WithLabelValues(result(err)).Inc()
	if err == nil {
		globalManager.lastSuccessTS.SetToCurrentTime()
	}
}

// UpdateStoreEntries sets the number of served rows.
func UpdateStoreEntries(n int) {
	globalManager.storeEntries.Set(float64(n))
}

// RecordStoreReload counts a published leaderboard reload.
func RecordStoreReload(err error) {
	globalManager.storeReloads.WithLabelValues(result(err)).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, customRegistry); err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}
	return nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
