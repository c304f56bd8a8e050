package conform

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects conformance run metrics.
//
// Metrics exposed (all namespaced with "streamcheck_"):
//
//  1. cycles_total (counter): Driver iterations by outcome.
//     Labels: scenario, outcome (continue/exit/abort).
//  2. reply_latency_ms (histogram): command/reply round trip.
//     Labels: command.
//  3. violations_total (counter): protocol violations.
//     Labels: scenario, kind (see the Kind* constants).
//  4. event_wait_ms (histogram): time spent waiting for a notification.
//     Labels: event.
//  5. event_timeouts_total (counter): waits that ended without the event.
//     Labels: event.
//  6. inflight_workers (gauge): Workers currently running a loop.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := conform.NewPrometheusMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// All methods are safe for concurrent use.
type PrometheusMetrics struct {
	cycles        *prometheus.CounterVec
	replyLatency  *prometheus.HistogramVec
	violations    *prometheus.CounterVec
	eventWait     *prometheus.HistogramVec
	eventTimeouts *prometheus.CounterVec
	inflight      prometheus.Gauge

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all metrics with registry.
// A nil registry means prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		enabled: true,
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcheck",
			Name:      "cycles_total",
			Help:      "Driver iterations by outcome",
		}, []string{"scenario", "outcome"}),
		replyLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "streamcheck",
			Name:      "reply_latency_ms",
			Help:      "Command to reply round trip in milliseconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000},
		}, []string{"command"}),
		violations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcheck",
			Name:      "violations_total",
			Help:      "Protocol violations detected by the driver",
		}, []string{"scenario", "kind"}),
		eventWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "streamcheck",
			Name:      "event_wait_ms",
			Help:      "Time spent waiting for an asynchronous notification in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 250, 500, 1000, 2000},
		}, []string{"event"}),
		eventTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcheck",
			Name:      "event_timeouts_total",
			Help:      "Notification waits that timed out",
		}, []string{"event"}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamcheck",
			Name:      "inflight_workers",
			Help:      "Workers currently running a driver loop",
		}),
	}
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordCycle counts one Driver iteration.
func (pm *PrometheusMetrics) RecordCycle(scenario string, outcome Outcome) {
	if !pm.on() {
		return
	}
	pm.cycles.WithLabelValues(scenario, outcome.String()).Inc()
}

// RecordReplyLatency observes the round trip of one exchange.
func (pm *PrometheusMetrics) RecordReplyLatency(cmd CommandTag, d time.Duration) {
	if !pm.on() {
		return
	}
	pm.replyLatency.WithLabelValues(cmd.String()).Observe(float64(d.Microseconds()) / 1000)
}

// IncrementViolations counts one protocol violation.
func (pm *PrometheusMetrics) IncrementViolations(scenario, kind string) {
	if !pm.on() {
		return
	}
	pm.violations.WithLabelValues(scenario, kind).Inc()
}

// RecordEventWait observes one notification wait; timedOut also counts it as
// a timeout.
func (pm *PrometheusMetrics) RecordEventWait(ev Event, d time.Duration, timedOut bool) {
	if !pm.on() {
		return
	}
	pm.eventWait.WithLabelValues(ev.String()).Observe(float64(d.Milliseconds()))
	if timedOut {
		pm.eventTimeouts.WithLabelValues(ev.String()).Inc()
	}
}

// WorkerStarted increments the inflight gauge and reports whether it did.
// The result must be handed to WorkerStopped.
func (pm *PrometheusMetrics) WorkerStarted() bool {
	if !pm.on() {
		return false
	}
	pm.inflight.Inc()
	return true
}

// WorkerStopped decrements the inflight gauge for a worker whose start was
// counted, even if recording was disabled in between.
func (pm *PrometheusMetrics) WorkerStopped(counted bool) {
	if pm == nil || !counted {
		return
	}
	pm.inflight.Dec()
}

// Disable stops metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
