package metrics

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "certsweep"

	subsystemProbe  = "probe"
	subsystemSweep  = "sweep"
	subsystemLookup = "lookup"
	subsystemAPI    = "api"
	subsystemSystem = "system"
)

// PrometheusMetrics holds the Prometheus collectors for certsweep. Each
// instance owns its registry so tests can create isolated instances.
type PrometheusMetrics struct {
	probesTotal   *prometheus.CounterVec
	probeDuration prometheus.Histogram

	sweepsTotal     *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
	sweepActive     prometheus.Gauge
	classifiedTotal prometheus.Counter

	lookupsTotal *prometheus.CounterVec

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	websocketClients prometheus.Gauge

	goroutines prometheus.Gauge
	uptime     prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates and registers all collectors.
func NewPrometheusMetrics() *PrometheusMetrics {
	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
	}

	pm.initSweepMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	pm.registry.MustRegister(
		pm.probesTotal, pm.probeDuration,
		pm.sweepsTotal, pm.sweepDuration, pm.sweepActive, pm.classifiedTotal,
		pm.lookupsTotal,
		pm.httpRequests, pm.httpDuration, pm.websocketClients,
		pm.goroutines, pm.uptime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return pm
}

func (pm *PrometheusMetrics) initSweepMetrics() {
	pm.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "total",
			Help:      "Completed probes by outcome",
		},
		[]string{LabelOutcome},
	)

	// Bounded by tcp_timeout + tls_timeout.
	pm.probeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Duration of single probes in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 1.5, 2.0},
		},
	)

	pm.sweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSweep,
			Name:      "total",
			Help:      "Finished sweeps by terminal status",
		},
		[]string{LabelStatus},
	)

	pm.sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemSweep,
			Name:      "duration_seconds",
			Help:      "Wall time of sweeps in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	pm.sweepActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSweep,
			Name:      "active",
			Help:      "1 while a sweep is running",
		},
	)

	pm.classifiedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSweep,
			Name:      "classified_total",
			Help:      "Targets classified across all sweeps",
		},
	)

	pm.lookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemLookup,
			Name:      "total",
			Help:      "Annotation lookups by source and result",
		},
		[]string{LabelSource, LabelStatus},
	)
}

func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{LabelMethod, LabelPath, LabelStatus},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{LabelMethod, LabelPath},
	)

	pm.websocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "websocket_clients",
			Help:      "Connected websocket stream clients",
		},
	)
}

func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// GetRegistry returns the Prometheus registry.
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{Registry: pm.registry})
}

// ProbeCompleted implements SweepRecorder.
func (pm *PrometheusMetrics) ProbeCompleted(outcome string, duration time.Duration) {
	pm.probesTotal.WithLabelValues(outcome).Inc()
	pm.probeDuration.Observe(duration.Seconds())
}

// SweepStarted implements SweepRecorder.
func (pm *PrometheusMetrics) SweepStarted() {
	pm.sweepActive.Set(1)
}

// SweepFinished implements SweepRecorder.
func (pm *PrometheusMetrics) SweepFinished(status string, duration time.Duration, classified int) {
	pm.sweepActive.Set(0)
	pm.sweepsTotal.WithLabelValues(status).Inc()
	pm.sweepDuration.Observe(duration.Seconds())
	pm.classifiedTotal.Add(float64(classified))
}

// LookupCompleted counts one annotation lookup.
func (pm *PrometheusMetrics) LookupCompleted(source, status string) {
	pm.lookupsTotal.WithLabelValues(source, status).Inc()
}

// IncrementHTTPRequests increments HTTP request counter.
func (pm *PrometheusMetrics) IncrementHTTPRequests(method, path, status string) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration.
func (pm *PrometheusMetrics) RecordHTTPDuration(method, path string, duration time.Duration) {
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetWebSocketClients sets the number of connected stream clients.
func (pm *PrometheusMetrics) SetWebSocketClients(count int) {
	pm.websocketClients.Set(float64(count))
}

// UpdateSystemMetrics refreshes goroutine and uptime gauges.
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
	pm.lastUpdate = time.Now()
}

// GetLastUpdate returns the last system metrics update time.
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates refreshes system metrics every interval until ctx ends.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}

var (
	globalMetrics *PrometheusMetrics
	metricsOnce   sync.Once
)

// GetGlobalMetrics returns the process-wide Prometheus metrics instance.
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
