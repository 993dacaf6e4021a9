package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the capture service.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	sessionsStarted prometheus.Counter
	sessionsStopped *prometheus.CounterVec
	acquireFailures prometheus.Counter
	clipsTotal      *prometheus.CounterVec
	clipBytes       prometheus.Histogram
	galleryClips    prometheus.Gauge
	sessionPhase    prometheus.Gauge
}

// New creates and registers Prometheus metrics for the capture service.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_requests_total",
			Help: "Total number of HTTP requests received, by method and route pattern",
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx), by route pattern",
		}, []string{"route"}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_sessions_started_total",
			Help: "Total number of sessions that entered the countdown",
		}),
		sessionsStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_sessions_stopped_total",
			Help: "Total number of sessions returned to idle, by the phase they were stopped in",
		}, []string{"phase"}),
		acquireFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_acquire_failures_total",
			Help: "Total number of camera acquisitions that were denied or failed",
		}),
		clipsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_clips_total",
			Help: "Total number of clips appended to the gallery, by source",
		}, []string{"source"}),
		clipBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "capture_clip_bytes",
			Help:    "Size of clips appended to the gallery",
			Buckets: prometheus.ExponentialBuckets(64*1024, 4, 8),
		}),
		galleryClips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "capture_gallery_clips",
			Help: "Number of clips currently in the gallery",
		}),
		sessionPhase: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "capture_session_phase",
			Help: "Current session phase (0 idle, 1 counting down, 2 recording)",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.sessionsStarted,
		m.sessionsStopped,
		m.acquireFailures,
		m.clipsTotal,
		m.clipBytes,
		m.galleryClips,
		m.sessionPhase,
	)

	return m
}

// IncRequests increments the request counter for a method and route.
func (m *Metrics) IncRequests(method, route string) {
	m.requestsTotal.WithLabelValues(method, route).Inc()
}

// IncErrors increments the errors counter for a route.
func (m *Metrics) IncErrors(route string) {
	m.errorsTotal.WithLabelValues(route).Inc()
}

// IncSessionsStarted increments the sessions started counter.
func (m *Metrics) IncSessionsStarted() {
	m.sessionsStarted.Inc()
}

// IncSessionsStopped counts a session stopped while in the named phase.
func (m *Metrics) IncSessionsStopped(phase string) {
	m.sessionsStopped.WithLabelValues(phase).Inc()
}

// IncAcquireFailures increments the acquisition failure counter.
func (m *Metrics) IncAcquireFailures() {
	m.acquireFailures.Inc()
}

// ObserveClip counts a clip from the named source and records its size.
func (m *Metrics) ObserveClip(source string, size int64) {
	m.clipsTotal.WithLabelValues(source).Inc()
	m.clipBytes.Observe(float64(size))
}

// SetGalleryClips sets the gallery size gauge.
func (m *Metrics) SetGalleryClips(n int) {
	m.galleryClips.Set(float64(n))
}

// SetSessionPhase sets the session phase gauge.
func (m *Metrics) SetSessionPhase(p int) {
	m.sessionPhase.Set(float64(p))
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
