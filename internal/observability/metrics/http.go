package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	retrievalDuration      *prometheus.HistogramVec
	retrievalCandidates    *prometheus.HistogramVec
	retrievalFailuresTotal *prometheus.CounterVec
	retrievalDegradedTotal *prometheus.CounterVec

	fusedResults *prometheus.HistogramVec

	streamTerminationsTotal *prometheus.CounterVec
	streamSkippedFragments  *prometheus.CounterVec

	citedSources *prometheus.HistogramVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docchat",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docchat",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	retrievalDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docchat",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Duration of the combined two-channel retrieval pass.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	retrievalCandidates := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docchat",
			Subsystem: "retrieval",
			Name:      "candidates",
			Help:      "Candidates returned per channel after filtering.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		},
		[]string{"service", "channel"},
	)
	retrievalFailuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "retrieval",
			Name:      "channel_failures_total",
			Help:      "Retrieval channel failures by channel.",
		},
		[]string{"service", "channel"},
	)
	retrievalDegradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "retrieval",
			Name:      "channel_degraded_total",
			Help:      "Channels dropped for exceeding the retrieval budget.",
		},
		[]string{"service", "channel"},
	)
	fusedResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docchat",
			Subsystem: "fusion",
			Name:      "results",
			Help:      "Fused results per request after rank fusion.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
		[]string{"service"},
	)
	streamTerminationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "stream",
			Name:      "terminations_total",
			Help:      "Answer stream terminations by reason.",
		},
		[]string{"service", "reason"},
	)
	streamSkippedFragments := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "stream",
			Name:      "skipped_fragments_total",
			Help:      "Upstream fragments dropped as undecodable.",
		},
		[]string{"service"},
	)
	citedSources := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docchat",
			Subsystem: "citation",
			Name:      "cited_sources",
			Help:      "Sources actually cited per completed answer.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		retrievalDuration,
		retrievalCandidates,
		retrievalFailuresTotal,
		retrievalDegradedTotal,
		fusedResults,
		streamTerminationsTotal,
		streamSkippedFragments,
		citedSources,
	)

	return &HTTPServerMetrics{
		registry:                registry,
		requestTotal:            requestTotal,
		requestDuration:         requestDuration,
		requestInFlight:         requestInFlight,
		retrievalDuration:       retrievalDuration,
		retrievalCandidates:     retrievalCandidates,
		retrievalFailuresTotal:  retrievalFailuresTotal,
		retrievalDegradedTotal:  retrievalDegradedTotal,
		fusedResults:            fusedResults,
		streamTerminationsTotal: streamTerminationsTotal,
		streamSkippedFragments:  streamSkippedFragments,
		citedSources:            citedSources,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath keeps the path label bounded: only routes the service
// actually serves pass through, everything else (scans, typos) collapses
// into one bucket.
func normalizePath(path string) string {
	switch path {
	case "/healthz", "/metrics", "/v1/chat/ask":
		return path
	default:
		return "other"
	}
}

func (m *HTTPServerMetrics) RecordRetrieval(service string, semanticCandidates, keywordCandidates int, duration time.Duration) {
	m.retrievalDuration.WithLabelValues(service).Observe(duration.Seconds())
	m.retrievalCandidates.WithLabelValues(service, "semantic").Observe(float64(semanticCandidates))
	m.retrievalCandidates.WithLabelValues(service, "keyword").Observe(float64(keywordCandidates))
}

func (m *HTTPServerMetrics) RecordChannelFailure(service, channel string) {
	m.retrievalFailuresTotal.WithLabelValues(service, channel).Inc()
}

func (m *HTTPServerMetrics) RecordChannelDegraded(service, channel string) {
	if channel == "" {
		return
	}
	m.retrievalDegradedTotal.WithLabelValues(service, channel).Inc()
}

func (m *HTTPServerMetrics) RecordFusedResults(service string, count int) {
	m.fusedResults.WithLabelValues(service).Observe(float64(count))
}

func (m *HTTPServerMetrics) RecordStreamTermination(service, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.streamTerminationsTotal.WithLabelValues(service, reason).Inc()
}

func (m *HTTPServerMetrics) RecordSkippedFragments(service string, count int) {
	if count <= 0 {
		return
	}
	m.streamSkippedFragments.WithLabelValues(service).Add(float64(count))
}

func (m *HTTPServerMetrics) RecordCitedSources(service string, count int) {
	m.citedSources.WithLabelValues(service).Observe(float64(count))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
