// Package metrics holds the Prometheus collectors of the service.
//
// Metrics:
//   - rag_ingests_total{result} - Count of ingest attempts
//   - rag_ingest_duration_seconds - Histogram of successful ingest times
//   - rag_asks_total{result} - Count of questions
//   - rag_ask_duration_seconds - Histogram of answered question times
//   - rag_index_chunks - Chunks in the active index
//   - rag_index_dimension - Vector dimension of the active index
//   - rag_http_requests_total{method,route,status} - Count of HTTP requests
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels.
const (
	ResultOK = "ok"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	IngestsTotal   *prometheus.CounterVec
	IngestDuration prometheus.Histogram

	AsksTotal   *prometheus.CounterVec
	AskDuration prometheus.Histogram

	IndexChunks    prometheus.Gauge
	IndexDimension prometheus.Gauge

	HTTPRequestsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// Passing prometheus.DefaultRegisterer exposes them on promhttp.Handler().
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		IngestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_ingests_total",
				Help: "Total number of resource ingest attempts",
			},
			[]string{"result"},
		),
		IngestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rag_ingest_duration_seconds",
				Help:    "Duration of successful ingests in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
		),
		AsksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_asks_total",
				Help: "Total number of questions asked",
			},
			[]string{"result"},
		),
		AskDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rag_ask_duration_seconds",
				Help:    "Duration of answered questions in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
			},
		),
		IndexChunks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rag_index_chunks",
				Help: "Number of chunks in the active index",
			},
		),
		IndexDimension: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rag_index_dimension",
				Help: "Vector dimension of the active index",
			},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_http_requests_total",
				Help: "Total number of HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),
	}
}

// RecordIngest records one ingest attempt. Durations are observed for successes only.
func (m *Metrics) RecordIngest(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.IngestsTotal.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.IngestDuration.Observe(d.Seconds())
	}
}

// RecordAsk records one question. Durations are observed for successes only.
func (m *Metrics) RecordAsk(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.AsksTotal.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.AskDuration.Observe(d.Seconds())
	}
}

// SetIndex publishes the shape of the active index.
func (m *Metrics) SetIndex(chunks, dimension int) {
	if m == nil {
		return
	}
	m.IndexChunks.Set(float64(chunks))
	m.IndexDimension.Set(float64(dimension))
}

// RecordHTTPRequest counts one served request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, statusLabel(status)).Inc()
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
