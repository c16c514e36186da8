package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for polling and the query API. Each instance
// owns its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	PollsTotal          *prometheus.CounterVec
	PollDuration        prometheus.Histogram
	FetchLatency        prometheus.Histogram
	PollsSkipped        prometheus.Counter
	PayloadBytes        prometheus.Histogram
	StoreErrorsTotal    *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apilogger_polls_total",
				Help: "Total number of poll attempts by outcome",
			},
			[]string{"outcome"},
		),
		PollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "apilogger_poll_duration_seconds",
				Help:    "Duration of one poll including store writes",
				Buckets: prometheus.DefBuckets,
			},
		),
		FetchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "apilogger_fetch_latency_seconds",
				Help:    "Latency of the upstream API call alone",
				Buckets: prometheus.DefBuckets,
			},
		),
		PollsSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "apilogger_polls_skipped_total",
				Help: "Ticks skipped because too many polls were in flight",
			},
		),
		PayloadBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "apilogger_payload_bytes",
				Help:    "Size of stored payloads",
				Buckets: prometheus.ExponentialBuckets(64, 4, 10),
			},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apilogger_store_errors_total",
				Help: "Failed writes by store",
			},
			[]string{"store"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.PollsTotal,
		m.PollDuration,
		m.FetchLatency,
		m.PollsSkipped,
		m.PayloadBytes,
		m.StoreErrorsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one served request.
func (m *Metrics) ObserveRequest(handler, method string, status int, elapsed time.Duration) {
	m.HTTPRequestDuration.WithLabelValues(handler, method).Observe(elapsed.Seconds())
	m.HTTPRequestsTotal.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
}
