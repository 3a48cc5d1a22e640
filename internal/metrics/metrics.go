package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine, gateway and HTTP instruments on a private registry
// so tests can build as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	Sales          *prometheus.CounterVec   // method, outcome
	SaleDuration   *prometheus.HistogramVec // method
	IdempotentHits prometheus.Counter
	Reservations   *prometheus.CounterVec // outcome
	MpesaIntents   *prometheus.CounterVec // status
	RecordFailures prometheus.Counter

	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.Sales = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dukapos",
		Name:      "sales_total",
		Help:      "Sale submissions by payment method and outcome.",
	}, []string{"method", "outcome"})
	m.SaleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dukapos",
		Name:      "sale_duration_seconds",
		Help:      "Time from submit to committed or failed.",
		Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
	}, []string{"method"})
	m.IdempotentHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dukapos",
		Name:      "sale_idempotent_replays_total",
		Help:      "Submissions answered from an earlier attempt with the same key.",
	})
	m.Reservations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dukapos",
		Subsystem: "stock",
		Name:      "reservations_total",
		Help:      "Stock reservations by outcome.",
	}, []string{"outcome"})
	m.MpesaIntents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dukapos",
		Subsystem: "mpesa",
		Name:      "intents_total",
		Help:      "Payment intents by terminal status.",
	}, []string{"status"})
	m.RecordFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dukapos",
		Name:      "sale_record_failures_total",
		Help:      "Committed sales the storage layer failed to persist.",
	})
	m.Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dukapos",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	m.LatencyMS = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dukapos",
		Subsystem: "http",
		Name:      "request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	m.reg.MustRegister(
		m.Sales, m.SaleDuration, m.IdempotentHits, m.Reservations, m.MpesaIntents, m.RecordFailures,
		m.Requests, m.LatencyMS,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
