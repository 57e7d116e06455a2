package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	CacheLookups    *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec
	EventsConsumed  *prometheus.CounterVec
	Reservations    *prometheus.CounterVec
	Requests        *prometheus.CounterVec
	LatencyMS       *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache-aside lookups by key namespace and result.",
		}, []string{"namespace", "result"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: "bus",
			Name:      "events_published_total",
			Help:      "Events handed to the transport by topic and result.",
		}, []string{"topic", "result"}),
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: "bus",
			Name:      "events_consumed_total",
			Help:      "Events delivered to handlers by topic and result.",
		}, []string{"topic", "result"}),
		Reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: "stock",
			Name:      "reservations_total",
			Help:      "Stock reservation attempts by result.",
		}, []string{"result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orders",
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		gatherer: reg,
	}
	reg.MustRegister(m.CacheLookups, m.EventsPublished, m.EventsConsumed, m.Reservations, m.Requests, m.LatencyMS)
	return m
}

func (m *Metrics) CacheHit(key string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(namespace(key), "hit").Inc()
}

func (m *Metrics) CacheMiss(key string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(namespace(key), "miss").Inc()
}

func (m *Metrics) Published(topic string, err error) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(topic, result(err)).Inc()
}

func (m *Metrics) Consumed(topic string, err error) {
	if m == nil {
		return
	}
	m.EventsConsumed.WithLabelValues(topic, result(err)).Inc()
}

func (m *Metrics) Reserved(outcome string) {
	if m == nil {
		return
	}
	m.Reservations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func namespace(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
