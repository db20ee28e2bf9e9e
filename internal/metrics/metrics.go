// Package metrics defines the service's Prometheus collectors.
// All recording methods are safe on a nil *Metrics, so packages can take an
// optional collector without guarding every call.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of collectors exported at /metrics.
type Metrics struct {
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	CartMutations  *prometheus.CounterVec
	CheckoutItems  *prometheus.CounterVec
	OffersAnswered *prometheus.CounterVec

	ProcessorCalls    *prometheus.CounterVec
	ProcessorDuration *prometheus.HistogramVec
	EvidenceSkipped   *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors under the given namespace and registers them on
// a fresh registry, alongside the Go runtime and process collectors.
func New(namespace string) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		CartMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_mutations_total",
			Help:      "Cart mutations by operation and result.",
		}, []string{"op", "result"}),
		CheckoutItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_items_total",
			Help:      "Checkout line items by result.",
		}, []string{"result"}),
		OffersAnswered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offers_answered_total",
			Help:      "Cross-sell and upsell answers.",
		}, []string{"kind", "answer"}),

		ProcessorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processor_calls_total",
			Help:      "Payment processor calls by processor, operation and status code.",
		}, []string{"processor", "op", "status"}),
		ProcessorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processor_call_duration_seconds",
			Help:      "Payment processor call latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"processor", "op"}),
		EvidenceSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evidence_files_skipped_total",
			Help:      "Dispute evidence files excluded by size or type limits.",
		}, []string{"processor", "reason"}),

		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests, m.HTTPDuration,
		m.CartMutations, m.CheckoutItems, m.OffersAnswered,
		m.ProcessorCalls, m.ProcessorDuration, m.EvidenceSkipped,
	)
	return m
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// CartMutation records a cart operation; err decides the result label.
func (m *Metrics) CartMutation(op string, err error) {
	if m == nil {
		return
	}
	m.CartMutations.WithLabelValues(op, result(err)).Inc()
}

// CheckoutResult records the per-item outcome of a checkout submission.
func (m *Metrics) CheckoutResult(succeeded, failed int) {
	if m == nil {
		return
	}
	m.CheckoutItems.WithLabelValues("success").Add(float64(succeeded))
	m.CheckoutItems.WithLabelValues("failure").Add(float64(failed))
}

// OfferAnswered records an accepted or declined offer.
func (m *Metrics) OfferAnswered(kind string, accepted bool) {
	if m == nil {
		return
	}
	answer := "declined"
	if accepted {
		answer = "accepted"
	}
	m.OffersAnswered.WithLabelValues(kind, answer).Inc()
}

// ObserveProcessor records one processor call. status is the HTTP status, or
// 0 when the request never got a response.
func (m *Metrics) ObserveProcessor(processor, op string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProcessorCalls.WithLabelValues(processor, op, strconv.Itoa(status)).Inc()
	m.ProcessorDuration.WithLabelValues(processor, op).Observe(elapsed.Seconds())
}

// EvidenceFileSkipped records a file dropped from a dispute submission.
func (m *Metrics) EvidenceFileSkipped(processor, reason string) {
	if m == nil {
		return
	}
	m.EvidenceSkipped.WithLabelValues(processor, reason).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
