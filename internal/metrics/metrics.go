// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pagepipe"

// Metrics is a private registry with the bot's collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	webhookEvents     *prometheus.CounterVec
	signatureFailures prometheus.Counter
	messagesSent      *prometheus.CounterVec
	llmLatency        *prometheus.HistogramVec
	orders            *prometheus.CounterVec
}

// New creates the collectors and registers them with a fresh registry
// alongside the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Webhook events received, by kind",
		}, []string{"kind"}),
		signatureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "signature_failures_total",
			Help:      "Webhook deliveries rejected for a bad X-Hub-Signature-256",
		}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "send",
			Name:      "messages_total",
			Help:      "Send API calls, by outcome",
		}, []string{"status"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "genai",
			Name:      "llm_latency_seconds",
			Help:      "Latency of LLM replies",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 8, 10, 15, 20, 30},
		}, []string{"status"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "total",
			Help:      "Orders captured from cashier conversations, by status",
		}, []string{"status"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.webhookEvents,
		m.signatureFailures,
		m.messagesSent,
		m.llmLatency,
		m.orders,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// WebhookEvent counts a received webhook event of kind.
func (m *Metrics) WebhookEvent(kind string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(kind).Inc()
}

// SignatureFailure counts a rejected webhook delivery.
func (m *Metrics) SignatureFailure() {
	if m == nil {
		return
	}
	m.signatureFailures.Inc()
}

// MessageSent counts a Send API call.
func (m *Metrics) MessageSent(err error) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(outcome(err)).Inc()
}

// ObserveLLM records the latency of an LLM reply.
func (m *Metrics) ObserveLLM(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.llmLatency.WithLabelValues(outcome(err)).Observe(d.Seconds())
}

// Order counts an order status transition.
func (m *Metrics) Order(status string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(status).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
