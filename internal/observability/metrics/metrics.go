// Package metrics exposes Prometheus collectors for the HTTP surface and the
// ledger.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	xerrors "FlowPay-Chain/internal/errors"
)

const namespace = "flowpay"

// Metrics 持有所有采集器及其注册表。
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	invocations       *prometheus.CounterVec
	invocationLatency *prometheus.HistogramVec
	publications      *prometheus.CounterVec
}

// New 创建采集器并注册到独立的 Registry。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_invocations_total",
			Help:      "Ledger invocations by operation and result code.",
		}, []string{"operation", "code"}),
		invocationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_invocation_duration_seconds",
			Help:      "Ledger invocation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		publications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publications_total",
			Help:      "Event publications by topic and result.",
		}, []string{"topic", "result"}),
	}
	m.registry.MustRegister(
		m.httpRequests, m.httpErrors, m.httpLatency,
		m.invocations, m.invocationLatency, m.publications,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry 返回底层注册表。
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveInvocation implements ledger.Observer.
func (m *Metrics) ObserveInvocation(operation string, duration time.Duration, err error) {
	code := "OK"
	if err != nil {
		code = string(xerrors.CodeOf(err))
	}
	m.invocations.WithLabelValues(operation, code).Inc()
	m.invocationLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObservePublish implements ledger.Observer.
func (m *Metrics) ObservePublish(topic string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.publications.WithLabelValues(topic, result).Inc()
}
