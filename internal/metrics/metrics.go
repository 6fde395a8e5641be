// Package metrics exposes Prometheus counters and gauges for the request
// path, the account pool, and the quota selector.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector this process exports.
type Metrics struct {
	RequestLatency        *prometheus.HistogramVec
	RequestsTotal         *prometheus.CounterVec
	RequestsInFlight      prometheus.Gauge
	QuotaRemainingPercent *prometheus.GaugeVec
	AccountCooldownTotal  *prometheus.CounterVec
	RotationsTotal        *prometheus.CounterVec
	RateGateWaitDuration  prometheus.Histogram
	RateGateQueueDepth    prometheus.Gauge
	UpstreamErrorsTotal   *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers every collector under a fresh registry.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "Client-facing request latency in seconds.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"surface", "method", "status"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total client-facing requests.",
			},
			[]string{"surface", "method", "status"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_in_flight",
				Help:      "Requests currently being served.",
			},
		),
		QuotaRemainingPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quota_remaining_percent",
				Help:      "Last known remaining quota percentage per model and account.",
			},
			[]string{"model", "account"},
		),
		AccountCooldownTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "account_cooldowns_total",
				Help:      "Number of times an account was placed in cooldown for a model.",
			},
			[]string{"model", "account"},
		),
		RotationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "account_rotations_total",
				Help:      "Number of times the orchestrator rotated to a different account.",
			},
			[]string{"group", "reason"},
		),
		RateGateWaitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rate_gate_wait_seconds",
				Help:      "Time a call spent waiting on the minimum-gap rate gate.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		RateGateQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rate_gate_queue_depth",
				Help:      "Current number of callers waiting on the rate gate.",
			},
		),
		UpstreamErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_errors_total",
				Help:      "Non-2xx upstream responses, by status class.",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.RequestLatency,
		m.RequestsTotal,
		m.RequestsInFlight,
		m.QuotaRemainingPercent,
		m.AccountCooldownTotal,
		m.RotationsTotal,
		m.RateGateWaitDuration,
		m.RateGateQueueDepth,
		m.UpstreamErrorsTotal,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records one completed client-facing request.
func (m *Metrics) RecordRequest(surface, method, status string, durationSeconds float64) {
	m.RequestsTotal.WithLabelValues(surface, method, status).Inc()
	m.RequestLatency.WithLabelValues(surface, method, status).Observe(durationSeconds)
}

// SetQuotaRemaining records the last known remaining-quota percentage.
func (m *Metrics) SetQuotaRemaining(model, account string, percent float64) {
	m.QuotaRemainingPercent.WithLabelValues(model, account).Set(percent)
}

// RecordCooldown records an account entering cooldown for a model.
func (m *Metrics) RecordCooldown(model, account string) {
	m.AccountCooldownTotal.WithLabelValues(model, account).Inc()
}

// RecordRotation records the orchestrator moving to a different account.
func (m *Metrics) RecordRotation(group, reason string) {
	m.RotationsTotal.WithLabelValues(group, reason).Inc()
}

// RecordRateGateWait records time spent waiting on the rate gate.
func (m *Metrics) RecordRateGateWait(durationSeconds float64) {
	m.RateGateWaitDuration.Observe(durationSeconds)
}

// SetRateGateQueueDepth records the current rate gate queue length.
func (m *Metrics) SetRateGateQueueDepth(depth int) {
	m.RateGateQueueDepth.Set(float64(depth))
}

// RecordUpstreamError records a non-2xx upstream response.
func (m *Metrics) RecordUpstreamError(statusClass string) {
	m.UpstreamErrorsTotal.WithLabelValues(statusClass).Inc()
}
