// Package metrics holds the process's Prometheus collectors on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels
const (
	OutcomeApplied     = "applied"
	OutcomeDuplicate   = "duplicate"
	OutcomeUnmatched   = "unmatched"
	OutcomeError       = "error"
	OutcomeDisbursed   = "disbursed"
	OutcomeFailed      = "failed"
	OutcomeNoFunds     = "insufficient_balance"
	OutcomeAllocated   = "allocated"
	OutcomeSkipped     = "skipped"
	OutcomePending     = "pending"
	OutcomeApproved    = "approved"
	OutcomeRejected    = "rejected"
	OutcomeCapExceeded = "cap_exceeded"
)

// Metrics methods are safe on a nil receiver so components can run without instrumentation
type Metrics struct {
	registry         *prometheus.Registry
	loanDecisions    *prometheus.CounterVec
	disbursements    *prometheus.CounterVec
	gatewayCallbacks *prometheus.CounterVec
	reconciliations  *prometheus.CounterVec
	gatewayLatency   prometheus.Histogram
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
	httpPanics       *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		loanDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loan_decisions_total",
			Help:      "Loan applications and approval decisions by outcome.",
		}, []string{"outcome"}),
		disbursements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disbursements_total",
			Help:      "Disbursement attempts by outcome.",
		}, []string{"outcome"}),
		gatewayCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_callbacks_total",
			Help:      "Gateway callbacks received by kind and outcome.",
		}, []string{"kind", "outcome"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_transactions_total",
			Help:      "Incoming transactions handled by the reconciler by outcome.",
		}, []string{"outcome"}),
		gatewayLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Latency of synchronous disbursement calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_panics_total",
			Help:      "Handler panics recovered by route.",
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.loanDecisions,
		m.disbursements,
		m.gatewayCallbacks,
		m.reconciliations,
		m.gatewayLatency,
		m.httpRequests,
		m.httpLatency,
		m.httpPanics,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) LoanDecision(outcome string) {
	if m == nil {
		return
	}
	m.loanDecisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Disbursement(outcome string) {
	if m == nil {
		return
	}
	m.disbursements.WithLabelValues(outcome).Inc()
}

func (m *Metrics) GatewayCallback(kind, outcome string) {
	if m == nil {
		return
	}
	m.gatewayCallbacks.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Reconciliation(outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveGatewayLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayLatency.Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) Panic(route string) {
	if m == nil {
		return
	}
	m.httpPanics.WithLabelValues(route).Inc()
}
