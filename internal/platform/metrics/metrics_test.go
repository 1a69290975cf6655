package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := true
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					matched = false
				}
			}
			if matched {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestMetrics_Counters(t *testing.T) {
	m := New("lending")

	m.Disbursement(OutcomeDisbursed)
	m.Disbursement(OutcomeDisbursed)
	m.Disbursement(OutcomeNoFunds)
	m.GatewayCallback("result", OutcomeDuplicate)
	m.Reconciliation(OutcomeSkipped)
	m.LoanDecision(OutcomeCapExceeded)
	m.ObserveGatewayLatency(300 * time.Millisecond)
	m.Panic("/api/v1/loans/:id")

	assert.Equal(t, 2.0, counterValue(t, m, "lending_disbursements_total", map[string]string{"outcome": OutcomeDisbursed}))
	assert.Equal(t, 1.0, counterValue(t, m, "lending_disbursements_total", map[string]string{"outcome": OutcomeNoFunds}))
	assert.Equal(t, 1.0, counterValue(t, m, "lending_gateway_callbacks_total", map[string]string{"kind": "result", "outcome": OutcomeDuplicate}))
	assert.Equal(t, 1.0, counterValue(t, m, "lending_reconciled_transactions_total", map[string]string{"outcome": OutcomeSkipped}))
	assert.Equal(t, 1.0, counterValue(t, m, "lending_loan_decisions_total", map[string]string{"outcome": OutcomeCapExceeded}))
	assert.Equal(t, 1.0, counterValue(t, m, "lending_http_panics_total", map[string]string{"route": "/api/v1/loans/:id"}))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Disbursement(OutcomeFailed)
		m.GatewayCallback("timeout", OutcomeApplied)
		m.Reconciliation(OutcomeAllocated)
		m.LoanDecision(OutcomePending)
		m.ObserveGatewayLatency(time.Second)
		m.ObserveHTTP("GET", "/health", "200", time.Millisecond)
		m.Panic("/health")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New("lending")
	m.ObserveHTTP("POST", "/api/v1/loans", "201", 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `lending_http_requests_total{method="POST",route="/api/v1/loans",status="201"} 1`)
}
