package api_gateway

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/auth"
	"github.com/salary-advance-lending/internal/config"
	"github.com/salary-advance-lending/internal/domain/audit"
	"github.com/salary-advance-lending/internal/domain/gateway"
	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/salary-advance-lending/internal/domain/shared"
	lending "github.com/salary-advance-lending/internal/lending/service"
	"github.com/salary-advance-lending/internal/platform/metrics"
	"github.com/salary-advance-lending/internal/platform/mpesa"
	reconciliation "github.com/salary-advance-lending/internal/reconciliation/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubServices answers every use case with a fixed, empty result
type stubServices struct {
	forwarded []string
}

func (s *stubServices) Apply(context.Context, auth.Caller, lending.ApplyRequest) (*lending.ApplyResult, error) {
	return nil, shared.NewCapacityError("monthly limit reached")
}

func (s *stubServices) Approve(context.Context, auth.Caller, uuid.UUID) (*lending.ApprovalResult, error) {
	return nil, shared.NewNotFoundError("loan not found")
}

func (s *stubServices) Reject(context.Context, auth.Caller, uuid.UUID, string) (*loan.Loan, error) {
	return nil, shared.NewNotFoundError("loan not found")
}

func (s *stubServices) GetLoan(context.Context, auth.Caller, uuid.UUID) (*lending.LoanDetails, error) {
	return nil, shared.NewNotFoundError("loan not found")
}

func (s *stubServices) ListLoans(context.Context, auth.Caller, lending.ListQuery) ([]*loan.Loan, int64, error) {
	return []*loan.Loan{}, 0, nil
}

func (s *stubServices) DisburseApproved(context.Context, auth.Caller, uuid.UUID) (*lending.DisbursementOutcome, error) {
	return nil, shared.NewNotFoundError("loan not found")
}

func (s *stubServices) HandleResult(context.Context, uuid.UUID, mpesa.Result) (lending.CallbackOutcome, error) {
	return lending.CallbackProcessed, nil
}

func (s *stubServices) HandleTimeout(context.Context, uuid.UUID, mpesa.Result) (lending.CallbackOutcome, error) {
	return lending.CallbackProcessed, nil
}

func (s *stubServices) HandleBalance(context.Context, uuid.UUID, mpesa.Result) (lending.CallbackOutcome, error) {
	return lending.CallbackProcessed, nil
}

func (s *stubServices) ListLoanEvents(context.Context, auth.Caller, uuid.UUID, int, int) ([]*audit.Event, int64, error) {
	return []*audit.Event{}, 0, nil
}

func (s *stubServices) RecordOrganizationPayment(context.Context, auth.Caller, reconciliation.OrganizationPaymentRequest) (*reconciliation.AllocationResult, error) {
	return nil, shared.NewNotFoundError("organization not found")
}

func (s *stubServices) RunOnce(context.Context) (reconciliation.RunSummary, error) {
	return reconciliation.RunSummary{}, nil
}

func (s *stubServices) Forward(_ context.Context, _ uuid.UUID, confirmation mpesa.C2BConfirmation) error {
	s.forwarded = append(s.forwarded, confirmation.TransID)
	return nil
}

func (s *stubServices) RequestRefresh(context.Context, auth.Caller) (*mpesa.BalanceQuery, error) {
	return &mpesa.BalanceQuery{ConversationID: "AG_1"}, nil
}

func (s *stubServices) Latest(context.Context, auth.Caller) (*gateway.BalanceSnapshot, error) {
	return nil, shared.NewNotFoundError("no balance has been reported yet")
}

func testConfig() *config.Config {
	return &config.Config{
		Application: config.ApplicationConfig{Env: "test"},
		Server: config.ServerConfig{
			Port:         8080,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			IdleTimeout:  time.Second,
		},
	}
}

func TestServer_Routes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	stubs := &stubServices{}
	validator := auth.NewTokenValidator("route-secret", "")
	m := metrics.New("lending_route_test")

	server := NewServer(slog.New(slog.NewJSONHandler(io.Discard, nil)), testConfig(), Services{
		Loans:         stubs,
		Disbursements: stubs,
		Callbacks:     stubs,
		AuditTrail:    stubs,
		Repayments:    stubs,
		C2BIngress:    stubs,
		Balance:       stubs,
	}, validator, m)

	org := int64(1)
	token, err := validator.Issue(auth.Caller{
		UserID: uuid.New(), TenantID: uuid.New(), OrganizationID: &org, Roles: []shared.Role{shared.RoleAdmin},
	}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		authorized     bool
		expectedStatus int
	}{
		{"health", http.MethodGet, "/health", "", false, http.StatusOK},
		{"loans need a token", http.MethodGet, "/api/v1/loans", "", false, http.StatusUnauthorized},
		{"list loans", http.MethodGet, "/api/v1/loans", "", true, http.StatusOK},
		{"apply maps capacity to 422", http.MethodPost, "/api/v1/loans", `{"amount":"100"}`, true, http.StatusUnprocessableEntity},
		{"approve unknown loan", http.MethodPost, "/api/v1/loans/" + uuid.NewString() + "/approve", "", true, http.StatusNotFound},
		{"loan events", http.MethodGet, "/api/v1/loans/" + uuid.NewString() + "/events", "", true, http.StatusOK},
		{"organization payment", http.MethodPost, "/api/v1/organizations/1/payments", `{"amount":"10","payment_method":"CASH"}`, true, http.StatusNotFound},
		{"reconciliation run", http.MethodPost, "/api/v1/reconciliation/run", "", true, http.StatusOK},
		{"balance refresh", http.MethodPost, "/api/v1/gateway/balance/refresh", "", true, http.StatusAccepted},
		{"balance never reported", http.MethodGet, "/api/v1/gateway/balance", "", true, http.StatusNotFound},
		{"webhook without token", http.MethodPost, "/api/v1/webhooks/mpesa/" + uuid.NewString() + "/c2b/confirmation", `{"TransID":"RKL1"}`, false, http.StatusOK},
		{"unknown route", http.MethodGet, "/api/v1/nothing", "", true, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.authorized {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.NotEmpty(t, rr.Header().Get("X-Correlation-ID"))
		})
	}

	assert.Equal(t, []string{"RKL1"}, stubs.forwarded)

	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "lending_route_test_http_requests_total"))
}
