package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/api_gateway/middleware"
	"github.com/salary-advance-lending/internal/auth"
	"github.com/salary-advance-lending/internal/domain/audit"
	"github.com/salary-advance-lending/internal/domain/gateway"
	"github.com/salary-advance-lending/internal/domain/loan"
	lending "github.com/salary-advance-lending/internal/lending/service"
	"github.com/salary-advance-lending/internal/platform/mpesa"
	reconciliation "github.com/salary-advance-lending/internal/reconciliation/service"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLoanService struct {
	mock.Mock
}

func (m *MockLoanService) Apply(ctx context.Context, caller auth.Caller, req lending.ApplyRequest) (*lending.ApplyResult, error) {
	args := m.Called(ctx, caller, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lending.ApplyResult), args.Error(1)
}

func (m *MockLoanService) Approve(ctx context.Context, caller auth.Caller, loanID uuid.UUID) (*lending.ApprovalResult, error) {
	args := m.Called(ctx, caller, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lending.ApprovalResult), args.Error(1)
}

func (m *MockLoanService) Reject(ctx context.Context, caller auth.Caller, loanID uuid.UUID, reason string) (*loan.Loan, error) {
	args := m.Called(ctx, caller, loanID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*loan.Loan), args.Error(1)
}

func (m *MockLoanService) GetLoan(ctx context.Context, caller auth.Caller, loanID uuid.UUID) (*lending.LoanDetails, error) {
	args := m.Called(ctx, caller, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lending.LoanDetails), args.Error(1)
}

func (m *MockLoanService) ListLoans(ctx context.Context, caller auth.Caller, query lending.ListQuery) ([]*loan.Loan, int64, error) {
	args := m.Called(ctx, caller, query)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*loan.Loan), args.Get(1).(int64), args.Error(2)
}

type MockDisbursementService struct {
	mock.Mock
}

func (m *MockDisbursementService) DisburseApproved(ctx context.Context, caller auth.Caller, loanID uuid.UUID) (*lending.DisbursementOutcome, error) {
	args := m.Called(ctx, caller, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lending.DisbursementOutcome), args.Error(1)
}

type MockAuditTrailService struct {
	mock.Mock
}

func (m *MockAuditTrailService) ListLoanEvents(ctx context.Context, caller auth.Caller, loanID uuid.UUID, page, perPage int) ([]*audit.Event, int64, error) {
	args := m.Called(ctx, caller, loanID, page, perPage)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*audit.Event), args.Get(1).(int64), args.Error(2)
}

type MockRepaymentService struct {
	mock.Mock
}

func (m *MockRepaymentService) RecordOrganizationPayment(ctx context.Context, caller auth.Caller, req reconciliation.OrganizationPaymentRequest) (*reconciliation.AllocationResult, error) {
	args := m.Called(ctx, caller, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciliation.AllocationResult), args.Error(1)
}

func (m *MockRepaymentService) RunOnce(ctx context.Context) (reconciliation.RunSummary, error) {
	args := m.Called(ctx)
	return args.Get(0).(reconciliation.RunSummary), args.Error(1)
}

type MockCallbackService struct {
	mock.Mock
}

func (m *MockCallbackService) HandleResult(ctx context.Context, tenantID uuid.UUID, result mpesa.Result) (lending.CallbackOutcome, error) {
	args := m.Called(ctx, tenantID, result)
	return args.Get(0).(lending.CallbackOutcome), args.Error(1)
}

func (m *MockCallbackService) HandleTimeout(ctx context.Context, tenantID uuid.UUID, result mpesa.Result) (lending.CallbackOutcome, error) {
	args := m.Called(ctx, tenantID, result)
	return args.Get(0).(lending.CallbackOutcome), args.Error(1)
}

func (m *MockCallbackService) HandleBalance(ctx context.Context, tenantID uuid.UUID, result mpesa.Result) (lending.CallbackOutcome, error) {
	args := m.Called(ctx, tenantID, result)
	return args.Get(0).(lending.CallbackOutcome), args.Error(1)
}

type MockC2BIngressService struct {
	mock.Mock
}

func (m *MockC2BIngressService) Forward(ctx context.Context, tenantID uuid.UUID, confirmation mpesa.C2BConfirmation) error {
	args := m.Called(ctx, tenantID, confirmation)
	return args.Error(0)
}

type MockBalanceService struct {
	mock.Mock
}

func (m *MockBalanceService) RequestRefresh(ctx context.Context, caller auth.Caller) (*mpesa.BalanceQuery, error) {
	args := m.Called(ctx, caller)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mpesa.BalanceQuery), args.Error(1)
}

func (m *MockBalanceService) Latest(ctx context.Context, caller auth.Caller) (*gateway.BalanceSnapshot, error) {
	args := m.Called(ctx, caller)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.BalanceSnapshot), args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// setupTestRouter returns a router that authenticates every request as caller
func setupTestRouter(caller *auth.Caller) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.CorrelationID())
	if caller != nil {
		r.Use(func(c *gin.Context) {
			c.Set(middleware.CallerKey, *caller)
			c.Next()
		})
	}
	return r
}

// decodeData unmarshals the data field of the response envelope into out
func decodeData(t *testing.T, body []byte, out interface{}) Response {
	t.Helper()
	var envelope Response
	require.NoError(t, json.Unmarshal(body, &envelope))
	if out != nil {
		require.NotNil(t, envelope.Data, "'data' field should not be nil")
		raw, err := json.Marshal(envelope.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out))
	}
	return envelope
}
