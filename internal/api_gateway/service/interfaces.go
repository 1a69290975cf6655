package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/auth"
	"github.com/salary-advance-lending/internal/domain/audit"
	"github.com/salary-advance-lending/internal/domain/gateway"
	"github.com/salary-advance-lending/internal/domain/loan"
	lending "github.com/salary-advance-lending/internal/lending/service"
	"github.com/salary-advance-lending/internal/platform/mpesa"
	reconciliation "github.com/salary-advance-lending/internal/reconciliation/service"
)

// LoanService defines the loan lifecycle operations exposed to employees and administrators
type LoanService interface {
	// Apply creates a loan for the caller. Zero-step organizations approve and disburse in the same call.
	Apply(ctx context.Context, caller auth.Caller, req lending.ApplyRequest) (*lending.ApplyResult, error)

	// Approve records one approval step; the final step triggers disbursement
	Approve(ctx context.Context, caller auth.Caller, loanID uuid.UUID) (*lending.ApprovalResult, error)

	Reject(ctx context.Context, caller auth.Caller, loanID uuid.UUID, reason string) (*loan.Loan, error)

	GetLoan(ctx context.Context, caller auth.Caller, loanID uuid.UUID) (*lending.LoanDetails, error)

	// ListLoans returns one page of loans visible to the caller and the total count
	ListLoans(ctx context.Context, caller auth.Caller, query lending.ListQuery) ([]*loan.Loan, int64, error)
}

// DisbursementService retries disbursement of APPROVED loans
type DisbursementService interface {
	DisburseApproved(ctx context.Context, caller auth.Caller, loanID uuid.UUID) (*lending.DisbursementOutcome, error)
}

// CallbackService applies asynchronous gateway results
type CallbackService interface {
	HandleResult(ctx context.Context, tenantID uuid.UUID, result mpesa.Result) (lending.CallbackOutcome, error)
	HandleTimeout(ctx context.Context, tenantID uuid.UUID, result mpesa.Result) (lending.CallbackOutcome, error)
	HandleBalance(ctx context.Context, tenantID uuid.UUID, result mpesa.Result) (lending.CallbackOutcome, error)
}

// AuditTrailService reads the published audit trail of a loan
type AuditTrailService interface {
	ListLoanEvents(ctx context.Context, caller auth.Caller, loanID uuid.UUID, page, perPage int) ([]*audit.Event, int64, error)
}

// RepaymentService records repayments that do not arrive through the C2B queue
type RepaymentService interface {
	// RecordOrganizationPayment allocates a bulk payment across every employee of the organization
	RecordOrganizationPayment(ctx context.Context, caller auth.Caller, req reconciliation.OrganizationPaymentRequest) (*reconciliation.AllocationResult, error)

	// RunOnce reconciles the pending C2B queue immediately
	RunOnce(ctx context.Context) (reconciliation.RunSummary, error)
}

// ConfirmationIngestor stores a C2B confirmation directly in the unattributed queue
type ConfirmationIngestor interface {
	IngestConfirmation(ctx context.Context, event reconciliation.C2BEvent) (bool, error)
}

// C2BIngressService hands pushed C2B confirmations to the reconciler
type C2BIngressService interface {
	// Forward queues the confirmation. It returns an error only when the confirmation could not be queued at all.
	Forward(ctx context.Context, tenantID uuid.UUID, confirmation mpesa.C2BConfirmation) error
}

// GatewayBalanceService refreshes and reads the tenant's gateway balance
type GatewayBalanceService interface {
	// RequestRefresh submits a balance query; the figures arrive on the balance result callback
	RequestRefresh(ctx context.Context, caller auth.Caller) (*mpesa.BalanceQuery, error)
	Latest(ctx context.Context, caller auth.Caller) (*gateway.BalanceSnapshot, error)
}
