package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/salary-advance-lending/internal/domain/audit"
	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/salary-advance-lending/internal/platform/mpesa"
	"github.com/shopspring/decimal"
)

// AuditRecorder writes an audit event inside the caller's transaction
type AuditRecorder interface {
	Record(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, loanID, actorID *uuid.UUID, details audit.Details) error
}

// NotificationDispatcher queues a best-effort SMS; it never blocks or fails the caller
type NotificationDispatcher interface {
	Notify(tenantID uuid.UUID, phone, message string)
}

// RecipientDirectory resolves who is told about loan events
type RecipientDirectory interface {
	// BorrowerPhone returns the borrower's phone, or "" when the user cannot be found
	BorrowerPhone(ctx context.Context, tenantID, userID uuid.UUID) string

	// AdminPhones returns active ORG_ADMIN phones of the organization, falling back to tenant ADMINs
	AdminPhones(ctx context.Context, tenantID uuid.UUID, organizationID int64) []string
}

// PaymentGateway sends B2C disbursements. Failures are reported in the result, never as a Go error.
type PaymentGateway interface {
	Disburse(ctx context.Context, req mpesa.DisburseRequest, creds mpesa.Credentials) mpesa.DisburseResult
}

// FeeResolver prices the transaction fee of a loan amount
type FeeResolver interface {
	ResolveFee(ctx context.Context, amount decimal.Decimal, tenantID uuid.UUID) (decimal.Decimal, error)
}

// Disburser is the orchestrator entry point the lifecycle engine hands approved loans to
type Disburser interface {
	DisburseOnApproval(ctx context.Context, l *loan.Loan, approverID *uuid.UUID) (*DisbursementOutcome, error)
}

// Clock returns the current time
type Clock func() time.Time

// BalanceQuerier asks the gateway for the tenant's account balance; the figures arrive later on the balance callback
type BalanceQuerier interface {
	QueryAccountBalance(ctx context.Context, tenantID uuid.UUID, creds mpesa.Credentials) (*mpesa.BalanceQuery, error)
}
