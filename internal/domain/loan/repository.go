package loan

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Filter narrows loan listings. TenantID is always required.
type Filter struct {
	TenantID       uuid.UUID
	OrganizationID *int64
	BorrowerID     *uuid.UUID
	Status         *Status
}

// Repository defines loan persistence operations
type Repository interface {
	Create(ctx context.Context, loan *Loan) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Loan, error)
	Update(ctx context.Context, loan *Loan) error

	// LockForUpdate acquires a row lock for a state transition
	LockForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Loan, error)

	// LockByGatewayReference locks the loan whose conversation id or gateway transaction id equals reference
	LockByGatewayReference(ctx context.Context, tenantID uuid.UUID, reference string) (*Loan, error)

	// SumCapExposure totals the amounts of the borrower's non-rejected loans created in [from, to)
	SumCapExposure(ctx context.Context, tenantID, borrowerID uuid.UUID, from, to time.Time) (decimal.Decimal, error)

	List(ctx context.Context, filter Filter, limit, offset int) ([]*Loan, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	WithTx(tx pgx.Tx) Repository
}

// PayoutRepository defines payout persistence operations
type PayoutRepository interface {
	Create(ctx context.Context, payout *Payout) error
	Update(ctx context.Context, payout *Payout) error
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Payout, error)

	// LockLatestByLoanID locks the most recent payout attempt of a loan
	LockLatestByLoanID(ctx context.Context, loanID uuid.UUID) (*Payout, error)

	// FindByGatewayReference returns the newest payout whose conversation id or gateway transaction id equals reference.
	// It does not lock; lock the parent loan first, then the payout.
	FindByGatewayReference(ctx context.Context, tenantID uuid.UUID, reference string) (*Payout, error)

	// LockRepayable locks DISBURSED and PPAID payouts of repayable loans owned by the borrowers, oldest first
	LockRepayable(ctx context.Context, tenantID uuid.UUID, borrowerIDs []uuid.UUID) ([]*Payout, error)

	ListByLoanID(ctx context.Context, loanID uuid.UUID) ([]*Payout, error)
	WithTx(tx pgx.Tx) PayoutRepository
}

// ErrLoanNotFound indicates missing loan
type ErrLoanNotFound struct {
	LoanID uuid.UUID
}

func (e ErrLoanNotFound) Error() string {
	return "loan not found: " + e.LoanID.String()
}

// Is implements the errors.Is interface for ErrLoanNotFound
func (e ErrLoanNotFound) Is(target error) bool {
	t, ok := target.(ErrLoanNotFound)
	if !ok {
		return false
	}
	if t.LoanID == uuid.Nil {
		return true
	}
	return e.LoanID == t.LoanID
}

// ErrGatewayReferenceNotFound indicates a callback that matches no loan
type ErrGatewayReferenceNotFound struct {
	Reference string
}

func (e ErrGatewayReferenceNotFound) Error() string {
	return "no loan matches gateway reference: " + e.Reference
}

func (e ErrGatewayReferenceNotFound) Is(target error) bool {
	t, ok := target.(ErrGatewayReferenceNotFound)
	if !ok {
		return false
	}
	return t.Reference == "" || t.Reference == e.Reference
}

// ErrPayoutNotFound indicates missing payout
type ErrPayoutNotFound struct {
	PayoutID uuid.UUID
	LoanID   uuid.UUID
}

func (e ErrPayoutNotFound) Error() string {
	if e.PayoutID == uuid.Nil {
		return "no payout found for loan: " + e.LoanID.String()
	}
	return "payout not found: " + e.PayoutID.String()
}

func (e ErrPayoutNotFound) Is(target error) bool {
	_, ok := target.(ErrPayoutNotFound)
	return ok
}

// ErrDuplicateConversationID indicates an idempotency token collision
type ErrDuplicateConversationID struct {
	ConversationID string
}

func (e ErrDuplicateConversationID) Error() string {
	return "conversation id already in use: " + e.ConversationID
}
