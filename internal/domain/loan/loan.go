package loan

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the workflow state of a loan
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusApproved      Status = "APPROVED"
	StatusDisbursed     Status = "DISBURSED"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusRepaid        Status = "REPAID"
	StatusRejected      Status = "REJECTED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDisbursed, StatusPartiallyPaid, StatusRepaid, StatusRejected:
		return true
	}
	return false
}

// GatewayStatus tracks the payment gateway's view of the latest disbursement attempt
type GatewayStatus string

const (
	GatewayStatusNone      GatewayStatus = ""
	GatewayStatusSubmitted GatewayStatus = "SUBMITTED"
	GatewayStatusSuccess   GatewayStatus = "SUCCESS"
	GatewayStatusFailed    GatewayStatus = "FAILED"
	GatewayStatusTimeout   GatewayStatus = "TIMEOUT"
	GatewayStatusError     GatewayStatus = "ERROR"
)

// Terminal reports whether a gateway result has already been recorded.
func (s GatewayStatus) Terminal() bool {
	return s == GatewayStatusSuccess || s == GatewayStatusFailed
}

var (
	ErrNotPending        = errors.New("loan is not pending")
	ErrDuplicateApproval = errors.New("approver has already approved this loan")
	ErrNotDisbursable    = errors.New("loan is not in a disbursable state")
	ErrAlreadyDisbursed  = errors.New("loan has already been disbursed")
	ErrResultOutstanding = errors.New("gateway result of the previous attempt is outstanding")
)

// Loan is a single salary advance
type Loan struct {
	ID             uuid.UUID `json:"id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	OrganizationID int64     `json:"organization_id"`
	BorrowerID     uuid.UUID `json:"borrower_id"`

	Amount         decimal.Decimal `json:"amount"`
	InterestRate   decimal.Decimal `json:"interest_rate"` // Applied rate as a fraction
	InterestRegime InterestRegime  `json:"interest_regime"`
	TransactionFee decimal.Decimal `json:"transaction_fee"`
	TotalRepayable decimal.Decimal `json:"total_repayable"`
	DueDate        time.Time       `json:"due_date"`
	DurationDays   int             `json:"duration_days"`

	Status           Status     `json:"status"`
	ApprovalCount    int        `json:"approval_count"`
	FirstApproverID  *uuid.UUID `json:"first_approver_id,omitempty"`
	SecondApproverID *uuid.UUID `json:"second_approver_id,omitempty"`
	ThirdApproverID  *uuid.UUID `json:"third_approver_id,omitempty"`

	DisbursedAt        *time.Time      `json:"disbursed_at,omitempty"`
	MpesaTransactionID string          `json:"mpesa_transaction_id,omitempty"`
	GatewayStatus      GatewayStatus   `json:"gateway_status,omitempty"`
	ConversationID     string          `json:"conversation_id,omitempty"`
	RepaidAmount       decimal.Decimal `json:"repaid_amount"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewLoan builds a loan from computed terms. Zero-step organizations start APPROVED.
func NewLoan(tenantID uuid.UUID, organizationID int64, borrowerID uuid.UUID, amount decimal.Decimal, terms Terms, fee decimal.Decimal, approvalSteps int, now time.Time) *Loan {
	status := StatusPending
	if approvalSteps == 0 {
		status = StatusApproved
	}
	return &Loan{
		ID:             uuid.New(),
		TenantID:       tenantID,
		OrganizationID: organizationID,
		BorrowerID:     borrowerID,
		Amount:         amount,
		InterestRate:   terms.AppliedRate,
		InterestRegime: terms.Regime,
		TransactionFee: fee,
		TotalRepayable: terms.TotalRepayable,
		DueDate:        terms.DueDate,
		DurationDays:   terms.DurationDays,
		Status:         status,
		RepaidAmount:   decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// RecordApproval registers one approval step and reports whether the loan is now APPROVED.
// Two-step organizations require distinct approvers.
func (l *Loan) RecordApproval(approverID uuid.UUID, approvalSteps int, now time.Time) (bool, error) {
	if l.Status != StatusPending {
		return false, ErrNotPending
	}
	if approvalSteps > 1 && l.HasApproved(approverID) {
		return false, ErrDuplicateApproval
	}

	l.ApprovalCount++
	id := approverID
	switch l.ApprovalCount {
	case 1:
		l.FirstApproverID = &id
	case 2:
		l.SecondApproverID = &id
	default:
		l.ThirdApproverID = &id
	}
	l.UpdatedAt = now

	required := approvalSteps
	if required < 1 {
		required = 1
	}
	if l.ApprovalCount >= required {
		l.Status = StatusApproved
		return true, nil
	}
	return false, nil
}

// HasApproved reports whether the approver already holds an approval slot.
func (l *Loan) HasApproved(approverID uuid.UUID) bool {
	for _, id := range []*uuid.UUID{l.FirstApproverID, l.SecondApproverID, l.ThirdApproverID} {
		if id != nil && *id == approverID {
			return true
		}
	}
	return false
}

// Reject moves a pending loan to the terminal REJECTED state.
func (l *Loan) Reject(now time.Time) error {
	if l.Status != StatusPending {
		return ErrNotPending
	}
	l.Status = StatusRejected
	l.UpdatedAt = now
	return nil
}

// CheckDisbursable verifies the loan may start a new disbursement attempt.
func (l *Loan) CheckDisbursable() error {
	if l.DisbursedAt != nil {
		return ErrAlreadyDisbursed
	}
	if l.Status != StatusApproved {
		return ErrNotDisbursable
	}
	if l.GatewayStatus == GatewayStatusSubmitted {
		return ErrNotDisbursable
	}
	// A timed out attempt may still be paid out; its result callback decides
	if l.GatewayStatus == GatewayStatusTimeout {
		return ErrResultOutstanding
	}
	return nil
}

// MarkDisbursed records an accepted disbursement. disbursedAt is only ever set once.
func (l *Loan) MarkDisbursed(gatewayTransactionID string, now time.Time) {
	if l.Status == StatusApproved {
		l.Status = StatusDisbursed
	}
	if l.DisbursedAt == nil {
		at := now
		l.DisbursedAt = &at
	}
	if gatewayTransactionID != "" {
		l.MpesaTransactionID = gatewayTransactionID
	}
	l.UpdatedAt = now
}

// RevertDisbursement returns a loan whose payout failed after the fact to APPROVED so it can be retried.
// Loans that already received repayments are left untouched.
func (l *Loan) RevertDisbursement(now time.Time) {
	if l.Status != StatusDisbursed {
		return
	}
	l.Status = StatusApproved
	l.DisbursedAt = nil
	l.UpdatedAt = now
}

// Outstanding is the amount still owed on the loan, never negative.
func (l *Loan) Outstanding() decimal.Decimal {
	remaining := l.TotalRepayable.Sub(l.RepaidAmount)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// Repayable reports whether the loan can receive repayments.
func (l *Loan) Repayable() bool {
	return l.Status == StatusDisbursed || l.Status == StatusPartiallyPaid
}

// ApplyRepayment adds a settled amount and moves the loan to PARTIALLY_PAID or REPAID.
func (l *Loan) ApplyRepayment(amount decimal.Decimal, now time.Time) {
	l.RepaidAmount = l.RepaidAmount.Add(amount)
	if l.RepaidAmount.GreaterThanOrEqual(l.TotalRepayable) {
		l.Status = StatusRepaid
	} else {
		l.Status = StatusPartiallyPaid
	}
	l.UpdatedAt = now
}

// CountsTowardsCap reports whether the loan consumes the borrower's monthly cap.
// Disbursed and repaid loans keep counting for the month they were created in.
func (l *Loan) CountsTowardsCap() bool {
	return l.Status != StatusRejected
}
