package loan

import (
	"time"

	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// PayoutStatus is the state of a single disbursement attempt
type PayoutStatus string

const (
	PayoutStatusPending       PayoutStatus = "PENDING"
	PayoutStatusDisbursed     PayoutStatus = "DISBURSED"
	PayoutStatusFailed        PayoutStatus = "FAILED"
	PayoutStatusPartiallyPaid PayoutStatus = "PPAID"
	PayoutStatusRepaid        PayoutStatus = "REPAID"
)

// Payout records one attempt to send loan funds to the borrower
type Payout struct {
	ID                 uuid.UUID            `json:"id"`
	LoanID             uuid.UUID            `json:"loan_id"`
	TenantID           uuid.UUID            `json:"tenant_id"`
	Amount             decimal.Decimal      `json:"amount"`
	Method             shared.PaymentMethod `json:"method"`
	Status             PayoutStatus         `json:"status"`
	ApproverID         *uuid.UUID           `json:"approver_id,omitempty"` // nil for auto-approval
	MpesaTransactionID string               `json:"mpesa_transaction_id,omitempty"`
	ConversationID     string               `json:"conversation_id,omitempty"`
	AmountRepaid       decimal.Decimal      `json:"amount_repaid"`
	FailureReason      string               `json:"failure_reason,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

func NewPayout(l *Loan, approverID *uuid.UUID, now time.Time) *Payout {
	return &Payout{
		ID:           uuid.New(),
		LoanID:       l.ID,
		TenantID:     l.TenantID,
		Amount:       l.Amount,
		Method:       shared.PaymentMethodMobileMoney,
		Status:       PayoutStatusPending,
		ApproverID:   approverID,
		AmountRepaid: decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (p *Payout) MarkDisbursed(gatewayTransactionID string, now time.Time) {
	p.Status = PayoutStatusDisbursed
	if gatewayTransactionID != "" {
		p.MpesaTransactionID = gatewayTransactionID
	}
	p.FailureReason = ""
	p.UpdatedAt = now
}

func (p *Payout) MarkFailed(reason string, now time.Time) {
	p.Status = PayoutStatusFailed
	p.FailureReason = reason
	p.UpdatedAt = now
}

// ApplyRepayment credits the payout. fullySettled is decided by the parent loan's balance.
func (p *Payout) ApplyRepayment(amount decimal.Decimal, fullySettled bool, now time.Time) {
	p.AmountRepaid = p.AmountRepaid.Add(amount)
	if fullySettled {
		p.Status = PayoutStatusRepaid
	} else {
		p.Status = PayoutStatusPartiallyPaid
	}
	p.UpdatedAt = now
}
