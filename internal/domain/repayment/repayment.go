package repayment

import (
	"time"

	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Batch is one incoming settlement event split across payouts
type Batch struct {
	ID             uuid.UUID            `json:"id"`
	TenantID       uuid.UUID            `json:"tenant_id"`
	OrganizationID int64                `json:"organization_id"`
	TotalAmount    decimal.Decimal      `json:"total_amount"`
	Method         shared.PaymentMethod `json:"payment_method"`
	ExternalRef    string               `json:"external_reference"`
	Remarks        string               `json:"remarks,omitempty"`
	ReceivedAt     time.Time            `json:"received_at"`
}

func NewBatch(tenantID uuid.UUID, organizationID int64, total decimal.Decimal, method shared.PaymentMethod, externalRef, remarks string, receivedAt time.Time) *Batch {
	return &Batch{
		ID:             uuid.New(),
		TenantID:       tenantID,
		OrganizationID: organizationID,
		TotalAmount:    total,
		Method:         method,
		ExternalRef:    externalRef,
		Remarks:        remarks,
		ReceivedAt:     receivedAt,
	}
}

// Confirmation is the part of a batch settled against one payout
type Confirmation struct {
	ID             uuid.UUID       `json:"id"`
	PaymentBatchID uuid.UUID       `json:"payment_batch_id"`
	LoanPayoutID   uuid.UUID       `json:"loan_payout_id"`
	AmountSettled  decimal.Decimal `json:"amount_settled"`
	SettledAt      time.Time       `json:"settled_at"`
}

// ExternalTransaction is an unattributed incoming mobile-money payment
type ExternalTransaction struct {
	ID          int64           `json:"id"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	TransID     string          `json:"trans_id"`
	TransTime   string          `json:"trans_time"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"bill_ref_number"`
	MSISDN      string          `json:"msisdn"`
	FirstName   string          `json:"first_name"`
	Processed   bool            `json:"processed"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
}
