package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanApplied struct {
	Amount         decimal.Decimal `json:"amount"`
	InterestRate   decimal.Decimal `json:"interest_rate"`
	InterestRegime string          `json:"interest_regime"`
	TransactionFee decimal.Decimal `json:"transaction_fee"`
	TotalRepayable decimal.Decimal `json:"total_repayable"`
	DurationDays   int             `json:"duration_days"`
	DueDate        time.Time       `json:"due_date"`
	MonthlyCap     decimal.Decimal `json:"monthly_cap"`
	TakenSoFar     decimal.Decimal `json:"taken_so_far"`
	AutoApproved   bool            `json:"auto_approved"`
}

func (LoanApplied) Kind() Kind { return KindLoanApplied }

type LoanApproved struct {
	ApprovalCount int  `json:"approval_count"`
	RequiredSteps int  `json:"required_steps"`
	Final         bool `json:"final"`
}

func (LoanApproved) Kind() Kind { return KindLoanApproved }

// LoanRejected captures the borrower's cap headroom once the rejected amount is released
type LoanRejected struct {
	Reason     string          `json:"reason,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	MonthlyCap decimal.Decimal `json:"monthly_cap"`
	TakenSoFar decimal.Decimal `json:"taken_so_far"`
	Headroom   decimal.Decimal `json:"headroom"`
}

func (LoanRejected) Kind() Kind { return KindLoanRejected }

type DisbursementInitiated struct {
	PayoutID       uuid.UUID       `json:"payout_id"`
	ConversationID string          `json:"conversation_id"`
	Amount         decimal.Decimal `json:"amount"`
	Phone          string          `json:"phone"`
	Manual         bool            `json:"manual"`
}

func (DisbursementInitiated) Kind() Kind { return KindDisbursementInitiated }

type Disbursed struct {
	PayoutID              uuid.UUID       `json:"payout_id"`
	ConversationID        string          `json:"conversation_id"`
	GatewayConversationID string          `json:"gateway_conversation_id,omitempty"`
	ResponseDescription   string          `json:"response_description,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
}

func (Disbursed) Kind() Kind { return KindDisbursed }

type DisbursementFailed struct {
	PayoutID            uuid.UUID        `json:"payout_id"`
	ConversationID      string           `json:"conversation_id,omitempty"`
	Reason              string           `json:"reason"`
	InsufficientBalance bool             `json:"insufficient_balance"`
	AvailableBalance    *decimal.Decimal `json:"available_balance,omitempty"`
}

func (DisbursementFailed) Kind() Kind { return KindDisbursementFailed }

// GatewayResult keeps the raw result parameters for reconciliation traceability
type GatewayResult struct {
	PayoutID                 *uuid.UUID        `json:"payout_id,omitempty"`
	Superseded               bool              `json:"superseded,omitempty"` // result of an attempt that is no longer the loan's latest
	Success                  bool              `json:"success"`
	ResultCode               int               `json:"result_code"`
	ResultDesc               string            `json:"result_desc"`
	ConversationID           string            `json:"conversation_id,omitempty"`
	OriginatorConversationID string            `json:"originator_conversation_id,omitempty"`
	TransactionID            string            `json:"transaction_id,omitempty"`
	TransactionAmount        string            `json:"transaction_amount,omitempty"`
	ReceiptNumber            string            `json:"receipt_number,omitempty"`
	ReceiverName             string            `json:"receiver_name,omitempty"`
	CompletedAt              string            `json:"completed_at,omitempty"`
	Parameters               map[string]string `json:"parameters,omitempty"`
}

func (GatewayResult) Kind() Kind { return KindGatewayResult }

type GatewayTimeout struct {
	ConversationID           string `json:"conversation_id,omitempty"`
	OriginatorConversationID string `json:"originator_conversation_id,omitempty"`
	ResultDesc               string `json:"result_desc,omitempty"`
}

func (GatewayTimeout) Kind() Kind { return KindGatewayTimeout }

type AllocationLine struct {
	PayoutID uuid.UUID       `json:"payout_id"`
	LoanID   uuid.UUID       `json:"loan_id"`
	Amount   decimal.Decimal `json:"amount"`
	Settled  bool            `json:"settled"`
}

type RepaymentAllocated struct {
	BatchID        uuid.UUID        `json:"batch_id"`
	OrganizationID int64            `json:"organization_id"`
	ExternalRef    string           `json:"external_reference"`
	Amount         decimal.Decimal  `json:"amount"`
	Allocated      decimal.Decimal  `json:"allocated"`
	Surplus        decimal.Decimal  `json:"surplus"`
	Allocations    []AllocationLine `json:"allocations"`
}

func (RepaymentAllocated) Kind() Kind { return KindRepaymentAllocated }

type OrganizationPaymentRecorded struct {
	RepaymentAllocated
	Method string `json:"method"`
}

func (OrganizationPaymentRecorded) Kind() Kind { return KindOrganizationPaymentRecorded }
