package handler

import (
	"time"

	"github.com/salary-advance-lending/internal/domain/audit"
	"github.com/salary-advance-lending/internal/domain/gateway"
	"github.com/salary-advance-lending/internal/domain/loan"
	lending "github.com/salary-advance-lending/internal/lending/service"
	"github.com/salary-advance-lending/internal/platform/mpesa"
	reconciliation "github.com/salary-advance-lending/internal/reconciliation/service"
	"github.com/shopspring/decimal"
)

// ApplyLoanRequest represents a salary advance application
type ApplyLoanRequest struct {
	Amount       string `json:"amount" binding:"required"`
	DurationDays int    `json:"duration_days" binding:"min=0"`
}

// RejectLoanRequest represents a rejection decision
type RejectLoanRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// OrganizationPaymentRequest represents a bulk repayment made by an employer
type OrganizationPaymentRequest struct {
	Amount     string     `json:"amount" binding:"required"`
	Method     string     `json:"payment_method" binding:"required"`
	Reference  string     `json:"reference"`
	Remarks    string     `json:"remarks"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
}

// PaginationParams represents pagination parameters for list endpoints
type PaginationParams struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page,default=20" binding:"min=1,max=100"`
}

// ListLoansParams filters the loan listing
type ListLoansParams struct {
	PaginationParams
	OrganizationID *int64 `form:"organization_id" binding:"omitempty,min=1"`
	Status         string `form:"status"`
}

// LoanResponse represents a loan in API responses
type LoanResponse struct {
	ID                 string  `json:"id"`
	OrganizationID     int64   `json:"organization_id"`
	BorrowerID         string  `json:"borrower_id"`
	Amount             string  `json:"amount"`
	InterestRate       string  `json:"interest_rate"`
	InterestRegime     string  `json:"interest_regime"`
	TransactionFee     string  `json:"transaction_fee"`
	TotalRepayable     string  `json:"total_repayable"`
	RepaidAmount       string  `json:"repaid_amount"`
	Outstanding        string  `json:"outstanding"`
	DurationDays       int     `json:"duration_days"`
	DueDate            string  `json:"due_date"`
	Status             string  `json:"status"`
	ApprovalCount      int     `json:"approval_count"`
	GatewayStatus      string  `json:"gateway_status,omitempty"`
	MpesaTransactionID string  `json:"mpesa_transaction_id,omitempty"`
	DisbursedAt        *string `json:"disbursed_at,omitempty"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

// PayoutResponse represents one disbursement attempt
type PayoutResponse struct {
	ID                 string `json:"id"`
	Amount             string `json:"amount"`
	Method             string `json:"payment_method"`
	Status             string `json:"status"`
	MpesaTransactionID string `json:"mpesa_transaction_id,omitempty"`
	AmountRepaid       string `json:"amount_repaid"`
	FailureReason      string `json:"failure_reason,omitempty"`
	CreatedAt          string `json:"created_at"`
}

// DisbursementResponse reports the outcome of a disbursement attempt
type DisbursementResponse struct {
	Disbursed           bool            `json:"disbursed"`
	InsufficientBalance bool            `json:"insufficient_balance,omitempty"`
	Reason              string          `json:"reason,omitempty"`
	Payout              *PayoutResponse `json:"payout,omitempty"`
}

// ApplyLoanResponse represents the result of an application
type ApplyLoanResponse struct {
	Loan         LoanResponse          `json:"loan"`
	MonthlyCap   string                `json:"monthly_cap"`
	TakenSoFar   string                `json:"taken_so_far"`
	Disbursement *DisbursementResponse `json:"disbursement,omitempty"`
}

// ApprovalResponse represents the result of one approval step
type ApprovalResponse struct {
	Loan         LoanResponse          `json:"loan"`
	Final        bool                  `json:"final"`
	Disbursement *DisbursementResponse `json:"disbursement,omitempty"`
}

// LoanDetailsResponse represents a loan with its payout attempts
type LoanDetailsResponse struct {
	Loan    LoanResponse     `json:"loan"`
	Payouts []PayoutResponse `json:"payouts"`
}

// LoanListResponse represents a page of loans
type LoanListResponse struct {
	Loans []LoanResponse `json:"loans"`
}

// AllocationResponse is the amount applied to one payout
type AllocationResponse struct {
	LoanID   string `json:"loan_id"`
	PayoutID string `json:"payout_id"`
	Amount   string `json:"amount"`
	Settled  bool   `json:"settled"`
}

// OrganizationPaymentResponse summarizes how a bulk payment was applied
type OrganizationPaymentResponse struct {
	BatchID     string               `json:"batch_id"`
	Amount      string               `json:"amount"`
	Allocated   string               `json:"allocated"`
	Surplus     string               `json:"surplus"`
	Outstanding string               `json:"outstanding"`
	Allocations []AllocationResponse `json:"allocations"`
}

// AuditEventResponse represents one audit trail entry
type AuditEventResponse struct {
	ID            string      `json:"id"`
	Kind          string      `json:"kind"`
	ActorID       string      `json:"actor_id,omitempty"`
	Details       interface{} `json:"details"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	OccurredAt    string      `json:"occurred_at"`
}

// AuditEventListResponse represents a page of audit events
type AuditEventListResponse struct {
	Events []AuditEventResponse `json:"events"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func mapLoanToResponse(l *loan.Loan) LoanResponse {
	resp := LoanResponse{
		ID:                 l.ID.String(),
		OrganizationID:     l.OrganizationID,
		BorrowerID:         l.BorrowerID.String(),
		Amount:             money(l.Amount),
		InterestRate:       l.InterestRate.String(),
		InterestRegime:     string(l.InterestRegime),
		TransactionFee:     money(l.TransactionFee),
		TotalRepayable:     money(l.TotalRepayable),
		RepaidAmount:       money(l.RepaidAmount),
		Outstanding:        money(l.Outstanding()),
		DurationDays:       l.DurationDays,
		DueDate:            l.DueDate.Format(time.RFC3339),
		Status:             string(l.Status),
		ApprovalCount:      l.ApprovalCount,
		GatewayStatus:      string(l.GatewayStatus),
		MpesaTransactionID: l.MpesaTransactionID,
		CreatedAt:          l.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          l.UpdatedAt.Format(time.RFC3339),
	}
	if l.DisbursedAt != nil {
		disbursedAt := l.DisbursedAt.Format(time.RFC3339)
		resp.DisbursedAt = &disbursedAt
	}
	return resp
}

func mapPayoutToResponse(p *loan.Payout) PayoutResponse {
	return PayoutResponse{
		ID:                 p.ID.String(),
		Amount:             money(p.Amount),
		Method:             string(p.Method),
		Status:             string(p.Status),
		MpesaTransactionID: p.MpesaTransactionID,
		AmountRepaid:       money(p.AmountRepaid),
		FailureReason:      p.FailureReason,
		CreatedAt:          p.CreatedAt.Format(time.RFC3339),
	}
}

func mapDisbursementToResponse(outcome *lending.DisbursementOutcome) *DisbursementResponse {
	if outcome == nil {
		return nil
	}
	resp := &DisbursementResponse{
		Disbursed:           outcome.Disbursed,
		InsufficientBalance: outcome.InsufficientBalance,
		Reason:              outcome.Reason,
	}
	if outcome.Payout != nil {
		payout := mapPayoutToResponse(outcome.Payout)
		resp.Payout = &payout
	}
	return resp
}

func mapAllocationToResponse(result *reconciliation.AllocationResult) OrganizationPaymentResponse {
	resp := OrganizationPaymentResponse{
		BatchID:     result.Batch.ID.String(),
		Amount:      money(result.Batch.TotalAmount),
		Allocated:   money(result.Plan.Allocated),
		Surplus:     money(result.Plan.Remaining),
		Outstanding: money(result.Outstanding),
		Allocations: make([]AllocationResponse, 0, len(result.Plan.Allocations)),
	}
	for _, a := range result.Plan.Allocations {
		resp.Allocations = append(resp.Allocations, AllocationResponse{
			LoanID:   a.LoanID.String(),
			PayoutID: a.PayoutID.String(),
			Amount:   money(a.Amount),
			Settled:  a.LoanSettled,
		})
	}
	return resp
}

func mapAuditEventToResponse(e *audit.Event) AuditEventResponse {
	resp := AuditEventResponse{
		ID:            e.ID.String(),
		Kind:          string(e.Kind),
		Details:       e.Details,
		CorrelationID: e.CorrelationID,
		OccurredAt:    e.OccurredAt.Format(time.RFC3339),
	}
	if e.ActorID != nil {
		resp.ActorID = e.ActorID.String()
	}
	return resp
}

// BalanceQueryResponse acknowledges a submitted balance query
type BalanceQueryResponse struct {
	ConversationID           string `json:"conversation_id"`
	OriginatorConversationID string `json:"originator_conversation_id"`
}

// BalanceSnapshotResponse is the last balance the gateway reported
type BalanceSnapshotResponse struct {
	WorkingAvailable *string `json:"working_available,omitempty"`
	UtilityAvailable *string `json:"utility_available,omitempty"`
	TakenAt          string  `json:"taken_at"`
}

func mapBalanceQueryToResponse(q *mpesa.BalanceQuery) BalanceQueryResponse {
	return BalanceQueryResponse{
		ConversationID:           q.ConversationID,
		OriginatorConversationID: q.OriginatorConversationID,
	}
}

func mapSnapshotToResponse(s *gateway.BalanceSnapshot) BalanceSnapshotResponse {
	resp := BalanceSnapshotResponse{TakenAt: s.TakenAt.Format(time.RFC3339)}
	if s.WorkingAvailable.Valid {
		v := money(s.WorkingAvailable.Decimal)
		resp.WorkingAvailable = &v
	}
	if s.UtilityAvailable.Valid {
		v := money(s.UtilityAvailable.Decimal)
		resp.UtilityAvailable = &v
	}
	return resp
}
