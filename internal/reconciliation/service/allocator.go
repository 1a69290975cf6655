package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/salary-advance-lending/internal/domain/audit"
	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/salary-advance-lending/internal/domain/organization"
	"github.com/salary-advance-lending/internal/domain/repayment"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// AllocationRequest is one payment to spread across the borrowers' open payouts
type AllocationRequest struct {
	TenantID       uuid.UUID
	OrganizationID int64
	BorrowerIDs    []uuid.UUID
	Amount         decimal.Decimal
	Method         shared.PaymentMethod
	ExternalRef    string
	Remarks        string
	ReceivedAt     time.Time
}

// AllocationResult describes what one payment settled
type AllocationResult struct {
	Batch *repayment.Batch
	Plan  repayment.Plan
	Loans []*loan.Loan // loans touched by the plan, in allocation order

	// Outstanding is what the payers still owe on their repayable loans after this payment
	Outstanding decimal.Decimal
}

// Lines converts the plan into audit allocation lines
func (r *AllocationResult) Lines() []audit.AllocationLine {
	lines := make([]audit.AllocationLine, 0, len(r.Plan.Allocations))
	for _, a := range r.Plan.Allocations {
		lines = append(lines, audit.AllocationLine{
			PayoutID: a.PayoutID,
			LoanID:   a.LoanID,
			Amount:   a.Amount,
			Settled:  a.LoanSettled,
		})
	}
	return lines
}

// Details is the REPAYMENT_ALLOCATED audit body for the whole payment
func (r *AllocationResult) Details() audit.RepaymentAllocated {
	return audit.RepaymentAllocated{
		BatchID:        r.Batch.ID,
		OrganizationID: r.Batch.OrganizationID,
		ExternalRef:    r.Batch.ExternalRef,
		Amount:         r.Batch.TotalAmount,
		Allocated:      r.Plan.Allocated,
		Surplus:        r.Plan.Remaining,
		Allocations:    r.Lines(),
	}
}

// Allocator is the allocation core shared by C2B reconciliation and manual organization payments
type Allocator struct {
	loans      loan.Repository
	payouts    loan.PayoutRepository
	repayments repayment.Repository
	orgs       organization.Repository
	now        Clock
}

func NewAllocator(loans loan.Repository, payouts loan.PayoutRepository, repayments repayment.Repository, orgs organization.Repository) *Allocator {
	return &Allocator{
		loans:      loans,
		payouts:    payouts,
		repayments: repayments,
		orgs:       orgs,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Allocate must run inside tx. It locks the candidate payouts and their loans, records one batch with a
// confirmation per credited payout, and credits any surplus to the organization.
func (a *Allocator) Allocate(ctx context.Context, tx pgx.Tx, req AllocationRequest) (*AllocationResult, error) {
	if !req.Amount.IsPositive() {
		return nil, shared.NewValidationError("amount must be greater than zero")
	}

	loans := a.loans.WithTx(tx)
	payouts := a.payouts.WithTx(tx)
	repayments := a.repayments.WithTx(tx)

	var candidatePayouts []*loan.Payout
	if len(req.BorrowerIDs) > 0 {
		var err error
		candidatePayouts, err = payouts.LockRepayable(ctx, req.TenantID, req.BorrowerIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to lock repayable payouts: %w", err)
		}
	}

	locked := make(map[uuid.UUID]*loan.Loan)
	payoutsByID := make(map[uuid.UUID]*loan.Payout, len(candidatePayouts))
	candidates := make([]repayment.Candidate, 0, len(candidatePayouts))
	for _, p := range candidatePayouts {
		l, ok := locked[p.LoanID]
		if !ok {
			var err error
			l, err = loans.LockForUpdate(ctx, req.TenantID, p.LoanID)
			if err != nil {
				return nil, fmt.Errorf("failed to lock loan %s: %w", p.LoanID, err)
			}
			locked[p.LoanID] = l
		}
		if !l.Repayable() {
			continue
		}
		payoutsByID[p.ID] = p
		candidates = append(candidates, repayment.Candidate{Payout: p, Loan: l})
	}

	plan := repayment.PlanAllocation(candidates, req.Amount)

	now := a.now()
	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}
	batch := repayment.NewBatch(req.TenantID, req.OrganizationID, req.Amount, req.Method, req.ExternalRef, req.Remarks, receivedAt)
	if err := repayments.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create payment batch: %w", err)
	}

	result := &AllocationResult{Batch: batch, Plan: plan}
	touched := make(map[uuid.UUID]struct{})
	for _, alloc := range plan.Allocations {
		if _, err := repayments.UpsertConfirmation(ctx, batch.ID, alloc.PayoutID, alloc.Amount, now); err != nil {
			return nil, fmt.Errorf("failed to record confirmation for payout %s: %w", alloc.PayoutID, err)
		}

		p := payoutsByID[alloc.PayoutID]
		p.ApplyRepayment(alloc.Amount, alloc.LoanSettled, now)
		if err := payouts.Update(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to update payout %s: %w", p.ID, err)
		}

		l := locked[alloc.LoanID]
		l.ApplyRepayment(alloc.Amount, now)
		if err := loans.Update(ctx, l); err != nil {
			return nil, fmt.Errorf("failed to update loan %s: %w", l.ID, err)
		}
		if _, seen := touched[l.ID]; !seen {
			touched[l.ID] = struct{}{}
			result.Loans = append(result.Loans, l)
		}
	}

	result.Outstanding = decimal.Zero
	for _, l := range locked {
		if l.Repayable() {
			result.Outstanding = result.Outstanding.Add(l.Outstanding())
		}
	}

	if plan.Remaining.IsPositive() {
		if err := a.orgs.WithTx(tx).AddCredit(ctx, req.TenantID, req.OrganizationID, plan.Remaining); err != nil {
			return nil, fmt.Errorf("failed to credit surplus to organization %d: %w", req.OrganizationID, err)
		}
	}

	return result, nil
}
