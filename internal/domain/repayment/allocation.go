package repayment

import (
	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/shopspring/decimal"
)

// Candidate pairs a repayable payout with its parent loan
type Candidate struct {
	Payout *loan.Payout
	Loan   *loan.Loan
}

// Allocation is the share of a payment applied to one payout
type Allocation struct {
	PayoutID      uuid.UUID
	LoanID        uuid.UUID
	Amount        decimal.Decimal
	LoanSettled   bool // loan fully repaid after this allocation
	LoanRemaining decimal.Decimal
}

// Plan is the full waterfall for one payment
type Plan struct {
	Allocations []Allocation
	Allocated   decimal.Decimal
	Remaining   decimal.Decimal // surplus to credit to the organization
}

// PlanAllocation spreads amount across candidates in order, oldest first as given.
// Each payout is credited at most once and no loan receives more than it still owes.
// Candidates are not mutated.
func PlanAllocation(candidates []Candidate, amount decimal.Decimal) Plan {
	plan := Plan{Allocated: decimal.Zero, Remaining: amount}
	if !amount.IsPositive() {
		plan.Remaining = decimal.Zero
		return plan
	}

	repaid := make(map[uuid.UUID]decimal.Decimal)
	touched := make(map[uuid.UUID]struct{})

	for _, c := range candidates {
		if !plan.Remaining.IsPositive() {
			break
		}
		if c.Payout == nil || c.Loan == nil {
			continue
		}
		if _, seen := touched[c.Payout.ID]; seen {
			continue
		}

		alreadyRepaid, ok := repaid[c.Loan.ID]
		if !ok {
			alreadyRepaid = c.Loan.RepaidAmount
		}
		outstanding := c.Loan.TotalRepayable.Sub(alreadyRepaid)
		if !outstanding.IsPositive() {
			continue
		}

		pay := decimal.Min(outstanding, plan.Remaining)
		repaid[c.Loan.ID] = alreadyRepaid.Add(pay)
		touched[c.Payout.ID] = struct{}{}
		plan.Remaining = plan.Remaining.Sub(pay)
		plan.Allocated = plan.Allocated.Add(pay)

		left := outstanding.Sub(pay)
		plan.Allocations = append(plan.Allocations, Allocation{
			PayoutID:      c.Payout.ID,
			LoanID:        c.Loan.ID,
			Amount:        pay,
			LoanSettled:   !left.IsPositive(),
			LoanRemaining: left,
		})
	}

	return plan
}
