package loan

import (
	"time"

	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// InterestRegime selects how interest accrues on a loan
type InterestRegime string

const (
	RegimeMonthly InterestRegime = "MONTHLY"
	RegimeDaily   InterestRegime = "DAILY"
)

// DefaultDurationDays is used when an application does not ask for a term
const DefaultDurationDays = 30

// RateInputs carries the organization's interest policy
type RateInputs struct {
	Regime        InterestRegime
	MonthlyRate   decimal.Decimal // Flat rate for the whole term, as a fraction
	DailyRate     decimal.Decimal
	BaseRateFloor decimal.Decimal // Minimum effective rate under the daily regime
}

// Terms is the result of pricing a loan
type Terms struct {
	Regime         InterestRegime
	AppliedRate    decimal.Decimal
	TotalRepayable decimal.Decimal
	DueDate        time.Time
	DurationDays   int
}

// ComputeTerms prices an advance. It has no side effects.
func ComputeTerms(amount decimal.Decimal, rates RateInputs, durationDays int, now time.Time) (Terms, error) {
	if !amount.IsPositive() {
		return Terms{}, shared.NewValidationError("amount must be greater than zero")
	}
	if durationDays <= 0 {
		durationDays = DefaultDurationDays
	}

	var applied decimal.Decimal
	switch rates.Regime {
	case RegimeMonthly:
		if !rates.MonthlyRate.IsPositive() {
			return Terms{}, shared.NewValidationError("monthly interest rate must be greater than zero")
		}
		applied = rates.MonthlyRate
	case RegimeDaily:
		if !rates.DailyRate.IsPositive() {
			return Terms{}, shared.NewValidationError("daily interest rate must be greater than zero")
		}
		applied = rates.DailyRate.Mul(decimal.NewFromInt(int64(durationDays)))
		if applied.LessThan(rates.BaseRateFloor) {
			applied = rates.BaseRateFloor
		}
	default:
		return Terms{}, shared.NewValidationError("unknown interest regime %q", rates.Regime)
	}

	total := amount.Mul(decimal.NewFromInt(1).Add(applied)).Round(2)

	return Terms{
		Regime:         rates.Regime,
		AppliedRate:    applied,
		TotalRepayable: total,
		DueDate:        now.AddDate(0, 0, durationDays),
		DurationDays:   durationDays,
	}, nil
}
