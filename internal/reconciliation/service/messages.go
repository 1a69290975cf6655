package service

import (
	"errors"
	"fmt"

	"github.com/salary-advance-lending/internal/domain/organization"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/shopspring/decimal"
)

func money(currency string, amount decimal.Decimal) string {
	return currency + " " + amount.StringFixed(2)
}

func borrowerRepaymentMessage(currency string, paid, outstanding decimal.Decimal) string {
	if !outstanding.IsPositive() {
		return fmt.Sprintf("We have received your repayment of %s. Your loans are fully repaid.", money(currency, paid))
	}
	return fmt.Sprintf("We have received your repayment of %s. Outstanding balance %s.",
		money(currency, paid), money(currency, outstanding))
}

func organizationRepaymentMessage(currency, orgName string, result *AllocationResult) string {
	msg := fmt.Sprintf("Payment of %s received for %s. %s applied to %d loan(s), outstanding balance %s.",
		money(currency, result.Batch.TotalAmount),
		orgName,
		money(currency, result.Plan.Allocated),
		len(result.Loans),
		money(currency, result.Outstanding),
	)
	if result.Plan.Remaining.IsPositive() {
		msg += fmt.Sprintf(" %s has been added to your credit balance.", money(currency, result.Plan.Remaining))
	}
	return msg
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case shared.KindOf(err) != "":
		return err
	case errors.Is(err, organization.ErrOrganizationNotFound{}):
		return shared.Wrap(shared.KindNotFound, err, "organization not found")
	}
	return err
}
