package service

import (
	"fmt"
	"time"

	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/shopspring/decimal"
)

const dateLayout = "02 Jan 2006"

func money(currency string, amount decimal.Decimal) string {
	return currency + " " + amount.StringFixed(2)
}

func percent(rate decimal.Decimal) string {
	return rate.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

func applicationReceivedMessage(currency string, l *loan.Loan) string {
	return fmt.Sprintf("Your loan application of %s has been received and is awaiting approval.",
		money(currency, l.Amount))
}

func reviewRequestMessage(currency string, l *loan.Loan, borrowerName string) string {
	if borrowerName == "" {
		borrowerName = "An employee"
	}
	return fmt.Sprintf("%s has applied for a loan of %s. Please review it.",
		borrowerName, money(currency, l.Amount))
}

func approvedMessage(currency string, l *loan.Loan) string {
	return fmt.Sprintf("Your loan of %s has been approved. Interest %s, transaction charge %s, due %s. Total payable %s.",
		money(currency, l.Amount),
		percent(l.InterestRate),
		money(currency, l.TransactionFee),
		l.DueDate.Format(dateLayout),
		money(currency, l.TotalRepayable),
	)
}

func rejectedMessage(currency string, l *loan.Loan) string {
	return fmt.Sprintf("Your loan application of %s has been declined.", money(currency, l.Amount))
}

func disbursementFailedMessage(currency string, l *loan.Loan) string {
	return fmt.Sprintf("We could not send your loan of %s at this time. It remains approved and will be retried.",
		money(currency, l.Amount))
}

func disbursedMessage(currency string, l *loan.Loan, receipt string, at time.Time) string {
	msg := fmt.Sprintf("%s has been sent to your M-Pesa on %s.", money(currency, l.Amount), at.Format(dateLayout))
	if receipt != "" {
		msg += " Ref " + receipt + "."
	}
	return msg
}
