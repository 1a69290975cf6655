package organization

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Organization is an employer whose staff borrow against salary
type Organization struct {
	ID                  int64           `json:"id"`
	TenantID            uuid.UUID       `json:"tenant_id"`
	Name                string          `json:"name"`
	ApprovalSteps       int             `json:"approval_steps"` // 0, 1 or 2
	LoanLimitMultiplier decimal.Decimal `json:"loan_limit_multiplier"`
	InterestRate        decimal.Decimal `json:"interest_rate"`
	DailyInterestRate   decimal.Decimal `json:"daily_interest_rate"`
	BaseInterestRate    decimal.Decimal `json:"base_interest_rate"`
	CreditBalance       decimal.Decimal `json:"credit_balance"`
	Active              bool            `json:"active"`
	CreatedAt           time.Time       `json:"created_at"`
}

// RateInputs selects the daily regime when a daily rate is configured, else the monthly flat rate.
func (o *Organization) RateInputs() loan.RateInputs {
	if o.DailyInterestRate.IsPositive() {
		return loan.RateInputs{
			Regime:        loan.RegimeDaily,
			DailyRate:     o.DailyInterestRate,
			BaseRateFloor: o.BaseInterestRate,
		}
	}
	return loan.RateInputs{
		Regime:      loan.RegimeMonthly,
		MonthlyRate: o.InterestRate,
	}
}

// MonthlyCap is the most an employee may borrow in one calendar month.
func (o *Organization) MonthlyCap(grossSalary decimal.Decimal) decimal.Decimal {
	return grossSalary.Mul(o.LoanLimitMultiplier).Round(2)
}

// Employee links a user to their employer and salary
type Employee struct {
	ID             int64           `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	UserID         uuid.UUID       `json:"user_id"`
	OrganizationID int64           `json:"organization_id"`
	GrossSalary    decimal.Decimal `json:"gross_salary"`
	Active         bool            `json:"active"`
}

// User is an authenticated identity within a tenant
type User struct {
	ID             uuid.UUID     `json:"id"`
	TenantID       uuid.UUID     `json:"tenant_id"`
	OrganizationID *int64        `json:"organization_id,omitempty"`
	Phone          string        `json:"phone"`
	FirstName      string        `json:"first_name"`
	LastName       string        `json:"last_name"`
	Roles          []shared.Role `json:"roles"`
	Active         bool          `json:"active"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Tenant is an independent lender with its own gateway credentials
type Tenant struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Timezone string    `json:"timezone"`

	MpesaShortCode         string `json:"-"`
	MpesaConsumerKey       string `json:"-"`
	MpesaConsumerSecret    string `json:"-"`
	MpesaInitiatorName     string `json:"-"`
	MpesaInitiatorPassword string `json:"-"`
}

// HasGatewayCredentials reports whether the tenant can authenticate against the gateway
func (t *Tenant) HasGatewayCredentials() bool {
	return t.MpesaShortCode != "" && t.MpesaConsumerKey != "" && t.MpesaConsumerSecret != ""
}

// Location resolves the tenant's timezone, falling back when unset or unknown.
func (t *Tenant) Location(fallback *time.Location) *time.Location {
	if t.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

// MonthBounds returns the tenant-local calendar month containing now as [start, end).
func MonthBounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}
