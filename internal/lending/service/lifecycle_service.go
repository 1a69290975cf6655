package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/salary-advance-lending/internal/auth"
	"github.com/salary-advance-lending/internal/domain/audit"
	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/salary-advance-lending/internal/domain/organization"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/salary-advance-lending/internal/logger"
	"github.com/salary-advance-lending/internal/platform/metrics"
	"github.com/salary-advance-lending/internal/platform/persistence"
	"github.com/shopspring/decimal"
)

const maxPageSize = 100

// Policy holds lending defaults that are not configured per organization
type Policy struct {
	Currency            string
	DefaultDurationDays int
	MaxDurationDays     int
	DefaultLocation     *time.Location
}

type ApplyRequest struct {
	Amount       decimal.Decimal
	DurationDays int // zero selects the default term
}

type ApplyResult struct {
	Loan         *loan.Loan
	MonthlyCap   decimal.Decimal
	TakenSoFar   decimal.Decimal
	Disbursement *DisbursementOutcome // set for auto-approved loans
}

type ApprovalResult struct {
	Loan         *loan.Loan
	Final        bool
	Disbursement *DisbursementOutcome
}

type LoanDetails struct {
	Loan    *loan.Loan
	Payouts []*loan.Payout
}

type ListQuery struct {
	OrganizationID *int64
	Status         *loan.Status
	Page           int
	PerPage        int
}

type LifecycleDependencies struct {
	DB         persistence.TxRunner
	Loans      loan.Repository
	Payouts    loan.PayoutRepository
	Orgs       organization.Repository
	Employees  organization.EmployeeRepository
	Users      organization.UserRepository
	Tenants    organization.TenantRepository
	Fees       FeeResolver
	Disburser  Disburser
	Audit      AuditRecorder
	Notifier   NotificationDispatcher
	Recipients RecipientDirectory
	Metrics    *metrics.Metrics
}

// LifecycleService runs the apply, approve and reject state machine
type LifecycleService struct {
	db         persistence.TxRunner
	loans      loan.Repository
	payouts    loan.PayoutRepository
	orgs       organization.Repository
	employees  organization.EmployeeRepository
	users      organization.UserRepository
	tenants    organization.TenantRepository
	fees       FeeResolver
	disburser  Disburser
	audit      AuditRecorder
	notifier   NotificationDispatcher
	recipients RecipientDirectory
	metrics    *metrics.Metrics
	policy     Policy
	now        Clock
	logger     *slog.Logger
}

func NewLifecycleService(log *slog.Logger, deps LifecycleDependencies, policy Policy) *LifecycleService {
	if policy.DefaultDurationDays <= 0 {
		policy.DefaultDurationDays = loan.DefaultDurationDays
	}
	if policy.MaxDurationDays < policy.DefaultDurationDays {
		policy.MaxDurationDays = policy.DefaultDurationDays
	}
	if policy.DefaultLocation == nil {
		policy.DefaultLocation = time.UTC
	}

	return &LifecycleService{
		db:         deps.DB,
		loans:      deps.Loans,
		payouts:    deps.Payouts,
		orgs:       deps.Orgs,
		employees:  deps.Employees,
		users:      deps.Users,
		tenants:    deps.Tenants,
		fees:       deps.Fees,
		disburser:  deps.Disburser,
		audit:      deps.Audit,
		notifier:   deps.Notifier,
		recipients: deps.Recipients,
		metrics:    deps.Metrics,
		policy:     policy,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     log,
	}
}

// Apply creates a loan for the calling employee, enforcing the monthly cap.
// Zero-step organizations approve and disburse in the same call.
func (s *LifecycleService) Apply(ctx context.Context, caller auth.Caller, req ApplyRequest) (*ApplyResult, error) {
	if err := auth.Authorize(caller, auth.RequireAnyRole(shared.RoleEmployee)); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, shared.NewValidationError("amount must be greater than zero")
	}
	// the gateway only pays out whole shillings
	if !req.Amount.IsInteger() {
		return nil, shared.NewValidationError("amount must be a whole number")
	}

	days := req.DurationDays
	if days == 0 {
		days = s.policy.DefaultDurationDays
	}
	if days < 1 || days > s.policy.MaxDurationDays {
		return nil, shared.NewValidationError("duration must be between 1 and %d days", s.policy.MaxDurationDays)
	}

	log := logger.FromContext(ctx, s.logger).With("borrower_id", caller.UserID.String())

	tenant, err := s.tenants.GetByID(ctx, caller.TenantID)
	if err != nil {
		return nil, classify(err)
	}
	loc := tenant.Location(s.policy.DefaultLocation)

	var (
		result = &ApplyResult{}
		org    *organization.Organization
	)
	err = s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		// Locking the employee row serializes concurrent applications against the same cap
		employee, err := s.employees.WithTx(tx).LockByUserID(ctx, caller.TenantID, caller.UserID)
		if err != nil {
			return classify(err)
		}
		if !employee.Active {
			return shared.NewConflictError("employee record is not active")
		}

		org, err = s.orgs.WithTx(tx).GetByID(ctx, caller.TenantID, employee.OrganizationID)
		if err != nil {
			return classify(err)
		}
		if !org.Active {
			return shared.NewConflictError("organization is not active")
		}

		now := s.now()
		from, to := organization.MonthBounds(now, loc)
		taken, err := s.loans.WithTx(tx).SumCapExposure(ctx, caller.TenantID, caller.UserID, from, to)
		if err != nil {
			return err
		}

		monthlyCap := org.MonthlyCap(employee.GrossSalary)
		result.MonthlyCap = monthlyCap
		result.TakenSoFar = taken
		if taken.Add(req.Amount).GreaterThan(monthlyCap) {
			return shared.NewCapacityError("monthly limit of %s exceeded: %s already taken, %s available",
				monthlyCap.StringFixed(2), taken.StringFixed(2), decimal.Max(monthlyCap.Sub(taken), decimal.Zero).StringFixed(2))
		}

		terms, err := loan.ComputeTerms(req.Amount, org.RateInputs(), days, now)
		if err != nil {
			return err
		}
		fee, err := s.fees.ResolveFee(ctx, req.Amount, caller.TenantID)
		if err != nil {
			return err
		}

		l := loan.NewLoan(caller.TenantID, org.ID, caller.UserID, req.Amount, terms, fee, org.ApprovalSteps, now)
		if err := s.loans.WithTx(tx).Create(ctx, l); err != nil {
			return err
		}

		applied := audit.LoanApplied{
			Amount:         l.Amount,
			InterestRate:   l.InterestRate,
			InterestRegime: string(l.InterestRegime),
			TransactionFee: l.TransactionFee,
			TotalRepayable: l.TotalRepayable,
			DurationDays:   l.DurationDays,
			DueDate:        l.DueDate,
			MonthlyCap:     monthlyCap,
			TakenSoFar:     taken,
			AutoApproved:   l.Status == loan.StatusApproved,
		}
		actorID := caller.UserID
		if err := s.audit.Record(ctx, tx, caller.TenantID, &l.ID, &actorID, applied); err != nil {
			return err
		}

		result.Loan = l
		return nil
	})
	if err != nil {
		if shared.KindOf(err) == shared.KindCapacity {
			s.metrics.LoanDecision(metrics.OutcomeCapExceeded)
			log.Info("Loan application exceeds monthly cap", "amount", req.Amount.String(), "error", err)
		} else {
			log.Error("Failed to apply for loan", "error", err)
		}
		return nil, err
	}

	l := result.Loan
	log.Info("Loan application recorded", "loan_id", l.ID.String(), "status", string(l.Status))

	if l.Status == loan.StatusPending {
		s.metrics.LoanDecision(metrics.OutcomePending)
		s.notifier.Notify(l.TenantID, s.recipients.BorrowerPhone(ctx, l.TenantID, l.BorrowerID), applicationReceivedMessage(s.policy.Currency, l))
		s.notifyAdmins(ctx, l, reviewRequestMessage(s.policy.Currency, l, s.borrowerName(ctx, l)))
		return result, nil
	}

	s.metrics.LoanDecision(metrics.OutcomeApproved)
	s.notifier.Notify(l.TenantID, s.recipients.BorrowerPhone(ctx, l.TenantID, l.BorrowerID), approvedMessage(s.policy.Currency, l))

	outcome, err := s.disburser.DisburseOnApproval(ctx, l, nil)
	if err != nil {
		// The loan is committed as APPROVED and stays retryable
		log.Error("Auto-approved loan could not be disbursed", "loan_id", l.ID.String(), "error", err)
		return result, nil
	}
	result.Disbursement = outcome
	if outcome.Loan != nil {
		result.Loan = outcome.Loan
	}
	return result, nil
}

// Approve records one approval. The final approval disburses; a failed disbursement leaves the loan APPROVED.
func (s *LifecycleService) Approve(ctx context.Context, caller auth.Caller, loanID uuid.UUID) (*ApprovalResult, error) {
	if err := auth.Authorize(caller, auth.RequireAnyRole(shared.RoleAdmin, shared.RoleOrgAdmin)); err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx, s.logger).With("loan_id", loanID.String(), "approver_id", caller.UserID.String())

	result := &ApprovalResult{}
	var requiredSteps int
	err := s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		loans := s.loans.WithTx(tx)

		l, err := loans.LockForUpdate(ctx, caller.TenantID, loanID)
		if err != nil {
			return classify(err)
		}
		if err := auth.Authorize(caller, auth.CanAdminister(l.TenantID, l.OrganizationID)); err != nil {
			return err
		}

		org, err := s.orgs.WithTx(tx).GetByID(ctx, l.TenantID, l.OrganizationID)
		if err != nil {
			return classify(err)
		}
		requiredSteps = org.ApprovalSteps

		final, err := l.RecordApproval(caller.UserID, org.ApprovalSteps, s.now())
		if err != nil {
			return transitionConflict(err)
		}
		if err := loans.Update(ctx, l); err != nil {
			return err
		}

		approverID := caller.UserID
		details := audit.LoanApproved{
			ApprovalCount: l.ApprovalCount,
			RequiredSteps: org.ApprovalSteps,
			Final:         final,
		}
		if err := s.audit.Record(ctx, tx, l.TenantID, &l.ID, &approverID, details); err != nil {
			return err
		}

		result.Loan = l
		result.Final = final
		return nil
	})
	if err != nil {
		if kind := shared.KindOf(err); kind != "" {
			log.Warn("Loan approval refused", "kind", string(kind), "error", err)
		} else {
			log.Error("Failed to approve loan", "error", err)
		}
		return nil, err
	}

	l := result.Loan
	log.Info("Loan approval recorded",
		"approval_count", l.ApprovalCount,
		"required_steps", requiredSteps,
		"final", result.Final,
	)
	if !result.Final {
		return result, nil
	}

	s.metrics.LoanDecision(metrics.OutcomeApproved)
	s.notifier.Notify(l.TenantID, s.recipients.BorrowerPhone(ctx, l.TenantID, l.BorrowerID), approvedMessage(s.policy.Currency, l))

	approverID := caller.UserID
	outcome, err := s.disburser.DisburseOnApproval(ctx, l, &approverID)
	if err != nil {
		// Approval is irreversible; the loan stays APPROVED and can be disbursed manually
		log.Error("Approved loan could not be disbursed", "error", err)
		return result, nil
	}
	result.Disbursement = outcome
	if outcome.Loan != nil {
		result.Loan = outcome.Loan
	}
	return result, nil
}

// Reject closes a pending loan and records the borrower's released cap headroom
func (s *LifecycleService) Reject(ctx context.Context, caller auth.Caller, loanID uuid.UUID, reason string) (*loan.Loan, error) {
	if err := auth.Authorize(caller, auth.RequireAnyRole(shared.RoleAdmin, shared.RoleOrgAdmin)); err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx, s.logger).With("loan_id", loanID.String(), "actor_id", caller.UserID.String())

	tenant, err := s.tenants.GetByID(ctx, caller.TenantID)
	if err != nil {
		return nil, classify(err)
	}
	loc := tenant.Location(s.policy.DefaultLocation)

	var rejected *loan.Loan
	err = s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		loans := s.loans.WithTx(tx)

		l, err := loans.LockForUpdate(ctx, caller.TenantID, loanID)
		if err != nil {
			return classify(err)
		}
		if err := auth.Authorize(caller, auth.CanAdminister(l.TenantID, l.OrganizationID)); err != nil {
			return err
		}

		now := s.now()
		if err := l.Reject(now); err != nil {
			return transitionConflict(err)
		}
		if err := loans.Update(ctx, l); err != nil {
			return err
		}

		monthlyCap, err := s.borrowerCap(ctx, tx, l)
		if err != nil {
			return err
		}
		from, to := organization.MonthBounds(now, loc)
		taken, err := loans.SumCapExposure(ctx, l.TenantID, l.BorrowerID, from, to)
		if err != nil {
			return err
		}
		headroom := decimal.Max(monthlyCap.Sub(taken), decimal.Zero)

		details := audit.LoanRejected{
			Reason:     reason,
			Amount:     l.Amount,
			MonthlyCap: monthlyCap,
			TakenSoFar: taken,
			Headroom:   headroom,
		}
		actorID := caller.UserID
		if err := s.audit.Record(ctx, tx, l.TenantID, &l.ID, &actorID, details); err != nil {
			return err
		}

		log.Info("Loan rejected", "headroom", headroom.String())
		rejected = l
		return nil
	})
	if err != nil {
		if kind := shared.KindOf(err); kind != "" {
			log.Warn("Loan rejection refused", "kind", string(kind), "error", err)
		} else {
			log.Error("Failed to reject loan", "error", err)
		}
		return nil, err
	}

	s.metrics.LoanDecision(metrics.OutcomeRejected)
	s.notifier.Notify(rejected.TenantID, s.recipients.BorrowerPhone(ctx, rejected.TenantID, rejected.BorrowerID), rejectedMessage(s.policy.Currency, rejected))
	return rejected, nil
}

// GetLoan returns a loan with its payout attempts to the borrower or an administrator in scope
func (s *LifecycleService) GetLoan(ctx context.Context, caller auth.Caller, loanID uuid.UUID) (*LoanDetails, error) {
	l, err := s.loans.GetByID(ctx, caller.TenantID, loanID)
	if err != nil {
		return nil, classify(err)
	}
	if err := auth.Authorize(caller, auth.CanView(l.TenantID, l.OrganizationID, l.BorrowerID)); err != nil {
		return nil, err
	}

	payouts, err := s.payouts.ListByLoanID(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	return &LoanDetails{Loan: l, Payouts: payouts}, nil
}

// ListLoans scopes the listing by role: ADMIN sees the tenant, ORG_ADMIN their organization, others their own loans
func (s *LifecycleService) ListLoans(ctx context.Context, caller auth.Caller, query ListQuery) ([]*loan.Loan, int64, error) {
	filter := loan.Filter{TenantID: caller.TenantID, Status: query.Status}

	switch {
	case caller.HasAnyRole(shared.RoleAdmin):
		filter.OrganizationID = query.OrganizationID
	case caller.HasAnyRole(shared.RoleOrgAdmin):
		if caller.OrganizationID == nil {
			return nil, 0, shared.NewAuthorizationError("organization admin without an organization")
		}
		if query.OrganizationID != nil && *query.OrganizationID != *caller.OrganizationID {
			return nil, 0, shared.NewAuthorizationError("resource belongs to another organization")
		}
		filter.OrganizationID = caller.OrganizationID
	case caller.HasAnyRole(shared.RoleEmployee):
		borrowerID := caller.UserID
		filter.BorrowerID = &borrowerID
	default:
		return nil, 0, shared.NewAuthorizationError("requires one of roles %v", []shared.Role{shared.RoleAdmin, shared.RoleOrgAdmin, shared.RoleEmployee})
	}

	page, perPage := normalizePage(query.Page, query.PerPage)
	loans, err := s.loans.List(ctx, filter, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.loans.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return loans, total, nil
}

func (s *LifecycleService) borrowerCap(ctx context.Context, tx pgx.Tx, l *loan.Loan) (decimal.Decimal, error) {
	employee, err := s.employees.WithTx(tx).GetByUserID(ctx, l.TenantID, l.BorrowerID)
	if err != nil {
		if errors.Is(err, organization.ErrEmployeeNotFound{}) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	org, err := s.orgs.WithTx(tx).GetByID(ctx, l.TenantID, employee.OrganizationID)
	if err != nil {
		if errors.Is(err, organization.ErrOrganizationNotFound{}) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return org.MonthlyCap(employee.GrossSalary), nil
}

func (s *LifecycleService) notifyAdmins(ctx context.Context, l *loan.Loan, message string) {
	for _, phone := range s.recipients.AdminPhones(ctx, l.TenantID, l.OrganizationID) {
		s.notifier.Notify(l.TenantID, phone, message)
	}
}

func (s *LifecycleService) borrowerName(ctx context.Context, l *loan.Loan) string {
	user, err := s.users.GetByID(ctx, l.TenantID, l.BorrowerID)
	if err != nil {
		return ""
	}
	return user.FullName()
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > maxPageSize {
		perPage = maxPageSize
	}
	return page, perPage
}
