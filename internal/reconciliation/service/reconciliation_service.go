package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/salary-advance-lending/internal/auth"
	"github.com/salary-advance-lending/internal/domain/audit"
	"github.com/salary-advance-lending/internal/domain/organization"
	"github.com/salary-advance-lending/internal/domain/repayment"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/salary-advance-lending/internal/logger"
	"github.com/salary-advance-lending/internal/platform/metrics"
	"github.com/salary-advance-lending/internal/platform/mpesa"
	"github.com/salary-advance-lending/internal/platform/persistence"
	"github.com/shopspring/decimal"
)

// Status is how one unattributed transaction was handled
type Status string

const (
	StatusAllocated        Status = "ALLOCATED"
	StatusSkipped          Status = "SKIPPED"
	StatusAlreadyProcessed Status = "ALREADY_PROCESSED"
)

// Skip reasons leave the transaction unprocessed for manual review
const (
	SkipUnclassifiable       = "reference is neither a phone number nor an organization id"
	SkipNoUser               = "no active user with this phone number"
	SkipNoOrganization       = "user has no organization"
	SkipOrganizationNotFound = "organization not found"
)

// Outcome reports what ReconcileTransaction did with one record
type Outcome struct {
	TransactionID int64
	Status        Status
	SkipReason    string
	Payer         Payer
	Result        *AllocationResult
}

// RunSummary totals one pass over the unprocessed queue
type RunSummary struct {
	Fetched          int `json:"fetched"`
	Allocated        int `json:"allocated"`
	Skipped          int `json:"skipped"`
	AlreadyProcessed int `json:"already_processed"`
	Failed           int `json:"failed"`
}

// C2BEvent is the message the confirmation webhook publishes for the reconciler
type C2BEvent struct {
	TenantID      uuid.UUID             `json:"tenant_id"`
	CorrelationID string                `json:"correlation_id,omitempty"`
	Confirmation  mpesa.C2BConfirmation `json:"confirmation"`
	ReceivedAt    time.Time             `json:"received_at"`
}

// OrganizationPaymentRequest is a bulk settlement recorded by an administrator
type OrganizationPaymentRequest struct {
	OrganizationID int64
	Amount         decimal.Decimal
	Method         shared.PaymentMethod
	Reference      string
	Remarks        string
	ReceivedAt     time.Time
}

type Dependencies struct {
	DB           persistence.TxRunner
	Transactions repayment.TransactionRepository
	Orgs         organization.Repository
	Employees    organization.EmployeeRepository
	Users        organization.UserRepository
	Tenants      organization.TenantRepository
	Allocator    *Allocator
	Audit        AuditRecorder
	Notifier     NotificationDispatcher
	Recipients   RecipientDirectory
	Metrics      *metrics.Metrics
}

type Settings struct {
	BatchSize       int
	Currency        string
	DefaultLocation *time.Location
}

// ReconciliationService matches incoming repayments to outstanding payouts
type ReconciliationService struct {
	db           persistence.TxRunner
	transactions repayment.TransactionRepository
	orgs         organization.Repository
	employees    organization.EmployeeRepository
	users        organization.UserRepository
	tenants      organization.TenantRepository
	allocator    *Allocator
	audit        AuditRecorder
	notifier     NotificationDispatcher
	recipients   RecipientDirectory
	metrics      *metrics.Metrics
	settings     Settings
	now          Clock
	logger       *slog.Logger
}

func NewReconciliationService(log *slog.Logger, deps Dependencies, settings Settings) *ReconciliationService {
	if settings.BatchSize <= 0 {
		settings.BatchSize = 100
	}
	if settings.DefaultLocation == nil {
		settings.DefaultLocation = time.UTC
	}
	return &ReconciliationService{
		db:           deps.DB,
		transactions: deps.Transactions,
		orgs:         deps.Orgs,
		employees:    deps.Employees,
		users:        deps.Users,
		tenants:      deps.Tenants,
		allocator:    deps.Allocator,
		audit:        deps.Audit,
		notifier:     deps.Notifier,
		recipients:   deps.Recipients,
		metrics:      deps.Metrics,
		settings:     settings,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       log,
	}
}

// IngestConfirmation queues a pushed C2B confirmation. A TransID seen before is ignored.
func (s *ReconciliationService) IngestConfirmation(ctx context.Context, event C2BEvent) (bool, error) {
	c := event.Confirmation
	transID := strings.TrimSpace(c.TransID)
	if transID == "" {
		return false, shared.NewValidationError("confirmation has no TransID")
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(c.TransAmount))
	if err != nil || !amount.IsPositive() {
		return false, shared.NewValidationError("confirmation %s has an invalid amount %q", transID, c.TransAmount)
	}
	if _, err := s.tenants.GetByID(ctx, event.TenantID); err != nil {
		if errors.Is(err, organization.ErrTenantNotFound{}) {
			return false, shared.Wrap(shared.KindValidation, err, "confirmation for unknown tenant")
		}
		return false, err
	}

	receivedAt := event.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}
	txn := &repayment.ExternalTransaction{
		TenantID:   event.TenantID,
		TransID:    transID,
		TransTime:  c.TransTime,
		Amount:     amount,
		Reference:  strings.TrimSpace(c.BillRefNumber),
		MSISDN:     c.MSISDN,
		FirstName:  c.FirstName,
		ReceivedAt: receivedAt,
	}

	inserted, err := s.transactions.Insert(ctx, txn)
	if err != nil {
		return false, fmt.Errorf("failed to store confirmation %s: %w", transID, err)
	}

	log := logger.FromContext(ctx, s.logger).With("trans_id", transID, "tenant_id", event.TenantID.String())
	if inserted {
		log.Info("Queued C2B confirmation", "transaction_id", txn.ID, "amount", amount.String())
	} else {
		log.Info("C2B confirmation already queued", "transaction_id", txn.ID)
	}
	return inserted, nil
}

// RunOnce walks the whole unprocessed queue once, one record at a time. A failing record is logged and the
// run moves on; skipped records stay queued but are not revisited within the run.
func (s *ReconciliationService) RunOnce(ctx context.Context) (RunSummary, error) {
	var (
		summary RunSummary
		afterID int64
	)

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		page, err := s.transactions.ListUnprocessed(ctx, afterID, s.settings.BatchSize)
		if err != nil {
			return summary, fmt.Errorf("failed to list unprocessed transactions: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, txn := range page {
			afterID = txn.ID
			summary.Fetched++

			outcome, err := s.ReconcileTransaction(ctx, txn.ID)
			if err != nil {
				summary.Failed++
				continue
			}
			switch outcome.Status {
			case StatusAllocated:
				summary.Allocated++
			case StatusSkipped:
				summary.Skipped++
			case StatusAlreadyProcessed:
				summary.AlreadyProcessed++
			}
		}

		if len(page) < s.settings.BatchSize {
			break
		}
	}

	if summary.Fetched > 0 {
		s.logger.Info("Reconciliation run finished",
			"fetched", summary.Fetched,
			"allocated", summary.Allocated,
			"skipped", summary.Skipped,
			"already_processed", summary.AlreadyProcessed,
			"failed", summary.Failed,
		)
	}
	return summary, nil
}

// ReconcileTransaction allocates one unattributed transaction. Everything it writes, including the
// processed flag, commits together.
func (s *ReconciliationService) ReconcileTransaction(ctx context.Context, id int64) (*Outcome, error) {
	log := logger.FromContext(ctx, s.logger).With("transaction_id", id)
	outcome := &Outcome{TransactionID: id}

	var (
		txn       *repayment.ExternalTransaction
		org       *organization.Organization
		borrowers []uuid.UUID
	)

	err := s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		transactions := s.transactions.WithTx(tx)

		var err error
		txn, err = transactions.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if txn.Processed {
			outcome.Status = StatusAlreadyProcessed
			return nil
		}

		outcome.Payer = ClassifyReference(txn.Reference)
		org, borrowers, outcome.SkipReason, err = s.resolvePayer(ctx, tx, txn.TenantID, outcome.Payer)
		if err != nil {
			return err
		}
		if outcome.SkipReason != "" {
			outcome.Status = StatusSkipped
			return nil
		}

		result, err := s.allocator.Allocate(ctx, tx, AllocationRequest{
			TenantID:       txn.TenantID,
			OrganizationID: org.ID,
			BorrowerIDs:    borrowers,
			Amount:         txn.Amount,
			Method:         shared.PaymentMethodMobileMoney,
			ExternalRef:    txn.TransID,
			Remarks:        txn.FirstName,
			ReceivedAt:     s.transactionTime(ctx, txn),
		})
		if err != nil {
			return err
		}

		if err := s.recordAudit(ctx, tx, txn.TenantID, nil, result, result.Details()); err != nil {
			return err
		}

		if err := transactions.MarkProcessed(ctx, txn.ID, s.now()); err != nil {
			return err
		}

		outcome.Status = StatusAllocated
		outcome.Result = result
		return nil
	})
	if err != nil {
		s.metrics.Reconciliation(metrics.OutcomeError)
		log.Error("Failed to reconcile transaction", "error", err)
		return nil, fmt.Errorf("failed to reconcile transaction %d: %w", id, err)
	}

	switch outcome.Status {
	case StatusAlreadyProcessed:
		s.metrics.Reconciliation(metrics.OutcomeDuplicate)
		log.Debug("Transaction already processed")
	case StatusSkipped:
		s.metrics.Reconciliation(metrics.OutcomeSkipped)
		log.Warn("Transaction left for manual review",
			"trans_id", txn.TransID,
			"reference", txn.Reference,
			"reason", outcome.SkipReason,
		)
	case StatusAllocated:
		s.metrics.Reconciliation(metrics.OutcomeAllocated)
		log.Info("Transaction reconciled",
			"trans_id", txn.TransID,
			"payer", string(outcome.Payer.Kind),
			"organization_id", org.ID,
			"allocated", outcome.Result.Plan.Allocated.String(),
			"surplus", outcome.Result.Plan.Remaining.String(),
		)
		s.notifyPayer(ctx, txn.TenantID, org, outcome.Payer, borrowers, outcome.Result)
	}
	return outcome, nil
}

// RecordOrganizationPayment applies an administrator-recorded bulk payment with the same allocation as C2B
func (s *ReconciliationService) RecordOrganizationPayment(ctx context.Context, caller auth.Caller, req OrganizationPaymentRequest) (*AllocationResult, error) {
	if err := auth.Authorize(caller,
		auth.RequireAnyRole(shared.RoleAdmin, shared.RoleOrgAdmin),
		auth.CanAdminister(caller.TenantID, req.OrganizationID),
	); err != nil {
		return nil, err
	}
	if req.OrganizationID <= 0 {
		return nil, shared.NewValidationError("organization id must be positive")
	}
	if !req.Amount.IsPositive() {
		return nil, shared.NewValidationError("amount must be greater than zero")
	}
	if !req.Method.Valid() {
		return nil, shared.NewValidationError("unsupported payment method %q", req.Method)
	}

	log := logger.FromContext(ctx, s.logger).With(
		"organization_id", req.OrganizationID,
		"actor_id", caller.UserID.String(),
	)

	var (
		result *AllocationResult
		org    *organization.Organization
	)
	err := s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		var (
			borrowers []uuid.UUID
			err       error
		)
		org, borrowers, err = s.organizationPayers(ctx, tx, caller.TenantID, req.OrganizationID)
		if err != nil {
			return classify(err)
		}

		result, err = s.allocator.Allocate(ctx, tx, AllocationRequest{
			TenantID:       caller.TenantID,
			OrganizationID: org.ID,
			BorrowerIDs:    borrowers,
			Amount:         req.Amount,
			Method:         req.Method,
			ExternalRef:    req.Reference,
			Remarks:        req.Remarks,
			ReceivedAt:     req.ReceivedAt,
		})
		if err != nil {
			return err
		}

		actorID := caller.UserID
		details := audit.OrganizationPaymentRecorded{
			RepaymentAllocated: result.Details(),
			Method:             string(req.Method),
		}
		return s.recordAudit(ctx, tx, caller.TenantID, &actorID, result, details)
	})
	if err != nil {
		if kind := shared.KindOf(err); kind != "" {
			log.Warn("Organization payment refused", "kind", string(kind), "error", err)
			return nil, err
		}
		s.metrics.Reconciliation(metrics.OutcomeError)
		log.Error("Failed to record organization payment", "error", err)
		return nil, fmt.Errorf("failed to record organization payment: %w", err)
	}

	s.metrics.Reconciliation(metrics.OutcomeAllocated)
	log.Info("Organization payment recorded",
		"batch_id", result.Batch.ID.String(),
		"allocated", result.Plan.Allocated.String(),
		"surplus", result.Plan.Remaining.String(),
	)
	s.notifyAdmins(ctx, caller.TenantID, org, result)
	return result, nil
}

// resolvePayer returns the organization and borrowers a payer stands for, or the reason to skip it
func (s *ReconciliationService) resolvePayer(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, payer Payer) (*organization.Organization, []uuid.UUID, string, error) {
	switch payer.Kind {
	case PayerIndividual:
		user, err := s.users.WithTx(tx).FindByPhone(ctx, tenantID, mpesa.LookupVariants(payer.Phone))
		if err != nil {
			if errors.Is(err, organization.ErrUserNotFound{}) {
				return nil, nil, SkipNoUser, nil
			}
			return nil, nil, "", err
		}
		if user.OrganizationID == nil {
			return nil, nil, SkipNoOrganization, nil
		}
		org, err := s.orgs.WithTx(tx).GetByID(ctx, tenantID, *user.OrganizationID)
		if err != nil {
			if errors.Is(err, organization.ErrOrganizationNotFound{}) {
				return nil, nil, SkipOrganizationNotFound, nil
			}
			return nil, nil, "", err
		}
		return org, []uuid.UUID{user.ID}, "", nil

	case PayerOrganization:
		org, borrowers, err := s.organizationPayers(ctx, tx, tenantID, payer.OrganizationID)
		if err != nil {
			if errors.Is(err, organization.ErrOrganizationNotFound{}) {
				return nil, nil, SkipOrganizationNotFound, nil
			}
			return nil, nil, "", err
		}
		return org, borrowers, "", nil
	}
	return nil, nil, SkipUnclassifiable, nil
}

// organizationPayers lists every employee of the organization, active or not, since leavers may still owe
func (s *ReconciliationService) organizationPayers(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, organizationID int64) (*organization.Organization, []uuid.UUID, error) {
	org, err := s.orgs.WithTx(tx).GetByID(ctx, tenantID, organizationID)
	if err != nil {
		return nil, nil, err
	}
	employees, err := s.employees.WithTx(tx).ListByOrganization(ctx, tenantID, organizationID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list employees of organization %d: %w", organizationID, err)
	}
	borrowers := make([]uuid.UUID, 0, len(employees))
	for _, e := range employees {
		borrowers = append(borrowers, e.UserID)
	}
	return org, borrowers, nil
}

// recordAudit writes one event per touched loan, or a single tenant-level event when nothing was allocated
func (s *ReconciliationService) recordAudit(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, actorID *uuid.UUID, result *AllocationResult, details audit.Details) error {
	if len(result.Loans) == 0 {
		return s.audit.Record(ctx, tx, tenantID, nil, actorID, details)
	}
	for _, l := range result.Loans {
		loanID := l.ID
		if err := s.audit.Record(ctx, tx, tenantID, &loanID, actorID, details); err != nil {
			return err
		}
	}
	return nil
}

// transactionTime prefers the gateway's TransTime, read in the tenant's zone
func (s *ReconciliationService) transactionTime(ctx context.Context, txn *repayment.ExternalTransaction) time.Time {
	loc := s.settings.DefaultLocation
	if tenant, err := s.tenants.GetByID(ctx, txn.TenantID); err == nil {
		loc = tenant.Location(loc)
	}
	if at, err := mpesa.ParseTransTime(txn.TransTime, loc); err == nil {
		return at.UTC()
	}
	return txn.ReceivedAt
}

func (s *ReconciliationService) notifyPayer(ctx context.Context, tenantID uuid.UUID, org *organization.Organization, payer Payer, borrowers []uuid.UUID, result *AllocationResult) {
	if payer.Kind == PayerIndividual && len(borrowers) == 1 {
		phone := s.recipients.BorrowerPhone(ctx, tenantID, borrowers[0])
		s.notifier.Notify(tenantID, phone, borrowerRepaymentMessage(s.settings.Currency, result.Batch.TotalAmount, result.Outstanding))
		return
	}
	s.notifyAdmins(ctx, tenantID, org, result)
}

func (s *ReconciliationService) notifyAdmins(ctx context.Context, tenantID uuid.UUID, org *organization.Organization, result *AllocationResult) {
	message := organizationRepaymentMessage(s.settings.Currency, org.Name, result)
	for _, phone := range s.recipients.AdminPhones(ctx, tenantID, org.ID) {
		s.notifier.Notify(tenantID, phone, message)
	}
}
