package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/salary-advance-lending/internal/auth"
	"github.com/salary-advance-lending/internal/domain/audit"
	"github.com/salary-advance-lending/internal/domain/gateway"
	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/salary-advance-lending/internal/domain/organization"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/salary-advance-lending/internal/logger"
	"github.com/salary-advance-lending/internal/platform/metrics"
	"github.com/salary-advance-lending/internal/platform/mpesa"
	"github.com/salary-advance-lending/internal/platform/persistence"
	"github.com/shopspring/decimal"
)

const (
	reasonInsufficientBalance = "insufficient gateway balance"
	reasonUnrecognizablePhone = "borrower phone number is not a recognizable mobile number"
)

// DisbursementOutcome describes what happened to one disbursement attempt.
// A failed attempt is an outcome, not an error.
type DisbursementOutcome struct {
	Loan                *loan.Loan
	Payout              *loan.Payout
	Disbursed           bool
	InsufficientBalance bool
	Reason              string
}

type DisbursementDependencies struct {
	DB        persistence.TxRunner
	Loans     loan.Repository
	Payouts   loan.PayoutRepository
	Users     organization.UserRepository
	Tenants   organization.TenantRepository
	Snapshots gateway.SnapshotRepository
	Gateway   PaymentGateway
	Audit     AuditRecorder
	Notifier  NotificationDispatcher
	Metrics   *metrics.Metrics
}

// DisbursementService sends approved loans to the payment gateway
type DisbursementService struct {
	db        persistence.TxRunner
	loans     loan.Repository
	payouts   loan.PayoutRepository
	users     organization.UserRepository
	tenants   organization.TenantRepository
	snapshots gateway.SnapshotRepository
	gateway   PaymentGateway
	audit     AuditRecorder
	notifier  NotificationDispatcher
	metrics   *metrics.Metrics
	currency  string
	now       Clock
	logger    *slog.Logger
}

func NewDisbursementService(log *slog.Logger, deps DisbursementDependencies, currency string) *DisbursementService {
	return &DisbursementService{
		db:        deps.DB,
		loans:     deps.Loans,
		payouts:   deps.Payouts,
		users:     deps.Users,
		tenants:   deps.Tenants,
		snapshots: deps.Snapshots,
		gateway:   deps.Gateway,
		audit:     deps.Audit,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		currency:  currency,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    log,
	}
}

// attempt carries one disbursement between its prepare and settle transactions
type attempt struct {
	loan          *loan.Loan
	payout        *loan.Payout
	approverID    *uuid.UUID
	phone         string
	borrowerPhone string
	creds         mpesa.Credentials
	outcome       *DisbursementOutcome // set when the attempt ended before the gateway call
}

// DisburseOnApproval is invoked when a loan has just reached APPROVED
func (s *DisbursementService) DisburseOnApproval(ctx context.Context, l *loan.Loan, approverID *uuid.UUID) (*DisbursementOutcome, error) {
	return s.disburse(ctx, l.TenantID, l.ID, approverID, false)
}

// DisburseApproved retries disbursement of an APPROVED loan that has never been disbursed
func (s *DisbursementService) DisburseApproved(ctx context.Context, caller auth.Caller, loanID uuid.UUID) (*DisbursementOutcome, error) {
	if err := auth.Authorize(caller, auth.RequireAnyRole(shared.RoleAdmin, shared.RoleOrgAdmin)); err != nil {
		return nil, err
	}

	l, err := s.loans.GetByID(ctx, caller.TenantID, loanID)
	if err != nil {
		return nil, classify(err)
	}
	if err := auth.Authorize(caller, auth.CanAdminister(l.TenantID, l.OrganizationID)); err != nil {
		return nil, err
	}

	approverID := caller.UserID
	return s.disburse(ctx, l.TenantID, l.ID, &approverID, true)
}

func (s *DisbursementService) disburse(ctx context.Context, tenantID, loanID uuid.UUID, approverID *uuid.UUID, manual bool) (*DisbursementOutcome, error) {
	log := logger.FromContext(ctx, s.logger).With("loan_id", loanID.String())

	var att *attempt
	err := s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		var err error
		att, err = s.prepare(ctx, tx, tenantID, loanID, approverID, manual)
		return err
	})
	if err != nil {
		log.Error("Failed to prepare disbursement", "error", err)
		return nil, err
	}

	if att.outcome != nil {
		s.report(att, att.outcome)
		return att.outcome, nil
	}

	log.Info("Submitting disbursement to gateway",
		"payout_id", att.payout.ID.String(),
		"conversation_id", att.payout.ConversationID,
		"amount", att.loan.Amount.String(),
	)

	start := time.Now()
	result := s.gateway.Disburse(ctx, mpesa.DisburseRequest{
		TenantID: tenantID,
		Phone:    att.phone,
		Amount:   att.loan.Amount,
		Token:    att.payout.ConversationID,
		Occasion: att.loan.ID.String(),
	}, att.creds)
	s.metrics.ObserveGatewayLatency(time.Since(start))

	outcome, err := s.settle(ctx, att, result)
	if err != nil {
		log.Error("Failed to record disbursement result",
			"conversation_id", att.payout.ConversationID,
			"accepted", result.Accepted,
			"error", err,
		)
		return nil, err
	}

	s.report(att, outcome)
	return outcome, nil
}

// prepare creates the payout, runs the local guards and persists the idempotency token before any gateway call
func (s *DisbursementService) prepare(ctx context.Context, tx pgx.Tx, tenantID, loanID uuid.UUID, approverID *uuid.UUID, manual bool) (*attempt, error) {
	loans := s.loans.WithTx(tx)
	payouts := s.payouts.WithTx(tx)

	l, err := loans.LockForUpdate(ctx, tenantID, loanID)
	if err != nil {
		return nil, classify(err)
	}
	if err := l.CheckDisbursable(); err != nil {
		return nil, transitionConflict(err)
	}

	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, classify(err)
	}
	borrower, err := s.users.WithTx(tx).GetByID(ctx, tenantID, l.BorrowerID)
	if err != nil {
		return nil, classify(err)
	}

	now := s.now()
	payout := loan.NewPayout(l, approverID, now)
	if err := payouts.Create(ctx, payout); err != nil {
		return nil, err
	}

	att := &attempt{
		loan:          l,
		payout:        payout,
		approverID:    approverID,
		borrowerPhone: borrower.Phone,
		creds:         tenantCredentials(tenant),
	}

	if available, short := s.insufficientBalance(ctx, tx, tenantID, l.Amount); short {
		details := audit.DisbursementFailed{
			PayoutID:            payout.ID,
			Reason:              reasonInsufficientBalance,
			InsufficientBalance: true,
			AvailableBalance:    &available,
		}
		if err := s.failEarly(ctx, tx, att, details, now); err != nil {
			return nil, err
		}
		att.outcome.InsufficientBalance = true
		return att, nil
	}

	phone, ok := mpesa.NormalizeInternational(borrower.Phone)
	if !ok {
		details := audit.DisbursementFailed{PayoutID: payout.ID, Reason: reasonUnrecognizablePhone}
		if err := s.failEarly(ctx, tx, att, details, now); err != nil {
			return nil, err
		}
		return att, nil
	}
	att.phone = phone

	token := uuid.NewString()
	l.ConversationID = token
	l.GatewayStatus = loan.GatewayStatusSubmitted
	l.UpdatedAt = now
	payout.ConversationID = token
	payout.UpdatedAt = now

	if err := loans.Update(ctx, l); err != nil {
		return nil, err
	}
	if err := payouts.Update(ctx, payout); err != nil {
		return nil, err
	}

	initiated := audit.DisbursementInitiated{
		PayoutID:       payout.ID,
		ConversationID: token,
		Amount:         l.Amount,
		Phone:          phone,
		Manual:         manual,
	}
	if err := s.audit.Record(ctx, tx, tenantID, &l.ID, approverID, initiated); err != nil {
		return nil, err
	}

	return att, nil
}

func (s *DisbursementService) failEarly(ctx context.Context, tx pgx.Tx, att *attempt, details audit.DisbursementFailed, now time.Time) error {
	att.payout.MarkFailed(details.Reason, now)
	if err := s.payouts.WithTx(tx).Update(ctx, att.payout); err != nil {
		return err
	}
	if err := s.audit.Record(ctx, tx, att.loan.TenantID, &att.loan.ID, att.approverID, details); err != nil {
		return err
	}
	att.outcome = &DisbursementOutcome{
		Loan:   att.loan,
		Payout: att.payout,
		Reason: details.Reason,
	}
	return nil
}

// insufficientBalance is a heuristic on the newest reported balance. An unknown balance never blocks.
func (s *DisbursementService) insufficientBalance(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, bool) {
	snapshot, err := s.snapshots.WithTx(tx).Latest(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, gateway.ErrNoSnapshot{}) {
			s.logger.Warn("Skipping balance check, snapshot unavailable", "tenant_id", tenantID.String(), "error", err)
		}
		return decimal.Zero, false
	}

	available, ok := snapshot.Disbursable()
	if !ok {
		return decimal.Zero, false
	}
	return available, available.LessThan(amount)
}

// settle records the gateway's synchronous answer in one transaction
func (s *DisbursementService) settle(ctx context.Context, att *attempt, result mpesa.DisburseResult) (*DisbursementOutcome, error) {
	var outcome *DisbursementOutcome
	token := att.payout.ConversationID

	err := s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		loans := s.loans.WithTx(tx)
		payouts := s.payouts.WithTx(tx)

		l, err := loans.LockForUpdate(ctx, att.loan.TenantID, att.loan.ID)
		if err != nil {
			return fmt.Errorf("failed to lock loan: %w", err)
		}
		p, err := payouts.LockForUpdate(ctx, att.payout.ID)
		if err != nil {
			return fmt.Errorf("failed to lock payout: %w", err)
		}

		// The result callback may have beaten the synchronous response
		if l.GatewayStatus.Terminal() || l.ConversationID != token {
			outcome = &DisbursementOutcome{
				Loan:      l,
				Payout:    p,
				Disbursed: l.GatewayStatus == loan.GatewayStatusSuccess,
			}
			return nil
		}

		now := s.now()
		if result.Accepted {
			l.MarkDisbursed(result.ConversationID, now)
			p.MarkDisbursed(result.ConversationID, now)
			if err := loans.Update(ctx, l); err != nil {
				return err
			}
			if err := payouts.Update(ctx, p); err != nil {
				return err
			}

			if result.WorkingAvailable.Valid || result.UtilityAvailable.Valid {
				snapshot := &gateway.BalanceSnapshot{
					TenantID:         l.TenantID,
					ConversationID:   &token,
					WorkingAvailable: result.WorkingAvailable,
					UtilityAvailable: result.UtilityAvailable,
					TakenAt:          now,
				}
				if err := s.snapshots.WithTx(tx).Upsert(ctx, snapshot); err != nil {
					return err
				}
			}

			details := audit.Disbursed{
				PayoutID:              p.ID,
				ConversationID:        token,
				GatewayConversationID: result.ConversationID,
				ResponseDescription:   result.ResponseDescription,
				Amount:                p.Amount,
			}
			if err := s.audit.Record(ctx, tx, l.TenantID, &l.ID, att.approverID, details); err != nil {
				return err
			}

			outcome = &DisbursementOutcome{Loan: l, Payout: p, Disbursed: true}
			return nil
		}

		reason := failureReason(result)
		p.MarkFailed(reason, now)
		l.GatewayStatus = loan.GatewayStatusError
		if result.Error != nil && result.Error.Kind == mpesa.ErrKindTimeout {
			l.GatewayStatus = loan.GatewayStatusTimeout
		}
		l.UpdatedAt = now

		if err := loans.Update(ctx, l); err != nil {
			return err
		}
		if err := payouts.Update(ctx, p); err != nil {
			return err
		}

		details := audit.DisbursementFailed{PayoutID: p.ID, ConversationID: token, Reason: reason}
		if err := s.audit.Record(ctx, tx, l.TenantID, &l.ID, att.approverID, details); err != nil {
			return err
		}

		outcome = &DisbursementOutcome{Loan: l, Payout: p, Reason: reason}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// report updates metrics and tells the borrower about failures after the transaction has committed
func (s *DisbursementService) report(att *attempt, outcome *DisbursementOutcome) {
	switch {
	case outcome.Disbursed:
		s.metrics.Disbursement(metrics.OutcomeDisbursed)
		return
	case outcome.InsufficientBalance:
		s.metrics.Disbursement(metrics.OutcomeNoFunds)
	case outcome.Reason == "":
		// settled elsewhere, nothing to report
		return
	default:
		s.metrics.Disbursement(metrics.OutcomeFailed)
	}

	s.logger.Warn("Disbursement failed",
		"loan_id", outcome.Loan.ID.String(),
		"payout_id", outcome.Payout.ID.String(),
		"reason", outcome.Reason,
	)
	s.notifier.Notify(outcome.Loan.TenantID, att.borrowerPhone, disbursementFailedMessage(s.currency, outcome.Loan))
}

func failureReason(result mpesa.DisburseResult) string {
	if result.Error != nil {
		return result.Error.Error()
	}
	if result.ResponseDescription != "" {
		return "gateway did not accept the request: " + result.ResponseDescription
	}
	return "gateway did not accept the request"
}

func tenantCredentials(t *organization.Tenant) mpesa.Credentials {
	return mpesa.Credentials{
		ShortCode:         t.MpesaShortCode,
		ConsumerKey:       t.MpesaConsumerKey,
		ConsumerSecret:    t.MpesaConsumerSecret,
		InitiatorName:     t.MpesaInitiatorName,
		InitiatorPassword: t.MpesaInitiatorPassword,
	}
}
