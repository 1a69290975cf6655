package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/salary-advance-lending/internal/domain/audit"
	"github.com/salary-advance-lending/internal/domain/gateway"
	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/salary-advance-lending/internal/logger"
	"github.com/salary-advance-lending/internal/platform/metrics"
	"github.com/salary-advance-lending/internal/platform/mpesa"
	"github.com/salary-advance-lending/internal/platform/persistence"
)

// CallbackOutcome is how a gateway callback was handled
type CallbackOutcome string

const (
	CallbackProcessed        CallbackOutcome = "processed"
	CallbackAlreadyProcessed CallbackOutcome = "already_processed"
	CallbackUnmatched        CallbackOutcome = "unmatched"
)

const (
	callbackKindResult  = "b2c_result"
	callbackKindTimeout = "b2c_timeout"
	callbackKindBalance = "account_balance"
)

type CallbackDependencies struct {
	DB         persistence.TxRunner
	Loans      loan.Repository
	Payouts    loan.PayoutRepository
	Snapshots  gateway.SnapshotRepository
	Audit      AuditRecorder
	Notifier   NotificationDispatcher
	Recipients RecipientDirectory
	Metrics    *metrics.Metrics
}

// CallbackService applies the gateway's asynchronous results to loans and payouts
type CallbackService struct {
	db         persistence.TxRunner
	loans      loan.Repository
	payouts    loan.PayoutRepository
	snapshots  gateway.SnapshotRepository
	audit      AuditRecorder
	notifier   NotificationDispatcher
	recipients RecipientDirectory
	metrics    *metrics.Metrics
	currency   string
	now        Clock
	logger     *slog.Logger
}

func NewCallbackService(log *slog.Logger, deps CallbackDependencies, currency string) *CallbackService {
	return &CallbackService{
		db:         deps.DB,
		loans:      deps.Loans,
		payouts:    deps.Payouts,
		snapshots:  deps.Snapshots,
		audit:      deps.Audit,
		notifier:   deps.Notifier,
		recipients: deps.Recipients,
		metrics:    deps.Metrics,
		currency:   currency,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     log,
	}
}

// HandleResult finalizes a disbursement. A loan whose gateway status is already SUCCESS or FAILED is left untouched.
// A result for an older attempt of the loan is applied to that attempt's payout only.
func (s *CallbackService) HandleResult(ctx context.Context, tenantID uuid.UUID, result mpesa.Result) (CallbackOutcome, error) {
	log := logger.FromContext(ctx, s.logger).With(
		"tenant_id", tenantID.String(),
		"originator_conversation_id", result.OriginatorConversationID,
		"conversation_id", result.ConversationID,
	)

	params := result.Params()
	receipt := params[mpesa.ParamTransactionReceipt]
	succeeded := result.Success()

	var (
		outcome    CallbackOutcome
		settled    *loan.Loan
		superseded bool
	)

	err := s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		loans := s.loans.WithTx(tx)

		l, payout, err := s.locate(ctx, tx, tenantID, result)
		if err != nil {
			if errors.Is(err, loan.ErrGatewayReferenceNotFound{}) {
				outcome = CallbackUnmatched
				return nil
			}
			return err
		}

		superseded = payout != nil && payout.ConversationID != "" && payout.ConversationID != l.ConversationID
		switch {
		case superseded && (payout.Status != loan.PayoutStatusFailed || !succeeded):
			outcome = CallbackAlreadyProcessed
			return nil
		case !superseded && l.GatewayStatus.Terminal():
			outcome = CallbackAlreadyProcessed
			return nil
		}

		now := s.now()
		switch {
		case superseded:
			// the newer attempt owns the loan's gateway status
			if l.DisbursedAt != nil {
				log.Warn("Older disbursement attempt paid out after the loan was disbursed",
					"loan_id", l.ID.String(),
					"payout_id", payout.ID.String(),
				)
			} else {
				l.MarkDisbursed(result.TransactionID, now)
			}
			payout.MarkDisbursed(result.TransactionID, now)
		case succeeded:
			l.GatewayStatus = loan.GatewayStatusSuccess
			l.MarkDisbursed(result.TransactionID, now)
			if payout != nil && (payout.Status == loan.PayoutStatusPending || payout.Status == loan.PayoutStatusFailed || payout.Status == loan.PayoutStatusDisbursed) {
				payout.MarkDisbursed(result.TransactionID, now)
			}
		default:
			l.GatewayStatus = loan.GatewayStatusFailed
			l.RevertDisbursement(now)
			if payout != nil && (payout.Status == loan.PayoutStatusPending || payout.Status == loan.PayoutStatusDisbursed) {
				payout.MarkFailed(result.ResultDesc, now)
			}
			l.UpdatedAt = now
		}

		if err := loans.Update(ctx, l); err != nil {
			return err
		}
		if payout != nil {
			if err := s.payouts.WithTx(tx).Update(ctx, payout); err != nil {
				return err
			}
		}

		working := mpesa.ParseAmount(params, mpesa.ParamWorkingAvailableFunds)
		utility := mpesa.ParseAmount(params, mpesa.ParamUtilityAvailableFunds)
		if working.Valid || utility.Valid {
			key := l.ConversationID
			if superseded {
				key = payout.ConversationID
			}
			if key == "" {
				key = result.OriginatorConversationID
			}
			snapshot := &gateway.BalanceSnapshot{
				TenantID:         tenantID,
				ConversationID:   &key,
				WorkingAvailable: working,
				UtilityAvailable: utility,
				TakenAt:          now,
			}
			if err := s.snapshots.WithTx(tx).Upsert(ctx, snapshot); err != nil {
				return err
			}
		}

		details := audit.GatewayResult{
			Superseded:               superseded,
			Success:                  succeeded,
			ResultCode:               int(result.ResultCode),
			ResultDesc:               result.ResultDesc,
			ConversationID:           result.ConversationID,
			OriginatorConversationID: result.OriginatorConversationID,
			TransactionID:            result.TransactionID,
			TransactionAmount:        params[mpesa.ParamTransactionAmount],
			ReceiptNumber:            receipt,
			ReceiverName:             params[mpesa.ParamReceiverPublicName],
			CompletedAt:              params[mpesa.ParamTransactionCompletedTime],
			Parameters:               params,
		}
		if payout != nil {
			details.PayoutID = &payout.ID
		}
		if err := s.audit.Record(ctx, tx, tenantID, &l.ID, nil, details); err != nil {
			return err
		}

		outcome = CallbackProcessed
		settled = l
		return nil
	})
	if err != nil {
		s.metrics.GatewayCallback(callbackKindResult, metrics.OutcomeError)
		log.Error("Failed to apply gateway result", "error", err)
		return "", fmt.Errorf("failed to apply gateway result: %w", err)
	}

	s.metrics.GatewayCallback(callbackKindResult, callbackMetric(outcome))
	switch outcome {
	case CallbackUnmatched:
		log.Warn("Gateway result matches no loan")
	case CallbackAlreadyProcessed:
		log.Info("Gateway result already processed")
	default:
		log.Info("Gateway result applied", "loan_id", settled.ID.String(), "success", succeeded, "superseded", superseded)
		phone := s.recipients.BorrowerPhone(ctx, settled.TenantID, settled.BorrowerID)
		if succeeded {
			s.notifier.Notify(settled.TenantID, phone, disbursedMessage(s.currency, settled, receipt, s.now()))
		} else {
			s.notifier.Notify(settled.TenantID, phone, disbursementFailedMessage(s.currency, settled))
		}
	}
	return outcome, nil
}

// HandleTimeout marks the attempt as timed out. It never fails the loan.
// A timeout for an older attempt is audited without touching the loan.
func (s *CallbackService) HandleTimeout(ctx context.Context, tenantID uuid.UUID, result mpesa.Result) (CallbackOutcome, error) {
	log := logger.FromContext(ctx, s.logger).With(
		"tenant_id", tenantID.String(),
		"originator_conversation_id", result.OriginatorConversationID,
	)

	var outcome CallbackOutcome
	err := s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		loans := s.loans.WithTx(tx)

		l, payout, err := s.locate(ctx, tx, tenantID, result)
		if err != nil {
			if errors.Is(err, loan.ErrGatewayReferenceNotFound{}) {
				outcome = CallbackUnmatched
				return nil
			}
			return err
		}
		superseded := payout != nil && payout.ConversationID != "" && payout.ConversationID != l.ConversationID
		if !superseded && l.GatewayStatus.Terminal() {
			outcome = CallbackAlreadyProcessed
			return nil
		}

		if !superseded {
			l.GatewayStatus = loan.GatewayStatusTimeout
			l.UpdatedAt = s.now()
			if err := loans.Update(ctx, l); err != nil {
				return err
			}
		}

		details := audit.GatewayTimeout{
			ConversationID:           result.ConversationID,
			OriginatorConversationID: result.OriginatorConversationID,
			ResultDesc:               result.ResultDesc,
		}
		if err := s.audit.Record(ctx, tx, tenantID, &l.ID, nil, details); err != nil {
			return err
		}

		outcome = CallbackProcessed
		return nil
	})
	if err != nil {
		s.metrics.GatewayCallback(callbackKindTimeout, metrics.OutcomeError)
		log.Error("Failed to apply gateway timeout", "error", err)
		return "", fmt.Errorf("failed to apply gateway timeout: %w", err)
	}

	s.metrics.GatewayCallback(callbackKindTimeout, callbackMetric(outcome))
	log.Info("Gateway timeout handled", "outcome", string(outcome))
	return outcome, nil
}

// HandleBalance stores the working and utility balances of an account balance result as the newest snapshot
func (s *CallbackService) HandleBalance(ctx context.Context, tenantID uuid.UUID, result mpesa.Result) (CallbackOutcome, error) {
	log := logger.FromContext(ctx, s.logger).With("tenant_id", tenantID.String())

	if !result.Success() {
		s.metrics.GatewayCallback(callbackKindBalance, metrics.OutcomeFailed)
		log.Warn("Account balance query failed at the gateway", "result_code", int(result.ResultCode), "result_desc", result.ResultDesc)
		return CallbackProcessed, nil
	}

	raw, ok := result.Params()[mpesa.ParamAccountBalance]
	if !ok {
		s.metrics.GatewayCallback(callbackKindBalance, metrics.OutcomeUnmatched)
		log.Warn("Account balance result carries no balance parameter")
		return CallbackUnmatched, nil
	}

	accounts, err := mpesa.ParseAccountBalances(raw)
	if err != nil {
		s.metrics.GatewayCallback(callbackKindBalance, metrics.OutcomeError)
		log.Error("Failed to parse account balance", "error", err)
		return "", fmt.Errorf("failed to parse account balance: %w", err)
	}

	working, utility := mpesa.WorkingAndUtility(accounts)
	snapshot := &gateway.BalanceSnapshot{
		TenantID:         tenantID,
		WorkingAvailable: working,
		UtilityAvailable: utility,
		TakenAt:          s.now(),
	}
	if result.ConversationID != "" {
		key := result.ConversationID
		snapshot.ConversationID = &key
	}
	if !snapshot.HasFigures() {
		s.metrics.GatewayCallback(callbackKindBalance, metrics.OutcomeUnmatched)
		log.Warn("Account balance result has neither working nor utility account")
		return CallbackUnmatched, nil
	}

	if err := s.snapshots.Upsert(ctx, snapshot); err != nil {
		s.metrics.GatewayCallback(callbackKindBalance, metrics.OutcomeError)
		log.Error("Failed to store balance snapshot", "error", err)
		return "", err
	}

	s.metrics.GatewayCallback(callbackKindBalance, metrics.OutcomeApplied)
	log.Info("Balance snapshot stored", "working", working.Decimal.String(), "utility", utility.Decimal.String())
	return CallbackProcessed, nil
}

// locate tries our idempotency token first, then the gateway's own identifiers.
// A reference that is no longer on the loan is looked up on the payouts, so an older attempt can still be finalized.
// The payout is nil for loans that never recorded one.
func (s *CallbackService) locate(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, result mpesa.Result) (*loan.Loan, *loan.Payout, error) {
	loans := s.loans.WithTx(tx)
	payouts := s.payouts.WithTx(tx)

	tried := make(map[string]struct{}, 3)
	for _, reference := range []string{result.OriginatorConversationID, result.ConversationID, result.TransactionID} {
		if reference == "" {
			continue
		}
		if _, seen := tried[reference]; seen {
			continue
		}
		tried[reference] = struct{}{}

		l, err := loans.LockByGatewayReference(ctx, tenantID, reference)
		if err == nil {
			p, err := lockCurrentPayout(ctx, payouts, l)
			if err != nil {
				return nil, nil, err
			}
			return l, p, nil
		}
		if !errors.Is(err, loan.ErrGatewayReferenceNotFound{}) {
			return nil, nil, err
		}

		found, err := payouts.FindByGatewayReference(ctx, tenantID, reference)
		if err != nil {
			if errors.Is(err, loan.ErrGatewayReferenceNotFound{}) {
				continue
			}
			return nil, nil, err
		}
		l, err = loans.LockForUpdate(ctx, tenantID, found.LoanID)
		if err != nil {
			return nil, nil, err
		}
		p, err := payouts.LockForUpdate(ctx, found.ID)
		if err != nil {
			return nil, nil, err
		}
		return l, p, nil
	}
	return nil, nil, loan.ErrGatewayReferenceNotFound{Reference: result.OriginatorConversationID}
}

// lockCurrentPayout locks the payout carrying the loan's token, falling back to the newest attempt.
// It returns nil when the loan has no payout.
func lockCurrentPayout(ctx context.Context, payouts loan.PayoutRepository, l *loan.Loan) (*loan.Payout, error) {
	if l.ConversationID != "" {
		found, err := payouts.FindByGatewayReference(ctx, l.TenantID, l.ConversationID)
		if err == nil {
			return payouts.LockForUpdate(ctx, found.ID)
		}
		if !errors.Is(err, loan.ErrGatewayReferenceNotFound{}) {
			return nil, err
		}
	}

	p, err := payouts.LockLatestByLoanID(ctx, l.ID)
	if err != nil {
		if errors.Is(err, loan.ErrPayoutNotFound{}) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func callbackMetric(outcome CallbackOutcome) string {
	switch outcome {
	case CallbackAlreadyProcessed:
		return metrics.OutcomeDuplicate
	case CallbackUnmatched:
		return metrics.OutcomeUnmatched
	}
	return metrics.OutcomeApplied
}
