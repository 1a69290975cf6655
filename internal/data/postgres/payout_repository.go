package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/salary-advance-lending/internal/platform/persistence"
)

const payoutColumns = `id, loan_id, tenant_id, amount, method, status, approver_id, mpesa_transaction_id,
		conversation_id, amount_repaid, failure_reason, created_at, updated_at`

// PayoutRepository implements the loan.PayoutRepository interface for PostgreSQL
type PayoutRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewPayoutRepository(logger *slog.Logger, db *persistence.PostgresDB) loan.PayoutRepository {
	return &PayoutRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *PayoutRepository) WithTx(tx pgx.Tx) loan.PayoutRepository {
	return &PayoutRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func (r *PayoutRepository) Create(ctx context.Context, p *loan.Payout) error {
	query := `
		INSERT INTO loan_payouts (` + payoutColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.querier.Exec(ctx, query,
		p.ID, p.LoanID, p.TenantID, p.Amount, p.Method, p.Status, p.ApproverID,
		nullString(p.MpesaTransactionID), nullString(p.ConversationID),
		p.AmountRepaid, p.FailureReason, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create payout",
			"payout_id", p.ID.String(),
			"loan_id", p.LoanID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to create payout: %w", err)
	}

	return nil
}

func (r *PayoutRepository) Update(ctx context.Context, p *loan.Payout) error {
	query := `
		UPDATE loan_payouts
		SET status = $2, mpesa_transaction_id = $3, conversation_id = $4, amount_repaid = $5,
			failure_reason = $6, updated_at = $7
		WHERE id = $1
	`

	result, err := r.querier.Exec(ctx, query,
		p.ID, p.Status, nullString(p.MpesaTransactionID), nullString(p.ConversationID),
		p.AmountRepaid, p.FailureReason, p.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to update payout",
			"payout_id", p.ID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to update payout: %w", err)
	}

	if result.RowsAffected() == 0 {
		return loan.ErrPayoutNotFound{PayoutID: p.ID}
	}

	return nil
}

func (r *PayoutRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*loan.Payout, error) {
	query := `
		SELECT ` + payoutColumns + `
		FROM loan_payouts
		WHERE id = $1
		FOR UPDATE
	`

	p, err := scanPayout(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loan.ErrPayoutNotFound{PayoutID: id}
		}
		r.logger.Error("Failed to lock payout", "payout_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to lock payout: %w", err)
	}
	return p, nil
}

func (r *PayoutRepository) LockLatestByLoanID(ctx context.Context, loanID uuid.UUID) (*loan.Payout, error) {
	query := `
		SELECT ` + payoutColumns + `
		FROM loan_payouts
		WHERE loan_id = $1
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`

	p, err := scanPayout(r.querier.QueryRow(ctx, query, loanID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loan.ErrPayoutNotFound{LoanID: loanID}
		}
		r.logger.Error("Failed to lock latest payout", "loan_id", loanID.String(), "error", err)
		return nil, fmt.Errorf("failed to lock latest payout: %w", err)
	}
	return p, nil
}

func (r *PayoutRepository) FindByGatewayReference(ctx context.Context, tenantID uuid.UUID, reference string) (*loan.Payout, error) {
	query := `
		SELECT ` + payoutColumns + `
		FROM loan_payouts
		WHERE tenant_id = $1 AND (conversation_id = $2 OR mpesa_transaction_id = $2)
		ORDER BY created_at DESC
		LIMIT 1
	`

	p, err := scanPayout(r.querier.QueryRow(ctx, query, tenantID, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loan.ErrGatewayReferenceNotFound{Reference: reference}
		}
		r.logger.Error("Failed to find payout by gateway reference", "reference", reference, "error", err)
		return nil, fmt.Errorf("failed to find payout by gateway reference: %w", err)
	}
	return p, nil
}

// LockRepayable locks payouts of loans still owing money, oldest loan first
func (r *PayoutRepository) LockRepayable(ctx context.Context, tenantID uuid.UUID, borrowerIDs []uuid.UUID) ([]*loan.Payout, error) {
	if len(borrowerIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT p.id, p.loan_id, p.tenant_id, p.amount, p.method, p.status, p.approver_id, p.mpesa_transaction_id,
			p.conversation_id, p.amount_repaid, p.failure_reason, p.created_at, p.updated_at
		FROM loan_payouts p
		JOIN loans l ON l.id = p.loan_id
		WHERE p.tenant_id = $1
			AND l.borrower_id = ANY($2)
			AND p.status IN ($3, $4)
			AND l.status IN ($5, $6)
		ORDER BY l.created_at ASC, p.created_at ASC
		FOR UPDATE OF p
	`

	return r.queryMany(ctx, "lock repayable payouts", query,
		tenantID, borrowerIDs,
		loan.PayoutStatusDisbursed, loan.PayoutStatusPartiallyPaid,
		loan.StatusDisbursed, loan.StatusPartiallyPaid,
	)
}

func (r *PayoutRepository) ListByLoanID(ctx context.Context, loanID uuid.UUID) ([]*loan.Payout, error) {
	query := `
		SELECT ` + payoutColumns + `
		FROM loan_payouts
		WHERE loan_id = $1
		ORDER BY created_at ASC
	`
	return r.queryMany(ctx, "list payouts", query, loanID)
}

func (r *PayoutRepository) queryMany(ctx context.Context, action, query string, args ...interface{}) ([]*loan.Payout, error) {
	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+action, "error", err)
		return nil, fmt.Errorf("failed to %s: %w", action, err)
	}
	defer rows.Close()

	var payouts []*loan.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			r.logger.Error("Failed to scan payout", "error", err)
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		payouts = append(payouts, p)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over payouts", "error", err)
		return nil, fmt.Errorf("error iterating over payouts: %w", err)
	}

	return payouts, nil
}

func scanPayout(row pgx.Row) (*loan.Payout, error) {
	var (
		p              loan.Payout
		mpesaTxID      *string
		conversationID *string
	)

	err := row.Scan(
		&p.ID, &p.LoanID, &p.TenantID, &p.Amount, &p.Method, &p.Status, &p.ApproverID,
		&mpesaTxID, &conversationID, &p.AmountRepaid, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.MpesaTransactionID = derefString(mpesaTxID)
	p.ConversationID = derefString(conversationID)
	return &p, nil
}
