package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/salary-advance-lending/internal/domain/repayment"
	"github.com/salary-advance-lending/internal/platform/persistence"
	"github.com/shopspring/decimal"
)

// RepaymentRepository persists payment batches and confirmations in PostgreSQL
type RepaymentRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewRepaymentRepository(logger *slog.Logger, db *persistence.PostgresDB) repayment.Repository {
	return &RepaymentRepository{querier: db.Pool(), logger: logger}
}

func (r *RepaymentRepository) WithTx(tx pgx.Tx) repayment.Repository {
	return &RepaymentRepository{querier: tx, logger: r.logger}
}

func (r *RepaymentRepository) CreateBatch(ctx context.Context, b *repayment.Batch) error {
	query := `
		INSERT INTO payment_batches (id, tenant_id, organization_id, total_amount, payment_method,
			external_reference, remarks, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.querier.Exec(ctx, query,
		b.ID, b.TenantID, b.OrganizationID, b.TotalAmount, b.Method, b.ExternalRef, b.Remarks, b.ReceivedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create payment batch", "batch_id", b.ID.String(), "error", err)
		return fmt.Errorf("failed to create payment batch: %w", err)
	}
	return nil
}

// UpsertConfirmation increments the settled amount when the payout was already credited in this batch
func (r *RepaymentRepository) UpsertConfirmation(ctx context.Context, batchID, payoutID uuid.UUID, amount decimal.Decimal, settledAt time.Time) (*repayment.Confirmation, error) {
	query := `
		INSERT INTO payment_confirmations (id, payment_batch_id, loan_payout_id, amount_settled, settled_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (payment_batch_id, loan_payout_id)
		DO UPDATE SET amount_settled = payment_confirmations.amount_settled + EXCLUDED.amount_settled,
			settled_at = EXCLUDED.settled_at
		RETURNING id, payment_batch_id, loan_payout_id, amount_settled, settled_at
	`

	var c repayment.Confirmation
	err := r.querier.QueryRow(ctx, query, uuid.New(), batchID, payoutID, amount, settledAt).Scan(
		&c.ID, &c.PaymentBatchID, &c.LoanPayoutID, &c.AmountSettled, &c.SettledAt,
	)
	if err != nil {
		r.logger.Error("Failed to upsert payment confirmation",
			"batch_id", batchID.String(),
			"payout_id", payoutID.String(),
			"error", err,
		)
		return nil, fmt.Errorf("failed to upsert payment confirmation: %w", err)
	}
	return &c, nil
}

func (r *RepaymentRepository) ListConfirmations(ctx context.Context, batchID uuid.UUID) ([]*repayment.Confirmation, error) {
	query := `
		SELECT id, payment_batch_id, loan_payout_id, amount_settled, settled_at
		FROM payment_confirmations
		WHERE payment_batch_id = $1
		ORDER BY settled_at ASC
	`

	rows, err := r.querier.Query(ctx, query, batchID)
	if err != nil {
		r.logger.Error("Failed to list payment confirmations", "batch_id", batchID.String(), "error", err)
		return nil, fmt.Errorf("failed to list payment confirmations: %w", err)
	}
	defer rows.Close()

	var confirmations []*repayment.Confirmation
	for rows.Next() {
		var c repayment.Confirmation
		if err := rows.Scan(&c.ID, &c.PaymentBatchID, &c.LoanPayoutID, &c.AmountSettled, &c.SettledAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment confirmation: %w", err)
		}
		confirmations = append(confirmations, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over payment confirmations: %w", err)
	}
	return confirmations, nil
}

const externalTransactionColumns = `id, tenant_id, trans_id, trans_time, amount, bill_ref_number, msisdn,
		first_name, processed, processed_at, received_at`

// TransactionRepository persists unattributed C2B transactions in PostgreSQL
type TransactionRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewTransactionRepository(logger *slog.Logger, db *persistence.PostgresDB) repayment.TransactionRepository {
	return &TransactionRepository{querier: db.Pool(), logger: logger}
}

func (r *TransactionRepository) WithTx(tx pgx.Tx) repayment.TransactionRepository {
	return &TransactionRepository{querier: tx, logger: r.logger}
}

// Insert is idempotent on trans_id
func (r *TransactionRepository) Insert(ctx context.Context, t *repayment.ExternalTransaction) (bool, error) {
	query := `
		INSERT INTO c2b_transactions (tenant_id, trans_id, trans_time, amount, bill_ref_number, msisdn,
			first_name, processed, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
		ON CONFLICT (trans_id) DO NOTHING
		RETURNING id
	`

	err := r.querier.QueryRow(ctx, query,
		t.TenantID, t.TransID, t.TransTime, t.Amount, t.Reference, t.MSISDN, t.FirstName, t.ReceivedAt,
	).Scan(&t.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		r.logger.Error("Failed to insert external transaction", "trans_id", t.TransID, "error", err)
		return false, fmt.Errorf("failed to insert external transaction: %w", err)
	}
	return true, nil
}

func (r *TransactionRepository) ListUnprocessed(ctx context.Context, afterID int64, limit int) ([]*repayment.ExternalTransaction, error) {
	query := `
		SELECT ` + externalTransactionColumns + `
		FROM c2b_transactions
		WHERE processed = FALSE AND id > $1
		ORDER BY id ASC
		LIMIT $2
	`

	rows, err := r.querier.Query(ctx, query, afterID, limit)
	if err != nil {
		r.logger.Error("Failed to list unprocessed transactions", "error", err)
		return nil, fmt.Errorf("failed to list unprocessed transactions: %w", err)
	}
	defer rows.Close()

	var txns []*repayment.ExternalTransaction
	for rows.Next() {
		t, err := scanExternalTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan external transaction: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over external transactions: %w", err)
	}
	return txns, nil
}

func (r *TransactionRepository) LockForUpdate(ctx context.Context, id int64) (*repayment.ExternalTransaction, error) {
	query := `
		SELECT ` + externalTransactionColumns + `
		FROM c2b_transactions
		WHERE id = $1
		FOR UPDATE
	`

	t, err := scanExternalTransaction(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repayment.ErrTransactionNotFound{ID: id}
		}
		r.logger.Error("Failed to lock external transaction", "id", id, "error", err)
		return nil, fmt.Errorf("failed to lock external transaction: %w", err)
	}
	return t, nil
}

func (r *TransactionRepository) MarkProcessed(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE c2b_transactions
		SET processed = TRUE, processed_at = $2
		WHERE id = $1 AND processed = FALSE
	`

	result, err := r.querier.Exec(ctx, query, id, at)
	if err != nil {
		r.logger.Error("Failed to mark transaction processed", "id", id, "error", err)
		return fmt.Errorf("failed to mark transaction processed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repayment.ErrTransactionNotFound{ID: id}
	}
	return nil
}

func scanExternalTransaction(row pgx.Row) (*repayment.ExternalTransaction, error) {
	var t repayment.ExternalTransaction
	err := row.Scan(
		&t.ID, &t.TenantID, &t.TransID, &t.TransTime, &t.Amount, &t.Reference, &t.MSISDN,
		&t.FirstName, &t.Processed, &t.ProcessedAt, &t.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
