package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/salary-advance-lending/internal/domain/repayment"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepaymentRepository_CreateBatch(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &RepaymentRepository{querier: mock, logger: newTestLogger()}
	b := repayment.NewBatch(uuid.New(), 7, decimal.NewFromInt(8000), shared.PaymentMethodBankTransfer, "CHQ-1", "march payroll", time.Now())

	mock.ExpectExec(`INSERT INTO payment_batches`).
		WithArgs(b.ID, b.TenantID, b.OrganizationID, b.TotalAmount, b.Method, b.ExternalRef, b.Remarks, b.ReceivedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, repo.CreateBatch(ctx, b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepaymentRepository_UpsertConfirmation(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &RepaymentRepository{querier: mock, logger: newTestLogger()}
	batchID, payoutID, confirmationID := uuid.New(), uuid.New(), uuid.New()
	settledAt := time.Now().UTC()

	mock.ExpectQuery(`ON CONFLICT \(payment_batch_id, loan_payout_id\) DO UPDATE SET amount_settled = payment_confirmations.amount_settled \+ EXCLUDED.amount_settled`).
		WithArgs(pgxmock.AnyArg(), batchID, payoutID, decimal.NewFromInt(600), settledAt).
		WillReturnRows(pgxmock.NewRows([]string{"id", "payment_batch_id", "loan_payout_id", "amount_settled", "settled_at"}).
			AddRow(confirmationID, batchID, payoutID, decimal.NewFromInt(1100), settledAt))

	c, err := repo.UpsertConfirmation(ctx, batchID, payoutID, decimal.NewFromInt(600), settledAt)
	require.NoError(t, err)
	assert.Equal(t, confirmationID, c.ID)
	assert.True(t, c.AmountSettled.Equal(decimal.NewFromInt(1100)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepository_Insert(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &TransactionRepository{querier: mock, logger: newTestLogger()}
	txn := &repayment.ExternalTransaction{
		TenantID:   uuid.New(),
		TransID:    "RKTQDM7W6S",
		TransTime:  "20260328140000",
		Amount:     decimal.NewFromInt(3000),
		Reference:  "0722123456",
		MSISDN:     "254722123456",
		FirstName:  "Amina",
		ReceivedAt: time.Now().UTC(),
	}
	args := []interface{}{txn.TenantID, txn.TransID, txn.TransTime, txn.Amount, txn.Reference, txn.MSISDN, txn.FirstName, txn.ReceivedAt}

	t.Run("new transaction", func(t *testing.T) {
		mock.ExpectQuery(`ON CONFLICT \(trans_id\) DO NOTHING RETURNING id`).WithArgs(args...).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))

		inserted, err := repo.Insert(ctx, txn)
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.Equal(t, int64(11), txn.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replayed transaction", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO c2b_transactions`).WithArgs(args...).WillReturnError(pgx.ErrNoRows)

		inserted, err := repo.Insert(ctx, txn)
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionRepository_ListAndMark(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &TransactionRepository{querier: mock, logger: newTestLogger()}
	tenantID := uuid.New()
	received := time.Now().UTC()
	columns := []string{"id", "tenant_id", "trans_id", "trans_time", "amount", "bill_ref_number", "msisdn",
		"first_name", "processed", "processed_at", "received_at"}

	mock.ExpectQuery(`FROM c2b_transactions WHERE processed = FALSE AND id > \$1`).WithArgs(int64(0), 100).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(int64(1), tenantID, "T1", "20260328140000", decimal.NewFromInt(500), "0722123456", "254722123456", "Amina", false, nil, received).
			AddRow(int64(2), tenantID, "T2", "20260328141500", decimal.NewFromInt(900), "", "254711000000", "", false, nil, received))

	txns, err := repo.ListUnprocessed(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "T1", txns[0].TransID)
	assert.Equal(t, "20260328140000", txns[0].TransTime)
	assert.Nil(t, txns[1].ProcessedAt)

	at := time.Now().UTC()
	mock.ExpectExec(`SET processed = TRUE, processed_at = \$2 WHERE id = \$1 AND processed = FALSE`).
		WithArgs(int64(1), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	assert.NoError(t, repo.MarkProcessed(ctx, 1, at))

	mock.ExpectExec(`UPDATE c2b_transactions`).
		WithArgs(int64(1), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.MarkProcessed(ctx, 1, at), repayment.ErrTransactionNotFound{ID: 1})

	assert.NoError(t, mock.ExpectationsWereMet())
}
