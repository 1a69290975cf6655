package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var payoutColumnNames = []string{
	"id", "loan_id", "tenant_id", "amount", "method", "status", "approver_id", "mpesa_transaction_id",
	"conversation_id", "amount_repaid", "failure_reason", "created_at", "updated_at",
}

func testPayout() *loan.Payout {
	now := time.Date(2026, 5, 4, 10, 5, 0, 0, time.UTC)
	return &loan.Payout{
		ID:             uuid.New(),
		LoanID:         uuid.New(),
		TenantID:       uuid.New(),
		Amount:         decimal.NewFromInt(20000),
		Method:         shared.PaymentMethodMobileMoney,
		Status:         loan.PayoutStatusDisbursed,
		ConversationID: "token-1",
		AmountRepaid:   decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func payoutRow(p *loan.Payout) []interface{} {
	var approver, mpesaTxID, conversationID interface{}
	if p.ApproverID != nil {
		approver = p.ApproverID
	}
	if p.MpesaTransactionID != "" {
		mpesaTxID = &p.MpesaTransactionID
	}
	if p.ConversationID != "" {
		conversationID = &p.ConversationID
	}
	return []interface{}{
		p.ID, p.LoanID, p.TenantID, p.Amount, p.Method, p.Status, approver, mpesaTxID,
		conversationID, p.AmountRepaid, p.FailureReason, p.CreatedAt, p.UpdatedAt,
	}
}

func TestPayoutRepository_Create(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &PayoutRepository{querier: mock, logger: newTestLogger()}
	p := testPayout()

	mock.ExpectExec(`INSERT INTO loan_payouts`).
		WithArgs(
			p.ID, p.LoanID, p.TenantID, p.Amount, p.Method, p.Status, p.ApproverID,
			nullString(""), nullString(p.ConversationID),
			p.AmountRepaid, p.FailureReason, p.CreatedAt, p.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, repo.Create(ctx, p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayoutRepository_Update(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &PayoutRepository{querier: mock, logger: newTestLogger()}
	p := testPayout()

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(`UPDATE loan_payouts SET status = \$2`).
			WithArgs(p.ID, p.Status, nullString(""), nullString(p.ConversationID), p.AmountRepaid, p.FailureReason, p.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		assert.NoError(t, repo.Update(ctx, p))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectExec(`UPDATE loan_payouts`).WithArgs(anyArgs(7)...).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		assert.ErrorIs(t, repo.Update(ctx, p), loan.ErrPayoutNotFound{})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPayoutRepository_LockLatestByLoanID(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &PayoutRepository{querier: mock, logger: newTestLogger()}
	p := testPayout()
	query := `FROM loan_payouts WHERE loan_id = \$1 ORDER BY created_at DESC LIMIT 1 FOR UPDATE`

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(p.LoanID).
			WillReturnRows(pgxmock.NewRows(payoutColumnNames).AddRow(payoutRow(p)...))

		got, err := repo.LockLatestByLoanID(ctx, p.LoanID)
		require.NoError(t, err)
		assert.Equal(t, p, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("none", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(p.LoanID).WillReturnError(pgx.ErrNoRows)

		_, err := repo.LockLatestByLoanID(ctx, p.LoanID)
		var notFound loan.ErrPayoutNotFound
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, p.LoanID, notFound.LoanID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPayoutRepository_FindByGatewayReference(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &PayoutRepository{querier: mock, logger: newTestLogger()}
	p := testPayout()
	p.ConversationID = "token-superseded"
	query := `FROM loan_payouts WHERE tenant_id = \$1 AND \(conversation_id = \$2 OR mpesa_transaction_id = \$2\) ORDER BY created_at DESC LIMIT 1`

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(p.TenantID, "token-superseded").
			WillReturnRows(pgxmock.NewRows(payoutColumnNames).AddRow(payoutRow(p)...))

		got, err := repo.FindByGatewayReference(ctx, p.TenantID, "token-superseded")
		require.NoError(t, err)
		assert.Equal(t, p, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown reference", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(p.TenantID, "nope").WillReturnError(pgx.ErrNoRows)

		_, err := repo.FindByGatewayReference(ctx, p.TenantID, "nope")
		assert.ErrorIs(t, err, loan.ErrGatewayReferenceNotFound{Reference: "nope"})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(p.TenantID, "token-superseded").WillReturnError(errors.New("connection reset"))

		_, err := repo.FindByGatewayReference(ctx, p.TenantID, "token-superseded")
		assert.ErrorContains(t, err, "failed to find payout by gateway reference")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPayoutRepository_LockRepayable(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &PayoutRepository{querier: mock, logger: newTestLogger()}
	tenantID := uuid.New()
	borrowers := []uuid.UUID{uuid.New(), uuid.New()}
	older, newer := testPayout(), testPayout()
	newer.Status = loan.PayoutStatusPartiallyPaid
	newer.AmountRepaid = decimal.NewFromInt(500)

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(`JOIN loans l ON l.id = p.loan_id .+ ORDER BY l.created_at ASC, p.created_at ASC FOR UPDATE OF p`).
			WithArgs(tenantID, borrowers,
				loan.PayoutStatusDisbursed, loan.PayoutStatusPartiallyPaid,
				loan.StatusDisbursed, loan.StatusPartiallyPaid).
			WillReturnRows(pgxmock.NewRows(payoutColumnNames).
				AddRow(payoutRow(older)...).
				AddRow(payoutRow(newer)...))

		payouts, err := repo.LockRepayable(ctx, tenantID, borrowers)
		require.NoError(t, err)
		require.Len(t, payouts, 2)
		assert.Equal(t, older.ID, payouts[0].ID)
		assert.Equal(t, loan.PayoutStatusPartiallyPaid, payouts[1].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no borrowers skips query", func(t *testing.T) {
		payouts, err := repo.LockRepayable(ctx, tenantID, nil)
		assert.NoError(t, err)
		assert.Empty(t, payouts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		dbErr := errors.New("deadlock detected")
		mock.ExpectQuery(`FROM loan_payouts p`).WithArgs(anyArgs(6)...).WillReturnError(dbErr)

		_, err := repo.LockRepayable(ctx, tenantID, borrowers)
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
