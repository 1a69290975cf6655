package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

var loanColumnNames = []string{
	"id", "tenant_id", "organization_id", "borrower_id", "amount", "interest_rate", "interest_regime",
	"transaction_fee", "total_repayable", "due_date", "duration_days", "status", "approval_count",
	"first_approver_id", "second_approver_id", "third_approver_id", "disbursed_at", "mpesa_transaction_id",
	"gateway_status", "conversation_id", "repaid_amount", "created_at", "updated_at",
}

func testLoan() *loan.Loan {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	approver := uuid.New()
	return &loan.Loan{
		ID:              uuid.New(),
		TenantID:        uuid.New(),
		OrganizationID:  12,
		BorrowerID:      uuid.New(),
		Amount:          decimal.NewFromInt(20000),
		InterestRate:    decimal.RequireFromString("0.05"),
		InterestRegime:  loan.RegimeMonthly,
		TransactionFee:  decimal.NewFromInt(108),
		TotalRepayable:  decimal.NewFromInt(21000),
		DueDate:         now.AddDate(0, 0, 30),
		DurationDays:    30,
		Status:          loan.StatusApproved,
		ApprovalCount:   1,
		FirstApproverID: &approver,
		GatewayStatus:   loan.GatewayStatusSubmitted,
		ConversationID:  "b6c1c7a2-token",
		RepaidAmount:    decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func loanRow(l *loan.Loan) []interface{} {
	var mpesaTxID, conversationID interface{}
	if l.MpesaTransactionID != "" {
		mpesaTxID = &l.MpesaTransactionID
	}
	if l.ConversationID != "" {
		conversationID = &l.ConversationID
	}
	var firstApprover, secondApprover, thirdApprover, disbursedAt interface{}
	if l.FirstApproverID != nil {
		firstApprover = l.FirstApproverID
	}
	if l.SecondApproverID != nil {
		secondApprover = l.SecondApproverID
	}
	if l.ThirdApproverID != nil {
		thirdApprover = l.ThirdApproverID
	}
	if l.DisbursedAt != nil {
		disbursedAt = l.DisbursedAt
	}
	return []interface{}{
		l.ID, l.TenantID, l.OrganizationID, l.BorrowerID, l.Amount, l.InterestRate, l.InterestRegime,
		l.TransactionFee, l.TotalRepayable, l.DueDate, l.DurationDays, l.Status, l.ApprovalCount,
		firstApprover, secondApprover, thirdApprover, disbursedAt, mpesaTxID,
		l.GatewayStatus, conversationID, l.RepaidAmount, l.CreatedAt, l.UpdatedAt,
	}
}

func TestLoanRepository_Create(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &LoanRepository{querier: mock, logger: newTestLogger()}
	l := testLoan()

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO loans`).
			WithArgs(
				l.ID, l.TenantID, l.OrganizationID, l.BorrowerID,
				l.Amount, l.InterestRate, l.InterestRegime, l.TransactionFee, l.TotalRepayable,
				l.DueDate, l.DurationDays, l.Status, l.ApprovalCount,
				l.FirstApproverID, l.SecondApproverID, l.ThirdApproverID, l.DisbursedAt,
				nullString(""), l.GatewayStatus, nullString(l.ConversationID),
				l.RepaidAmount, l.CreatedAt, l.UpdatedAt,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		assert.NoError(t, repo.Create(ctx, l))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure", func(t *testing.T) {
		dbErr := errors.New("db error")
		mock.ExpectExec(`INSERT INTO loans`).WithArgs(anyArgs(23)...).WillReturnError(dbErr)

		err := repo.Create(ctx, l)
		assert.ErrorIs(t, err, dbErr)
		assert.Contains(t, err.Error(), "failed to create loan")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoanRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &LoanRepository{querier: mock, logger: newTestLogger()}
	expected := testLoan()
	query := `SELECT .+ FROM loans WHERE tenant_id = \$1 AND id = \$2`

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(expected.TenantID, expected.ID).
			WillReturnRows(pgxmock.NewRows(loanColumnNames).AddRow(loanRow(expected)...))

		got, err := repo.GetByID(ctx, expected.TenantID, expected.ID)
		require.NoError(t, err)
		assert.Equal(t, expected, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(expected.TenantID, expected.ID).WillReturnError(pgx.ErrNoRows)

		got, err := repo.GetByID(ctx, expected.TenantID, expected.ID)
		assert.Nil(t, got)
		var notFound loan.ErrLoanNotFound
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, expected.ID, notFound.LoanID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		dbErr := errors.New("connection reset")
		mock.ExpectQuery(query).WithArgs(expected.TenantID, expected.ID).WillReturnError(dbErr)

		_, err := repo.GetByID(ctx, expected.TenantID, expected.ID)
		assert.ErrorIs(t, err, dbErr)
		assert.Contains(t, err.Error(), "failed to get loan")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoanRepository_LockForUpdate(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &LoanRepository{querier: mock, logger: newTestLogger()}
	expected := testLoan()

	mock.ExpectQuery(`SELECT .+ FROM loans WHERE tenant_id = \$1 AND id = \$2 FOR UPDATE`).
		WithArgs(expected.TenantID, expected.ID).
		WillReturnRows(pgxmock.NewRows(loanColumnNames).AddRow(loanRow(expected)...))

	got, err := repo.LockForUpdate(ctx, expected.TenantID, expected.ID)
	require.NoError(t, err)
	assert.Equal(t, expected.ConversationID, got.ConversationID)
	assert.Empty(t, got.MpesaTransactionID)
	assert.Nil(t, got.DisbursedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepository_LockByGatewayReference(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &LoanRepository{querier: mock, logger: newTestLogger()}
	tenantID := uuid.New()
	query := `FROM loans WHERE tenant_id = \$1 AND \(conversation_id = \$2 OR mpesa_transaction_id = \$2\)`

	t.Run("match", func(t *testing.T) {
		expected := testLoan()
		expected.TenantID = tenantID
		mock.ExpectQuery(query).
			WithArgs(tenantID, expected.ConversationID).
			WillReturnRows(pgxmock.NewRows(loanColumnNames).AddRow(loanRow(expected)...))

		got, err := repo.LockByGatewayReference(ctx, tenantID, expected.ConversationID)
		require.NoError(t, err)
		assert.Equal(t, expected.ID, got.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no match", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(tenantID, "AG_unknown").WillReturnError(pgx.ErrNoRows)

		_, err := repo.LockByGatewayReference(ctx, tenantID, "AG_unknown")
		assert.ErrorIs(t, err, loan.ErrGatewayReferenceNotFound{Reference: "AG_unknown"})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoanRepository_Update(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &LoanRepository{querier: mock, logger: newTestLogger()}
	l := testLoan()
	query := `UPDATE loans SET status = \$2`

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(
				l.ID, l.Status, l.ApprovalCount, l.FirstApproverID, l.SecondApproverID, l.ThirdApproverID,
				l.DisbursedAt, nullString(""), l.GatewayStatus, nullString(l.ConversationID),
				l.RepaidAmount, l.UpdatedAt,
			).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		assert.NoError(t, repo.Update(ctx, l))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectExec(query).WithArgs(anyArgs(12)...).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		assert.ErrorIs(t, repo.Update(ctx, l), loan.ErrLoanNotFound{LoanID: l.ID})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate conversation id", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(anyArgs(12)...).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "loans_conversation_id_key"})

		err := repo.Update(ctx, l)
		var dup loan.ErrDuplicateConversationID
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, l.ConversationID, dup.ConversationID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoanRepository_SumCapExposure(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &LoanRepository{querier: mock, logger: newTestLogger()}
	tenantID, borrowerID := uuid.New(), uuid.New()
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\) FROM loans`).
		WithArgs(tenantID, borrowerID, loan.StatusRejected, from, to).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(decimal.NewFromInt(20000)))

	total, err := repo.SumCapExposure(ctx, tenantID, borrowerID, from, to)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(20000)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepository_ListAndCount(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &LoanRepository{querier: mock, logger: newTestLogger()}
	l := testLoan()
	orgID := l.OrganizationID
	status := loan.StatusApproved
	filter := loan.Filter{TenantID: l.TenantID, OrganizationID: &orgID, Status: &status}

	mock.ExpectQuery(`WHERE tenant_id = \$1 AND organization_id = \$2 AND status = \$3 ORDER BY created_at DESC LIMIT \$4 OFFSET \$5`).
		WithArgs(l.TenantID, orgID, status, 20, 40).
		WillReturnRows(pgxmock.NewRows(loanColumnNames).AddRow(loanRow(l)...))

	loans, err := repo.List(ctx, filter, 20, 40)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, l.ID, loans[0].ID)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM loans WHERE tenant_id = \$1 AND organization_id = \$2 AND status = \$3`).
		WithArgs(l.TenantID, orgID, status).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(41)))

	count, err := repo.Count(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, int64(41), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanFilterClause(t *testing.T) {
	borrower := uuid.New()
	where, args := loanFilterClause(loan.Filter{TenantID: uuid.Nil, BorrowerID: &borrower})

	assert.Equal(t, "tenant_id = $1 AND borrower_id = $2", where)
	assert.Equal(t, []interface{}{uuid.Nil, borrower}, args)
}
