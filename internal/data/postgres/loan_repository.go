package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/salary-advance-lending/internal/domain/loan"
	"github.com/salary-advance-lending/internal/platform/persistence"
	"github.com/shopspring/decimal"
)

const loanColumns = `id, tenant_id, organization_id, borrower_id, amount, interest_rate, interest_regime,
		transaction_fee, total_repayable, due_date, duration_days, status, approval_count,
		first_approver_id, second_approver_id, third_approver_id, disbursed_at, mpesa_transaction_id,
		gateway_status, conversation_id, repaid_amount, created_at, updated_at`

// LoanRepository implements the loan.Repository interface for PostgreSQL
type LoanRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewLoanRepository(logger *slog.Logger, db *persistence.PostgresDB) loan.Repository {
	return &LoanRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository bound to tx
func (r *LoanRepository) WithTx(tx pgx.Tx) loan.Repository {
	return &LoanRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func (r *LoanRepository) Create(ctx context.Context, l *loan.Loan) error {
	query := `
		INSERT INTO loans (` + loanColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`

	_, err := r.querier.Exec(ctx, query,
		l.ID, l.TenantID, l.OrganizationID, l.BorrowerID,
		l.Amount, l.InterestRate, l.InterestRegime, l.TransactionFee, l.TotalRepayable,
		l.DueDate, l.DurationDays, l.Status, l.ApprovalCount,
		l.FirstApproverID, l.SecondApproverID, l.ThirdApproverID, l.DisbursedAt,
		nullString(l.MpesaTransactionID), l.GatewayStatus, nullString(l.ConversationID),
		l.RepaidAmount, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create loan",
			"loan_id", l.ID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to create loan: %w", err)
	}

	return nil
}

func (r *LoanRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*loan.Loan, error) {
	query := `
		SELECT ` + loanColumns + `
		FROM loans
		WHERE tenant_id = $1 AND id = $2
	`
	return r.getOne(ctx, "get loan", id, query, tenantID, id)
}

// LockForUpdate acquires a row lock so the caller's status check and write are linearized
func (r *LoanRepository) LockForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*loan.Loan, error) {
	query := `
		SELECT ` + loanColumns + `
		FROM loans
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`
	return r.getOne(ctx, "lock loan", id, query, tenantID, id)
}

func (r *LoanRepository) LockByGatewayReference(ctx context.Context, tenantID uuid.UUID, reference string) (*loan.Loan, error) {
	query := `
		SELECT ` + loanColumns + `
		FROM loans
		WHERE tenant_id = $1 AND (conversation_id = $2 OR mpesa_transaction_id = $2)
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`

	l, err := scanLoan(r.querier.QueryRow(ctx, query, tenantID, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loan.ErrGatewayReferenceNotFound{Reference: reference}
		}
		r.logger.Error("Failed to lock loan by gateway reference",
			"reference", reference,
			"error", err,
		)
		return nil, fmt.Errorf("failed to lock loan by gateway reference: %w", err)
	}
	return l, nil
}

func (r *LoanRepository) Update(ctx context.Context, l *loan.Loan) error {
	query := `
		UPDATE loans
		SET status = $2, approval_count = $3, first_approver_id = $4, second_approver_id = $5,
			third_approver_id = $6, disbursed_at = $7, mpesa_transaction_id = $8, gateway_status = $9,
			conversation_id = $10, repaid_amount = $11, updated_at = $12
		WHERE id = $1
	`

	result, err := r.querier.Exec(ctx, query,
		l.ID, l.Status, l.ApprovalCount, l.FirstApproverID, l.SecondApproverID, l.ThirdApproverID,
		l.DisbursedAt, nullString(l.MpesaTransactionID), l.GatewayStatus, nullString(l.ConversationID),
		l.RepaidAmount, l.UpdatedAt,
	)
	if err != nil {
		if persistence.IsUniqueViolation(err, "loans_conversation_id_key") {
			return loan.ErrDuplicateConversationID{ConversationID: l.ConversationID}
		}
		r.logger.Error("Failed to update loan",
			"loan_id", l.ID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to update loan: %w", err)
	}

	if result.RowsAffected() == 0 {
		return loan.ErrLoanNotFound{LoanID: l.ID}
	}

	return nil
}

func (r *LoanRepository) SumCapExposure(ctx context.Context, tenantID, borrowerID uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM loans
		WHERE tenant_id = $1 AND borrower_id = $2 AND status <> $3
			AND created_at >= $4 AND created_at < $5
	`

	var total decimal.Decimal
	err := r.querier.QueryRow(ctx, query, tenantID, borrowerID, loan.StatusRejected, from, to).Scan(&total)
	if err != nil {
		r.logger.Error("Failed to sum monthly loan exposure",
			"borrower_id", borrowerID.String(),
			"error", err,
		)
		return decimal.Zero, fmt.Errorf("failed to sum monthly loan exposure: %w", err)
	}

	return total, nil
}

func (r *LoanRepository) List(ctx context.Context, filter loan.Filter, limit, offset int) ([]*loan.Loan, error) {
	where, args := loanFilterClause(filter)
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT %s
		FROM loans
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, loanColumns, where, len(args)-1, len(args))

	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list loans", "error", err)
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []*loan.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			r.logger.Error("Failed to scan loan", "error", err)
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		loans = append(loans, l)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over loans", "error", err)
		return nil, fmt.Errorf("error iterating over loans: %w", err)
	}

	return loans, nil
}

func (r *LoanRepository) Count(ctx context.Context, filter loan.Filter) (int64, error) {
	where, args := loanFilterClause(filter)
	query := `SELECT COUNT(*) FROM loans WHERE ` + where

	var count int64
	if err := r.querier.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		r.logger.Error("Failed to count loans", "error", err)
		return 0, fmt.Errorf("failed to count loans: %w", err)
	}
	return count, nil
}

func (r *LoanRepository) getOne(ctx context.Context, action string, id uuid.UUID, query string, args ...interface{}) (*loan.Loan, error) {
	l, err := scanLoan(r.querier.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loan.ErrLoanNotFound{LoanID: id}
		}
		r.logger.Error("Failed to "+action,
			"loan_id", id.String(),
			"error", err,
		)
		return nil, fmt.Errorf("failed to %s: %w", action, err)
	}
	return l, nil
}

func loanFilterClause(filter loan.Filter) (string, []interface{}) {
	clauses := []string{"tenant_id = $1"}
	args := []interface{}{filter.TenantID}

	if filter.OrganizationID != nil {
		args = append(args, *filter.OrganizationID)
		clauses = append(clauses, fmt.Sprintf("organization_id = $%d", len(args)))
	}
	if filter.BorrowerID != nil {
		args = append(args, *filter.BorrowerID)
		clauses = append(clauses, fmt.Sprintf("borrower_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	return strings.Join(clauses, " AND "), args
}

func scanLoan(row pgx.Row) (*loan.Loan, error) {
	var (
		l              loan.Loan
		mpesaTxID      *string
		conversationID *string
	)

	err := row.Scan(
		&l.ID, &l.TenantID, &l.OrganizationID, &l.BorrowerID,
		&l.Amount, &l.InterestRate, &l.InterestRegime, &l.TransactionFee, &l.TotalRepayable,
		&l.DueDate, &l.DurationDays, &l.Status, &l.ApprovalCount,
		&l.FirstApproverID, &l.SecondApproverID, &l.ThirdApproverID, &l.DisbursedAt,
		&mpesaTxID, &l.GatewayStatus, &conversationID,
		&l.RepaidAmount, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.MpesaTransactionID = derefString(mpesaTxID)
	l.ConversationID = derefString(conversationID)
	return &l, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
