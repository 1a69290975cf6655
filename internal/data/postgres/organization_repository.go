package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/salary-advance-lending/internal/domain/organization"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/salary-advance-lending/internal/platform/persistence"
	"github.com/shopspring/decimal"
)

// OrganizationRepository implements organization.Repository for PostgreSQL
type OrganizationRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewOrganizationRepository(logger *slog.Logger, db *persistence.PostgresDB) organization.Repository {
	return &OrganizationRepository{querier: db.Pool(), logger: logger}
}

func (r *OrganizationRepository) WithTx(tx pgx.Tx) organization.Repository {
	return &OrganizationRepository{querier: tx, logger: r.logger}
}

func (r *OrganizationRepository) GetByID(ctx context.Context, tenantID uuid.UUID, id int64) (*organization.Organization, error) {
	query := `
		SELECT id, tenant_id, name, approval_steps, loan_limit_multiplier, interest_rate, daily_interest_rate,
			base_interest_rate, credit_balance, active, created_at
		FROM organizations
		WHERE tenant_id = $1 AND id = $2
	`

	var org organization.Organization
	err := r.querier.QueryRow(ctx, query, tenantID, id).Scan(
		&org.ID, &org.TenantID, &org.Name, &org.ApprovalSteps, &org.LoanLimitMultiplier,
		&org.InterestRate, &org.DailyInterestRate, &org.BaseInterestRate, &org.CreditBalance,
		&org.Active, &org.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, organization.ErrOrganizationNotFound{OrganizationID: id}
		}
		r.logger.Error("Failed to get organization", "organization_id", id, "error", err)
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	return &org, nil
}

// AddCredit increments the credit balance atomically
func (r *OrganizationRepository) AddCredit(ctx context.Context, tenantID uuid.UUID, id int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("credit amount must not be negative: %s", amount)
	}

	query := `
		UPDATE organizations
		SET credit_balance = credit_balance + $3
		WHERE tenant_id = $1 AND id = $2
	`

	result, err := r.querier.Exec(ctx, query, tenantID, id, amount)
	if err != nil {
		r.logger.Error("Failed to credit organization", "organization_id", id, "error", err)
		return fmt.Errorf("failed to credit organization: %w", err)
	}
	if result.RowsAffected() == 0 {
		return organization.ErrOrganizationNotFound{OrganizationID: id}
	}

	return nil
}

// EmployeeRepository implements organization.EmployeeRepository for PostgreSQL
type EmployeeRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewEmployeeRepository(logger *slog.Logger, db *persistence.PostgresDB) organization.EmployeeRepository {
	return &EmployeeRepository{querier: db.Pool(), logger: logger}
}

func (r *EmployeeRepository) WithTx(tx pgx.Tx) organization.EmployeeRepository {
	return &EmployeeRepository{querier: tx, logger: r.logger}
}

func (r *EmployeeRepository) GetByUserID(ctx context.Context, tenantID, userID uuid.UUID) (*organization.Employee, error) {
	query := `
		SELECT id, tenant_id, user_id, organization_id, gross_salary, active
		FROM employees
		WHERE tenant_id = $1 AND user_id = $2
	`
	return r.getOne(ctx, query, tenantID, userID)
}

// LockByUserID locks the employee row so one borrower's applications are serialized
func (r *EmployeeRepository) LockByUserID(ctx context.Context, tenantID, userID uuid.UUID) (*organization.Employee, error) {
	query := `
		SELECT id, tenant_id, user_id, organization_id, gross_salary, active
		FROM employees
		WHERE tenant_id = $1 AND user_id = $2
		FOR UPDATE
	`
	return r.getOne(ctx, query, tenantID, userID)
}

func (r *EmployeeRepository) ListByOrganization(ctx context.Context, tenantID uuid.UUID, organizationID int64) ([]*organization.Employee, error) {
	query := `
		SELECT id, tenant_id, user_id, organization_id, gross_salary, active
		FROM employees
		WHERE tenant_id = $1 AND organization_id = $2
		ORDER BY id ASC
	`

	rows, err := r.querier.Query(ctx, query, tenantID, organizationID)
	if err != nil {
		r.logger.Error("Failed to list employees", "organization_id", organizationID, "error", err)
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var employees []*organization.Employee
	for rows.Next() {
		var e organization.Employee
		if err := rows.Scan(&e.ID, &e.TenantID, &e.UserID, &e.OrganizationID, &e.GrossSalary, &e.Active); err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		employees = append(employees, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over employees: %w", err)
	}

	return employees, nil
}

func (r *EmployeeRepository) getOne(ctx context.Context, query string, tenantID, userID uuid.UUID) (*organization.Employee, error) {
	var e organization.Employee
	err := r.querier.QueryRow(ctx, query, tenantID, userID).Scan(
		&e.ID, &e.TenantID, &e.UserID, &e.OrganizationID, &e.GrossSalary, &e.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, organization.ErrEmployeeNotFound{UserID: userID}
		}
		r.logger.Error("Failed to get employee", "user_id", userID.String(), "error", err)
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	return &e, nil
}

// UserRepository implements organization.UserRepository for PostgreSQL
type UserRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewUserRepository(logger *slog.Logger, db *persistence.PostgresDB) organization.UserRepository {
	return &UserRepository{querier: db.Pool(), logger: logger}
}

func (r *UserRepository) WithTx(tx pgx.Tx) organization.UserRepository {
	return &UserRepository{querier: tx, logger: r.logger}
}

const userColumns = `id, tenant_id, organization_id, phone, first_name, last_name, roles, active`

func (r *UserRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*organization.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE tenant_id = $1 AND id = $2`

	u, err := scanUser(r.querier.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, organization.ErrUserNotFound{UserID: id}
		}
		r.logger.Error("Failed to get user", "user_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) FindByPhone(ctx context.Context, tenantID uuid.UUID, phones []string) (*organization.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE tenant_id = $1 AND phone = ANY($2) AND active = TRUE
		ORDER BY created_at ASC
		LIMIT 1
	`

	u, err := scanUser(r.querier.QueryRow(ctx, query, tenantID, phones))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			phone := ""
			if len(phones) > 0 {
				phone = phones[0]
			}
			return nil, organization.ErrUserNotFound{Phone: phone}
		}
		r.logger.Error("Failed to find user by phone", "error", err)
		return nil, fmt.Errorf("failed to find user by phone: %w", err)
	}
	return u, nil
}

func (r *UserRepository) ListActiveByRole(ctx context.Context, tenantID uuid.UUID, role shared.Role, organizationID *int64) ([]*organization.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE tenant_id = $1 AND $2 = ANY(roles) AND active = TRUE
			AND ($3::BIGINT IS NULL OR organization_id = $3)
		ORDER BY created_at ASC
	`

	rows, err := r.querier.Query(ctx, query, tenantID, string(role), organizationID)
	if err != nil {
		r.logger.Error("Failed to list users by role", "role", string(role), "error", err)
		return nil, fmt.Errorf("failed to list users by role: %w", err)
	}
	defer rows.Close()

	var users []*organization.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over users: %w", err)
	}

	return users, nil
}

func scanUser(row pgx.Row) (*organization.User, error) {
	var (
		u     organization.User
		roles []string
	)
	if err := row.Scan(&u.ID, &u.TenantID, &u.OrganizationID, &u.Phone, &u.FirstName, &u.LastName, &roles, &u.Active); err != nil {
		return nil, err
	}
	for _, role := range roles {
		u.Roles = append(u.Roles, shared.Role(role))
	}
	return &u, nil
}

// TenantRepository implements organization.TenantRepository for PostgreSQL
type TenantRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewTenantRepository(logger *slog.Logger, db *persistence.PostgresDB) organization.TenantRepository {
	return &TenantRepository{querier: db.Pool(), logger: logger}
}

func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*organization.Tenant, error) {
	query := `
		SELECT id, name, timezone, mpesa_short_code, mpesa_consumer_key, mpesa_consumer_secret,
			mpesa_initiator_name, mpesa_initiator_password
		FROM tenants
		WHERE id = $1
	`

	var t organization.Tenant
	err := r.querier.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.Timezone, &t.MpesaShortCode, &t.MpesaConsumerKey, &t.MpesaConsumerSecret,
		&t.MpesaInitiatorName, &t.MpesaInitiatorPassword,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, organization.ErrTenantNotFound{TenantID: id}
		}
		r.logger.Error("Failed to get tenant", "tenant_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}
