package organization

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Repository defines organization persistence operations
type Repository interface {
	GetByID(ctx context.Context, tenantID uuid.UUID, id int64) (*Organization, error)

	// AddCredit increments the organization's credit balance by a non-negative amount
	AddCredit(ctx context.Context, tenantID uuid.UUID, id int64, amount decimal.Decimal) error
	WithTx(tx pgx.Tx) Repository
}

// EmployeeRepository defines employee persistence operations
type EmployeeRepository interface {
	GetByUserID(ctx context.Context, tenantID, userID uuid.UUID) (*Employee, error)

	// LockByUserID serializes concurrent applications from the same borrower
	LockByUserID(ctx context.Context, tenantID, userID uuid.UUID) (*Employee, error)
	ListByOrganization(ctx context.Context, tenantID uuid.UUID, organizationID int64) ([]*Employee, error)
	WithTx(tx pgx.Tx) EmployeeRepository
}

// UserRepository defines user lookups
type UserRepository interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*User, error)

	// FindByPhone returns the first active user whose phone equals any of the given variants
	FindByPhone(ctx context.Context, tenantID uuid.UUID, phones []string) (*User, error)

	// ListActiveByRole lists active users holding role, restricted to an organization when organizationID is set
	ListActiveByRole(ctx context.Context, tenantID uuid.UUID, role shared.Role, organizationID *int64) ([]*User, error)
	WithTx(tx pgx.Tx) UserRepository
}

// TenantRepository defines tenant lookups
type TenantRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
}

// ErrOrganizationNotFound indicates missing organization
type ErrOrganizationNotFound struct {
	OrganizationID int64
}

func (e ErrOrganizationNotFound) Error() string {
	return "organization not found: " + strconv.FormatInt(e.OrganizationID, 10)
}

// Is implements the errors.Is interface for ErrOrganizationNotFound
func (e ErrOrganizationNotFound) Is(target error) bool {
	t, ok := target.(ErrOrganizationNotFound)
	if !ok {
		return false
	}
	return t.OrganizationID == 0 || t.OrganizationID == e.OrganizationID
}

// ErrEmployeeNotFound indicates a user without an employee record
type ErrEmployeeNotFound struct {
	UserID uuid.UUID
}

func (e ErrEmployeeNotFound) Error() string {
	return "employee record not found for user: " + e.UserID.String()
}

func (e ErrEmployeeNotFound) Is(target error) bool {
	t, ok := target.(ErrEmployeeNotFound)
	if !ok {
		return false
	}
	return t.UserID == uuid.Nil || t.UserID == e.UserID
}

// ErrUserNotFound indicates missing user
type ErrUserNotFound struct {
	UserID uuid.UUID
	Phone  string
}

func (e ErrUserNotFound) Error() string {
	if e.Phone != "" {
		return "user not found for phone: " + e.Phone
	}
	return "user not found: " + e.UserID.String()
}

func (e ErrUserNotFound) Is(target error) bool {
	_, ok := target.(ErrUserNotFound)
	return ok
}

// ErrTenantNotFound indicates missing tenant
type ErrTenantNotFound struct {
	TenantID uuid.UUID
}

func (e ErrTenantNotFound) Error() string {
	return "tenant not found: " + e.TenantID.String()
}

func (e ErrTenantNotFound) Is(target error) bool {
	_, ok := target.(ErrTenantNotFound)
	return ok
}
