package memory

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/salary-advance-lending/internal/domain/fee"
	"github.com/salary-advance-lending/internal/domain/organization"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/shopspring/decimal"
)

type OrganizationRepository struct {
	s *Store
}

func (r *OrganizationRepository) WithTx(pgx.Tx) organization.Repository {
	return r
}

func (r *OrganizationRepository) GetByID(_ context.Context, tenantID uuid.UUID, id int64) (*organization.Organization, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.data.orgs[id]
	if !ok || o.TenantID != tenantID {
		return nil, organization.ErrOrganizationNotFound{OrganizationID: id}
	}
	return &o, nil
}

func (r *OrganizationRepository) AddCredit(_ context.Context, tenantID uuid.UUID, id int64, amount decimal.Decimal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("organizations.AddCredit"); err != nil {
		return err
	}
	o, ok := r.s.data.orgs[id]
	if !ok || o.TenantID != tenantID {
		return organization.ErrOrganizationNotFound{OrganizationID: id}
	}
	o.CreditBalance = o.CreditBalance.Add(amount)
	r.s.data.orgs[id] = o
	return nil
}

type EmployeeRepository struct {
	s *Store
}

func (r *EmployeeRepository) WithTx(pgx.Tx) organization.EmployeeRepository {
	return r
}

func (r *EmployeeRepository) GetByUserID(_ context.Context, tenantID, userID uuid.UUID) (*organization.Employee, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.data.employees[userID]
	if !ok || e.TenantID != tenantID {
		return nil, organization.ErrEmployeeNotFound{UserID: userID}
	}
	return &e, nil
}

func (r *EmployeeRepository) LockByUserID(ctx context.Context, tenantID, userID uuid.UUID) (*organization.Employee, error) {
	return r.GetByUserID(ctx, tenantID, userID)
}

func (r *EmployeeRepository) ListByOrganization(_ context.Context, tenantID uuid.UUID, organizationID int64) ([]*organization.Employee, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var matched []*organization.Employee
	for _, e := range r.s.data.employees {
		if e.TenantID == tenantID && e.OrganizationID == organizationID {
			found := e
			matched = append(matched, &found)
		}
	}
	slices.SortFunc(matched, func(a, b *organization.Employee) int {
		return int(a.ID - b.ID)
	})
	return matched, nil
}

type UserRepository struct {
	s *Store
}

func (r *UserRepository) WithTx(pgx.Tx) organization.UserRepository {
	return r
}

func (r *UserRepository) GetByID(_ context.Context, tenantID, id uuid.UUID) (*organization.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.data.users[id]
	if !ok || u.TenantID != tenantID {
		return nil, organization.ErrUserNotFound{UserID: id}
	}
	return &u, nil
}

func (r *UserRepository) FindByPhone(_ context.Context, tenantID uuid.UUID, phones []string) (*organization.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.sortedUsers(tenantID) {
		if u.Active && slices.Contains(phones, u.Phone) {
			return u, nil
		}
	}
	phone := ""
	if len(phones) > 0 {
		phone = phones[0]
	}
	return nil, organization.ErrUserNotFound{Phone: phone}
}

func (r *UserRepository) ListActiveByRole(_ context.Context, tenantID uuid.UUID, role shared.Role, organizationID *int64) ([]*organization.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var matched []*organization.User
	for _, u := range r.sortedUsers(tenantID) {
		if !u.Active || !slices.Contains(u.Roles, role) {
			continue
		}
		if organizationID != nil && (u.OrganizationID == nil || *u.OrganizationID != *organizationID) {
			continue
		}
		matched = append(matched, u)
	}
	return matched, nil
}

// sortedUsers gives lookups a stable order; mu must be held
func (r *UserRepository) sortedUsers(tenantID uuid.UUID) []*organization.User {
	var users []*organization.User
	for _, u := range r.s.data.users {
		if u.TenantID == tenantID {
			found := u
			users = append(users, &found)
		}
	}
	slices.SortFunc(users, func(a, b *organization.User) int {
		switch {
		case a.Phone < b.Phone:
			return -1
		case a.Phone > b.Phone:
			return 1
		}
		return 0
	})
	return users
}

type TenantRepository struct {
	s *Store
}

func (r *TenantRepository) GetByID(_ context.Context, id uuid.UUID) (*organization.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.data.tenants[id]
	if !ok {
		return nil, organization.ErrTenantNotFound{TenantID: id}
	}
	return &t, nil
}

type FeeBandRepository struct {
	s *Store
}

func (r *FeeBandRepository) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]fee.Band, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("fees.ListByTenant"); err != nil {
		return nil, err
	}
	var bands []fee.Band
	for _, b := range r.s.data.feeBands {
		if b.TenantID == tenantID {
			bands = append(bands, b)
		}
	}
	return bands, nil
}
