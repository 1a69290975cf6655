package components

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/data/memory"
	"github.com/salary-advance-lending/internal/domain/organization"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/stretchr/testify/assert"
)

func TestRecipientDirectory(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	orgID := int64(7)
	otherOrg := int64(8)

	store := memory.NewStore()
	borrower := organization.User{ID: uuid.New(), TenantID: tenantID, OrganizationID: &orgID, Phone: "0712345678", Roles: []shared.Role{shared.RoleEmployee}, Active: true}
	store.AddUser(borrower)
	store.AddUser(organization.User{ID: uuid.New(), TenantID: tenantID, OrganizationID: &orgID, Phone: "0722000001", Roles: []shared.Role{shared.RoleOrgAdmin}, Active: true})
	store.AddUser(organization.User{ID: uuid.New(), TenantID: tenantID, OrganizationID: &orgID, Phone: "0722000009", Roles: []shared.Role{shared.RoleOrgAdmin}, Active: false})
	store.AddUser(organization.User{ID: uuid.New(), TenantID: tenantID, Phone: "0733000001", Roles: []shared.Role{shared.RoleAdmin}, Active: true})

	directory := NewRecipientDirectory(store.Users(), discardLogger())

	t.Run("BorrowerPhone", func(t *testing.T) {
		assert.Equal(t, "0712345678", directory.BorrowerPhone(ctx, tenantID, borrower.ID))
		assert.Empty(t, directory.BorrowerPhone(ctx, tenantID, uuid.New()))
		assert.Empty(t, directory.BorrowerPhone(ctx, uuid.New(), borrower.ID))
	})

	t.Run("OrganizationAdminsFirst", func(t *testing.T) {
		assert.Equal(t, []string{"0722000001"}, directory.AdminPhones(ctx, tenantID, orgID))
	})

	t.Run("FallsBackToTenantAdmins", func(t *testing.T) {
		assert.Equal(t, []string{"0733000001"}, directory.AdminPhones(ctx, tenantID, otherOrg))
	})
}
