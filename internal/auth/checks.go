package auth

import (
	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/domain/shared"
)

// Check is one capability or scope predicate; it returns an authorization error when it does not hold
type Check func(Caller) error

// Authorize runs checks in order and returns the first failure
func Authorize(caller Caller, checks ...Check) error {
	for _, check := range checks {
		if err := check(caller); err != nil {
			return err
		}
	}
	return nil
}

func RequireAnyRole(roles ...shared.Role) Check {
	return func(c Caller) error {
		if !c.HasAnyRole(roles...) {
			return shared.NewAuthorizationError("requires one of roles %v", roles)
		}
		return nil
	}
}

func SameTenant(tenantID uuid.UUID) Check {
	return func(c Caller) error {
		if c.TenantID != tenantID {
			return shared.NewAuthorizationError("resource belongs to another tenant")
		}
		return nil
	}
}

func SameOrganization(organizationID int64) Check {
	return func(c Caller) error {
		if !c.InOrganization(organizationID) {
			return shared.NewAuthorizationError("resource belongs to another organization")
		}
		return nil
	}
}

func IsSelf(userID uuid.UUID) Check {
	return func(c Caller) error {
		if c.UserID != userID {
			return shared.NewAuthorizationError("resource belongs to another user")
		}
		return nil
	}
}

// AnyOf passes when at least one check passes, returning the last failure otherwise
func AnyOf(checks ...Check) Check {
	return func(c Caller) error {
		var err error = shared.NewAuthorizationError("no permitted scope")
		for _, check := range checks {
			if err = check(c); err == nil {
				return nil
			}
		}
		return err
	}
}

// AllOf passes when every check passes
func AllOf(checks ...Check) Check {
	return func(c Caller) error {
		return Authorize(c, checks...)
	}
}

// CanAdminister covers ADMIN over the whole tenant and ORG_ADMIN over their own organization
func CanAdminister(tenantID uuid.UUID, organizationID int64) Check {
	return AllOf(
		SameTenant(tenantID),
		AnyOf(
			RequireAnyRole(shared.RoleAdmin),
			AllOf(RequireAnyRole(shared.RoleOrgAdmin), SameOrganization(organizationID)),
		),
	)
}

// CanView additionally lets a borrower see their own records
func CanView(tenantID uuid.UUID, organizationID int64, ownerID uuid.UUID) Check {
	return AnyOf(
		CanAdminister(tenantID, organizationID),
		AllOf(SameTenant(tenantID), IsSelf(ownerID)),
	)
}
