// Package auth turns validated bearer tokens into callers and answers capability questions about them.
package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/domain/shared"
)

// Caller is the authenticated identity behind a request
type Caller struct {
	UserID         uuid.UUID
	TenantID       uuid.UUID
	OrganizationID *int64
	Roles          []shared.Role
}

func (c Caller) HasAnyRole(roles ...shared.Role) bool {
	for _, held := range c.Roles {
		for _, wanted := range roles {
			if held == wanted {
				return true
			}
		}
	}
	return false
}

// InOrganization reports whether the caller belongs to organizationID
func (c Caller) InOrganization(organizationID int64) bool {
	return c.OrganizationID != nil && *c.OrganizationID == organizationID
}

type callerKey struct{}

func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

func FromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(Caller)
	return caller, ok
}
