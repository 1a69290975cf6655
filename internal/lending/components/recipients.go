package components

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/domain/organization"
	"github.com/salary-advance-lending/internal/domain/shared"
	"github.com/salary-advance-lending/internal/lending/service"
)

// RecipientDirectoryImpl looks up notification recipients; lookup failures yield no recipient
type RecipientDirectoryImpl struct {
	users  organization.UserRepository
	logger *slog.Logger
}

func NewRecipientDirectory(users organization.UserRepository, log *slog.Logger) service.RecipientDirectory {
	return &RecipientDirectoryImpl{users: users, logger: log}
}

func (d *RecipientDirectoryImpl) BorrowerPhone(ctx context.Context, tenantID, userID uuid.UUID) string {
	user, err := d.users.GetByID(ctx, tenantID, userID)
	if err != nil {
		d.logger.Warn("No borrower to notify", "user_id", userID.String(), "error", err)
		return ""
	}
	return user.Phone
}

func (d *RecipientDirectoryImpl) AdminPhones(ctx context.Context, tenantID uuid.UUID, organizationID int64) []string {
	orgID := organizationID
	admins, err := d.users.ListActiveByRole(ctx, tenantID, shared.RoleOrgAdmin, &orgID)
	if err != nil {
		d.logger.Warn("Failed to list organization admins", "organization_id", organizationID, "error", err)
	}
	if len(admins) == 0 {
		admins, err = d.users.ListActiveByRole(ctx, tenantID, shared.RoleAdmin, nil)
		if err != nil {
			d.logger.Warn("Failed to list tenant admins", "tenant_id", tenantID.String(), "error", err)
			return nil
		}
	}

	phones := make([]string, 0, len(admins))
	for _, admin := range admins {
		if admin.Phone != "" {
			phones = append(phones, admin.Phone)
		}
	}
	return phones
}
