package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/salary-advance-lending/internal/auth"
	"github.com/salary-advance-lending/internal/domain/audit"
	"github.com/salary-advance-lending/internal/domain/loan"
)

// AuditTrailService reads a loan's published audit events
type AuditTrailService struct {
	loans  loan.Repository
	events audit.Repository
	logger *slog.Logger
}

func NewAuditTrailService(log *slog.Logger, loans loan.Repository, events audit.Repository) *AuditTrailService {
	return &AuditTrailService{
		loans:  loans,
		events: events,
		logger: log,
	}
}

// ListLoanEvents returns the newest events first, visible to whoever may view the loan
func (s *AuditTrailService) ListLoanEvents(ctx context.Context, caller auth.Caller, loanID uuid.UUID, page, perPage int) ([]*audit.Event, int64, error) {
	l, err := s.loans.GetByID(ctx, caller.TenantID, loanID)
	if err != nil {
		return nil, 0, classify(err)
	}
	if err := auth.Authorize(caller, auth.CanView(l.TenantID, l.OrganizationID, l.BorrowerID)); err != nil {
		return nil, 0, err
	}

	page, perPage = normalizePage(page, perPage)
	events, err := s.events.ListByLoanID(ctx, l.TenantID, l.ID, perPage, (page-1)*perPage)
	if err != nil {
		s.logger.Error("Failed to list audit events", "loan_id", loanID.String(), "error", err)
		return nil, 0, err
	}
	total, err := s.events.CountByLoanID(ctx, l.TenantID, l.ID)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}
